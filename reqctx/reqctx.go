// Package reqctx defines the per-call execution context shared by the
// middleware kernel, the dispatcher and route handlers. A Context is owned
// exclusively by one pipeline execution: it is built fresh per inbound event
// and must never be retained or replaced by middleware.
package reqctx

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/fluxgate/fluxgate/sessions"
	"github.com/google/uuid"
)

// Transport identifies the inbound transport for a call.
type Transport string

const (
	TransportHTTP Transport = "http"
	TransportWS   Transport = "ws"
)

// RawData is the transport-specific envelope of a call. Exactly two variants
// exist: HTTPData and WSData. Code that needs transport specifics switches on
// the concrete type rather than probing for fields.
type RawData interface {
	Transport() Transport
}

// HTTPData carries the request-level inputs of an HTTP call. Params holds
// extracted path parameters, already validated by the dispatcher.
type HTTPData struct {
	Method  string
	Path    string
	Header  http.Header
	Cookies []*http.Cookie
	Params  map[string]string
	Remote  string
}

func (HTTPData) Transport() Transport { return TransportHTTP }

// Cookie returns the named cookie value, or "" when absent.
func (d HTTPData) Cookie(name string) string {
	for _, c := range d.Cookies {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// WSData carries one WebSocket message envelope. ConnID identifies the live
// connection so handlers can address replies and presence state.
type WSData struct {
	Event     string
	Timestamp int64
	Payload   []byte
	ConnID    string
	UserID    string
	SessionID string
}

func (WSData) Transport() Transport { return TransportWS }

// Authorizer is the capability surface a call exposes to guards and handlers.
// The zero state of a Context denies everything; only session-resolving
// middleware upgrades it.
type Authorizer interface {
	Authenticated() bool
	UserID() string
}

type denyAll struct{}

func (denyAll) Authenticated() bool { return false }
func (denyAll) UserID() string      { return "" }

// DenyAll returns the default deny-everything Authorizer.
func DenyAll() Authorizer { return denyAll{} }

// UserAuth is the standard Authorizer for a resolved session principal.
type UserAuth struct {
	ID string
}

func (a UserAuth) Authenticated() bool { return a.ID != "" }
func (a UserAuth) UserID() string      { return a.ID }

// Response is the mutable output slot of a call. Middleware may set Status
// and Body to short-circuit; Meta is a side channel for values middleware
// wants to hand to later steps or the handler.
type Response struct {
	Status int
	Body   any
	Meta   map[string]any
}

// Context is the per-call execution context.
//
// Payload is populated by the dispatcher if and only if the route declared a
// validator and it accepted the raw payload. Session stays nil and Auth stays
// deny-all until session-resolving middleware runs; the factory itself never
// touches any store.
type Context struct {
	ID      string
	Log     *slog.Logger
	Raw     RawData
	Payload map[string]any
	Session *sessions.Session
	Auth    Authorizer
	Resp    *Response
}

// Option configures Context construction.
type Option func(*Context)

// WithLogger sets the base logger; the factory binds it with the call id.
func WithLogger(log *slog.Logger) Option {
	return func(c *Context) { c.Log = log }
}

// New builds a Context with a fresh unique id and a logger pre-bound with it.
// Construction is synchronous and allocation-only.
func New(raw RawData, opts ...Option) *Context {
	c := &Context{
		ID:   uuid.NewString(),
		Raw:  raw,
		Auth: denyAll{},
		Resp: &Response{Meta: map[string]any{}},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.Log == nil {
		c.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c.Log = c.Log.With(slog.String("call_id", c.ID))
	return c
}
