// Package dispatch maps inbound transport events to route descriptors and
// drives the full pipeline for each call: path-parameter validation, payload
// validation, the middleware chain, and finally the handler. One inbound
// event is exactly one pipeline execution; the dispatcher never retries and
// never queues.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/fluxgate/fluxgate/middleware"
	"github.com/fluxgate/fluxgate/reqctx"
	"github.com/fluxgate/fluxgate/schema"
)

// ErrDuplicateRoute indicates a second registration for the same
// (transport, method/event, pattern) tuple. The first registration wins.
var ErrDuplicateRoute = errors.New("dispatch: duplicate route")

// Handler is the business-logic callback of a route. The returned value is
// serialized as the success response body.
type Handler func(ctx context.Context, call *reqctx.Context) (any, error)

// Route is the registration record binding a transport pattern to
// validation, middleware and a handler. Immutable once registered.
type Route struct {
	Transport reqctx.Transport

	// HTTP routes: method + path pattern with :name parameters.
	Method  string
	Pattern string

	// WS routes: exact event name.
	Event string

	// Validator checks the request payload when non-nil. A route without a
	// validator never populates call.Payload.
	Validator *schema.Validator

	// Middleware names resolved against the middleware registry at
	// registration time.
	Middleware []string

	Handler Handler
}

type compiledRoute struct {
	Route
	chain   middleware.Chain
	pattern pattern
}

// Registry holds the route table for both transports. Registration resolves
// middleware chains immediately so configuration faults surface at startup,
// never during a call.
type Registry struct {
	mu   sync.RWMutex
	mws  *middleware.Registry
	http []*compiledRoute
	dup  map[string]struct{}
	ws   map[string]*compiledRoute
	log  *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger used by dispatchers. Default discards.
func WithLogger(log *slog.Logger) RegistryOption {
	return func(r *Registry) { r.log = log }
}

// NewRegistry builds an empty route registry resolving middleware names
// against mws.
func NewRegistry(mws *middleware.Registry, opts ...RegistryOption) *Registry {
	r := &Registry{
		mws: mws,
		dup: map[string]struct{}{},
		ws:  map[string]*compiledRoute{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return r
}

// Register adds a route. Unknown middleware names and malformed patterns are
// configuration faults returned here; duplicates return ErrDuplicateRoute.
func (r *Registry) Register(rt Route) error {
	if rt.Handler == nil {
		return fmt.Errorf("dispatch: route requires a handler")
	}
	chain, err := r.mws.Resolve(rt.Middleware)
	if err != nil {
		return err
	}
	cr := &compiledRoute{Route: rt, chain: chain}

	switch rt.Transport {
	case reqctx.TransportHTTP:
		if rt.Method == "" || rt.Pattern == "" {
			return fmt.Errorf("dispatch: http route requires method and pattern")
		}
		cr.pattern, err = compilePattern(rt.Pattern)
		if err != nil {
			return err
		}
		key := rt.Method + " " + rt.Pattern
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, exists := r.dup[key]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateRoute, key)
		}
		r.dup[key] = struct{}{}
		r.http = append(r.http, cr)
		return nil

	case reqctx.TransportWS:
		if rt.Event == "" {
			return fmt.Errorf("dispatch: ws route requires an event name")
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, exists := r.ws[rt.Event]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateRoute, rt.Event)
		}
		r.ws[rt.Event] = cr
		return nil

	default:
		return fmt.Errorf("dispatch: unknown transport %q", rt.Transport)
	}
}

// MustRegister panics on a registration error; for static route tables.
func (r *Registry) MustRegister(rt Route) {
	if err := r.Register(rt); err != nil {
		panic(err)
	}
}

// matchHTTP finds the first registered route matching method + path and
// extracts raw path parameters. Routes match in registration order.
func (r *Registry) matchHTTP(method, path string) (*compiledRoute, map[string]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cr := range r.http {
		if cr.Method != method {
			continue
		}
		if params, ok := cr.pattern.match(path); ok {
			return cr, params, true
		}
	}
	return nil, nil, false
}

// lookupWS finds the route for an exact event name.
func (r *Registry) lookupWS(event string) (*compiledRoute, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cr, ok := r.ws[event]
	return cr, ok
}
