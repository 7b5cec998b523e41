// Package wstransport serves the WebSocket side of the pipeline: it redeems
// the one-time handshake token issued over HTTP, upgrades the connection,
// registers it with the presence tracker, and pumps inbound envelopes through
// the dispatcher one at a time per connection.
package wstransport

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fluxgate/fluxgate/dispatch"
	"github.com/fluxgate/fluxgate/internal/logctx"
	"github.com/fluxgate/fluxgate/presence"
	"github.com/fluxgate/fluxgate/sessions"
)

// TokenQueryParam is the query parameter carrying the handshake token.
const TokenQueryParam = "token"

const defaultSendBuffer = 256

// Handler authenticates and serves WebSocket connections.
type Handler struct {
	store      *sessions.Store
	routes     *dispatch.Registry
	tracker    *presence.Tracker
	upgrader   websocket.Upgrader
	log        *slog.Logger
	sendBuffer int
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger. Default discards.
func WithLogger(log *slog.Logger) Option {
	return func(h *Handler) { h.log = log }
}

// WithSendBuffer sets the per-connection outbound queue depth.
func WithSendBuffer(n int) Option {
	return func(h *Handler) { h.sendBuffer = n }
}

// WithCheckOrigin overrides the upgrade origin check. Default allows all
// origins; the handshake token is the actual credential.
func WithCheckOrigin(f func(r *http.Request) bool) Option {
	return func(h *Handler) { h.upgrader.CheckOrigin = f }
}

// NewHandler builds the WebSocket handler.
func NewHandler(routes *dispatch.Registry, store *sessions.Store, tracker *presence.Tracker, opts ...Option) *Handler {
	h := &Handler{
		store:      store,
		routes:     routes,
		tracker:    tracker,
		sendBuffer: defaultSendBuffer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.log == nil {
		h.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return h
}

// ServeHTTP authenticates the handshake and, on success, upgrades and serves
// the connection until it closes. Authentication happens before the upgrade:
// a bad token is an HTTP 401, never an open-then-closed socket.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims, err := h.store.ConsumeWSToken(ctx, r.URL.Query().Get(TokenQueryParam))
	if err != nil {
		h.log.ErrorContext(ctx, "ws token lookup failed", slog.String("error", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if claims == nil {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	sess, err := h.store.Get(ctx, claims.SessionID)
	if err != nil {
		h.log.ErrorContext(ctx, "session lookup failed", slog.String("error", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if sess == nil {
		// Token outlived its session.
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}

	conn := newConn(uuid.NewString(), sock, h.sendBuffer, h.log)
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sess.ID, UserID: sess.UserID})
	log := h.log.With(slog.String("conn_id", conn.id), slog.String("user_id", sess.UserID))

	h.tracker.OnConnect(ctx, claims.UserID, conn)
	var disconnect sync.Once
	defer disconnect.Do(func() {
		h.tracker.OnDisconnect(ctx, claims.UserID, conn)
		conn.shutdown()
	})

	go conn.writePump()
	log.InfoContext(ctx, "connection established")

	wc := dispatch.WSCall{ConnID: conn.id, UserID: claims.UserID, Session: sess}
	for {
		_, data, err := sock.ReadMessage()
		if err != nil {
			log.DebugContext(ctx, "connection closed", slog.String("error", err.Error()))
			return
		}

		var env dispatch.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			if err := h.ack(conn, env.Event, dispatch.Result{
				Status:   dispatch.StatusError,
				Messages: []string{"malformed envelope"},
			}); err != nil {
				return
			}
			continue
		}

		// Events on one connection dispatch in arrival order, one at a time.
		res := h.routes.DispatchEvent(ctx, wc, env)
		if err := h.ack(conn, env.Event, res); err != nil {
			return
		}
	}
}

// ack writes the result frame for one dispatched event, echoing the event
// name so clients can correlate.
func (h *Handler) ack(conn *wsConn, event string, res dispatch.Result) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(dispatch.NewOutbound(event, payload))
	if err != nil {
		return err
	}
	return conn.enqueue(frame)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"messages": []string{message}},
	})
}
