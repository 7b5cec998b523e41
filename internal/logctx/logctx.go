// Package logctx decorates slog records with per-call attributes carried in
// the request context. Handlers never thread a correlation id explicitly;
// wrapping the root logger's handler in Handler is enough to stamp every log
// line emitted below the dispatcher.
package logctx

import (
	"context"
	"log/slog"
)

type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if cd, ok := ctx.Value(callDataKey{}).(*CallData); ok {
		r.AddAttrs(slog.Group("call",
			slog.String("id", cd.CallID),
			slog.String("transport", cd.Transport),
			slog.String("target", cd.Target),
		))
	}

	if sd, ok := ctx.Value(sessionDataKey{}).(*SessionData); ok {
		r.AddAttrs(slog.Group("sess",
			slog.String("id", sd.SessionID),
			slog.String("user_id", sd.UserID),
		))
	}

	return h.Handler.Handle(ctx, r)
}

type callDataKey struct{}

// CallData identifies one pipeline execution. Target is the method+path for
// HTTP calls and the event name for WebSocket calls.
type CallData struct {
	CallID    string
	Transport string
	Target    string
}

func WithCallData(ctx context.Context, data *CallData) context.Context {
	return context.WithValue(ctx, callDataKey{}, data)
}

type sessionDataKey struct{}

type SessionData struct {
	SessionID string
	UserID    string
}

func WithSessionData(ctx context.Context, data *SessionData) context.Context {
	return context.WithValue(ctx, sessionDataKey{}, data)
}
