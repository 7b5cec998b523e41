package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fluxgate/fluxgate/internal/logctx"
	"github.com/fluxgate/fluxgate/reqctx"
	"github.com/fluxgate/fluxgate/schema"
	"github.com/fluxgate/fluxgate/sessions"
)

// Envelope is the wire shape of one inbound WebSocket event.
type Envelope struct {
	Event     string          `json:"event"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Result statuses for WebSocket event outcomes.
const (
	StatusOK           = "ok"
	StatusError        = "error"
	StatusUnauthorized = "unauthorized"
)

// Result is the outcome of one dispatched event, shaped for an ack frame
// back to the client.
type Result struct {
	Status   string   `json:"status"`
	Data     any      `json:"data,omitempty"`
	Messages []string `json:"messages,omitempty"`
}

func errorResult(messages ...string) Result {
	return Result{Status: StatusError, Messages: messages}
}

// WSCall carries the connection-level identity under which an event is
// dispatched. The transport authenticates once at upgrade; every event on the
// connection inherits that identity.
type WSCall struct {
	ConnID  string
	UserID  string
	Session *sessions.Session
}

// DispatchEvent runs one WebSocket event through the full pipeline and
// returns the ack payload. Unknown events and validation failures produce
// error results; a middleware 401 short-circuit maps to StatusUnauthorized.
// The caller serializes events per connection, so two events from one socket
// never race.
func (r *Registry) DispatchEvent(ctx context.Context, wc WSCall, env Envelope) Result {
	cr, ok := r.lookupWS(env.Event)
	if !ok {
		return errorResult("unknown event " + env.Event)
	}

	call := reqctx.New(reqctx.WSData{
		Event:     env.Event,
		Timestamp: env.Timestamp,
		Payload:   env.Payload,
		ConnID:    wc.ConnID,
		UserID:    wc.UserID,
		SessionID: sessionIDOf(wc.Session),
	}, reqctx.WithLogger(r.log))
	call.Session = wc.Session
	if wc.UserID != "" {
		call.Auth = reqctx.UserAuth{ID: wc.UserID}
	}

	ctx = logctx.WithCallData(ctx, &logctx.CallData{
		CallID:    call.ID,
		Transport: string(reqctx.TransportWS),
		Target:    env.Event,
	})

	if cr.Validator != nil {
		payload, err := cr.Validator.ValidateJSON(env.Payload)
		if err != nil {
			var verr *schema.ValidationError
			if errors.As(err, &verr) {
				return errorResult(verr.Messages...)
			}
			return errorResult("invalid payload")
		}
		call.Payload = payload
	}

	completed, err := cr.chain.Run(ctx, call)
	if err != nil {
		call.Log.ErrorContext(ctx, "middleware chain failed", slog.String("error", err.Error()))
		return errorResult("internal error")
	}
	if !completed {
		if call.Resp.Status == 401 {
			return Result{Status: StatusUnauthorized, Messages: []string{"unauthorized"}}
		}
		return shortCircuitResult(call)
	}

	result, err := r.invokeWS(ctx, cr, call)
	if err != nil {
		call.Log.ErrorContext(ctx, "handler failed", slog.String("error", err.Error()))
		return errorResult("internal error")
	}
	return Result{Status: StatusOK, Data: result}
}

func (r *Registry) invokeWS(ctx context.Context, cr *compiledRoute, call *reqctx.Context) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panicked: %v", rec)
		}
	}()
	return cr.Handler(ctx, call)
}

// shortCircuitResult maps a non-401 middleware stop onto the ack shape. The
// middleware's body, when it is the HTTP error envelope, is flattened into
// messages; anything else becomes a generic error.
func shortCircuitResult(call *reqctx.Context) Result {
	if body, ok := call.Resp.Body.(map[string]any); ok {
		if errObj, ok := body["error"].(map[string]any); ok {
			if raw, ok := errObj["messages"].([]string); ok {
				return errorResult(raw...)
			}
			if raw, ok := errObj["messages"].([]any); ok {
				msgs := make([]string, 0, len(raw))
				for _, m := range raw {
					if s, ok := m.(string); ok {
						msgs = append(msgs, s)
					}
				}
				if len(msgs) > 0 {
					return errorResult(msgs...)
				}
			}
		}
	}
	return errorResult("request rejected")
}

func sessionIDOf(s *sessions.Session) string {
	if s == nil {
		return ""
	}
	return s.ID
}

// OutboundEnvelope is the wire shape of a server-pushed event.
type OutboundEnvelope struct {
	Event     string          `json:"event"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// NewOutbound stamps a server-pushed event with the current time.
func NewOutbound(event string, payload []byte) OutboundEnvelope {
	return OutboundEnvelope{Event: event, Timestamp: time.Now().UnixMilli(), Payload: payload}
}
