package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/elnormous/contenttype"
	"github.com/fluxgate/fluxgate/internal/logctx"
	"github.com/fluxgate/fluxgate/reqctx"
	"github.com/fluxgate/fluxgate/schema"
)

var jsonMediaType = contenttype.NewMediaType("application/json")

const defaultMaxBodyBytes = 1 << 20

// HTTPHandler adapts the registry to net/http. One request is one pipeline
// execution; every outcome, including faults, produces exactly one response.
type HTTPHandler struct {
	reg          *Registry
	log          *slog.Logger
	maxBodyBytes int64
}

// HTTPOption configures the HTTP adapter.
type HTTPOption func(*HTTPHandler)

// WithMaxBodyBytes caps the request body size. Default 1 MiB.
func WithMaxBodyBytes(n int64) HTTPOption {
	return func(h *HTTPHandler) { h.maxBodyBytes = n }
}

// NewHTTPHandler builds the HTTP adapter for a registry. The registry's
// logger is used for fault correlation.
func NewHTTPHandler(reg *Registry, opts ...HTTPOption) *HTTPHandler {
	h := &HTTPHandler{reg: reg, log: reg.log, maxBodyBytes: defaultMaxBodyBytes}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Route match happens before anything is allocated for the call; an
	// unknown method+path never constructs a request context.
	cr, params, ok := h.reg.matchHTTP(r.Method, r.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	// Path parameters are validated before any middleware runs.
	for name, value := range params {
		if err := schema.ValidateParam(name, value); err != nil {
			var perr *schema.ParameterError
			if errors.As(err, &perr) {
				writeError(w, http.StatusBadRequest, "invalid parameter "+perr.Name)
				return
			}
			writeError(w, http.StatusBadRequest, "invalid parameter")
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if len(body) > 0 {
		ctype, err := contenttype.GetMediaType(r)
		if err != nil || !ctype.Matches(jsonMediaType) {
			writeError(w, http.StatusBadRequest, "body must be application/json")
			return
		}
	}

	call := reqctx.New(reqctx.HTTPData{
		Method:  r.Method,
		Path:    r.URL.Path,
		Header:  r.Header,
		Cookies: r.Cookies(),
		Params:  params,
		Remote:  r.RemoteAddr,
	}, reqctx.WithLogger(h.log))

	ctx := logctx.WithCallData(r.Context(), &logctx.CallData{
		CallID:    call.ID,
		Transport: string(reqctx.TransportHTTP),
		Target:    r.Method + " " + r.URL.Path,
	})

	// Payload validation aborts before middleware with every message.
	if cr.Validator != nil {
		payload, err := cr.Validator.ValidateJSON(body)
		if err != nil {
			var verr *schema.ValidationError
			if errors.As(err, &verr) {
				writeErrors(w, http.StatusBadRequest, verr.Messages)
				return
			}
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}
		call.Payload = payload
	}

	completed, err := cr.chain.Run(ctx, call)
	if err != nil {
		call.Log.ErrorContext(ctx, "middleware chain failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !completed {
		h.writeShortCircuit(w, call)
		return
	}

	result, err := h.invoke(ctx, cr, call)
	if err != nil {
		call.Log.ErrorContext(ctx, "handler failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	status := call.Resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{"data": result})
}

// invoke runs the handler with a panic boundary so a faulty handler cannot
// leave the call without a response.
func (h *HTTPHandler) invoke(ctx context.Context, cr *compiledRoute, call *reqctx.Context) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panicked: %v", rec)
		}
	}()
	return cr.Handler(ctx, call)
}

func (h *HTTPHandler) writeShortCircuit(w http.ResponseWriter, call *reqctx.Context) {
	status := call.Resp.Status
	if status == 0 {
		// A middleware stopped the chain without producing an outcome.
		call.Log.Error("short-circuit without response")
		status = http.StatusInternalServerError
		call.Resp.Body = errorBody("internal error")
	}
	writeJSON(w, status, call.Resp.Body)
}

func errorBody(messages ...string) map[string]any {
	return map[string]any{"error": map[string]any{"messages": messages}}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody(message))
}

func writeErrors(w http.ResponseWriter, status int, messages []string) {
	writeJSON(w, status, errorBody(messages...))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}
