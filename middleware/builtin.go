package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/fluxgate/fluxgate/reqctx"
	"github.com/fluxgate/fluxgate/sessions"
)

// DefaultCookieName is the cookie consulted for browser clients when no
// override is configured.
const DefaultCookieName = "fg_session"

// ResolverOption configures SessionResolver.
type ResolverOption func(*resolverConfig)

type resolverConfig struct {
	codec      *sessions.Codec
	cookieName string
}

// WithCodec verifies signed bearer credentials before hitting the store.
// Without a codec the bearer value is used as the raw session id.
func WithCodec(c *sessions.Codec) ResolverOption {
	return func(cfg *resolverConfig) { cfg.codec = c }
}

// WithCookieName overrides the browser session cookie name.
func WithCookieName(name string) ResolverOption {
	return func(cfg *resolverConfig) { cfg.cookieName = name }
}

// SessionResolver returns the middleware that populates call.Session and
// call.Auth. HTTP calls resolve a bearer Authorization header first, then the
// session cookie; WebSocket calls carry the session id established at
// handshake time. An absent or invalid credential leaves the deny-all
// default in place and the chain keeps running — rejection is RequireAuth's
// job, so routes that serve both anonymous and authenticated callers stay
// expressible.
func SessionResolver(store *sessions.Store, opts ...ResolverOption) Func {
	cfg := resolverConfig{cookieName: DefaultCookieName}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(ctx context.Context, call *reqctx.Context, next Next) error {
		id := sessionID(call.Raw, cfg)
		if id == "" {
			return next()
		}
		sess, err := store.Get(ctx, id)
		if err != nil {
			return err
		}
		if sess != nil {
			call.Session = sess
			call.Auth = reqctx.UserAuth{ID: sess.UserID}
			call.Log = call.Log.With(slog.String("user_id", sess.UserID))
		}
		return next()
	}
}

func sessionID(raw reqctx.RawData, cfg resolverConfig) string {
	switch d := raw.(type) {
	case reqctx.HTTPData:
		cred := BearerToken(d.Header.Get("Authorization"))
		if cred == "" {
			cred = d.Cookie(cfg.cookieName)
		}
		if cred == "" {
			return ""
		}
		if cfg.codec != nil {
			id, err := cfg.codec.Decode(cred)
			if err != nil {
				// Invalid signature is handled like an unknown session.
				return ""
			}
			return id
		}
		return cred
	case reqctx.WSData:
		return d.SessionID
	default:
		return ""
	}
}

// BearerToken extracts the credential from an Authorization header value.
// Returns "" when the header is absent or not a bearer scheme.
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// RequireAuth returns the guard middleware. An unauthenticated call is
// short-circuited with a 401 outcome and a fixed message; the handler and any
// later middleware never run, and no reason is leaked to the caller.
func RequireAuth() Func {
	return func(ctx context.Context, call *reqctx.Context, next Next) error {
		if !call.Auth.Authenticated() {
			call.Resp.Status = http.StatusUnauthorized
			call.Resp.Body = map[string]any{
				"error": map[string]any{"messages": []string{"unauthorized"}},
			}
			return nil
		}
		return next()
	}
}
