package fluxgate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/fluxgate/fluxgate/broker"
	"github.com/fluxgate/fluxgate/dispatch"
	"github.com/fluxgate/fluxgate/internal/logctx"
	"github.com/fluxgate/fluxgate/middleware"
	"github.com/fluxgate/fluxgate/presence"
	"github.com/fluxgate/fluxgate/sessions"
	"github.com/fluxgate/fluxgate/storage"
	memstorage "github.com/fluxgate/fluxgate/storage/memory"
	"github.com/fluxgate/fluxgate/wstransport"
)

// Middleware names the server registers on construction. Routes reference
// these in their middleware lists.
const (
	MiddlewareSession     = "session"
	MiddlewareRequireAuth = "auth"
)

// Config assembles a Server. Every field is optional; the zero value yields a
// single-process server on in-memory storage.
type Config struct {
	// Storage backs the session store and handshake tokens. Defaults to the
	// in-memory backend.
	Storage storage.Storage

	// Broker, when set, spans presence and broadcast across processes.
	Broker broker.Broker

	// SessionTTL overrides the default session lifetime.
	SessionTTL time.Duration

	// SigningSecret, when set, makes HTTP bearer credentials signed tokens
	// rather than raw session ids. Must be at least 32 bytes.
	SigningSecret []byte

	// CookieName overrides the browser session cookie consulted by the
	// session middleware.
	CookieName string

	// LogHandler is an optional slog.Handler. If nil, logging is discarded.
	LogHandler slog.Handler
}

// Server wires the pipeline pieces into one unit: route and middleware
// registries, session store, presence tracker and the two transport handlers.
type Server struct {
	log     *slog.Logger
	kv      storage.Storage
	ownsKV  bool
	store   *sessions.Store
	codec   *sessions.Codec
	tracker *presence.Tracker
	mws     *middleware.Registry
	routes  *dispatch.Registry
	wsh     *wstransport.Handler

	cancelPump context.CancelFunc
	pumpDone   chan struct{}
	closeOnce  sync.Once
}

// New builds a Server from config. The returned server already carries the
// "session" and "auth" middleware; applications register additional
// middleware and routes before serving.
func New(cfg Config) (*Server, error) {
	logHandler := cfg.LogHandler
	if logHandler == nil {
		logHandler = slog.NewTextHandler(io.Discard, nil)
	}
	log := slog.New(logctx.Handler{Handler: logHandler})

	s := &Server{log: log, kv: cfg.Storage}
	if s.kv == nil {
		kv, err := memstorage.New(memstorage.Config{})
		if err != nil {
			return nil, fmt.Errorf("fluxgate: memory storage: %w", err)
		}
		s.kv = kv
		s.ownsKV = true
	}

	storeOpts := []sessions.StoreOption{sessions.WithLogger(log)}
	if cfg.SessionTTL > 0 {
		storeOpts = append(storeOpts, sessions.WithTTL(cfg.SessionTTL))
	}
	s.store = sessions.NewStore(s.kv, storeOpts...)

	if len(cfg.SigningSecret) > 0 {
		codec, err := sessions.NewCodec(cfg.SigningSecret, cfg.SessionTTL)
		if err != nil {
			return nil, err
		}
		s.codec = codec
	}

	trackerOpts := []presence.Option{presence.WithLogger(log)}
	if cfg.Broker != nil {
		trackerOpts = append(trackerOpts, presence.WithBroker(cfg.Broker))
	}
	s.tracker = presence.NewTracker(trackerOpts...)

	s.mws = middleware.NewRegistry()
	resolverOpts := []middleware.ResolverOption{}
	if s.codec != nil {
		resolverOpts = append(resolverOpts, middleware.WithCodec(s.codec))
	}
	if cfg.CookieName != "" {
		resolverOpts = append(resolverOpts, middleware.WithCookieName(cfg.CookieName))
	}
	if err := s.mws.Register(MiddlewareSession, middleware.SessionResolver(s.store, resolverOpts...)); err != nil {
		return nil, err
	}
	if err := s.mws.Register(MiddlewareRequireAuth, middleware.RequireAuth()); err != nil {
		return nil, err
	}

	s.routes = dispatch.NewRegistry(s.mws, dispatch.WithLogger(log))
	s.wsh = wstransport.NewHandler(s.routes, s.store, s.tracker, wstransport.WithLogger(log))

	if cfg.Broker != nil {
		pumpCtx, cancel := context.WithCancel(context.Background())
		s.cancelPump = cancel
		s.pumpDone = make(chan struct{})
		go func() {
			defer close(s.pumpDone)
			if err := s.tracker.Run(pumpCtx, presence.Topic); err != nil && pumpCtx.Err() == nil {
				log.Error("presence pump stopped", slog.String("error", err.Error()))
			}
		}()
	}

	return s, nil
}

// Routes is the route registry. Register HTTP and WS routes here before
// mounting the handlers.
func (s *Server) Routes() *dispatch.Registry { return s.routes }

// Middleware is the named middleware registry.
func (s *Server) Middleware() *middleware.Registry { return s.mws }

// Sessions is the session store.
func (s *Server) Sessions() *sessions.Store { return s.store }

// Presence is the connection and presence tracker.
func (s *Server) Presence() *presence.Tracker { return s.tracker }

// HTTPHandler returns the handler serving the HTTP side of the pipeline.
func (s *Server) HTTPHandler() http.Handler {
	return dispatch.NewHTTPHandler(s.routes)
}

// WSHandler returns the handler serving WebSocket upgrades.
func (s *Server) WSHandler() http.Handler { return s.wsh }

// IssueWSToken mints a single-use handshake token for an established session.
// Applications expose this through an authenticated HTTP route.
func (s *Server) IssueWSToken(ctx context.Context, sessionID, userID string) (string, error) {
	return s.store.IssueWSToken(ctx, sessionID, userID)
}

// EncodeBearer signs a session id for use as an HTTP bearer credential.
// Returns an error when the server was built without a signing secret.
func (s *Server) EncodeBearer(sessionID string) (string, error) {
	if s.codec == nil {
		return "", fmt.Errorf("fluxgate: no signing secret configured")
	}
	return s.codec.Encode(sessionID)
}

// Close stops the presence pump and releases owned resources. Storage passed
// in by the caller is left open.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.cancelPump != nil {
			s.cancelPump()
			<-s.pumpDone
		}
		if s.ownsKV {
			err = s.kv.Close()
		}
	})
	return err
}
