package middleware

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/fluxgate/fluxgate/reqctx"
	"github.com/fluxgate/fluxgate/sessions"
	"github.com/fluxgate/fluxgate/storage/memory"
)

func newSessionStore(t *testing.T) *sessions.Store {
	t.Helper()
	kv, err := memory.New(memory.Config{})
	if err != nil {
		t.Fatalf("memory storage: %v", err)
	}
	t.Cleanup(func() { kv.Close() })
	return sessions.NewStore(kv)
}

func httpCall(header http.Header, cookies ...*http.Cookie) *reqctx.Context {
	if header == nil {
		header = http.Header{}
	}
	return reqctx.New(reqctx.HTTPData{
		Method:  "GET",
		Path:    "/notes",
		Header:  header,
		Cookies: cookies,
	})
}

func runOne(t *testing.T, fn Func, call *reqctx.Context) bool {
	t.Helper()
	advanced := false
	err := fn(context.Background(), call, func() error {
		advanced = true
		return nil
	})
	if err != nil {
		t.Fatalf("middleware error: %v", err)
	}
	return advanced
}

func TestSessionResolverBearerHeader(t *testing.T) {
	store := newSessionStore(t)
	sess, err := store.Create(context.Background(), "42", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+sess.ID)
	call := httpCall(header)

	if !runOne(t, SessionResolver(store), call) {
		t.Fatal("resolver must advance the chain")
	}
	if call.Session == nil || call.Session.ID != sess.ID {
		t.Fatalf("session not resolved: %+v", call.Session)
	}
	if !call.Auth.Authenticated() || call.Auth.UserID() != "42" {
		t.Fatalf("auth not upgraded: %+v", call.Auth)
	}
}

func TestSessionResolverCookie(t *testing.T) {
	store := newSessionStore(t)
	sess, err := store.Create(context.Background(), "42", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	call := httpCall(nil, &http.Cookie{Name: DefaultCookieName, Value: sess.ID})
	if !runOne(t, SessionResolver(store), call) {
		t.Fatal("resolver must advance the chain")
	}
	if call.Session == nil || call.Auth.UserID() != "42" {
		t.Fatalf("cookie session not resolved: %+v", call.Session)
	}
}

func TestSessionResolverUnknownSessionStaysAnonymous(t *testing.T) {
	store := newSessionStore(t)
	header := http.Header{}
	header.Set("Authorization", "Bearer nonexistent")
	call := httpCall(header)

	if !runOne(t, SessionResolver(store), call) {
		t.Fatal("resolver must advance even without a session")
	}
	if call.Session != nil || call.Auth.Authenticated() {
		t.Fatalf("anonymous call was upgraded: %+v", call)
	}
}

func TestSessionResolverSignedBearer(t *testing.T) {
	store := newSessionStore(t)
	codec, err := sessions.NewCodec([]byte("0123456789abcdef0123456789abcdef"), time.Hour)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	sess, err := store.Create(context.Background(), "42", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	bearer, err := codec.Encode(sess.ID)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+bearer)
	call := httpCall(header)
	runOne(t, SessionResolver(store, WithCodec(codec)), call)
	if call.Session == nil || call.Auth.UserID() != "42" {
		t.Fatalf("signed bearer not resolved: %+v", call.Session)
	}

	// A tampered bearer falls back to deny-all, not an error.
	header = http.Header{}
	header.Set("Authorization", "Bearer "+bearer[:len(bearer)-2]+"xx")
	call = httpCall(header)
	if !runOne(t, SessionResolver(store, WithCodec(codec)), call) {
		t.Fatal("resolver must advance on invalid bearer")
	}
	if call.Auth.Authenticated() {
		t.Fatal("tampered bearer was accepted")
	}
}

func TestSessionResolverWSCall(t *testing.T) {
	store := newSessionStore(t)
	sess, err := store.Create(context.Background(), "42", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	call := reqctx.New(reqctx.WSData{Event: "typing", SessionID: sess.ID, UserID: "42"})
	runOne(t, SessionResolver(store), call)
	if call.Session == nil || call.Auth.UserID() != "42" {
		t.Fatalf("ws session not resolved: %+v", call.Session)
	}
}

func TestRequireAuthShortCircuits(t *testing.T) {
	call := httpCall(nil)
	advanced := false
	err := RequireAuth()(context.Background(), call, func() error {
		advanced = true
		return nil
	})
	if err != nil {
		t.Fatalf("RequireAuth: %v", err)
	}
	if advanced {
		t.Fatal("guard advanced an unauthenticated call")
	}
	if call.Resp.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", call.Resp.Status)
	}
}

func TestRequireAuthPassesAuthenticated(t *testing.T) {
	call := httpCall(nil)
	call.Auth = reqctx.UserAuth{ID: "42"}
	advanced := false
	err := RequireAuth()(context.Background(), call, func() error {
		advanced = true
		return nil
	})
	if err != nil || !advanced {
		t.Fatalf("authenticated call blocked: advanced=%v err=%v", advanced, err)
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":  "abc",
		"bearer abc":  "abc",
		"Bearer  abc": "abc",
		"Basic abc":   "",
		"":            "",
		"Bearer":      "",
	}
	for in, want := range cases {
		if got := BearerToken(in); got != want {
			t.Fatalf("BearerToken(%q) = %q, want %q", in, got, want)
		}
	}
}
