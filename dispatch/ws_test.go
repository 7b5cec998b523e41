package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/fluxgate/fluxgate/middleware"
	"github.com/fluxgate/fluxgate/reqctx"
	"github.com/fluxgate/fluxgate/schema"
	"github.com/fluxgate/fluxgate/sessions"
)

func TestDispatchEventUnknownEvent(t *testing.T) {
	reg := NewRegistry(middleware.NewRegistry())
	res := reg.DispatchEvent(context.Background(), WSCall{}, Envelope{Event: "nope"})
	if res.Status != StatusError {
		t.Fatalf("status = %q, want error", res.Status)
	}
	if len(res.Messages) != 1 || res.Messages[0] != "unknown event nope" {
		t.Fatalf("unexpected messages: %v", res.Messages)
	}
}

func TestDispatchEventValidatesPayload(t *testing.T) {
	reg := NewRegistry(middleware.NewRegistry())
	reg.MustRegister(Route{
		Transport: reqctx.TransportWS, Event: "note:create",
		Validator: schema.MustCompile(schema.Schema{
			Properties: map[string]schema.Property{"title": {Type: schema.TypeString, MinLength: intp(1)}},
			Required:   []string{"title"},
		}),
		Handler: okHandler,
	})

	res := reg.DispatchEvent(context.Background(), WSCall{}, Envelope{
		Event:   "note:create",
		Payload: json.RawMessage(`{"title":""}`),
	})
	if res.Status != StatusError || len(res.Messages) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestDispatchEventUnauthorized(t *testing.T) {
	mws := middleware.NewRegistry()
	if err := mws.Register("auth", middleware.RequireAuth()); err != nil {
		t.Fatal(err)
	}
	reg := NewRegistry(mws)
	ran := false
	reg.MustRegister(Route{
		Transport: reqctx.TransportWS, Event: "note:create",
		Middleware: []string{"auth"},
		Handler: func(ctx context.Context, call *reqctx.Context) (any, error) {
			ran = true
			return nil, nil
		},
	})

	res := reg.DispatchEvent(context.Background(), WSCall{ConnID: "c1"}, Envelope{Event: "note:create"})
	if res.Status != StatusUnauthorized {
		t.Fatalf("status = %q, want unauthorized", res.Status)
	}
	if ran {
		t.Fatal("handler ran past an auth short-circuit")
	}
}

func TestDispatchEventInheritsConnectionIdentity(t *testing.T) {
	mws := middleware.NewRegistry()
	if err := mws.Register("auth", middleware.RequireAuth()); err != nil {
		t.Fatal(err)
	}
	reg := NewRegistry(mws)
	reg.MustRegister(Route{
		Transport: reqctx.TransportWS, Event: "whoami",
		Middleware: []string{"auth"},
		Handler: func(ctx context.Context, call *reqctx.Context) (any, error) {
			return map[string]any{"userId": call.Auth.UserID(), "sessionId": call.Session.ID}, nil
		},
	})

	sess := &sessions.Session{ID: "s1", UserID: "42"}
	res := reg.DispatchEvent(context.Background(), WSCall{ConnID: "c1", UserID: "42", Session: sess}, Envelope{Event: "whoami"})
	if res.Status != StatusOK {
		t.Fatalf("unexpected result: %+v", res)
	}
	data := res.Data.(map[string]any)
	if data["userId"] != "42" || data["sessionId"] != "s1" {
		t.Fatalf("identity not inherited: %v", data)
	}
}

func TestDispatchEventHandlerErrorIsGeneric(t *testing.T) {
	reg := NewRegistry(middleware.NewRegistry())
	reg.MustRegister(Route{
		Transport: reqctx.TransportWS, Event: "boom",
		Handler: func(ctx context.Context, call *reqctx.Context) (any, error) {
			return nil, errors.New("connection string leaked")
		},
	})

	res := reg.DispatchEvent(context.Background(), WSCall{}, Envelope{Event: "boom"})
	if res.Status != StatusError {
		t.Fatalf("status = %q, want error", res.Status)
	}
	for _, m := range res.Messages {
		if m != "internal error" {
			t.Fatalf("detail leaked: %v", res.Messages)
		}
	}
}

func TestDispatchEventHandlerPanicIsGeneric(t *testing.T) {
	reg := NewRegistry(middleware.NewRegistry())
	reg.MustRegister(Route{
		Transport: reqctx.TransportWS, Event: "panic",
		Handler: func(ctx context.Context, call *reqctx.Context) (any, error) {
			panic("state dump")
		},
	})

	res := reg.DispatchEvent(context.Background(), WSCall{}, Envelope{Event: "panic"})
	if res.Status != StatusError || len(res.Messages) != 1 || res.Messages[0] != "internal error" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestDispatchEventSuccess(t *testing.T) {
	reg := NewRegistry(middleware.NewRegistry())
	reg.MustRegister(Route{
		Transport: reqctx.TransportWS, Event: "echo",
		Validator: schema.MustCompile(schema.Schema{
			Properties: map[string]schema.Property{"msg": {Type: schema.TypeString}},
		}),
		Handler: func(ctx context.Context, call *reqctx.Context) (any, error) {
			return call.Payload["msg"], nil
		},
	})

	res := reg.DispatchEvent(context.Background(), WSCall{}, Envelope{
		Event:   "echo",
		Payload: json.RawMessage(`{"msg":"hi"}`),
	})
	if res.Status != StatusOK || res.Data != "hi" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Messages) != 0 {
		t.Fatalf("success carried messages: %v", res.Messages)
	}
}
