package sessions

import (
	"context"
	"testing"

	"github.com/fluxgate/fluxgate/storage/memory"
)

func newTestStore(t *testing.T, opts ...StoreOption) *Store {
	t.Helper()
	kv, err := memory.New(memory.Config{})
	if err != nil {
		t.Fatalf("memory storage: %v", err)
	}
	t.Cleanup(func() { kv.Close() })
	return NewStore(kv, opts...)
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.Create(ctx, "42", map[string]any{"device": "phone"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.ID == "" || sess.UserID != "42" {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if sess.Data["userId"] != "42" || sess.Data["device"] != "phone" {
		t.Fatalf("unexpected data: %v", sess.Data)
	}
	if !sess.ExpiresAt.After(sess.CreatedAt) {
		t.Fatalf("expiry not after creation: %+v", sess)
	}

	got, err := s.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.ID != sess.ID || got.UserID != "42" {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
}

func TestGetAbsent(t *testing.T) {
	s := newTestStore(t)
	got, err := s.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected absent session, got %+v", got)
	}
}

func TestCreateRequiresUser(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create(context.Background(), "", nil); err == nil {
		t.Fatal("expected error for empty user id")
	}
}

func TestUpdateMergesPatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.Create(ctx, "42", map[string]any{"theme": "dark"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Update(ctx, sess.ID, map[string]any{"theme": "light", "lang": "en"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Data["theme"] != "light" || got.Data["lang"] != "en" || got.Data["userId"] != "42" {
		t.Fatalf("patch not merged: %v", got.Data)
	}

	reread, err := s.Get(ctx, sess.ID)
	if err != nil || reread == nil {
		t.Fatalf("Get after update: %+v %v", reread, err)
	}
	if reread.Data["lang"] != "en" {
		t.Fatalf("update not persisted: %v", reread.Data)
	}
}

func TestUpdateAbsent(t *testing.T) {
	s := newTestStore(t)
	got, err := s.Update(context.Background(), "missing", map[string]any{"k": "v"})
	if err != nil || got != nil {
		t.Fatalf("expected (nil, nil), got %+v %v", got, err)
	}
}

func TestDestroyVisibleToOtherHolders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.Create(ctx, "42", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	// A second resolution of the same id models another in-flight call.
	other, err := s.Get(ctx, sess.ID)
	if err != nil || other == nil {
		t.Fatalf("Get: %+v %v", other, err)
	}

	if err := s.Destroy(ctx, sess.ID); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	got, err := s.Get(ctx, other.ID)
	if err != nil {
		t.Fatalf("Get after destroy: %v", err)
	}
	if got != nil {
		t.Fatal("destroyed session still resolvable")
	}
}

func TestDestroyAbsentIsNoop(t *testing.T) {
	s := newTestStore(t)
	if err := s.Destroy(context.Background(), "missing"); err != nil {
		t.Fatalf("Destroy of absent session: %v", err)
	}
}

func TestDestroyAllForUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		sess, err := s.Create(ctx, "42", nil)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, sess.ID)
	}
	bystander, err := s.Create(ctx, "7", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	count, err := s.DestroyAllForUser(ctx, "42")
	if err != nil {
		t.Fatalf("DestroyAllForUser: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 destroyed, got %d", count)
	}
	for _, id := range ids {
		if got, _ := s.Get(ctx, id); got != nil {
			t.Fatalf("session %s survived", id)
		}
	}
	if got, _ := s.Get(ctx, bystander.ID); got == nil {
		t.Fatal("other user's session was destroyed")
	}
}
