// Package storagetest provides a conformance suite every storage backend must
// pass. Backend packages invoke Run from their own tests with a factory.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/fluxgate/fluxgate/storage"
)

// Factory builds a fresh, empty backend for one test.
type Factory func(t *testing.T) storage.Storage

// Run executes the conformance suite against the backend built by factory.
func Run(t *testing.T, factory Factory) {
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, factory(t)) })
	t.Run("SetGetRoundtrip", func(t *testing.T) { testSetGetRoundtrip(t, factory(t)) })
	t.Run("GetDelClaimsOnce", func(t *testing.T) { testGetDelClaimsOnce(t, factory(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, factory(t)) })
	t.Run("TTLExpiry", func(t *testing.T) { testTTLExpiry(t, factory(t)) })
	t.Run("NamespaceIsolation", func(t *testing.T) { testNamespaceIsolation(t, factory(t)) })
	t.Run("KeysListsNamespace", func(t *testing.T) { testKeysListsNamespace(t, factory(t)) })
}

func testGetMissing(t *testing.T, s storage.Storage) {
	defer s.Close()
	item, err := s.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if item != nil {
		t.Fatalf("expected nil item for missing key, got %+v", item)
	}
}

func testSetGetRoundtrip(t *testing.T, s storage.Storage) {
	defer s.Close()
	ctx := context.Background()
	if err := s.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	item, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if item == nil || string(item.Data) != "v" {
		t.Fatalf("unexpected item: %+v", item)
	}
	if item.CreatedAt.IsZero() {
		t.Fatal("CreatedAt not set")
	}
	if item.ExpiresAt != nil {
		t.Fatalf("unexpected expiry: %v", item.ExpiresAt)
	}
}

func testGetDelClaimsOnce(t *testing.T, s storage.Storage) {
	defer s.Close()
	ctx := context.Background()
	if err := s.Set(ctx, "claim", []byte("once")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	item, err := s.GetDel(ctx, "claim")
	if err != nil {
		t.Fatalf("GetDel: %v", err)
	}
	if item == nil || string(item.Data) != "once" {
		t.Fatalf("first claim failed: %+v", item)
	}
	item, err = s.GetDel(ctx, "claim")
	if err != nil {
		t.Fatalf("GetDel: %v", err)
	}
	if item != nil {
		t.Fatalf("second claim must observe absence, got %+v", item)
	}
}

func testDelete(t *testing.T, s storage.Storage) {
	defer s.Close()
	ctx := context.Background()
	if err := s.Delete(ctx, "absent"); err != nil {
		t.Fatalf("Delete of absent key: %v", err)
	}
	if err := s.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	item, err := s.Get(ctx, "k")
	if err != nil || item != nil {
		t.Fatalf("key survived delete: item=%+v err=%v", item, err)
	}
}

func testTTLExpiry(t *testing.T, s storage.Storage) {
	defer s.Close()
	ctx := context.Background()
	if err := s.Set(ctx, "short", []byte("v"), storage.WithTTL(50*time.Millisecond)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	item, err := s.Get(ctx, "short")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if item == nil {
		t.Fatal("item expired before its TTL")
	}
	if item.ExpiresAt == nil {
		t.Fatal("ExpiresAt not recorded")
	}
	time.Sleep(80 * time.Millisecond)
	item, err = s.Get(ctx, "short")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if item != nil {
		t.Fatalf("item readable after TTL: %+v", item)
	}
}

func testNamespaceIsolation(t *testing.T, s storage.Storage) {
	defer s.Close()
	ctx := context.Background()
	if err := s.Set(ctx, "k", []byte("alice"), storage.WithUser("alice")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "k", []byte("global")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	item, err := s.Get(ctx, "k", storage.WithUser("alice"))
	if err != nil || item == nil || string(item.Data) != "alice" {
		t.Fatalf("user-scoped read: item=%+v err=%v", item, err)
	}
	item, err = s.Get(ctx, "k", storage.WithUser("bob"))
	if err != nil || item != nil {
		t.Fatalf("foreign namespace leaked: item=%+v err=%v", item, err)
	}
	item, err = s.Get(ctx, "k")
	if err != nil || item == nil || string(item.Data) != "global" {
		t.Fatalf("global read: item=%+v err=%v", item, err)
	}
}

func testKeysListsNamespace(t *testing.T, s storage.Storage) {
	defer s.Close()
	ctx := context.Background()
	for _, k := range []string{"s1", "s2"} {
		if err := s.Set(ctx, k, []byte("x"), storage.WithUser("alice")); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	if err := s.Set(ctx, "s3", []byte("x"), storage.WithUser("bob")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	keys, err := s.Keys(ctx, storage.WithUser("alice"))
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %v", keys)
	}
	seen := map[string]bool{}
	for _, k := range keys {
		seen[k] = true
	}
	if !seen["s1"] || !seen["s2"] {
		t.Fatalf("unexpected key set: %v", keys)
	}
}
