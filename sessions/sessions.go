// Package sessions implements the server-held session state shared by the
// HTTP and WebSocket pipelines. Sessions live in an external key-value store
// (see the storage package), so any process holding the same backend observes
// creations, updates and destruction immediately; a request context only ever
// holds a transient copy.
package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/fluxgate/fluxgate/storage"
	"github.com/google/uuid"
)

// DefaultTTL is the session lifetime applied when no override is configured.
const DefaultTTL = 24 * time.Hour

const sessionKeyPrefix = "sess:"

// Session is one authenticated principal's server-side state. Data always
// carries at least the user id under the "userId" key, mirroring the record
// shape on the wire.
type Session struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

// Store manages sessions on top of a storage backend. Safe for concurrent
// use; every operation round-trips to the backend.
type Store struct {
	kv  storage.Storage
	ttl time.Duration
	log *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithTTL overrides the session lifetime.
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *Store) { s.ttl = ttl }
}

// WithLogger sets the logger. Default discards.
func WithLogger(log *slog.Logger) StoreOption {
	return func(s *Store) { s.log = log }
}

// NewStore builds a session store over the given key-value backend.
func NewStore(kv storage.Storage, opts ...StoreOption) *Store {
	s := &Store{kv: kv, ttl: DefaultTTL}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s
}

// Create persists a new session for userID. The caller's data map is copied;
// a "userId" entry is always present afterwards.
func (s *Store) Create(ctx context.Context, userID string, data map[string]any) (*Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("sessions: create requires a user id")
	}
	now := time.Now()
	sess := &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Data:      map[string]any{"userId": userID},
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	for k, v := range data {
		sess.Data[k] = v
	}
	if err := s.put(ctx, sess, s.ttl); err != nil {
		return nil, err
	}
	// Per-user index entry lets DestroyAllForUser find every live session
	// without scanning the global keyspace.
	if err := s.kv.Set(ctx, sess.ID, nil, storage.WithUser(userID), storage.WithTTL(s.ttl)); err != nil {
		return nil, fmt.Errorf("sessions: index session %s: %w", sess.ID, err)
	}
	s.log.DebugContext(ctx, "session created", slog.String("session_id", sess.ID), slog.String("user_id", userID))
	return sess, nil
}

// Get loads a session by id. Returns (nil, nil) when absent or expired.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, nil
	}
	item, err := s.kv.Get(ctx, sessionKeyPrefix+id)
	if err != nil {
		return nil, fmt.Errorf("sessions: get %s: %w", id, err)
	}
	if item == nil {
		return nil, nil
	}
	var sess Session
	if err := json.Unmarshal(item.Data, &sess); err != nil {
		return nil, fmt.Errorf("sessions: decode %s: %w", id, err)
	}
	return &sess, nil
}

// Update merges patch into the session's data and persists the result. The
// remaining TTL is preserved. Returns (nil, nil) when the session is absent.
func (s *Store) Update(ctx context.Context, id string, patch map[string]any) (*Session, error) {
	sess, err := s.Get(ctx, id)
	if err != nil || sess == nil {
		return nil, err
	}
	if sess.Data == nil {
		sess.Data = map[string]any{}
	}
	for k, v := range patch {
		sess.Data[k] = v
	}
	remaining := time.Until(sess.ExpiresAt)
	if remaining <= 0 {
		return nil, nil
	}
	if err := s.put(ctx, sess, remaining); err != nil {
		return nil, err
	}
	return sess, nil
}

// Destroy removes a session. Destroying an absent session is a no-op. The
// removal is visible to every context holding the same id.
func (s *Store) Destroy(ctx context.Context, id string) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.kv.Delete(ctx, sessionKeyPrefix+id); err != nil {
		return fmt.Errorf("sessions: destroy %s: %w", id, err)
	}
	if sess != nil {
		if err := s.kv.Delete(ctx, id, storage.WithUser(sess.UserID)); err != nil {
			return fmt.Errorf("sessions: unindex %s: %w", id, err)
		}
	}
	return nil
}

// DestroyAllForUser removes every live session of one user and reports how
// many were destroyed.
func (s *Store) DestroyAllForUser(ctx context.Context, userID string) (int, error) {
	ids, err := s.kv.Keys(ctx, storage.WithUser(userID))
	if err != nil {
		return 0, fmt.Errorf("sessions: list for user %s: %w", userID, err)
	}
	count := 0
	for _, id := range ids {
		if err := s.kv.Delete(ctx, sessionKeyPrefix+id); err != nil {
			return count, fmt.Errorf("sessions: destroy %s: %w", id, err)
		}
		if err := s.kv.Delete(ctx, id, storage.WithUser(userID)); err != nil {
			return count, fmt.Errorf("sessions: unindex %s: %w", id, err)
		}
		count++
	}
	s.log.DebugContext(ctx, "destroyed user sessions", slog.String("user_id", userID), slog.Int("count", count))
	return count, nil
}

func (s *Store) put(ctx context.Context, sess *Session, ttl time.Duration) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("sessions: encode %s: %w", sess.ID, err)
	}
	if err := s.kv.Set(ctx, sessionKeyPrefix+sess.ID, raw, storage.WithTTL(ttl)); err != nil {
		return fmt.Errorf("sessions: store %s: %w", sess.ID, err)
	}
	return nil
}
