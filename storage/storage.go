// Package storage defines the shared key-value contract backing the session
// store and its ephemeral handshake tokens. Entries are byte payloads with
// optional TTL, addressed by key within an optional per-user namespace.
package storage

import (
	"context"
	"time"
)

// Storage is the key-value contract. Implementations must be safe for
// concurrent use; all operations are expected to cross a process or network
// boundary and therefore take a context.
type Storage interface {
	// Get retrieves the item for a key. Returns nil when the key does not
	// exist or has expired; an error only signals a storage system failure.
	Get(ctx context.Context, key string, opts ...Option) (*Item, error)

	// GetDel atomically retrieves and removes the item for a key. Two
	// concurrent claims for the same live key must not both observe it.
	GetDel(ctx context.Context, key string, opts ...Option) (*Item, error)

	// Set stores data under a key, replacing any previous value.
	Set(ctx context.Context, key string, data []byte, opts ...Option) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string, opts ...Option) error

	// Keys lists the live keys within the namespace selected by opts.
	Keys(ctx context.Context, opts ...Option) ([]string, error)

	// Close releases backend resources.
	Close() error
}

// Item is a stored value with its lifecycle metadata.
type Item struct {
	Data      []byte
	CreatedAt time.Time
	ExpiresAt *time.Time // nil = no expiration
}

// IsExpired reports whether the item is past its expiry at time now.
func (it *Item) IsExpired(now time.Time) bool {
	return it.ExpiresAt != nil && now.After(*it.ExpiresAt)
}

// Namespace scopes keys. A nil namespace is the global scope.
type Namespace interface {
	namespace()
}

// UserNamespace scopes keys to one user.
type UserNamespace struct {
	UserID string
}

func (UserNamespace) namespace() {}

// Option configures a single storage operation.
type Option func(*Options)

// Options holds the decoded operation configuration.
type Options struct {
	Namespace Namespace
	TTL       *time.Duration
}

// WithUser scopes the operation to the user's namespace.
func WithUser(userID string) Option {
	return func(o *Options) { o.Namespace = UserNamespace{UserID: userID} }
}

// WithTTL sets a time-to-live for Set.
func WithTTL(ttl time.Duration) Option {
	return func(o *Options) { o.TTL = &ttl }
}

// Decode applies opts and returns the resulting Options value.
func Decode(opts []Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
