// Package memory provides an in-memory implementation of the storage
// interface using github.com/hashicorp/golang-lru/v2. Suitable for
// single-node deployments and tests; the clock is injectable so TTL behavior
// can be exercised deterministically.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/fluxgate/fluxgate/storage"
	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultMaxItems = 16384

// Config for the in-memory backend.
type Config struct {
	// MaxItems bounds the LRU cache. Default 16384.
	MaxItems int
	// Now overrides the clock used for TTL checks. Default time.Now.
	Now func() time.Time
}

// Storage implements storage.Storage in process memory.
type Storage struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *storage.Item]
	now   func() time.Time
	stop  chan struct{}
	once  sync.Once
}

// New creates an in-memory storage backend.
func New(cfg Config) (*Storage, error) {
	max := cfg.MaxItems
	if max <= 0 {
		max = defaultMaxItems
	}
	cache, err := lru.New[string, *storage.Item](max)
	if err != nil {
		return nil, err
	}
	s := &Storage{
		cache: cache,
		now:   cfg.Now,
		stop:  make(chan struct{}),
	}
	if s.now == nil {
		s.now = time.Now
	}
	go s.sweepExpired()
	return s, nil
}

func (s *Storage) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.Item, error) {
	return s.get(key, storage.Decode(opts), false)
}

func (s *Storage) GetDel(ctx context.Context, key string, opts ...storage.Option) (*storage.Item, error) {
	return s.get(key, storage.Decode(opts), true)
}

func (s *Storage) get(key string, o storage.Options, del bool) (*storage.Item, error) {
	k := buildKey(o.Namespace, key)

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.cache.Get(k)
	if !ok {
		return nil, nil
	}
	if item.IsExpired(s.now()) {
		s.cache.Remove(k)
		return nil, nil
	}
	if del {
		s.cache.Remove(k)
	}
	return item, nil
}

func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	o := storage.Decode(opts)
	now := s.now()
	item := &storage.Item{
		Data:      append([]byte(nil), data...),
		CreatedAt: now,
	}
	if o.TTL != nil {
		expiresAt := now.Add(*o.TTL)
		item.ExpiresAt = &expiresAt
	}

	s.mu.Lock()
	s.cache.Add(buildKey(o.Namespace, key), item)
	s.mu.Unlock()
	return nil
}

func (s *Storage) Delete(ctx context.Context, key string, opts ...storage.Option) error {
	o := storage.Decode(opts)
	s.mu.Lock()
	s.cache.Remove(buildKey(o.Namespace, key))
	s.mu.Unlock()
	return nil
}

func (s *Storage) Keys(ctx context.Context, opts ...storage.Option) ([]string, error) {
	o := storage.Decode(opts)
	prefix := buildKey(o.Namespace, "")

	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	now := s.now()
	for _, k := range s.cache.Keys() {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if item, ok := s.cache.Peek(k); ok && !item.IsExpired(now) {
			keys = append(keys, strings.TrimPrefix(k, prefix))
		}
	}
	return keys, nil
}

func (s *Storage) Close() error {
	s.once.Do(func() { close(s.stop) })
	s.mu.Lock()
	s.cache.Purge()
	s.mu.Unlock()
	return nil
}

func buildKey(ns storage.Namespace, key string) string {
	switch n := ns.(type) {
	case storage.UserNamespace:
		return "user:" + n.UserID + ":" + key
	default:
		return "global:" + key
	}
}

// sweepExpired periodically evicts expired items so the cache does not pin
// dead entries until their LRU turn.
func (s *Storage) sweepExpired() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}
		s.mu.Lock()
		now := s.now()
		for _, k := range s.cache.Keys() {
			if item, ok := s.cache.Peek(k); ok && item.IsExpired(now) {
				s.cache.Remove(k)
			}
		}
		s.mu.Unlock()
	}
}

var _ storage.Storage = (*Storage)(nil)
