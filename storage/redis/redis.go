// Package redis provides a Redis-backed implementation of the storage
// interface. Values are stored as JSON envelopes so lifecycle metadata
// survives the round trip; TTLs map to native Redis expiry.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fluxgate/fluxgate/storage"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// Config for Redis-backed storage. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: STORAGE_KEY_PREFIX
	KeyPrefix string `env:"STORAGE_KEY_PREFIX,default=fluxgate:kv:"`
	// Client overrides RedisAddr with an existing client when non-nil.
	Client *redis.Client
}

// Storage implements storage.Storage on Redis.
type Storage struct {
	client    *redis.Client
	keyPrefix string
}

type storedItem struct {
	Data      []byte     `json:"data"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// New creates a Redis storage backend and verifies connectivity.
func New(cfg Config) (*Storage, error) {
	cl := cfg.Client
	if cl == nil {
		addr := cfg.RedisAddr
		if addr == "" {
			addr = "localhost:6379"
		}
		cl = redis.NewClient(&redis.Options{Addr: addr})
	}
	if err := cl.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "fluxgate:kv:"
	}
	return &Storage{client: cl, keyPrefix: prefix}, nil
}

// NewFromEnv builds a Storage using envdecode to populate Config.
func NewFromEnv() (*Storage, error) {
	var cfg Config
	_ = envdecode.Decode(&cfg)
	return New(cfg)
}

func (s *Storage) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.Item, error) {
	o := storage.Decode(opts)
	k := s.buildKey(o.Namespace, key)
	val, err := s.client.Get(ctx, k).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", k, err)
	}
	return decodeItem(k, val)
}

func (s *Storage) GetDel(ctx context.Context, key string, opts ...storage.Option) (*storage.Item, error) {
	o := storage.Decode(opts)
	k := s.buildKey(o.Namespace, key)
	// GETDEL makes the claim atomic server-side.
	val, err := s.client.GetDel(ctx, k).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis getdel %s: %w", k, err)
	}
	return decodeItem(k, val)
}

func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	o := storage.Decode(opts)
	k := s.buildKey(o.Namespace, key)

	now := time.Now()
	item := storedItem{Data: data, CreatedAt: now}
	var ttl time.Duration
	if o.TTL != nil {
		expiresAt := now.Add(*o.TTL)
		item.ExpiresAt = &expiresAt
		ttl = *o.TTL
	}

	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal storage item: %w", err)
	}
	if err := s.client.Set(ctx, k, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", k, err)
	}
	return nil
}

func (s *Storage) Delete(ctx context.Context, key string, opts ...storage.Option) error {
	o := storage.Decode(opts)
	k := s.buildKey(o.Namespace, key)
	if err := s.client.Del(ctx, k).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", k, err)
	}
	return nil
}

func (s *Storage) Keys(ctx context.Context, opts ...storage.Option) ([]string, error) {
	o := storage.Decode(opts)
	prefix := s.buildKey(o.Namespace, "")
	pattern := prefix + "*"

	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan %s: %w", pattern, err)
		}
		for _, k := range batch {
			keys = append(keys, k[len(prefix):])
		}
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

func (s *Storage) Close() error {
	return s.client.Close()
}

func (s *Storage) buildKey(ns storage.Namespace, key string) string {
	switch n := ns.(type) {
	case storage.UserNamespace:
		return s.keyPrefix + "user:" + n.UserID + ":" + key
	default:
		return s.keyPrefix + "global:" + key
	}
}

func decodeItem(key, val string) (*storage.Item, error) {
	var item storedItem
	if err := json.Unmarshal([]byte(val), &item); err != nil {
		return nil, fmt.Errorf("unmarshal storage item %s: %w", key, err)
	}
	return &storage.Item{Data: item.Data, CreatedAt: item.CreatedAt, ExpiresAt: item.ExpiresAt}, nil
}

var _ storage.Storage = (*Storage)(nil)
