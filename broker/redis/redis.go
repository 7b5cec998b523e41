// Package redis implements the broker interface on Redis pub/sub, letting
// broadcasts reach subscribers in every server process sharing the backend.
package redis

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/fluxgate/fluxgate/broker"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// Config for the Redis broker. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// ChannelPrefix namespaces pub/sub channels. ENV: BROKER_CHANNEL_PREFIX
	ChannelPrefix string `env:"BROKER_CHANNEL_PREFIX,default=fluxgate:topic:"`
	// Client overrides RedisAddr with an existing client when non-nil.
	Client *redis.Client
}

// Broker implements broker.Broker on Redis pub/sub.
type Broker struct {
	client *redis.Client
	prefix string
}

// New creates a Redis broker and verifies connectivity.
func New(cfg Config) (*Broker, error) {
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
	prefix := cfg.ChannelPrefix
	if prefix == "" {
		prefix = "fluxgate:topic:"
	}
	return &Broker{client: cl, prefix: prefix}, nil
}

// NewFromEnv builds a Broker using envdecode to populate Config.
func NewFromEnv() (*Broker, error) {
	var cfg Config
	_ = envdecode.Decode(&cfg)
	return New(cfg)
}

func (b *Broker) Publish(ctx context.Context, topic string, data []byte) error {
	if err := b.client.Publish(ctx, b.prefix+topic, data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, topic string) (broker.Stream, error) {
	ps := b.client.Subscribe(ctx, b.prefix+topic)
	// Force the SUBSCRIBE round trip so messages published after this call
	// are guaranteed to be observed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", topic, err)
	}
	return &stream{ps: ps, ch: ps.Channel()}, nil
}

func (b *Broker) Close() error {
	return b.client.Close()
}

type stream struct {
	ps     *redis.PubSub
	ch     <-chan *redis.Message
	closed atomic.Bool
}

func (s *stream) Next(ctx context.Context) ([]byte, error) {
	select {
	case msg, ok := <-s.ch:
		if !ok {
			return nil, io.EOF
		}
		return []byte(msg.Payload), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *stream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.ps.Close()
}

var (
	_ broker.Broker = (*Broker)(nil)
	_ broker.Stream = (*stream)(nil)
)
