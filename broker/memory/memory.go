// Package memory provides an in-process implementation of the broker
// interface using Go channels. Suitable for single-node deployments and
// tests; nothing crosses a process boundary.
package memory

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/fluxgate/fluxgate/broker"
)

// Broker implements broker.Broker with per-topic subscriber sets.
type Broker struct {
	mu     sync.Mutex
	topics map[string]map[*subscription]struct{}
	closed bool
}

type subscription struct {
	b      *Broker
	topic  string
	ch     chan []byte
	closed atomic.Bool
}

// New creates an in-memory broker.
func New() *Broker {
	return &Broker{topics: map[string]map[*subscription]struct{}{}}
}

func (b *Broker) Publish(ctx context.Context, topic string, data []byte) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("memory broker: closed")
	}
	for sub := range b.topics[topic] {
		select {
		case sub.ch <- data:
		default:
			// Slow subscriber; best-effort delivery drops the message.
		}
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, topic string) (broker.Stream, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("memory broker: closed")
	}
	sub := &subscription{b: b, topic: topic, ch: make(chan []byte, 256)}
	set, ok := b.topics[topic]
	if !ok {
		set = map[*subscription]struct{}{}
		b.topics[topic] = set
	}
	set[sub] = struct{}{}
	return sub, nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, set := range b.topics {
		for sub := range set {
			if sub.closed.CompareAndSwap(false, true) {
				close(sub.ch)
			}
		}
	}
	b.topics = map[string]map[*subscription]struct{}{}
	return nil
}

func (s *subscription) Next(ctx context.Context) ([]byte, error) {
	select {
	case data, ok := <-s.ch:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *subscription) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.b.mu.Lock()
	if set, ok := s.b.topics[s.topic]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(s.b.topics, s.topic)
		}
	}
	s.b.mu.Unlock()
	close(s.ch)
	return nil
}

var (
	_ broker.Broker = (*Broker)(nil)
	_ broker.Stream = (*subscription)(nil)
)
