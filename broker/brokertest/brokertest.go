// Package brokertest provides a conformance suite every broker backend must
// pass. Backend packages invoke Run from their own tests with a factory.
package brokertest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/fluxgate/fluxgate/broker"
)

// Factory builds a fresh broker for one test.
type Factory func(t *testing.T) broker.Broker

// Run executes the conformance suite against the broker built by factory.
func Run(t *testing.T, factory Factory) {
	t.Run("PublishWithoutSubscribers", func(t *testing.T) { testPublishWithoutSubscribers(t, factory(t)) })
	t.Run("DeliverToSubscriber", func(t *testing.T) { testDeliverToSubscriber(t, factory(t)) })
	t.Run("OrderedPerSubscriber", func(t *testing.T) { testOrderedPerSubscriber(t, factory(t)) })
	t.Run("TopicIsolation", func(t *testing.T) { testTopicIsolation(t, factory(t)) })
	t.Run("FanOutToAllSubscribers", func(t *testing.T) { testFanOut(t, factory(t)) })
	t.Run("NextAfterClose", func(t *testing.T) { testNextAfterClose(t, factory(t)) })
}

func recvOne(t *testing.T, s broker.Stream) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := s.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	return data
}

func testPublishWithoutSubscribers(t *testing.T, b broker.Broker) {
	defer b.Close()
	if err := b.Publish(context.Background(), "empty", []byte("x")); err != nil {
		t.Fatalf("publish to empty topic: %v", err)
	}
}

func testDeliverToSubscriber(t *testing.T, b broker.Broker) {
	defer b.Close()
	ctx := context.Background()
	s, err := b.Subscribe(ctx, "chat")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer s.Close()

	if err := b.Publish(ctx, "chat", []byte("hello")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got := recvOne(t, s); string(got) != "hello" {
		t.Fatalf("unexpected message: %q", got)
	}
}

func testOrderedPerSubscriber(t *testing.T, b broker.Broker) {
	defer b.Close()
	ctx := context.Background()
	s, err := b.Subscribe(ctx, "ordered")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer s.Close()

	const n = 20
	for i := 0; i < n; i++ {
		if err := b.Publish(ctx, "ordered", []byte(fmt.Sprintf("m%d", i))); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	for i := 0; i < n; i++ {
		if got := recvOne(t, s); string(got) != fmt.Sprintf("m%d", i) {
			t.Fatalf("out of order at %d: %q", i, got)
		}
	}
}

func testTopicIsolation(t *testing.T, b broker.Broker) {
	defer b.Close()
	ctx := context.Background()
	s, err := b.Subscribe(ctx, "a")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer s.Close()

	if err := b.Publish(ctx, "b", []byte("other")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := b.Publish(ctx, "a", []byte("mine")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got := recvOne(t, s); string(got) != "mine" {
		t.Fatalf("message from foreign topic observed: %q", got)
	}
}

func testFanOut(t *testing.T, b broker.Broker) {
	defer b.Close()
	ctx := context.Background()
	var subs []broker.Stream
	for i := 0; i < 3; i++ {
		s, err := b.Subscribe(ctx, "fan")
		if err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
		defer s.Close()
		subs = append(subs, s)
	}

	if err := b.Publish(ctx, "fan", []byte("all")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	for i, s := range subs {
		if got := recvOne(t, s); string(got) != "all" {
			t.Fatalf("subscriber %d got %q", i, got)
		}
	}
}

func testNextAfterClose(t *testing.T, b broker.Broker) {
	defer b.Close()
	s, err := b.Subscribe(context.Background(), "closing")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := s.Next(ctx); err == nil {
		t.Fatal("Next after Close must fail")
	}
}
