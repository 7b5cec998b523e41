// Package broker defines the topic pub/sub contract behind the broadcast
// service. Delivery is best-effort fan-out: no acknowledgment, no replay, no
// cross-subscriber ordering guarantee. A single subscriber observes messages
// for one topic in publish order.
package broker

import "context"

// Broker publishes and subscribes raw payloads by topic.
type Broker interface {
	// Publish fans data out to every current subscriber of topic. Publishing
	// to a topic with no subscribers is not an error.
	Publish(ctx context.Context, topic string, data []byte) error

	// Subscribe opens a stream of messages published to topic after this
	// call. The stream is owned by a single consumer.
	Subscribe(ctx context.Context, topic string) (Stream, error)

	// Close tears down the broker and every open stream.
	Close() error
}

// Stream is an ordered message source for one subscription.
type Stream interface {
	// Next blocks until a message arrives, the context ends, or the stream
	// closes. Returns io.EOF after Close.
	Next(ctx context.Context) ([]byte, error)

	// Close releases the subscription. Safe to call more than once.
	Close() error
}
