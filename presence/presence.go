// Package presence owns the in-process connection registry: which users have
// live sockets, which topics each socket follows, and the online/offline
// transitions derived from connection counts. All mutation funnels through
// OnConnect and OnDisconnect so the transition logic lives in exactly one
// place; a user's presence is never a persisted flag, only the count of live
// entries.
package presence

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"github.com/fluxgate/fluxgate/broker"
)

// Topic is the well-known topic every authenticated connection follows.
const Topic = "presence"

// Conn is a live, authenticated socket as the tracker sees it. Send must be
// non-blocking best-effort: implementations enqueue and drop when the peer
// cannot keep up. Messages sent to one Conn are delivered in Send order.
type Conn interface {
	ID() string
	Send(topic string, data []byte) error
}

// Event is the wire shape of a presence transition.
type Event struct {
	Event  string `json:"event"` // "online" | "offline"
	UserID string `json:"userId"`
}

type entry struct {
	userID string
	topics map[string]struct{}
}

// Tracker is the single owner of connection and subscription state. Safe for
// concurrent use; every transition decision happens under one lock so two
// racing connect/disconnect events for the same user cannot lose a
// transition.
type Tracker struct {
	mu    sync.Mutex
	users map[string]map[Conn]struct{}
	conns map[Conn]*entry

	pub broker.Broker
	log *slog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger. Default discards.
func WithLogger(log *slog.Logger) Option {
	return func(t *Tracker) { t.log = log }
}

// WithBroker links the tracker to a broker: Broadcast publishes through it
// instead of fanning out directly, and Run pumps broker messages back into
// the local fan-out. With a shared backend (e.g. Redis) this spans every
// server process.
func WithBroker(b broker.Broker) Option {
	return func(t *Tracker) { t.pub = b }
}

// NewTracker builds an empty tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		users: map[string]map[Conn]struct{}{},
		conns: map[Conn]*entry{},
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.log == nil {
		t.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return t
}

// OnConnect registers an authenticated socket, subscribes it to the presence
// topic, and broadcasts "online" only when this is the user's first live
// connection. Registering the same (user, conn) pair twice is a no-op.
func (t *Tracker) OnConnect(ctx context.Context, userID string, conn Conn) {
	t.mu.Lock()
	if _, known := t.conns[conn]; known {
		t.mu.Unlock()
		return
	}
	set, ok := t.users[userID]
	if !ok {
		set = map[Conn]struct{}{}
		t.users[userID] = set
	}
	first := len(set) == 0
	set[conn] = struct{}{}
	t.conns[conn] = &entry{userID: userID, topics: map[string]struct{}{Topic: {}}}
	t.mu.Unlock()

	t.log.DebugContext(ctx, "connection registered",
		slog.String("user_id", userID), slog.String("conn_id", conn.ID()), slog.Bool("first", first))
	if first {
		t.emit(ctx, Event{Event: "online", UserID: userID})
	}
}

// OnDisconnect removes a socket and broadcasts "offline" only when the
// user's last live connection went away. Idempotent: a second call for the
// same socket (error followed by close) is a no-op.
func (t *Tracker) OnDisconnect(ctx context.Context, userID string, conn Conn) {
	t.mu.Lock()
	e, known := t.conns[conn]
	if !known || e.userID != userID {
		t.mu.Unlock()
		return
	}
	delete(t.conns, conn)
	set := t.users[userID]
	delete(set, conn)
	last := len(set) == 0
	if last {
		delete(t.users, userID)
	}
	t.mu.Unlock()

	t.log.DebugContext(ctx, "connection removed",
		slog.String("user_id", userID), slog.String("conn_id", conn.ID()), slog.Bool("last", last))
	if last {
		t.emit(ctx, Event{Event: "offline", UserID: userID})
	}
}

// QueryOnline returns the subset of userIDs with at least one live
// connection, preserving input order.
func (t *Tracker) QueryOnline(userIDs []string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	online := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if len(t.users[id]) > 0 {
			online = append(online, id)
		}
	}
	return online
}

// Subscribe adds a topic to a registered connection. Unknown connections are
// ignored: the socket already disconnected and its state is gone.
func (t *Tracker) Subscribe(conn Conn, topic string) {
	t.mu.Lock()
	if e, ok := t.conns[conn]; ok {
		e.topics[topic] = struct{}{}
	}
	t.mu.Unlock()
}

// Unsubscribe removes a topic from a registered connection.
func (t *Tracker) Unsubscribe(conn Conn, topic string) {
	t.mu.Lock()
	if e, ok := t.conns[conn]; ok {
		delete(e.topics, topic)
	}
	t.mu.Unlock()
}

// Broadcast fans data out to every local socket subscribed to topic, or
// publishes through the linked broker when one is configured (local delivery
// then happens in Run's pump, same as on any other node).
func (t *Tracker) Broadcast(ctx context.Context, topic string, data []byte) error {
	if t.pub != nil {
		return t.pub.Publish(ctx, topic, data)
	}
	t.deliver(ctx, topic, data)
	return nil
}

// Run pumps broker messages for topic into the local fan-out until ctx ends.
// Call it once per topic of interest when the tracker is broker-linked; the
// presence topic is the usual minimum.
func (t *Tracker) Run(ctx context.Context, topic string) error {
	if t.pub == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	stream, err := t.pub.Subscribe(ctx, topic)
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		data, err := stream.Next(ctx)
		if err != nil {
			return err
		}
		t.deliver(ctx, topic, data)
	}
}

func (t *Tracker) deliver(ctx context.Context, topic string, data []byte) {
	t.mu.Lock()
	targets := make([]Conn, 0, len(t.conns))
	for conn, e := range t.conns {
		if _, ok := e.topics[topic]; ok {
			targets = append(targets, conn)
		}
	}
	t.mu.Unlock()

	for _, conn := range targets {
		if err := conn.Send(topic, data); err != nil {
			t.log.DebugContext(ctx, "broadcast delivery failed",
				slog.String("conn_id", conn.ID()), slog.String("topic", topic))
		}
	}
}

func (t *Tracker) emit(ctx context.Context, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := t.Broadcast(ctx, Topic, data); err != nil {
		t.log.WarnContext(ctx, "presence broadcast failed",
			slog.String("event", ev.Event), slog.String("user_id", ev.UserID))
	}
}
