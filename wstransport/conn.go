package wstransport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/fluxgate/fluxgate/dispatch"
)

// ErrConnClosed reports an enqueue against a connection whose writer already
// stopped.
var ErrConnClosed = errors.New("wstransport: connection closed")

// wsConn wraps one upgraded socket. All writes funnel through a single
// buffered channel drained by writePump, so frames to one peer never
// interleave and per-connection ordering holds.
type wsConn struct {
	id   string
	sock *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
	log  *slog.Logger
}

func newConn(id string, sock *websocket.Conn, buffer int, log *slog.Logger) *wsConn {
	return &wsConn{
		id:   id,
		sock: sock,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
		log:  log,
	}
}

func (c *wsConn) ID() string { return c.id }

// Send delivers a broadcast frame. Best-effort: when the peer cannot keep up
// and the buffer is full the frame is dropped rather than blocking the
// broadcaster.
func (c *wsConn) Send(topic string, data []byte) error {
	env := dispatch.NewOutbound(topic, data)
	buf, err := json.Marshal(env)
	if err != nil {
		return err
	}
	select {
	case c.send <- buf:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		c.log.Debug("send buffer full, frame dropped",
			slog.String("conn_id", c.id), slog.String("topic", topic))
		return nil
	}
}

// enqueue queues an ack frame. Unlike broadcast, acks block until the writer
// accepts them; a dead writer surfaces as ErrConnClosed so the read pump can
// stop.
func (c *wsConn) enqueue(buf []byte) error {
	select {
	case c.send <- buf:
		return nil
	case <-c.done:
		return ErrConnClosed
	}
}

// writePump is the connection's single writer. A write error tears the socket
// down; the read pump then fails on its next read and the disconnect path
// runs.
func (c *wsConn) writePump() {
	defer c.sock.Close()
	for {
		select {
		case buf := <-c.send:
			if err := c.sock.WriteMessage(websocket.TextMessage, buf); err != nil {
				c.shutdown()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *wsConn) shutdown() {
	c.once.Do(func() { close(c.done) })
}
