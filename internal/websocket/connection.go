package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// writeTimeout bounds how long a send may wait on a stalled peer before
// the message is abandoned.
const writeTimeout = 5 * time.Second

// Identity is the immutable per-connection identity fixed at accept time.
type Identity struct {
	Role     string
	ClientID string
	Room     string
	Name     string
}

// Conn wraps a WebSocket connection behind a single writer goroutine so
// concurrent broadcasts never interleave frames. It implements
// registry.Handle.
type Conn struct {
	ws      *websocket.Conn
	writeCh chan []byte

	mu       sync.RWMutex
	identity Identity

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewConn wraps an upgraded WebSocket connection and starts its writer
// goroutine. bufferSize bounds the outbound queue; a full queue fails the
// send rather than blocking the broadcaster.
func NewConn(ws *websocket.Conn, bufferSize int) *Conn {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		ws:      ws,
		writeCh: make(chan []byte, bufferSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	go c.writeLoop()
	return c
}

// writeLoop is the single writer. It exits on the first write failure;
// the read side then notices the broken transport and runs teardown.
func (c *Conn) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON marshals v and queues it for the writer goroutine. It fails
// fast on a closed connection and after writeTimeout on a full queue.
func (c *Conn) WriteJSON(v any) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close shuts down the writer goroutine and the underlying transport.
// Safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.ws.Close()
	})
	return err
}

// SetIdentity fixes the connection identity. Called once between upgrade
// and registration; immutable afterwards.
func (c *Conn) SetIdentity(id Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = id
}

// Identity returns the connection identity.
func (c *Conn) Identity() Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}
