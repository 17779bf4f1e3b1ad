package hub

import (
	"sync"
	"time"

	"github.com/secaudit/findings-relay/src/types"
)

// Client wraps one WebSocket connection and manages its message flow.
// The hub owns the client for its whole lifetime: created on accept,
// destroyed on close or transport error.
type Client struct {
	ID          string
	conn        types.Conn
	hub         *Hub
	Send        chan []byte
	connectedAt time.Time
	mu          sync.Mutex
	done        chan struct{}
	closed      bool
}

// NewClient creates a new connection wrapper.
func NewClient(id string, conn types.Conn, h *Hub) *Client {
	return &Client{
		ID:          id,
		conn:        conn,
		hub:         h,
		Send:        make(chan []byte, 256),
		connectedAt: time.Now(),
		done:        make(chan struct{}),
	}
}

// ReadPump reads raw frames from the connection and hands them to the
// hub's protocol handler. On transport close or error the connection is
// removed from the registry and no reply is attempted.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	for {
		data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.hub.inbound <- frame{client: c, data: data}
	}
}

// WritePump writes queued frames to the connection.
func (c *Client) WritePump() {
	defer c.conn.Close()

	for {
		select {
		case data, ok := <-c.Send:
			if !ok {
				return
			}
			if err := c.conn.WriteMessage(data); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// enqueue queues a frame for delivery without blocking. It reports false
// when the client is closed or its buffer is full; the hub treats that
// as a dead connection and schedules removal.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// Close signals the client to stop its pumps. Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
		close(c.Send)
	}
}
