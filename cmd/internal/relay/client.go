package relay

import "sync"

// Role distinguishes the two peer kinds on a channel.
type Role string

const (
	// RoleSource is the process where music actually plays; it pushes
	// state events.
	RoleSource Role = "source"
	// RoleDisplay renders the state and may send transport commands back.
	RoleDisplay Role = "display"
)

// Client represents one connected websocket session.
//
// Design notes:
// - Send is intentionally NOT closed by the relay to avoid panics from
//   concurrent broadcasters.
// - done signals the connection goroutines to stop.
// - Close is idempotent.
type Client struct {
	SessionID string
	Role      Role
	Send      chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(sessionID string, role Role, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		SessionID: sessionID,
		Role:      role,
		Send:      make(chan []byte, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
// It does NOT close Send to keep fanout safe under concurrency.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// TrySend enqueues one frame without blocking. It reports false when the
// client is shutting down or its queue is full; the frame is dropped.
func (c *Client) TrySend(frame []byte) bool {
	if c == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- frame:
		return true
	default:
		return false
	}
}
