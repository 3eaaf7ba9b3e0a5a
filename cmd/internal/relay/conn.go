package relay

import (
	"sync"

	v1 "teamchat/shared/contracts/chat/v1"
)

const defaultSendQueueSize = 64

// Conn is one open client connection as seen by the relay components.
//
// Send is never closed by the server; broadcasters may race with shutdown.
// done is closed exactly once by Close, which is also how a slow consumer
// is evicted.
type Conn struct {
	ID   string
	Send chan v1.Envelope

	mu     sync.Mutex
	userID string

	done      chan struct{}
	closeOnce sync.Once
}

// NewConn constructs a Conn with a bounded send queue.
func NewConn(id string, sendQueueSize int) *Conn {
	if sendQueueSize <= 0 {
		sendQueueSize = defaultSendQueueSize
	}
	return &Conn{
		ID:   id,
		Send: make(chan v1.Envelope, sendQueueSize),
		done: make(chan struct{}),
	}
}

// UserID returns the bound user id, or "" while unidentified.
func (c *Conn) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Conn) bind(userID string) {
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
}

// Done returns a channel that is closed when the connection is shutting down.
func (c *Conn) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	select {
	case <-c.Done():
		return true
	default:
		return false
	}
}

// Close signals the connection goroutines to stop (idempotent).
func (c *Conn) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() { close(c.done) })
}

// Enqueue hands env to the writer without blocking. It reports false when the
// connection is closed or its queue is full; callers treat a full queue as a
// slow consumer and evict it.
func (c *Conn) Enqueue(env v1.Envelope) bool {
	if c.Closed() {
		return false
	}
	select {
	case c.Send <- env:
		return true
	default:
		return false
	}
}
