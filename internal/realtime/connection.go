package realtime

import (
	"sync"
)

// Connection is one client's live session as the registry sees it. The
// transport drains Outbound and closes the connection on disconnect.
type Connection struct {
	ID string

	mu          sync.RWMutex
	principalID string
	role        string

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(id string, buffer int) *Connection {
	if buffer <= 0 {
		buffer = 1
	}
	return &Connection{
		ID:   id,
		out:  make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

// Principal returns the identified user id and role, empty until Identify.
func (c *Connection) Principal() (id, role string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.principalID, c.role
}

func (c *Connection) setPrincipal(id, role string) {
	c.mu.Lock()
	c.principalID = id
	c.role = role
	c.mu.Unlock()
}

// Outbound yields encoded frames in enqueue order.
func (c *Connection) Outbound() <-chan []byte {
	return c.out
}

// Done is closed once the connection is deregistered or closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Enqueue hands a frame to the writer without blocking. It returns false when
// the queue is full or the connection is gone; the frame is then dropped.
func (c *Connection) Enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- frame:
		return true
	default:
		return false
	}
}

func (c *Connection) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
