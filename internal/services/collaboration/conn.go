package collaboration

import (
	"sync"

	"collab-relay/internal/crdt"
	"collab-relay/internal/models"
)

// Conn is one socket attached to the relay, independent of the transport.
// Outbound messages go through a bounded queue that the transport's write
// pump drains; Send never blocks.
type Conn struct {
	*models.ConnectionInfo
	MessageType int // websocket frame type used for every outbound message

	send chan []byte
	done chan struct{}

	mu          sync.Mutex
	open        bool
	closeCode   int
	closeReason string
}

// NewConn creates an open connection with an outbound queue of size buffer
func NewConn(info *models.ConnectionInfo, messageType, buffer int) *Conn {
	return &Conn{
		ConnectionInfo: info,
		MessageType:    messageType,
		send:           make(chan []byte, buffer),
		done:           make(chan struct{}),
		open:           true,
	}
}

// Send queues msg for delivery and reports false when it was dropped.
// A full queue means the peer is too slow to keep a consistent replica, so
// the connection is closed with 1013 and the transport tears it down.
func (c *Conn) Send(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return false
	}

	select {
	case c.send <- msg:
		return true
	default:
		droppedSends.Inc()
		c.closeLocked(models.CloseTryAgainLater, "Connection too slow")
		return false
	}
}

// Close marks the connection closed and asks the transport to send a close
// frame with code and reason. Only the first call has an effect.
func (c *Conn) Close(code int, reason string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return false
	}
	c.closeLocked(code, reason)
	return true
}

func (c *Conn) closeLocked(code int, reason string) {
	c.open = false
	c.closeCode = code
	c.closeReason = reason
	close(c.done)
}

// IsOpen reports whether Close has not been called yet
func (c *Conn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Outbound is the queue the transport drains
func (c *Conn) Outbound() <-chan []byte {
	return c.send
}

// Done is closed once Close has been called
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// CloseFrame returns the code and reason passed to Close
func (c *Conn) CloseFrame() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason
}

// Origin attributes CRDT and awareness changes to this socket
func (c *Conn) Origin() crdt.Origin {
	return crdt.FromSocket(c.ID)
}
