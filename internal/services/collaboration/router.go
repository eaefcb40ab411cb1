package collaboration

import (
	"fmt"

	"collab-relay/internal/crdt"
	"collab-relay/internal/models"
)

// MessageRouter dispatches inbound binary frames on document sockets by
// their leading message tag
type MessageRouter struct{}

func NewMessageRouter() *MessageRouter {
	return &MessageRouter{}
}

// HandleFrame applies one frame from c to s. A frame that fails to decode
// is dropped without side effects and the error is returned for logging.
// Unknown tags are ignored.
func (r *MessageRouter) HandleFrame(s *DocumentSession, c *Conn, data []byte) error {
	dec := crdt.NewDecoder(data)
	tag, err := dec.ReadVarUint()
	if err != nil {
		frameErrorsTotal.WithLabelValues("unknown").Inc()
		return fmt.Errorf("failed to read message type: %w", err)
	}

	msgType := models.MessageType(tag)
	framesTotal.WithLabelValues(msgType.String()).Inc()

	switch msgType {
	case models.MessageTypeSync:
		err = r.handleSync(s, c, dec)
	case models.MessageTypeAwareness:
		err = r.handleAwareness(s, c, dec)
	case models.MessageTypeQueryAwareness:
		c.Send(s.AwarenessSnapshot())
	}

	if err != nil {
		frameErrorsTotal.WithLabelValues(msgType.String()).Inc()
		return fmt.Errorf("%s frame: %w", msgType, err)
	}
	return nil
}

// handleSync runs the sync protocol; a step1 is answered to the sender only
func (r *MessageRouter) handleSync(s *DocumentSession, c *Conn, dec *crdt.Decoder) error {
	enc := crdt.NewEncoder()
	enc.WriteVarUint(uint64(models.MessageTypeSync))

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return ErrSessionDisposed
	}
	if _, err := crdt.ReadSyncMessage(dec, enc, s.doc, c.Origin()); err != nil {
		return err
	}
	// Anything past the tag is a reply.
	if enc.Len() > 1 {
		c.Send(enc.Bytes())
	}
	return nil
}

func (r *MessageRouter) handleAwareness(s *DocumentSession, c *Conn, dec *crdt.Decoder) error {
	update, err := dec.ReadVarUint8Array()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return ErrSessionDisposed
	}
	return s.awareness.ApplyUpdate(update, c.Origin())
}
