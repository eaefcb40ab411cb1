package collaboration

import (
	"errors"
	"sync"
	"time"

	"collab-relay/internal/crdt"
	"collab-relay/internal/models"
)

// ErrSessionDisposed is returned by operations on a session that has been
// released or evicted
var ErrSessionDisposed = errors.New("session disposed")

/*
DocumentSession is the in-memory room for one document: the CRDT replica,
its awareness map, and the sockets attached to it.

mu guards everything below it, including the CRDT and awareness state. The
observer hooks run while mu is held, so they only queue messages and never
touch the network. loadMu serializes EnsureLoaded without holding mu over
the backend call.
*/
type DocumentSession struct {
	ID        string
	CreatedAt time.Time

	mu        sync.Mutex
	doc       *crdt.Doc
	awareness *crdt.Awareness
	conns     map[string]*Conn
	clientIDs map[string]map[uint64]struct{} // socket id -> awareness ids it introduced
	loaded    bool
	disposed  bool

	loadMu  sync.Mutex
	persist *PersistenceCoordinator
	saver   *Debouncer
}

func newDocumentSession(id string, persist *PersistenceCoordinator) *DocumentSession {
	s := &DocumentSession{
		ID:        id,
		CreatedAt: time.Now(),
		conns:     make(map[string]*Conn),
		clientIDs: make(map[string]map[uint64]struct{}),
		persist:   persist,
	}
	s.doc = crdt.NewDoc(s)
	s.awareness = crdt.NewAwareness(s.doc, s)
	s.saver = persist.newSaver(s)
	return s
}

// OnDocUpdate relays an integrated update to every socket except the one
// it came from. Only socket-originated edits are worth persisting; a load
// from the store arrives with no origin.
func (s *DocumentSession) OnDocUpdate(update []byte, origin crdt.Origin) {
	enc := crdt.NewEncoder()
	enc.WriteVarUint(uint64(models.MessageTypeSync))
	crdt.WriteUpdate(enc, update)
	s.broadcastLocked(enc.Bytes(), origin)

	if !origin.IsNone() {
		s.persist.ScheduleSave(s)
	}
}

// OnAwarenessUpdate keeps the per-socket client id sets current and relays
// the changed entries to the other sockets
func (s *DocumentSession) OnAwarenessUpdate(change crdt.AwarenessChange, origin crdt.Origin) {
	if socketID, ok := origin.Socket(); ok {
		if ids, tracked := s.clientIDs[socketID]; tracked {
			// only the socket that introduced a client id owns it
			for _, id := range change.Added {
				ids[id] = struct{}{}
			}
		}
	}
	// A removed client no longer belongs to any socket, whoever removed it.
	for _, id := range change.Removed {
		for _, ids := range s.clientIDs {
			delete(ids, id)
		}
	}

	s.broadcastLocked(awarenessFrame(s.awareness.EncodeUpdate(change.Changed())), origin)
}

func (s *DocumentSession) broadcastLocked(frame []byte, origin crdt.Origin) {
	skip, _ := origin.Socket()
	for id, c := range s.conns {
		if id == skip {
			continue
		}
		c.Send(frame)
	}
}

func awarenessFrame(update []byte) []byte {
	enc := crdt.NewEncoder()
	enc.WriteVarUint(uint64(models.MessageTypeAwareness))
	enc.WriteVarUint8Array(update)
	return enc.Bytes()
}

// attach registers c. It fails only when the session was disposed in the
// meantime.
func (s *DocumentSession) attach(c *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return false
	}
	s.conns[c.ID] = c
	s.clientIDs[c.ID] = make(map[uint64]struct{})
	return true
}

// greet sends a new socket the server's state vector and the full
// awareness snapshot so it sees existing participants right away
func (s *DocumentSession) greet(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return
	}

	enc := crdt.NewEncoder()
	enc.WriteVarUint(uint64(models.MessageTypeSync))
	crdt.WriteSyncStep1(enc, s.doc)
	c.Send(enc.Bytes())
	c.Send(awarenessFrame(s.awareness.EncodeAll()))
}

// detach removes c and the awareness states it introduced. found is false
// when c was not attached; empty reports whether no socket is left.
func (s *DocumentSession) detach(c *Conn) (found, empty bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, ok := s.clientIDs[c.ID]
	if _, attached := s.conns[c.ID]; !attached && !ok {
		return false, len(s.conns) == 0
	}

	if len(ids) > 0 && !s.disposed {
		clients := make([]uint64, 0, len(ids))
		for id := range ids {
			clients = append(clients, id)
		}
		s.awareness.RemoveStates(clients, c.Origin())
	}
	delete(s.clientIDs, c.ID)
	delete(s.conns, c.ID)
	return true, len(s.conns) == 0
}

// dispose destroys the CRDT state and hands back the sockets that were
// still attached. Callers hold the registry lock.
func (s *DocumentSession) dispose() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return nil
	}
	s.disposed = true

	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.conns = make(map[string]*Conn)
	s.clientIDs = make(map[string]map[uint64]struct{})
	s.awareness.Destroy()
	s.doc.Destroy()
	return conns
}

// disposeIfEmpty disposes the session only when no socket is attached
func (s *DocumentSession) disposeIfEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed || len(s.conns) > 0 {
		return false
	}
	s.disposed = true
	s.awareness.Destroy()
	s.doc.Destroy()
	return true
}

// EncodeState returns the full CRDT state as a single update
func (s *DocumentSession) EncodeState() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return nil, ErrSessionDisposed
	}
	return s.doc.EncodeStateAsUpdate(nil)
}

// AwarenessSnapshot encodes every known awareness state as an AWARENESS frame
func (s *DocumentSession) AwarenessSnapshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return awarenessFrame(s.awareness.EncodeAll())
}

// AwarenessClients lists the client ids that currently have a state
func (s *DocumentSession) AwarenessClients() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.awareness.Clients()
}

// ConnectionCount returns the number of attached sockets
func (s *DocumentSession) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Loaded reports whether the initial load from the store has run
func (s *DocumentSession) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// Disposed reports whether the session was released or evicted
func (s *DocumentSession) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

func (s *DocumentSession) sweepAwareness(timeout time.Duration) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return nil
	}
	return s.awareness.RemoveOutdated(timeout, crdt.None)
}
