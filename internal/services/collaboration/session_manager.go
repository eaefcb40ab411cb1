package collaboration

import (
	"context"
	"log"
	"sync"
	"time"

	"collab-relay/internal/crdt"
	"collab-relay/internal/models"
)

/*
SessionManager is the registry of live document sessions.

There is at most one session per document id. A session is created by the
first socket that attaches and disposed when its last socket leaves, after
a pending save has been flushed. The registry lock is always taken before a
session lock, never the other way round.
*/
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*DocumentSession

	tokens           *TokenTable
	persist          *PersistenceCoordinator
	awarenessTimeout time.Duration

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func NewSessionManager(tokens *TokenTable, persist *PersistenceCoordinator, awarenessTimeout time.Duration) *SessionManager {
	return &SessionManager{
		sessions:         make(map[string]*DocumentSession),
		tokens:           tokens,
		persist:          persist,
		awarenessTimeout: awarenessTimeout,
		done:             make(chan struct{}),
	}
}

// Start runs the background awareness sweep
func (m *SessionManager) Start() {
	m.wg.Add(1)
	go m.cleanupLoop()
}

// GetOrCreate returns the live session for documentID, creating it if needed
func (m *SessionManager) GetOrCreate(documentID string) *DocumentSession {
	m.mu.RLock()
	s, ok := m.sessions[documentID]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrCreateLocked(documentID)
}

func (m *SessionManager) getOrCreateLocked(documentID string) *DocumentSession {
	if s, ok := m.sessions[documentID]; ok {
		return s
	}
	s := newDocumentSession(documentID, m.persist)
	m.sessions[documentID] = s
	activeSessions.Set(float64(len(m.sessions)))
	log.Printf("✓ Created session for document %s", documentID)
	return s
}

// Get returns the live session for documentID, if any
func (m *SessionManager) Get(documentID string) (*DocumentSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[documentID]
	return s, ok
}

// Attach registers c with the session for documentID, loads the stored
// state on first use and greets the socket. token is recorded as the
// document's current token.
func (m *SessionManager) Attach(ctx context.Context, documentID, token string, c *Conn) *DocumentSession {
	var s *DocumentSession
	for {
		m.mu.Lock()
		s = m.getOrCreateLocked(documentID)
		if token != "" {
			m.tokens.Set(documentID, token)
		}
		m.mu.Unlock()

		// A session only leaves the registry once it is empty, so losing
		// this race means a fresh one is created on the next pass.
		if s.attach(c) {
			break
		}
	}
	activeConnections.WithLabelValues(string(models.ChannelDocument)).Inc()

	m.EnsureLoaded(ctx, s)
	s.greet(c)
	return s
}

// EnsureLoaded merges the stored state into s once. A failed load still
// marks the session loaded so it stays usable.
func (m *SessionManager) EnsureLoaded(ctx context.Context, s *DocumentSession) {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	s.mu.Lock()
	skip := s.loaded || s.disposed
	s.mu.Unlock()
	if skip || m.tokens.Get(s.ID) == "" {
		return
	}

	content, err := m.persist.Load(ctx, s.ID)
	if err != nil {
		log.Printf("⚠️  Failed to load document %s: %v", s.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	if len(content) > 0 {
		if err := s.doc.ApplyUpdate(content, crdt.None); err != nil {
			log.Printf("⚠️  Stored state for document %s is invalid: %v", s.ID, err)
		}
	}
	s.loaded = true
}

// Detach removes c from s. When c was the last socket, a pending save is
// flushed before the session is released. Calling it twice is harmless.
func (m *SessionManager) Detach(s *DocumentSession, c *Conn) {
	found, empty := s.detach(c)
	if !found {
		return
	}
	activeConnections.WithLabelValues(string(models.ChannelDocument)).Dec()

	if empty {
		m.persist.FlushNow(s)
		m.release(s)
	}
}

// release disposes s if it is still registered and still empty
func (m *SessionManager) release(s *DocumentSession) {
	m.mu.Lock()
	if m.sessions[s.ID] != s || !s.disposeIfEmpty() {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, s.ID)
	m.tokens.Delete(s.ID)
	activeSessions.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	m.persist.Cancel(s)
	log.Printf("✓ Released session for document %s", s.ID)
}

// Evict force-disposes the session for documentID without saving and
// closes its sockets with 1012. It reports whether a session existed.
func (m *SessionManager) Evict(documentID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[documentID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.sessions, documentID)
	m.tokens.Delete(documentID)
	conns := s.dispose()
	activeSessions.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	m.persist.Cancel(s)
	for _, c := range conns {
		c.Close(models.CloseServiceRestart, "Server reload")
	}
	activeConnections.WithLabelValues(string(models.ChannelDocument)).Sub(float64(len(conns)))

	log.Printf("✓ Evicted document %s (%d connections closed)", documentID, len(conns))
	return true
}

// Count returns the number of live sessions
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *SessionManager) snapshot() []*DocumentSession {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*DocumentSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Shutdown stops the sweep, flushes every pending save and closes all
// sockets with 1001
func (m *SessionManager) Shutdown(ctx context.Context) {
	m.once.Do(func() { close(m.done) })
	m.wg.Wait()

	for _, s := range m.snapshot() {
		if ctx.Err() != nil {
			log.Printf("⚠️  Shutdown deadline reached, remaining saves skipped")
			break
		}
		m.persist.FlushNow(s)
	}

	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*DocumentSession)
	activeSessions.Set(0)
	m.mu.Unlock()

	for id, s := range sessions {
		m.persist.Cancel(s)
		for _, c := range s.dispose() {
			c.Close(models.CloseGoingAway, "Server shutting down")
		}
		m.tokens.Delete(id)
	}
	activeConnections.WithLabelValues(string(models.ChannelDocument)).Set(0)
}

// cleanupLoop removes awareness states whose clients stopped refreshing
func (m *SessionManager) cleanupLoop() {
	defer m.wg.Done()

	interval := m.awarenessTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			for _, s := range m.snapshot() {
				if removed := s.sweepAwareness(m.awarenessTimeout); len(removed) > 0 {
					log.Printf("Removed %d stale awareness states from document %s", len(removed), s.ID)
				}
			}
		}
	}
}
