package collaboration

import (
	"context"
	"log"
	"time"

	"collab-relay/internal/middleware"

	"go.opentelemetry.io/otel/attribute"
)

// PersistenceCoordinator debounces saves per session and performs them
// with the token on file for the document. Failures are logged and
// swallowed: the in-memory state stays authoritative.
type PersistenceCoordinator struct {
	store   ContentStore
	tokens  *TokenTable
	window  time.Duration
	timeout time.Duration
}

func NewPersistenceCoordinator(store ContentStore, tokens *TokenTable, window, timeout time.Duration) *PersistenceCoordinator {
	return &PersistenceCoordinator{
		store:   store,
		tokens:  tokens,
		window:  window,
		timeout: timeout,
	}
}

func (p *PersistenceCoordinator) newSaver(s *DocumentSession) *Debouncer {
	return NewDebouncer(p.window, func() { p.save(s) })
}

// ScheduleSave (re)starts the quiet window for s
func (p *PersistenceCoordinator) ScheduleSave(s *DocumentSession) {
	s.saver.Trigger()
}

// FlushNow runs a pending save synchronously. It reports whether one was
// pending.
func (p *PersistenceCoordinator) FlushNow(s *DocumentSession) bool {
	return s.saver.Flush()
}

// Cancel drops a pending save without running it
func (p *PersistenceCoordinator) Cancel(s *DocumentSession) bool {
	return s.saver.Cancel()
}

// Load fetches the stored state of documentID with the token on file. It
// returns nil without calling the store when no token is known.
func (p *PersistenceCoordinator) Load(ctx context.Context, documentID string) ([]byte, error) {
	token := p.tokens.Get(documentID)
	if token == "" {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ctx, span := middleware.StartSpan(ctx, "Persistence.Load",
		attribute.String("document.id", documentID),
	)
	defer span.End()

	content, err := p.store.LoadContent(ctx, documentID, token)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}
	return content, nil
}

func (p *PersistenceCoordinator) save(s *DocumentSession) {
	token := p.tokens.Get(s.ID)
	if token == "" {
		log.Printf("⚠️  No token on file for document %s, skipping save", s.ID)
		savesTotal.WithLabelValues("skipped").Inc()
		return
	}

	state, err := s.EncodeState()
	if err != nil {
		savesTotal.WithLabelValues("skipped").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	ctx, span := middleware.StartSpan(ctx, "Persistence.Save",
		attribute.String("document.id", s.ID),
		attribute.Int("content.size", len(state)),
	)
	defer span.End()

	if err := p.store.SaveContent(ctx, s.ID, token, state); err != nil {
		middleware.AddSpanError(ctx, err)
		log.Printf("⚠️  Failed to save document %s: %v", s.ID, err)
		savesTotal.WithLabelValues("error").Inc()
		return
	}

	savesTotal.WithLabelValues("ok").Inc()
	log.Printf("✓ Saved document %s (%d bytes)", s.ID, len(state))
}
