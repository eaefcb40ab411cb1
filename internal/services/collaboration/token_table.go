package collaboration

import "sync"

// TokenTable remembers the last bearer token admitted for each document so
// that persistence calls can reuse it without validating again.
// Writes are last-write-wins.
type TokenTable struct {
	mu     sync.RWMutex
	tokens map[string]string
}

func NewTokenTable() *TokenTable {
	return &TokenTable{tokens: make(map[string]string)}
}

func (t *TokenTable) Set(documentID, token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens[documentID] = token
}

func (t *TokenTable) Get(documentID string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tokens[documentID]
}

func (t *TokenTable) Delete(documentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tokens, documentID)
}

func (t *TokenTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tokens)
}
