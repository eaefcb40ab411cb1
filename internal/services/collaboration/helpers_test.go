package collaboration

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"collab-relay/internal/crdt"
	"collab-relay/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type savedState struct {
	documentID string
	token      string
	state      []byte
}

// fakeStore is an in-memory ContentStore that records every call
type fakeStore struct {
	mu      sync.Mutex
	content map[string][]byte
	loadErr error
	saveErr error
	loads   []string
	saves   []savedState
}

func newFakeStore() *fakeStore {
	return &fakeStore{content: make(map[string][]byte)}
}

func (f *fakeStore) LoadContent(_ context.Context, documentID, token string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, documentID)
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.content[documentID], nil
}

func (f *fakeStore) SaveContent(_ context.Context, documentID, token string, state []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves = append(f.saves, savedState{documentID: documentID, token: token, state: append([]byte(nil), state...)})
	f.content[documentID] = append([]byte(nil), state...)
	return nil
}

func (f *fakeStore) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.loads)
}

func (f *fakeStore) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saves)
}

func (f *fakeStore) lastSave() savedState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves[len(f.saves)-1]
}

// fakeValidator grants access per token
type fakeValidator struct {
	mu      sync.Mutex
	access  map[string]bool   // token -> has access to any document
	users   map[string]string // token -> user id
	failAll bool
}

func newFakeValidator() *fakeValidator {
	return &fakeValidator{access: make(map[string]bool), users: make(map[string]string)}
}

func (v *fakeValidator) ValidateDocumentAccess(_ context.Context, token, documentID string) (*models.DocumentAccess, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failAll {
		return nil, errors.New("backend unreachable")
	}
	return &models.DocumentAccess{HasAccess: v.access[token], UserID: "u-" + token, Username: token}, nil
}

func (v *fakeValidator) ValidateUserToken(_ context.Context, token string) (*models.UserIdentity, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failAll {
		return nil, errors.New("backend unreachable")
	}
	id, ok := v.users[token]
	if !ok {
		return &models.UserIdentity{Valid: false}, nil
	}
	return &models.UserIdentity{Valid: true, UserID: id, Username: id}, nil
}

type testRelay struct {
	store    *fakeStore
	tokens   *TokenTable
	persist  *PersistenceCoordinator
	sessions *SessionManager
	router   *MessageRouter
}

func newTestRelay(t *testing.T, window time.Duration) *testRelay {
	t.Helper()
	store := newFakeStore()
	tokens := NewTokenTable()
	persist := NewPersistenceCoordinator(store, tokens, window, time.Second)
	sessions := NewSessionManager(tokens, persist, time.Minute)
	t.Cleanup(func() { sessions.Shutdown(context.Background()) })
	return &testRelay{
		store:    store,
		tokens:   tokens,
		persist:  persist,
		sessions: sessions,
		router:   NewMessageRouter(),
	}
}

func newDocConn(documentID string) *Conn {
	return NewConn(models.NewConnectionInfo(models.ChannelDocument, documentID), websocket.BinaryMessage, 64)
}

// attach connects a fresh socket and discards its greeting
func (r *testRelay) attach(t *testing.T, documentID string) (*DocumentSession, *Conn) {
	t.Helper()
	c := newDocConn(documentID)
	s := r.sessions.Attach(context.Background(), documentID, "tok", c)
	drain(c)
	return s, c
}

// drain returns every queued outbound message without blocking
func drain(c *Conn) [][]byte {
	var out [][]byte
	for {
		select {
		case msg := <-c.Outbound():
			out = append(out, msg)
		default:
			return out
		}
	}
}

// replica is a client-side document producing incremental updates
type replica struct {
	doc *crdt.Doc
}

func newReplica(clientID uint64) *replica {
	return &replica{doc: crdt.NewDocWithClientID(clientID, nil)}
}

func (r *replica) edit(t *testing.T, content string) []byte {
	t.Helper()
	sv := r.doc.EncodeStateVector()
	require.NoError(t, r.doc.Insert([]byte(content), crdt.None))
	update, err := r.doc.EncodeStateAsUpdate(sv)
	require.NoError(t, err)
	return update
}

func syncUpdateFrame(update []byte) []byte {
	enc := crdt.NewEncoder()
	enc.WriteVarUint(uint64(models.MessageTypeSync))
	crdt.WriteUpdate(enc, update)
	return enc.Bytes()
}

func syncStep1Frame(doc *crdt.Doc) []byte {
	enc := crdt.NewEncoder()
	enc.WriteVarUint(uint64(models.MessageTypeSync))
	crdt.WriteSyncStep1(enc, doc)
	return enc.Bytes()
}

func awarenessUpdateFrame(entries ...crdt.AwarenessEntry) []byte {
	return awarenessFrame(crdt.EncodeAwarenessEntries(entries))
}

func queryAwarenessFrame() []byte {
	enc := crdt.NewEncoder()
	enc.WriteVarUint(uint64(models.MessageTypeQueryAwareness))
	return enc.Bytes()
}

func presence(clientID, clock uint64, state string) crdt.AwarenessEntry {
	return crdt.AwarenessEntry{ClientID: clientID, Clock: clock, State: json.RawMessage(state)}
}

// parsedFrame is a decoded outbound document frame
type parsedFrame struct {
	msgType   models.MessageType
	syncType  uint64
	payload   []byte
	awareness []crdt.AwarenessEntry
}

func parseFrame(t *testing.T, frame []byte) parsedFrame {
	t.Helper()
	dec := crdt.NewDecoder(frame)
	tag, err := dec.ReadVarUint()
	require.NoError(t, err)

	out := parsedFrame{msgType: models.MessageType(tag)}
	switch out.msgType {
	case models.MessageTypeSync:
		out.syncType, err = dec.ReadVarUint()
		require.NoError(t, err)
		out.payload, err = dec.ReadVarUint8Array()
		require.NoError(t, err)
	case models.MessageTypeAwareness:
		out.payload, err = dec.ReadVarUint8Array()
		require.NoError(t, err)
		out.awareness, err = crdt.DecodeAwarenessUpdate(out.payload)
		require.NoError(t, err)
	}
	return out
}

func framesOfType(t *testing.T, frames [][]byte, msgType models.MessageType) []parsedFrame {
	t.Helper()
	var out []parsedFrame
	for _, f := range frames {
		if p := parseFrame(t, f); p.msgType == msgType {
			out = append(out, p)
		}
	}
	return out
}
