package collaboration

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"collab-relay/internal/crdt"
	"collab-relay/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wsFixture struct {
	relay         *testRelay
	notifications *NotificationRegistry
	baseURL       string
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	relay := newTestRelay(t, time.Hour)

	v := newFakeValidator()
	v.access["good"] = true
	v.users["good"] = "user-1"

	notifications := NewNotificationRegistry()
	h := NewWebSocketHandler(NewAccessGateway(v, relay.tokens), relay.sessions, relay.router, notifications, 64)

	srv := httptest.NewServer(http.HandlerFunc(h.HandleConnection))
	t.Cleanup(srv.Close)

	return &wsFixture{
		relay:         relay,
		notifications: notifications,
		baseURL:       "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
}

func (f *wsFixture) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(f.baseURL+path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

// join dials a document and consumes the two greeting frames
func (f *wsFixture) join(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	ws := f.dial(t, path)
	assert.Equal(t, models.MessageTypeSync, parseFrame(t, readMessage(t, ws)).msgType)
	assert.Equal(t, models.MessageTypeAwareness, parseFrame(t, readMessage(t, ws)).msgType)
	return ws
}

func readMessage(t *testing.T, ws *websocket.Conn) []byte {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	return data
}

func requireClosedWith(t *testing.T, ws *websocket.Conn, code int, reason string) {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()

	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr), "expected close error, got %v", err)
	assert.Equal(t, code, closeErr.Code)
	assert.Equal(t, reason, closeErr.Text)
}

func TestWebSocketRejectsBeforeAttach(t *testing.T) {
	f := newWSFixture(t)

	cases := []struct {
		path   string
		reason string
	}{
		{"/doc-1", "Token is required"},
		{"/doc-1?token=bad", "Access denied"},
		{"/notifications?token=bad", "Invalid token"},
	}
	for _, tc := range cases {
		ws := f.dial(t, tc.path)
		requireClosedWith(t, ws, models.ClosePolicyViolation, tc.reason)
	}
	assert.Equal(t, 0, f.relay.sessions.Count())
}

func TestWebSocketRelaysUpdatesBetweenClients(t *testing.T) {
	f := newWSFixture(t)
	a := f.join(t, "/doc-1?token=good")
	b := f.join(t, "/doc-1?token=good")

	update := newReplica(1).edit(t, "hello")
	require.NoError(t, a.WriteMessage(websocket.BinaryMessage, syncUpdateFrame(update)))

	got := parseFrame(t, readMessage(t, b))
	assert.Equal(t, models.MessageTypeSync, got.msgType)
	assert.Equal(t, crdt.SyncUpdate, got.syncType)
	assert.Equal(t, update, got.payload)
}

func TestWebSocketSyncHandshake(t *testing.T) {
	f := newWSFixture(t)
	a := f.join(t, "/doc-1?token=good")
	b := f.join(t, "/doc-1?token=good")

	require.NoError(t, a.WriteMessage(websocket.BinaryMessage, syncUpdateFrame(newReplica(1).edit(t, "x"))))
	readMessage(t, b)

	late := newReplica(2)
	require.NoError(t, b.WriteMessage(websocket.BinaryMessage, syncStep1Frame(late.doc)))

	reply := parseFrame(t, readMessage(t, b))
	assert.Equal(t, crdt.SyncStep2, reply.syncType)
	require.NoError(t, late.doc.ApplyUpdate(reply.payload, crdt.None))
	assert.Equal(t, 1, late.doc.Len())
}

func TestWebSocketDisconnectFlushesSave(t *testing.T) {
	f := newWSFixture(t)
	a := f.join(t, "/doc-1?token=good")

	require.NoError(t, a.WriteMessage(websocket.BinaryMessage, syncUpdateFrame(newReplica(1).edit(t, "x"))))
	require.NoError(t, a.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	require.Eventually(t, func() bool {
		return f.relay.store.saveCount() == 1 && f.relay.sessions.Count() == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "good", f.relay.store.lastSave().token)
}

func TestWebSocketReloadClosesWithServiceRestart(t *testing.T) {
	f := newWSFixture(t)
	a := f.join(t, "/X?token=good")
	b := f.join(t, "/X?token=good")
	require.Equal(t, 1, f.relay.sessions.Count())

	assert.True(t, f.relay.sessions.Evict("X"))

	requireClosedWith(t, a, models.CloseServiceRestart, "Server reload")
	requireClosedWith(t, b, models.CloseServiceRestart, "Server reload")
	assert.Equal(t, 0, f.relay.sessions.Count())
}

func TestNotificationSocket(t *testing.T) {
	f := newWSFixture(t)
	ws := f.dial(t, "/notifications?token=good")

	var event models.NotificationEvent
	require.NoError(t, json.Unmarshal(readMessage(t, ws), &event))
	assert.Equal(t, models.EventConnected, event.Type)
	assert.Equal(t, "user-1", event.UserID)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"PING"}`)))
	require.NoError(t, json.Unmarshal(readMessage(t, ws), &event))
	assert.Equal(t, models.EventPong, event.Type)

	delivered := NewNotificationBroadcaster(f.notifications).Broadcast([]string{"user-1"}, "doc-7")
	assert.Equal(t, 1, delivered)

	event = models.NotificationEvent{}
	require.NoError(t, json.Unmarshal(readMessage(t, ws), &event))
	assert.Equal(t, models.EventDocumentListUpdate, event.Type)
	assert.Equal(t, "doc-7", event.DocumentID)
}
