package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistry struct {
	count   int
	present map[string]bool
	evicted []string
}

func (f *fakeRegistry) Count() int { return f.count }

func (f *fakeRegistry) Evict(documentID string) bool {
	f.evicted = append(f.evicted, documentID)
	if f.present[documentID] {
		delete(f.present, documentID)
		f.count--
		return true
	}
	return false
}

type fakeNotifier struct {
	userIDs    []string
	documentID string
	calls      int
}

func (f *fakeNotifier) Broadcast(userIDs []string, documentID string) int {
	f.calls++
	f.userIDs = userIDs
	f.documentID = documentID
	return len(userIDs)
}

type fakeSockets struct {
	paths []string
}

func (f *fakeSockets) HandleConnection(w http.ResponseWriter, r *http.Request) {
	f.paths = append(f.paths, r.URL.Path)
	w.WriteHeader(http.StatusSwitchingProtocols)
}

type fixture struct {
	registry *fakeRegistry
	notifier *fakeNotifier
	sockets  *fakeSockets
	router   http.Handler
}

func newFixture() *fixture {
	f := &fixture{
		registry: &fakeRegistry{count: 2, present: map[string]bool{"X": true, "Y": true}},
		notifier: &fakeNotifier{},
		sockets:  &fakeSockets{},
	}
	f.router = SetupRoutes(NewHandler(f.registry, f.notifier, f.sockets))
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(2), body["activeDocuments"])
}

func TestReloadDocument(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodPost, "/reload-document/X", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"success": true, "cleared": true}, decode(t, rec))

	rec = f.do(http.MethodPost, "/reload-document/X", "")
	assert.Equal(t, map[string]any{"success": true, "cleared": false}, decode(t, rec))

	assert.Equal(t, []string{"X", "X"}, f.registry.evicted)
	assert.Equal(t, float64(1), decode(t, f.do(http.MethodGet, "/health", ""))["activeDocuments"])
}

func TestNotify(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodPost, "/notify", `{"userIds":["u1","u2"],"documentId":"doc-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["success"])
	assert.Equal(t, []string{"u1", "u2"}, f.notifier.userIDs)
	assert.Equal(t, "doc-1", f.notifier.documentID)
}

func TestNotifyValidation(t *testing.T) {
	f := newFixture()

	cases := map[string]string{
		"malformed":        `{"userIds":`,
		"no users":         `{"userIds":[],"documentId":"doc-1"}`,
		"missing users":    `{"documentId":"doc-1"}`,
		"missing document": `{"userIds":["u1"]}`,
	}
	for name, body := range cases {
		rec := f.do(http.MethodPost, "/notify", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
		assert.NotEmpty(t, decode(t, rec)["error"], name)
	}
	assert.Equal(t, 0, f.notifier.calls)
}

func TestSocketRoutes(t *testing.T) {
	f := newFixture()

	f.do(http.MethodGet, "/notifications?token=t", "")
	f.do(http.MethodGet, "/doc-42?token=t", "")
	f.do(http.MethodGet, "/?token=t", "")

	assert.Equal(t, []string{"/notifications", "/doc-42", "/"}, f.sockets.paths)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
