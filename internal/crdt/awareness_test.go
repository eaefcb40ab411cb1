package crdt

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type awarenessRecorder struct {
	changes []AwarenessChange
	origins []Origin
}

func (r *awarenessRecorder) OnAwarenessUpdate(c AwarenessChange, o Origin) {
	r.changes = append(r.changes, c)
	r.origins = append(r.origins, o)
}

func entry(client, clock uint64, state string) AwarenessEntry {
	return AwarenessEntry{ClientID: client, Clock: clock, State: json.RawMessage(state)}
}

func TestAwarenessAddUpdateRemove(t *testing.T) {
	rec := &awarenessRecorder{}
	a := NewAwareness(NewDocWithClientID(1, nil), rec)
	origin := FromSocket("s1")

	require.NoError(t, a.ApplyUpdate(EncodeAwarenessEntries([]AwarenessEntry{
		entry(10, 1, `{"name":"Alice"}`),
		entry(11, 1, `{"name":"Bob"}`),
	}), origin))
	require.Len(t, rec.changes, 1)
	assert.Equal(t, []uint64{10, 11}, rec.changes[0].Added)
	assert.Equal(t, []uint64{10, 11}, a.Clients())

	require.NoError(t, a.ApplyUpdate(EncodeAwarenessEntries([]AwarenessEntry{
		entry(10, 2, `{"name":"Alice","cursor":3}`),
	}), origin))
	require.Len(t, rec.changes, 2)
	assert.Equal(t, []uint64{10}, rec.changes[1].Updated)

	require.NoError(t, a.ApplyUpdate(EncodeAwarenessEntries([]AwarenessEntry{
		entry(11, 2, `null`),
	}), origin))
	require.Len(t, rec.changes, 3)
	assert.Equal(t, []uint64{11}, rec.changes[2].Removed)
	assert.Equal(t, []uint64{10}, a.Clients())
}

func TestAwarenessIgnoresStaleClock(t *testing.T) {
	rec := &awarenessRecorder{}
	a := NewAwareness(NewDocWithClientID(1, nil), rec)

	require.NoError(t, a.ApplyUpdate(EncodeAwarenessEntries([]AwarenessEntry{entry(5, 3, `{"v":3}`)}), None))
	require.NoError(t, a.ApplyUpdate(EncodeAwarenessEntries([]AwarenessEntry{entry(5, 2, `{"v":2}`)}), None))

	assert.Len(t, rec.changes, 1)
	state, ok := a.State(5)
	require.True(t, ok)
	assert.JSONEq(t, `{"v":3}`, string(state))
}

func TestAwarenessRemoveStatesBumpsClock(t *testing.T) {
	rec := &awarenessRecorder{}
	a := NewAwareness(NewDocWithClientID(1, nil), rec)
	require.NoError(t, a.ApplyUpdate(EncodeAwarenessEntries([]AwarenessEntry{
		entry(1, 4, `{}`), entry(2, 1, `{}`),
	}), None))

	a.RemoveStates([]uint64{1, 99}, FromSocket("gone"))

	require.Len(t, rec.changes, 2)
	assert.Equal(t, []uint64{1}, rec.changes[1].Removed)
	assert.Equal(t, FromSocket("gone"), rec.origins[1])

	entries, err := DecodeAwarenessUpdate(a.EncodeUpdate([]uint64{1}))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, uint64(5), entries[0].Clock)
	assert.Equal(t, "null", string(entries[0].State))

	// a late update with the old clock must not resurrect the client
	require.NoError(t, a.ApplyUpdate(EncodeAwarenessEntries([]AwarenessEntry{entry(1, 4, `{}`)}), None))
	_, ok := a.State(1)
	assert.False(t, ok)
}

func TestAwarenessRemoveOutdated(t *testing.T) {
	a := NewAwareness(NewDocWithClientID(1, nil), nil)
	now := time.Unix(1000, 0)
	a.now = func() time.Time { return now }

	require.NoError(t, a.ApplyUpdate(EncodeAwarenessEntries([]AwarenessEntry{entry(1, 1, `{}`)}), None))
	now = now.Add(20 * time.Second)
	require.NoError(t, a.ApplyUpdate(EncodeAwarenessEntries([]AwarenessEntry{entry(2, 1, `{}`)}), None))
	now = now.Add(15 * time.Second)

	removed := a.RemoveOutdated(30*time.Second, None)
	assert.Equal(t, []uint64{1}, removed)
	assert.Equal(t, []uint64{2}, a.Clients())
}

func TestAwarenessEncodeAllRoundTrip(t *testing.T) {
	a := NewAwareness(NewDocWithClientID(1, nil), nil)
	require.NoError(t, a.ApplyUpdate(EncodeAwarenessEntries([]AwarenessEntry{
		entry(3, 1, `{"name":"Carol"}`),
	}), None))

	b := NewAwareness(NewDocWithClientID(2, nil), nil)
	require.NoError(t, b.ApplyUpdate(a.EncodeAll(), None))
	assert.Equal(t, a.States(), b.States())
}

func TestAwarenessRejectsMalformedUpdate(t *testing.T) {
	rec := &awarenessRecorder{}
	a := NewAwareness(NewDocWithClientID(1, nil), rec)

	enc := NewEncoder()
	enc.WriteVarUint(1)
	enc.WriteVarUint(1)
	enc.WriteVarUint(1)
	enc.WriteVarString("{not json")

	assert.Error(t, a.ApplyUpdate(enc.Bytes(), None))
	assert.Empty(t, rec.changes)
	assert.Empty(t, a.Clients())
}
