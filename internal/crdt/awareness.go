package crdt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

/*
Awareness carries ephemeral per-client state (presence, cursor, name).

Each client owns a clock. A state is accepted when its clock is newer than
the one on file, or when it has the same clock and is null while a state is
still present (a removal). Update wire format:

	varuint entryCount
	repeat entryCount:
	  varuint clientID
	  varuint clock
	  varString JSON state ("null" means removed)
*/

var nullState = json.RawMessage("null")

// AwarenessChange lists the client ids touched by one update
type AwarenessChange struct {
	Added   []uint64
	Updated []uint64
	Removed []uint64
}

// Changed returns added, updated and removed ids in that order
func (c AwarenessChange) Changed() []uint64 {
	out := make([]uint64, 0, len(c.Added)+len(c.Updated)+len(c.Removed))
	out = append(out, c.Added...)
	out = append(out, c.Updated...)
	return append(out, c.Removed...)
}

// Empty reports whether nothing changed
func (c AwarenessChange) Empty() bool {
	return len(c.Added) == 0 && len(c.Updated) == 0 && len(c.Removed) == 0
}

// AwarenessObserver receives every effective awareness change
type AwarenessObserver interface {
	OnAwarenessUpdate(change AwarenessChange, origin Origin)
}

// AwarenessEntry is one decoded record of an awareness update
type AwarenessEntry struct {
	ClientID uint64
	Clock    uint64
	State    json.RawMessage
}

type awarenessMeta struct {
	clock       uint64
	lastUpdated time.Time
}

// Awareness is bound to a Doc and, like it, serialized by its owner
type Awareness struct {
	doc      *Doc
	states   map[uint64]json.RawMessage
	meta     map[uint64]awarenessMeta
	observer AwarenessObserver
	now      func() time.Time
}

// NewAwareness creates an empty awareness map for doc
func NewAwareness(doc *Doc, observer AwarenessObserver) *Awareness {
	return &Awareness{
		doc:      doc,
		states:   make(map[uint64]json.RawMessage),
		meta:     make(map[uint64]awarenessMeta),
		observer: observer,
		now:      time.Now,
	}
}

// Doc returns the document this awareness belongs to
func (a *Awareness) Doc() *Doc {
	return a.doc
}

// ApplyUpdate merges a remote awareness update. The update is decoded
// completely before any state changes.
func (a *Awareness) ApplyUpdate(update []byte, origin Origin) error {
	entries, err := DecodeAwarenessUpdate(update)
	if err != nil {
		return err
	}

	now := a.now()
	var change AwarenessChange
	for _, e := range entries {
		prev, known := a.meta[e.ClientID]
		_, has := a.states[e.ClientID]
		isNull := isNullState(e.State)

		if known && !(prev.clock < e.Clock || (prev.clock == e.Clock && isNull && has)) {
			continue
		}

		if isNull {
			delete(a.states, e.ClientID)
		} else {
			a.states[e.ClientID] = append(json.RawMessage(nil), e.State...)
		}
		a.meta[e.ClientID] = awarenessMeta{clock: e.Clock, lastUpdated: now}

		switch {
		case !has && !isNull:
			change.Added = append(change.Added, e.ClientID)
		case has && isNull:
			change.Removed = append(change.Removed, e.ClientID)
		case !isNull:
			change.Updated = append(change.Updated, e.ClientID)
		}
	}

	a.notify(change, origin)
	return nil
}

// RemoveStates drops the given clients and bumps their clocks so that the
// removal wins over any state already in flight
func (a *Awareness) RemoveStates(clients []uint64, origin Origin) {
	var change AwarenessChange
	now := a.now()
	for _, id := range clients {
		if _, has := a.states[id]; !has {
			continue
		}
		delete(a.states, id)
		m := a.meta[id]
		a.meta[id] = awarenessMeta{clock: m.clock + 1, lastUpdated: now}
		change.Removed = append(change.Removed, id)
	}
	a.notify(change, origin)
}

// RemoveOutdated drops states that were not refreshed within timeout and
// returns the removed client ids
func (a *Awareness) RemoveOutdated(timeout time.Duration, origin Origin) []uint64 {
	cutoff := a.now().Add(-timeout)
	var stale []uint64
	for id := range a.states {
		if a.meta[id].lastUpdated.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	sortIDs(stale)
	a.RemoveStates(stale, origin)
	return stale
}

// EncodeUpdate encodes the current state (or null) of the given clients
func (a *Awareness) EncodeUpdate(clients []uint64) []byte {
	entries := make([]AwarenessEntry, 0, len(clients))
	for _, id := range clients {
		state, ok := a.states[id]
		if !ok {
			state = nullState
		}
		entries = append(entries, AwarenessEntry{ClientID: id, Clock: a.meta[id].clock, State: state})
	}
	return EncodeAwarenessEntries(entries)
}

// EncodeAll encodes every known state
func (a *Awareness) EncodeAll() []byte {
	return a.EncodeUpdate(a.Clients())
}

// Clients returns the ids that currently have a state, sorted
func (a *Awareness) Clients() []uint64 {
	ids := make([]uint64, 0, len(a.states))
	for id := range a.states {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

// State returns a client's current state
func (a *Awareness) State(clientID uint64) (json.RawMessage, bool) {
	s, ok := a.states[clientID]
	return s, ok
}

// States returns a copy of all current states
func (a *Awareness) States() map[uint64]json.RawMessage {
	out := make(map[uint64]json.RawMessage, len(a.states))
	for id, s := range a.states {
		out[id] = s
	}
	return out
}

// Destroy removes every state without notifying anyone
func (a *Awareness) Destroy() {
	a.states = make(map[uint64]json.RawMessage)
	a.meta = make(map[uint64]awarenessMeta)
	a.observer = nil
}

func (a *Awareness) notify(change AwarenessChange, origin Origin) {
	if change.Empty() || a.observer == nil {
		return
	}
	a.observer.OnAwarenessUpdate(change, origin)
}

// EncodeAwarenessEntries builds an awareness update from raw entries
func EncodeAwarenessEntries(entries []AwarenessEntry) []byte {
	enc := NewEncoder()
	enc.WriteVarUint(uint64(len(entries)))
	for _, e := range entries {
		state := e.State
		if len(state) == 0 {
			state = nullState
		}
		enc.WriteVarUint(e.ClientID)
		enc.WriteVarUint(e.Clock)
		enc.WriteVarString(string(state))
	}
	return enc.Bytes()
}

// DecodeAwarenessUpdate parses an awareness update
func DecodeAwarenessUpdate(update []byte) ([]AwarenessEntry, error) {
	dec := NewDecoder(update)
	n, err := dec.ReadVarUint()
	if err != nil {
		return nil, fmt.Errorf("awareness entry count: %w", err)
	}
	if n > uint64(dec.Remaining()) {
		return nil, fmt.Errorf("awareness entry count %d: %w", n, ErrUnexpectedEOF)
	}
	entries := make([]AwarenessEntry, 0, n)
	for i := uint64(0); i < n; i++ {
		client, err := dec.ReadVarUint()
		if err != nil {
			return nil, fmt.Errorf("awareness client: %w", err)
		}
		clock, err := dec.ReadVarUint()
		if err != nil {
			return nil, fmt.Errorf("awareness clock: %w", err)
		}
		raw, err := dec.ReadVarString()
		if err != nil {
			return nil, fmt.Errorf("awareness state: %w", err)
		}
		if !json.Valid([]byte(raw)) {
			return nil, fmt.Errorf("awareness state for client %d is not JSON", client)
		}
		entries = append(entries, AwarenessEntry{ClientID: client, Clock: clock, State: json.RawMessage(raw)})
	}
	return entries, nil
}

func isNullState(s json.RawMessage) bool {
	return len(s) == 0 || bytes.Equal(bytes.TrimSpace(s), nullState)
}

func sortIDs(ids []uint64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
