package crdt

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
)

/*
Doc is a replicated document made of structs keyed by (client, clock).

Every client appends structs with consecutive clocks. Merging two replicas
is a union of their structs, so applying updates in any order, any number of
times, converges to the same state. A struct whose predecessor has not
arrived yet is kept pending and integrated as soon as the gap closes.

Update wire format:

	varuint clientCount
	repeat clientCount:
	  varuint client
	  varuint structCount
	  varuint firstClock
	  repeat structCount: varUint8Array content

State vector wire format:

	varuint clientCount
	repeat clientCount: varuint client, varuint nextClock
*/

// ErrDestroyed is returned by operations on a destroyed document
var ErrDestroyed = errors.New("crdt: document destroyed")

// DocObserver receives every change integrated into a document.
// update holds exactly the structs that were new to this replica.
type DocObserver interface {
	OnDocUpdate(update []byte, origin Origin)
}

// Doc is not safe for concurrent use; its owner serializes access.
type Doc struct {
	clientID  uint64
	structs   map[uint64][][]byte
	pending   map[uint64]map[uint64][]byte
	observer  DocObserver
	destroyed bool
}

// NewDoc creates an empty document with a random client id
func NewDoc(observer DocObserver) *Doc {
	return NewDocWithClientID(uint64(rand.Uint32()), observer)
}

// NewDocWithClientID creates an empty document that edits as clientID
func NewDocWithClientID(clientID uint64, observer DocObserver) *Doc {
	return &Doc{
		clientID: clientID,
		structs:  make(map[uint64][][]byte),
		pending:  make(map[uint64]map[uint64][]byte),
		observer: observer,
	}
}

// ClientID returns the id this replica uses for local edits
func (d *Doc) ClientID() uint64 {
	return d.clientID
}

// Insert appends local content and notifies the observer
func (d *Doc) Insert(content []byte, origin Origin) error {
	if d.destroyed {
		return ErrDestroyed
	}
	clock := uint64(len(d.structs[d.clientID]))
	d.structs[d.clientID] = append(d.structs[d.clientID], cloneBytes(content))

	delta := map[uint64]structRun{d.clientID: {first: clock, contents: [][]byte{content}}}
	d.notify(delta, origin)
	return nil
}

// ApplyUpdate merges a remote update. The update is fully decoded before
// anything is applied, so a malformed update leaves the document untouched.
func (d *Doc) ApplyUpdate(update []byte, origin Origin) error {
	if d.destroyed {
		return ErrDestroyed
	}
	runs, err := decodeUpdate(update)
	if err != nil {
		return err
	}

	touched := make(map[uint64]uint64) // client -> clock before apply
	for client, run := range runs {
		if _, ok := touched[client]; !ok {
			touched[client] = uint64(len(d.structs[client]))
		}
		for i, content := range run.contents {
			clock := run.first + uint64(i)
			have := uint64(len(d.structs[client]))
			switch {
			case clock < have:
				// duplicate
			case clock == have:
				d.structs[client] = append(d.structs[client], cloneBytes(content))
			default:
				if d.pending[client] == nil {
					d.pending[client] = make(map[uint64][]byte)
				}
				d.pending[client][clock] = cloneBytes(content)
			}
		}
		d.drainPending(client)
	}

	delta := make(map[uint64]structRun)
	for client, before := range touched {
		after := d.structs[client]
		if uint64(len(after)) > before {
			delta[client] = structRun{first: before, contents: after[before:]}
		}
	}
	if len(delta) > 0 {
		d.notify(delta, origin)
	}
	return nil
}

func (d *Doc) drainPending(client uint64) {
	queue := d.pending[client]
	for len(queue) > 0 {
		next := uint64(len(d.structs[client]))
		content, ok := queue[next]
		if !ok {
			// drop anything the integrated run already covers
			for clock := range queue {
				if clock < next {
					delete(queue, clock)
				}
			}
			break
		}
		d.structs[client] = append(d.structs[client], content)
		delete(queue, next)
	}
	if len(queue) == 0 {
		delete(d.pending, client)
	}
}

func (d *Doc) notify(delta map[uint64]structRun, origin Origin) {
	if d.observer == nil {
		return
	}
	d.observer.OnDocUpdate(encodeRuns(delta), origin)
}

// EncodeStateVector returns the next expected clock per known client
func (d *Doc) EncodeStateVector() []byte {
	enc := NewEncoder()
	clients := d.sortedClients()
	enc.WriteVarUint(uint64(len(clients)))
	for _, client := range clients {
		enc.WriteVarUint(client)
		enc.WriteVarUint(uint64(len(d.structs[client])))
	}
	return enc.Bytes()
}

// EncodeStateAsUpdate encodes every struct the remote side is missing
// according to stateVector. A nil state vector encodes the full state.
// The encoding is deterministic: replicas with the same state produce
// identical bytes.
func (d *Doc) EncodeStateAsUpdate(stateVector []byte) ([]byte, error) {
	remote := map[uint64]uint64{}
	if len(stateVector) > 0 {
		var err error
		remote, err = DecodeStateVector(stateVector)
		if err != nil {
			return nil, err
		}
	}

	runs := make(map[uint64]structRun)
	for client, list := range d.structs {
		from := remote[client]
		if from < uint64(len(list)) {
			runs[client] = structRun{first: from, contents: list[from:]}
		}
	}
	return encodeRuns(runs), nil
}

// Destroy releases the document; later mutations fail with ErrDestroyed
func (d *Doc) Destroy() {
	d.destroyed = true
	d.structs = nil
	d.pending = nil
	d.observer = nil
}

// Destroyed reports whether Destroy was called
func (d *Doc) Destroyed() bool {
	return d.destroyed
}

// Len returns the number of integrated structs
func (d *Doc) Len() int {
	n := 0
	for _, list := range d.structs {
		n += len(list)
	}
	return n
}

func (d *Doc) sortedClients() []uint64 {
	clients := make([]uint64, 0, len(d.structs))
	for client, list := range d.structs {
		if len(list) > 0 {
			clients = append(clients, client)
		}
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i] < clients[j] })
	return clients
}

// DecodeStateVector parses a state vector into client -> next clock
func DecodeStateVector(b []byte) (map[uint64]uint64, error) {
	dec := NewDecoder(b)
	n, err := dec.ReadVarUint()
	if err != nil {
		return nil, fmt.Errorf("state vector length: %w", err)
	}
	sv := make(map[uint64]uint64)
	for i := uint64(0); i < n; i++ {
		client, err := dec.ReadVarUint()
		if err != nil {
			return nil, fmt.Errorf("state vector client: %w", err)
		}
		clock, err := dec.ReadVarUint()
		if err != nil {
			return nil, fmt.Errorf("state vector clock: %w", err)
		}
		sv[client] = clock
	}
	return sv, nil
}

type structRun struct {
	first    uint64
	contents [][]byte
}

func encodeRuns(runs map[uint64]structRun) []byte {
	clients := make([]uint64, 0, len(runs))
	for client := range runs {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i] < clients[j] })

	enc := NewEncoder()
	enc.WriteVarUint(uint64(len(clients)))
	for _, client := range clients {
		run := runs[client]
		enc.WriteVarUint(client)
		enc.WriteVarUint(uint64(len(run.contents)))
		enc.WriteVarUint(run.first)
		for _, content := range run.contents {
			enc.WriteVarUint8Array(content)
		}
	}
	return enc.Bytes()
}

func decodeUpdate(b []byte) (map[uint64]structRun, error) {
	dec := NewDecoder(b)
	n, err := dec.ReadVarUint()
	if err != nil {
		return nil, fmt.Errorf("update client count: %w", err)
	}
	runs := make(map[uint64]structRun)
	for i := uint64(0); i < n; i++ {
		client, err := dec.ReadVarUint()
		if err != nil {
			return nil, fmt.Errorf("update client: %w", err)
		}
		count, err := dec.ReadVarUint()
		if err != nil {
			return nil, fmt.Errorf("update struct count: %w", err)
		}
		first, err := dec.ReadVarUint()
		if err != nil {
			return nil, fmt.Errorf("update first clock: %w", err)
		}
		if count > uint64(dec.Remaining()) {
			return nil, fmt.Errorf("update struct count %d: %w", count, ErrUnexpectedEOF)
		}
		contents := make([][]byte, 0, count)
		for j := uint64(0); j < count; j++ {
			content, err := dec.ReadVarUint8Array()
			if err != nil {
				return nil, fmt.Errorf("update struct content: %w", err)
			}
			contents = append(contents, content)
		}
		if _, dup := runs[client]; dup {
			return nil, fmt.Errorf("update repeats client %d", client)
		}
		runs[client] = structRun{first: first, contents: contents}
	}
	return runs, nil
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
