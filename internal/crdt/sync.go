package crdt

import "fmt"

// Sync protocol sub-message types, written after the frame's SYNC tag
const (
	SyncStep1  uint64 = 0 // sender's state vector
	SyncStep2  uint64 = 1 // update the receiver was missing
	SyncUpdate uint64 = 2 // incremental update
)

// WriteSyncStep1 asks the peer for everything this doc is missing
func WriteSyncStep1(enc *Encoder, doc *Doc) {
	enc.WriteVarUint(SyncStep1)
	enc.WriteVarUint8Array(doc.EncodeStateVector())
}

// WriteSyncStep2 answers a step1 with the structs the peer lacks
func WriteSyncStep2(enc *Encoder, doc *Doc, stateVector []byte) error {
	update, err := doc.EncodeStateAsUpdate(stateVector)
	if err != nil {
		return err
	}
	enc.WriteVarUint(SyncStep2)
	enc.WriteVarUint8Array(update)
	return nil
}

// WriteUpdate wraps an incremental update
func WriteUpdate(enc *Encoder, update []byte) {
	enc.WriteVarUint(SyncUpdate)
	enc.WriteVarUint8Array(update)
}

// ReadSyncMessage consumes one sync sub-message from dec and applies it to
// doc. A step1 writes the step2 answer into enc; step2 and update apply the
// carried update with origin. It returns the sub-message type.
func ReadSyncMessage(dec *Decoder, enc *Encoder, doc *Doc, origin Origin) (uint64, error) {
	msgType, err := dec.ReadVarUint()
	if err != nil {
		return 0, fmt.Errorf("sync message type: %w", err)
	}
	payload, err := dec.ReadVarUint8Array()
	if err != nil {
		return msgType, fmt.Errorf("sync payload: %w", err)
	}

	switch msgType {
	case SyncStep1:
		if err := WriteSyncStep2(enc, doc, payload); err != nil {
			return msgType, fmt.Errorf("sync step2: %w", err)
		}
	case SyncStep2, SyncUpdate:
		if err := doc.ApplyUpdate(payload, origin); err != nil {
			return msgType, fmt.Errorf("apply update: %w", err)
		}
	default:
		return msgType, fmt.Errorf("unknown sync message type %d", msgType)
	}
	return msgType, nil
}
