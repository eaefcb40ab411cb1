package crdt

import (
	"encoding/binary"
	"errors"
)

/*
Binary codec shared by every frame the relay speaks.

Integers are unsigned varints: 7 bits per byte, least significant group
first, high bit set on every byte except the last. Byte arrays and strings
are a varint length followed by the raw bytes.
*/

var (
	// ErrUnexpectedEOF is returned when a frame ends in the middle of a value
	ErrUnexpectedEOF = errors.New("crdt: unexpected end of frame")

	// ErrOverflow is returned for a varint wider than 64 bits
	ErrOverflow = errors.New("crdt: varint overflows uint64")
)

// Encoder accumulates an outbound frame
type Encoder struct {
	buf []byte
}

// NewEncoder creates an empty encoder
func NewEncoder() *Encoder {
	return &Encoder{buf: make([]byte, 0, 64)}
}

// WriteVarUint appends an unsigned varint
func (e *Encoder) WriteVarUint(v uint64) {
	e.buf = binary.AppendUvarint(e.buf, v)
}

// WriteVarUint8Array appends a length-prefixed byte array
func (e *Encoder) WriteVarUint8Array(b []byte) {
	e.WriteVarUint(uint64(len(b)))
	e.buf = append(e.buf, b...)
}

// WriteVarString appends a length-prefixed UTF-8 string
func (e *Encoder) WriteVarString(s string) {
	e.WriteVarUint(uint64(len(s)))
	e.buf = append(e.buf, s...)
}

// Len returns the number of bytes written so far
func (e *Encoder) Len() int {
	return len(e.buf)
}

// Bytes returns the encoded frame
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// Decoder reads values from an inbound frame
type Decoder struct {
	buf []byte
	pos int
}

// NewDecoder wraps a frame for reading
func NewDecoder(b []byte) *Decoder {
	return &Decoder{buf: b}
}

// ReadVarUint reads an unsigned varint
func (d *Decoder) ReadVarUint() (uint64, error) {
	v, n := binary.Uvarint(d.buf[d.pos:])
	switch {
	case n == 0:
		return 0, ErrUnexpectedEOF
	case n < 0:
		return 0, ErrOverflow
	}
	d.pos += n
	return v, nil
}

// ReadVarUint8Array reads a length-prefixed byte array.
// The returned slice aliases the frame.
func (d *Decoder) ReadVarUint8Array() ([]byte, error) {
	n, err := d.ReadVarUint()
	if err != nil {
		return nil, err
	}
	if n > uint64(len(d.buf)-d.pos) {
		return nil, ErrUnexpectedEOF
	}
	b := d.buf[d.pos : d.pos+int(n)]
	d.pos += int(n)
	return b, nil
}

// ReadVarString reads a length-prefixed string
func (d *Decoder) ReadVarString() (string, error) {
	b, err := d.ReadVarUint8Array()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Remaining reports how many unread bytes are left
func (d *Decoder) Remaining() int {
	return len(d.buf) - d.pos
}
