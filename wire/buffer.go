// Package wire implements the DNS wire format primitives: a bounds-checked
// read/write cursor over a byte slice, and the on-the-wire domain name
// value type with compression-pointer handling.
package wire

import (
	"encoding/binary"
	"errors"
)

// ErrOverflow is returned when a read or write would cross the buffer's
// limit.
var ErrOverflow = errors.New("wire: buffer overflow")

// ErrTruncated signals that a message ran out of bytes mid-record; callers
// translate this into the TC bit / TRUNCATED response per the protocol.
var ErrTruncated = errors.New("wire: truncated message")

// Buffer is a fixed backing array with an independent read/write position
// and a limit, modeled on NSD's buffer.h cursor (position/limit/capacity)
// rather than io.Reader/io.Writer, so callers can seek back to patch
// length fields (e.g. RDLENGTH) after writing variable-length data.
type Buffer struct {
	data     []byte
	position int
	limit    int
}

// NewBuffer wraps an existing byte slice for reading; limit is len(b).
func NewBuffer(b []byte) *Buffer {
	return &Buffer{data: b, position: 0, limit: len(b)}
}

// NewBufferSize allocates a fresh buffer of the given capacity for
// writing; limit starts at the full capacity.
func NewBufferSize(capacity int) *Buffer {
	return &Buffer{data: make([]byte, capacity), position: 0, limit: capacity}
}

// Bytes returns the slice of data up to the current position (the bytes
// written or consumed so far).
func (b *Buffer) Bytes() []byte { return b.data[:b.position] }

// Capacity returns the length of the backing array.
func (b *Buffer) Capacity() int { return len(b.data) }

// Position returns the current cursor offset.
func (b *Buffer) Position() int { return b.position }

// Limit returns the current limit.
func (b *Buffer) Limit() int { return b.limit }

// SetLimit clamps the buffer's limit; used to carve a sub-message view
// (e.g. a single RDATA region) out of a larger buffer.
func (b *Buffer) SetLimit(limit int) { b.limit = limit }

// Remaining reports how many bytes are available before limit.
func (b *Buffer) Remaining() int { return b.limit - b.position }

// Seek repositions the cursor, used for compression-pointer following and
// for patching length fields after the fact.
func (b *Buffer) Seek(pos int) error {
	if pos < 0 || pos > len(b.data) {
		return ErrOverflow
	}
	b.position = pos
	return nil
}

// Skip advances the cursor by n bytes without reading them.
func (b *Buffer) Skip(n int) error {
	if b.position+n > b.limit || b.position+n < 0 {
		return ErrTruncated
	}
	b.position += n
	return nil
}

func (b *Buffer) ReadUint8() (uint8, error) {
	if b.position+1 > b.limit {
		return 0, ErrTruncated
	}
	v := b.data[b.position]
	b.position++
	return v, nil
}

func (b *Buffer) ReadUint16() (uint16, error) {
	if b.position+2 > b.limit {
		return 0, ErrTruncated
	}
	v := binary.BigEndian.Uint16(b.data[b.position:])
	b.position += 2
	return v, nil
}

func (b *Buffer) ReadUint32() (uint32, error) {
	if b.position+4 > b.limit {
		return 0, ErrTruncated
	}
	v := binary.BigEndian.Uint32(b.data[b.position:])
	b.position += 4
	return v, nil
}

// ReadBytes reads n raw bytes and advances the cursor.
func (b *Buffer) ReadBytes(n int) ([]byte, error) {
	if n < 0 || b.position+n > b.limit {
		return nil, ErrTruncated
	}
	v := b.data[b.position : b.position+n]
	b.position += n
	return v, nil
}

// PeekUint8 reads without advancing, used to inspect a compression-pointer
// tag byte before deciding how to consume it.
func (b *Buffer) PeekUint8() (uint8, error) {
	if b.position+1 > b.limit {
		return 0, ErrTruncated
	}
	return b.data[b.position], nil
}

func (b *Buffer) WriteUint8(v uint8) error {
	if b.position+1 > len(b.data) {
		return ErrOverflow
	}
	b.data[b.position] = v
	b.position++
	if b.position > b.limit {
		b.limit = b.position
	}
	return nil
}

func (b *Buffer) WriteUint16(v uint16) error {
	if b.position+2 > len(b.data) {
		return ErrOverflow
	}
	binary.BigEndian.PutUint16(b.data[b.position:], v)
	b.position += 2
	if b.position > b.limit {
		b.limit = b.position
	}
	return nil
}

func (b *Buffer) WriteUint32(v uint32) error {
	if b.position+4 > len(b.data) {
		return ErrOverflow
	}
	binary.BigEndian.PutUint32(b.data[b.position:], v)
	b.position += 4
	if b.position > b.limit {
		b.limit = b.position
	}
	return nil
}

func (b *Buffer) WriteBytes(v []byte) error {
	if b.position+len(v) > len(b.data) {
		return ErrOverflow
	}
	copy(b.data[b.position:], v)
	b.position += len(v)
	if b.position > b.limit {
		b.limit = b.position
	}
	return nil
}

// PatchUint16 overwrites a previously-written uint16 at a fixed offset,
// used to backfill RDLENGTH once the rdata body has been emitted.
func (b *Buffer) PatchUint16(at int, v uint16) error {
	if at+2 > len(b.data) {
		return ErrOverflow
	}
	binary.BigEndian.PutUint16(b.data[at:], v)
	return nil
}

// Truncate resets the cursor and limit back to a previously saved
// position, used to roll a message back to the last complete RRset
// boundary when the size budget is exceeded.
func (b *Buffer) Truncate(pos int) {
	b.position = pos
	b.limit = pos
}
