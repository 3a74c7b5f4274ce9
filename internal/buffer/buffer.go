// Package buffer implements a growable byte cursor with independent read and
// write positions and little-endian integer helpers.
package buffer

import (
	"encoding/binary"
	"errors"
)

// DefaultSize is the initial capacity used when New is given a non-positive size.
const DefaultSize = 512

// ErrOutOfRange is returned when a read would pass the write cursor.
var ErrOutOfRange = errors.New("buffer: read past end of written data")

// Buffer is a byte sequence with a write cursor and a read cursor.
//
// Unread bytes live in data[r:w]. Reads never advance past w and writes
// grow the backing storage before touching it, so no operation accesses
// memory outside [0, capacity).
type Buffer struct {
	data []byte
	r    int
	w    int
}

// New creates a buffer with the given initial capacity.
func New(size int) *Buffer {
	if size <= 0 {
		size = DefaultSize
	}
	return &Buffer{data: make([]byte, size)}
}

// Grow makes room for at least n more bytes after the write cursor.
// Previously written bytes are preserved.
func (b *Buffer) Grow(n int) {
	if n <= 0 || b.w+n <= len(b.data) {
		return
	}
	size := len(b.data) + n
	if double := 2 * len(b.data); double > size {
		size = double
	}
	data := make([]byte, size)
	copy(data, b.data[:b.w])
	b.data = data
}

// WriteUint16LE appends v in little-endian order.
func (b *Buffer) WriteUint16LE(v uint16) {
	b.Grow(2)
	binary.LittleEndian.PutUint16(b.data[b.w:], v)
	b.w += 2
}

// WriteUint32LE appends v in little-endian order.
func (b *Buffer) WriteUint32LE(v uint32) {
	b.Grow(4)
	binary.LittleEndian.PutUint32(b.data[b.w:], v)
	b.w += 4
}

// WriteBytes appends p as raw bytes.
func (b *Buffer) WriteBytes(p []byte) {
	b.Grow(len(p))
	b.w += copy(b.data[b.w:], p)
}

// Write implements io.Writer. It never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	b.WriteBytes(p)
	return len(p), nil
}

func (b *Buffer) check(n int) error {
	if n < 0 || b.r+n > b.w {
		return ErrOutOfRange
	}
	return nil
}

// ReadUint16LE decodes a little-endian uint16 and advances the read cursor.
// The cursor is left untouched on error.
func (b *Buffer) ReadUint16LE() (uint16, error) {
	if err := b.check(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(b.data[b.r:])
	b.r += 2
	return v, nil
}

// ReadUint32LE decodes a little-endian uint32 and advances the read cursor.
// The cursor is left untouched on error.
func (b *Buffer) ReadUint32LE() (uint32, error) {
	if err := b.check(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(b.data[b.r:])
	b.r += 4
	return v, nil
}

// PeekUint32LE decodes the little-endian uint32 found off bytes past the
// read cursor without consuming anything.
func (b *Buffer) PeekUint32LE(off int) (uint32, error) {
	if off < 0 {
		return 0, ErrOutOfRange
	}
	if err := b.check(off + 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b.data[b.r+off:]), nil
}

// ReadBytes returns a copy of the next n bytes and advances the read cursor.
func (b *Buffer) ReadBytes(n int) ([]byte, error) {
	if err := b.check(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b.data[b.r:b.r+n])
	b.r += n
	return out, nil
}

// Remaining returns the number of unread bytes.
func (b *Buffer) Remaining() int {
	return b.w - b.r
}

// Bytes returns the unread bytes. The slice aliases the buffer and is only
// valid until the next mutation.
func (b *Buffer) Bytes() []byte {
	return b.data[b.r:b.w]
}

// Cap returns the size of the backing storage.
func (b *Buffer) Cap() int {
	return len(b.data)
}

// Mark returns the current read cursor for a later Rewind.
func (b *Buffer) Mark() int {
	return b.r
}

// Rewind moves the read cursor back to a position returned by Mark.
// Positions outside [0, write cursor] are ignored.
func (b *Buffer) Rewind(mark int) {
	if mark < 0 || mark > b.w {
		return
	}
	b.r = mark
}

// Compact moves unread bytes to the start of the backing storage.
func (b *Buffer) Compact() {
	if b.r == 0 {
		return
	}
	n := copy(b.data, b.data[b.r:b.w])
	b.r = 0
	b.w = n
}

// Reset discards all content but keeps the backing storage.
func (b *Buffer) Reset() {
	b.r = 0
	b.w = 0
}
