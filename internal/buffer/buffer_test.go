package buffer

import (
	"bytes"
	"errors"
	"testing"
)

// TestNewDefaultSize tests that a non-positive size falls back to DefaultSize
func TestNewDefaultSize(t *testing.T) {
	t.Parallel()

	for _, size := range []int{0, -1} {
		if got := New(size).Cap(); got != DefaultSize {
			t.Errorf("New(%d).Cap() = %d, want %d", size, got, DefaultSize)
		}
	}
}

// TestWriteReadIntegers tests little-endian integer round trips
func TestWriteReadIntegers(t *testing.T) {
	t.Parallel()

	b := New(8)
	b.WriteUint16LE(0xBEEF)
	b.WriteUint32LE(0x01020304)

	want := []byte{0xEF, 0xBE, 0x04, 0x03, 0x02, 0x01}
	if !bytes.Equal(b.Bytes(), want) {
		t.Fatalf("encoded bytes = % x, want % x", b.Bytes(), want)
	}

	v16, err := b.ReadUint16LE()
	if err != nil {
		t.Fatalf("ReadUint16LE() error = %v", err)
	}
	if v16 != 0xBEEF {
		t.Errorf("ReadUint16LE() = %#x, want 0xbeef", v16)
	}

	v32, err := b.ReadUint32LE()
	if err != nil {
		t.Fatalf("ReadUint32LE() error = %v", err)
	}
	if v32 != 0x01020304 {
		t.Errorf("ReadUint32LE() = %#x, want 0x01020304", v32)
	}

	if b.Remaining() != 0 {
		t.Errorf("Remaining() = %d, want 0", b.Remaining())
	}
}

// TestReadOutOfRange tests that every reader refuses to pass the write cursor
// and leaves the read cursor where it was
func TestReadOutOfRange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		written []byte
		read    func(b *Buffer) error
	}{
		{
			name:    "uint16 with one byte",
			written: []byte{0x01},
			read: func(b *Buffer) error {
				_, err := b.ReadUint16LE()
				return err
			},
		},
		{
			name:    "uint32 with three bytes",
			written: []byte{0x01, 0x02, 0x03},
			read: func(b *Buffer) error {
				_, err := b.ReadUint32LE()
				return err
			},
		},
		{
			name:    "uint32 on empty buffer",
			written: nil,
			read: func(b *Buffer) error {
				_, err := b.ReadUint32LE()
				return err
			},
		},
		{
			name:    "bytes longer than written",
			written: []byte("abc"),
			read: func(b *Buffer) error {
				_, err := b.ReadBytes(4)
				return err
			},
		},
		{
			name:    "negative length",
			written: []byte("abc"),
			read: func(b *Buffer) error {
				_, err := b.ReadBytes(-1)
				return err
			},
		},
		{
			name:    "peek past end",
			written: []byte{0x01, 0x02, 0x03, 0x04},
			read: func(b *Buffer) error {
				_, err := b.PeekUint32LE(1)
				return err
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b := New(16)
			b.WriteBytes(tt.written)
			before := b.Mark()

			err := tt.read(b)
			if !errors.Is(err, ErrOutOfRange) {
				t.Fatalf("error = %v, want ErrOutOfRange", err)
			}
			if b.Mark() != before {
				t.Errorf("read cursor moved from %d to %d", before, b.Mark())
			}
			if b.Remaining() != len(tt.written) {
				t.Errorf("Remaining() = %d, want %d", b.Remaining(), len(tt.written))
			}
		})
	}
}

// TestGrowPreservesContent tests that growth keeps previously written bytes
func TestGrowPreservesContent(t *testing.T) {
	t.Parallel()

	b := New(2)
	b.WriteBytes([]byte("ab"))
	b.WriteBytes([]byte("cdefgh"))
	b.WriteUint32LE(7)

	if b.Cap() < 12 {
		t.Fatalf("Cap() = %d, want at least 12", b.Cap())
	}

	got, err := b.ReadBytes(8)
	if err != nil {
		t.Fatalf("ReadBytes() error = %v", err)
	}
	if string(got) != "abcdefgh" {
		t.Errorf("ReadBytes() = %q, want %q", got, "abcdefgh")
	}
}

// TestGrowAtLeastRequested tests that growth adds at least the requested size
func TestGrowAtLeastRequested(t *testing.T) {
	t.Parallel()

	b := New(4)
	b.WriteBytes([]byte("xyzw"))
	b.Grow(100)

	if b.Cap() < 104 {
		t.Errorf("Cap() = %d, want at least 104", b.Cap())
	}
}

// TestPeekDoesNotConsume tests that PeekUint32LE leaves the cursor alone
func TestPeekDoesNotConsume(t *testing.T) {
	t.Parallel()

	b := New(0)
	b.WriteUint32LE(42)
	b.WriteUint32LE(7)

	v, err := b.PeekUint32LE(4)
	if err != nil {
		t.Fatalf("PeekUint32LE() error = %v", err)
	}
	if v != 7 {
		t.Errorf("PeekUint32LE(4) = %d, want 7", v)
	}
	if b.Remaining() != 8 {
		t.Errorf("Remaining() = %d, want 8", b.Remaining())
	}
}

// TestCompact tests that unread bytes move to the start of storage
func TestCompact(t *testing.T) {
	t.Parallel()

	b := New(8)
	b.WriteBytes([]byte("consumed-left"))
	if _, err := b.ReadBytes(9); err != nil {
		t.Fatalf("ReadBytes() error = %v", err)
	}

	b.Compact()

	if b.Mark() != 0 {
		t.Errorf("read cursor = %d after Compact, want 0", b.Mark())
	}
	if string(b.Bytes()) != "left" {
		t.Errorf("Bytes() = %q, want %q", b.Bytes(), "left")
	}

	b.WriteBytes([]byte("over"))
	if string(b.Bytes()) != "leftover" {
		t.Errorf("Bytes() = %q, want %q", b.Bytes(), "leftover")
	}
}

// TestRewind tests restoring a marked read position
func TestRewind(t *testing.T) {
	t.Parallel()

	b := New(0)
	b.WriteBytes([]byte("abcdef"))
	mark := b.Mark()

	if _, err := b.ReadBytes(4); err != nil {
		t.Fatalf("ReadBytes() error = %v", err)
	}
	b.Rewind(mark)
	if b.Remaining() != 6 {
		t.Errorf("Remaining() = %d after Rewind, want 6", b.Remaining())
	}

	b.Rewind(100)
	if b.Remaining() != 6 {
		t.Errorf("Rewind past write cursor changed Remaining() to %d", b.Remaining())
	}
}

// TestReadBytesReturnsCopy tests that mutating the result leaves the buffer intact
func TestReadBytesReturnsCopy(t *testing.T) {
	t.Parallel()

	b := New(0)
	b.WriteBytes([]byte("abc"))
	mark := b.Mark()

	got, _ := b.ReadBytes(3)
	got[0] = 'z'

	b.Rewind(mark)
	if string(b.Bytes()) != "abc" {
		t.Errorf("buffer content = %q, want %q", b.Bytes(), "abc")
	}
}

// BenchmarkWriteUint32LE benchmarks integer appends with growth
func BenchmarkWriteUint32LE(b *testing.B) {
	for i := 0; i < b.N; i++ {
		buf := New(16)
		for j := 0; j < 64; j++ {
			buf.WriteUint32LE(uint32(j))
		}
	}
}
