// Package protocol defines the relay wire frame and an incremental codec over
// internal/buffer.
//
// Wire layout, all integers little-endian:
//
//	[4 bytes: totalSize = 12 + payloadLength]
//	[4 bytes: kind]
//	[4 bytes: payloadLength]
//	[payloadLength bytes: payload]
package protocol

import (
	"errors"
	"fmt"

	"github.com/luciancaetano/relaynet/internal/buffer"
)

const (
	// HeaderSize counts the totalSize, kind and payloadLength fields.
	HeaderSize = 12

	// DefaultMaxPayload is the payload ceiling used when none is configured.
	DefaultMaxPayload uint32 = 1 << 20 // 1MB

	// MaxPayloadLimit is the highest ceiling a codec accepts.
	MaxPayloadLimit uint32 = 64 << 20
)

// Kind identifies what a frame carries.
type Kind uint32

// KindText is a raw text message. It is the only kind the relay fans out.
const KindText Kind = 1

// String returns a readable kind name.
func (k Kind) String() string {
	if k == KindText {
		return "TEXT"
	}
	return fmt.Sprintf("KIND(%d)", uint32(k))
}

var (
	// ErrIncomplete means the buffer does not hold a whole frame yet.
	ErrIncomplete = errors.New("protocol: incomplete frame")

	// ErrFrameTooLarge is returned when a payload exceeds the codec ceiling
	ErrFrameTooLarge = errors.New("protocol: frame payload exceeds maximum size")

	// ErrMalformedFrame is returned when the header fields disagree with each other
	ErrMalformedFrame = errors.New("protocol: malformed frame header")
)

// Frame is one decoded message.
type Frame struct {
	Kind    Kind
	Payload []byte
}

// Size returns the value of the totalSize field for this frame.
func (f Frame) Size() uint32 {
	return HeaderSize + uint32(len(f.Payload))
}

// String returns a debug representation of the frame.
func (f Frame) String() string {
	return fmt.Sprintf("Frame{Kind=%s, Size=%d, PayloadLen=%d}", f.Kind, f.Size(), len(f.Payload))
}

// Codec encodes frames and incrementally decodes them from a buffer.
type Codec struct {
	maxPayload uint32
}

// NewCodec creates a codec that rejects payloads larger than maxPayload.
// Zero selects DefaultMaxPayload; values above MaxPayloadLimit are clamped.
func NewCodec(maxPayload uint32) *Codec {
	if maxPayload == 0 {
		maxPayload = DefaultMaxPayload
	}
	if maxPayload > MaxPayloadLimit {
		maxPayload = MaxPayloadLimit
	}
	return &Codec{maxPayload: maxPayload}
}

var defaultCodec = NewCodec(DefaultMaxPayload)

// MaxPayload returns the configured payload ceiling.
func (c *Codec) MaxPayload() uint32 {
	return c.maxPayload
}

// Encode serializes kind and payload into a single frame.
func (c *Codec) Encode(kind Kind, payload []byte) ([]byte, error) {
	if uint64(len(payload)) > uint64(c.maxPayload) {
		return nil, fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrFrameTooLarge, len(payload), c.maxPayload)
	}

	b := buffer.New(HeaderSize + len(payload))
	b.WriteUint32LE(HeaderSize + uint32(len(payload)))
	b.WriteUint32LE(uint32(kind))
	b.WriteUint32LE(uint32(len(payload)))
	b.WriteBytes(payload)
	return b.Bytes(), nil
}

// TryDecode consumes exactly one frame from b when a whole frame is present.
//
// It returns ErrIncomplete, leaving b untouched, while fewer than totalSize
// bytes are buffered. A totalSize announcing a payload above the ceiling fails
// with ErrFrameTooLarge before any of it is waited for.
func (c *Codec) TryDecode(b *buffer.Buffer) (Frame, error) {
	if b.Remaining() < HeaderSize {
		return Frame{}, ErrIncomplete
	}

	total, err := b.PeekUint32LE(0)
	if err != nil {
		return Frame{}, ErrIncomplete
	}
	if total < HeaderSize {
		return Frame{}, fmt.Errorf("%w: totalSize %d is smaller than header", ErrMalformedFrame, total)
	}
	if total-HeaderSize > c.maxPayload {
		return Frame{}, fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrFrameTooLarge, total-HeaderSize, c.maxPayload)
	}
	if uint64(b.Remaining()) < uint64(total) {
		return Frame{}, ErrIncomplete
	}

	length, err := b.PeekUint32LE(8)
	if err != nil {
		return Frame{}, ErrIncomplete
	}
	if length != total-HeaderSize {
		return Frame{}, fmt.Errorf("%w: payloadLength %d does not match totalSize %d", ErrMalformedFrame, length, total)
	}

	mark := b.Mark()
	f, err := readFrame(b, length)
	if err != nil {
		// Out-of-range here means the header checks above were bypassed;
		// treat it as not enough data rather than a broken stream.
		b.Rewind(mark)
		return Frame{}, ErrIncomplete
	}
	return f, nil
}

func readFrame(b *buffer.Buffer, length uint32) (Frame, error) {
	if _, err := b.ReadUint32LE(); err != nil {
		return Frame{}, err
	}
	kind, err := b.ReadUint32LE()
	if err != nil {
		return Frame{}, err
	}
	if _, err := b.ReadUint32LE(); err != nil {
		return Frame{}, err
	}
	payload, err := b.ReadBytes(int(length))
	if err != nil {
		return Frame{}, err
	}
	return Frame{Kind: Kind(kind), Payload: payload}, nil
}

// Encode serializes a frame using DefaultMaxPayload.
func Encode(kind Kind, payload []byte) ([]byte, error) {
	return defaultCodec.Encode(kind, payload)
}

// TryDecode decodes one frame from b using DefaultMaxPayload.
func TryDecode(b *buffer.Buffer) (Frame, error) {
	return defaultCodec.TryDecode(b)
}
