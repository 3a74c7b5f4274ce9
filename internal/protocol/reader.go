package protocol

import (
	"errors"
	"fmt"
	"io"

	"github.com/luciancaetano/relaynet/internal/buffer"
)

const readChunkSize = 4096

// Reader splits a byte stream into frames. Short reads and reads carrying
// several frames are both handled by the incremental codec.
type Reader struct {
	src   io.Reader
	codec *Codec
	buf   *buffer.Buffer
	chunk []byte
	err   error
}

// NewReader creates a frame reader over src. A nil codec uses DefaultMaxPayload.
func NewReader(src io.Reader, codec *Codec) *Reader {
	if codec == nil {
		codec = defaultCodec
	}
	return &Reader{
		src:   src,
		codec: codec,
		buf:   buffer.New(buffer.DefaultSize),
		chunk: make([]byte, readChunkSize),
	}
}

// ReadFrame blocks until one whole frame is available.
//
// A stream ending in the middle of a frame returns io.ErrUnexpectedEOF;
// a stream ending on a frame boundary returns io.EOF.
func (r *Reader) ReadFrame() (Frame, error) {
	for {
		f, err := r.codec.TryDecode(r.buf)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, ErrIncomplete) {
			return Frame{}, err
		}

		if r.err != nil {
			if errors.Is(r.err, io.EOF) && r.buf.Remaining() > 0 {
				return Frame{}, io.ErrUnexpectedEOF
			}
			return Frame{}, r.err
		}

		r.buf.Compact()
		n, err := r.src.Read(r.chunk)
		r.buf.WriteBytes(r.chunk[:n])
		r.err = err
	}
}

// Buffered returns the number of bytes read from the source but not yet
// returned as part of a frame.
func (r *Reader) Buffered() int {
	return r.buf.Remaining()
}

// WriteFrame encodes a frame and writes it to w in one call.
func WriteFrame(w io.Writer, codec *Codec, kind Kind, payload []byte) error {
	if codec == nil {
		codec = defaultCodec
	}
	data, err := codec.Encode(kind, payload)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
