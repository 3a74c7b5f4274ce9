// Package transport provides the socket primitives the relay loop is built on:
// non-blocking accept, read and write on numbered handles plus a bounded
// readiness wait that can be interrupted from another goroutine.
package transport

import (
	"errors"
	"net"
	"time"
)

var (
	// ErrWouldBlock is returned when an operation cannot progress without blocking.
	ErrWouldBlock = errors.New("transport: operation would block")

	// ErrClosed is returned by operations on a transport after Close.
	ErrClosed = errors.New("transport: closed")

	// ErrUnsupported is returned on platforms without a poll implementation.
	ErrUnsupported = errors.New("transport: not supported on this platform")
)

// Handle identifies one accepted connection.
type Handle int

// Interest asks Wait to watch a handle. Readiness for reading is always
// watched; Write adds readiness for writing.
type Interest struct {
	Handle Handle
	Write  bool
}

// Event reports readiness for one handle.
type Event struct {
	Handle   Handle
	Readable bool
	Writable bool
	// Hangup is set when the peer is gone or the socket is in error.
	Hangup bool
}

// Ready is the result of one Wait call.
type Ready struct {
	// Accept is set when the listening socket has pending connections.
	Accept bool
	// Woken is set when Wake interrupted the wait.
	Woken  bool
	Events []Event
}

// Transport is the readiness-based socket layer consumed by the multiplexer.
//
// Accept, Read, Write, Wait and CloseHandle must only be called from one
// goroutine. Wake may be called from any goroutine.
type Transport interface {
	// Accept returns one pending connection or ErrWouldBlock when none are left.
	Accept() (Handle, net.Addr, error)

	// Read reads available bytes. A closed peer yields io.EOF; no data yet
	// yields ErrWouldBlock.
	Read(h Handle, p []byte) (int, error)

	// Write writes as much of p as the socket accepts without blocking.
	// It returns ErrWouldBlock when nothing could be written.
	Write(h Handle, p []byte) (int, error)

	// Wait blocks until the listener or a watched handle is ready, Wake is
	// called, or timeout elapses. A timeout is not an error.
	Wait(interests []Interest, timeout time.Duration) (Ready, error)

	// Wake interrupts a blocked or upcoming Wait.
	Wake() error

	// CloseHandle releases an accepted connection.
	CloseHandle(h Handle) error

	// Addr returns the listening address.
	Addr() net.Addr

	// Close releases the listening socket and wake channel.
	Close() error
}
