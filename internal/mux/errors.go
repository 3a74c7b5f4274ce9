package mux

import (
	"errors"
	"io"

	"github.com/luciancaetano/relaynet"
	"github.com/luciancaetano/relaynet/internal/protocol"
	"github.com/luciancaetano/relaynet/internal/transport"
)

// Close reasons recorded on a Connection when it leaves StateOpen.
var (
	ErrRateLimited        = errors.New(relaynet.ErrMsgRateLimited)
	ErrOutboundOverflow   = errors.New(relaynet.ErrMsgOutboundOverflow)
	ErrIdleTimeout        = errors.New(relaynet.ErrMsgIdleTimeout)
	ErrShutdown           = errors.New(relaynet.ErrMsgServerShutdown)
	ErrTooManyConnections = errors.New(relaynet.ErrMsgTooManyConnections)
)

// ErrAlreadyRunning is returned by a second call to Run.
var ErrAlreadyRunning = errors.New(relaynet.ErrMsgServerRunning)

// reasonLabel maps a close reason to a low-cardinality metric label.
func reasonLabel(err error) string {
	switch {
	case err == nil:
		return "unknown"
	case errors.Is(err, io.EOF):
		return "eof"
	case errors.Is(err, protocol.ErrFrameTooLarge):
		return "frame_too_large"
	case errors.Is(err, protocol.ErrMalformedFrame):
		return "malformed"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrOutboundOverflow):
		return "overflow"
	case errors.Is(err, ErrIdleTimeout):
		return "idle"
	case errors.Is(err, ErrShutdown):
		return "shutdown"
	case errors.Is(err, transport.ErrClosed):
		return "closed"
	default:
		return "io_error"
	}
}
