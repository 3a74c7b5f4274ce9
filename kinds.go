package relaynet

import "github.com/luciancaetano/relaynet/internal/protocol"

// Frame is one decoded wire message.
type Frame = protocol.Frame

// Kind identifies what a frame carries.
type Kind = protocol.Kind

// Frame kinds.
const (
	// KindText is a raw text message, the only kind the relay fans out.
	KindText = protocol.KindText
)

// Close reasons reported to logs and WebSocket peers
const (
	ErrMsgRateLimited        = "rate limit exceeded"
	ErrMsgInvalidFrame       = "invalid frame"
	ErrMsgRelayUnavailable   = "relay unavailable"
	ErrMsgServerShutdown     = "server shutting down"
	ErrMsgServerRunning      = "server already running"
	ErrMsgConnectionClosed   = "connection is closed"
	ErrMsgOutboundOverflow   = "outbound queue overflow"
	ErrMsgIdleTimeout        = "idle timeout"
	ErrMsgTooManyConnections = "too many connections"
)
