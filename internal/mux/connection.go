package mux

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/relaynet"
	"github.com/luciancaetano/relaynet/internal/buffer"
	"github.com/luciancaetano/relaynet/internal/protocol"
	"github.com/luciancaetano/relaynet/internal/transport"
)

// Connection is the relay's view of one accepted socket: its reassembly
// buffer, pending output and lifecycle state. It is owned by the loop
// goroutine and never shared.
type Connection struct {
	id         string
	handle     transport.Handle
	remoteAddr string
	state      relaynet.State

	inbound     *buffer.Buffer
	outbound    []byte
	maxOutbound int

	limiter    *rate.Limiter
	lastActive time.Time
	reason     error
}

func newConnection(h transport.Handle, remoteAddr string, maxOutbound int, limiter *rate.Limiter, now time.Time) *Connection {
	return &Connection{
		id:          uuid.New().String(),
		handle:      h,
		remoteAddr:  remoteAddr,
		state:       relaynet.StateOpen,
		inbound:     buffer.New(buffer.DefaultSize),
		maxOutbound: maxOutbound,
		limiter:     limiter,
		lastActive:  now,
	}
}

// ID returns the identifier assigned on accept.
func (c *Connection) ID() string {
	return c.id
}

// RemoteAddr returns the peer address.
func (c *Connection) RemoteAddr() string {
	return c.remoteAddr
}

// State returns the lifecycle state.
func (c *Connection) State() relaynet.State {
	return c.state
}

// Reason returns why the connection left StateOpen, or nil while open.
func (c *Connection) Reason() error {
	return c.reason
}

// AppendReceived adds freshly read bytes to the reassembly buffer.
func (c *Connection) AppendReceived(p []byte) {
	c.inbound.WriteBytes(p)
}

// DrainFrames decodes every complete frame currently buffered, in arrival
// order. Leftover partial bytes are compacted to the buffer start.
//
// A decode failure is returned together with the frames assembled before it;
// the connection must not be read from again.
func (c *Connection) DrainFrames(codec *protocol.Codec) ([]protocol.Frame, error) {
	var frames []protocol.Frame
	defer c.inbound.Compact()

	for {
		f, err := codec.TryDecode(c.inbound)
		if errors.Is(err, protocol.ErrIncomplete) {
			return frames, nil
		}
		if err != nil {
			return frames, err
		}
		frames = append(frames, f)
	}
}

// Buffered returns the number of received bytes not yet forming a frame.
func (c *Connection) Buffered() int {
	return c.inbound.Remaining()
}

// MarkClosing moves an open connection to StateClosing. The first reason
// recorded wins; later calls are no-ops.
func (c *Connection) MarkClosing(reason error) {
	if c.state != relaynet.StateOpen {
		return
	}
	c.state = relaynet.StateClosing
	c.reason = reason
}

func (c *Connection) markClosed() {
	c.state = relaynet.StateClosed
}

// allow reports whether one more inbound frame fits the rate limit.
func (c *Connection) allow() bool {
	if c.limiter == nil {
		return true
	}
	return c.limiter.Allow()
}

// enqueue appends unsent bytes to the outbound queue.
func (c *Connection) enqueue(p []byte) error {
	if c.maxOutbound > 0 && len(c.outbound)+len(p) > c.maxOutbound {
		return ErrOutboundOverflow
	}
	c.outbound = append(c.outbound, p...)
	return nil
}

// hasPending reports whether output is waiting for write readiness.
func (c *Connection) hasPending() bool {
	return len(c.outbound) > 0
}

// consume drops n flushed bytes from the front of the outbound queue.
func (c *Connection) consume(n int) {
	if n >= len(c.outbound) {
		c.outbound = c.outbound[:0]
		return
	}
	c.outbound = append(c.outbound[:0], c.outbound[n:]...)
}
