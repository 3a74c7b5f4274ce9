package mux

import (
	"errors"
	"fmt"

	"github.com/luciancaetano/relaynet"
	"github.com/luciancaetano/relaynet/internal/protocol"
	"github.com/luciancaetano/relaynet/internal/transport"
)

// Writer is the non-blocking write half of a transport.
type Writer interface {
	Write(h transport.Handle, p []byte) (int, error)
}

// Router fans a frame out to every open connection except its origin.
//
// Writes never block: whatever the socket does not take is queued on the
// connection and flushed when the loop sees write readiness. A peer whose
// queue would exceed its limit, or whose write fails, is marked closing.
type Router struct {
	set   *ConnectionSet
	w     Writer
	codec *protocol.Codec

	// sent observes bytes handed to the socket.
	sent func(n int)
}

// NewRouter creates a router delivering to the connections in set.
func NewRouter(set *ConnectionSet, w Writer, codec *protocol.Codec) *Router {
	if codec == nil {
		codec = protocol.NewCodec(0)
	}
	return &Router{set: set, w: w, codec: codec}
}

// Publish encodes f once and delivers it to every open connection other
// than originID. It returns the number of peers the frame was written or
// queued to.
func (r *Router) Publish(originID string, f protocol.Frame) (int, error) {
	data, err := r.codec.Encode(f.Kind, f.Payload)
	if err != nil {
		return 0, fmt.Errorf("encode frame: %w", err)
	}

	delivered := 0
	r.set.Each(func(c *Connection) {
		if c.id == originID || c.state != relaynet.StateOpen {
			return
		}
		if r.Send(c, data) {
			delivered++
		}
	})
	return delivered, nil
}

// Send delivers already encoded bytes to one open connection. It reports
// whether the bytes were written or queued.
func (r *Router) Send(c *Connection, data []byte) bool {
	if c.state != relaynet.StateOpen {
		return false
	}

	// Preserve ordering behind anything already queued.
	if c.hasPending() {
		if err := c.enqueue(data); err != nil {
			c.MarkClosing(err)
			return false
		}
		return true
	}

	n, err := r.w.Write(c.handle, data)
	if n > 0 {
		r.observe(n)
	}
	if err != nil && !errors.Is(err, transport.ErrWouldBlock) {
		c.MarkClosing(err)
		return false
	}
	if n < len(data) {
		if err := c.enqueue(data[n:]); err != nil {
			c.MarkClosing(err)
			return false
		}
	}
	return true
}

// Flush writes as much queued output as the socket accepts. A closing
// connection is flushed too, best effort, so queued bytes can drain
// before release.
func (r *Router) Flush(c *Connection) {
	if !c.hasPending() || c.state == relaynet.StateClosed {
		return
	}
	n, err := r.w.Write(c.handle, c.outbound)
	if n > 0 {
		c.consume(n)
		r.observe(n)
	}
	if err != nil && !errors.Is(err, transport.ErrWouldBlock) {
		c.MarkClosing(err)
	}
}

func (r *Router) observe(n int) {
	if r.sent != nil {
		r.sent(n)
	}
}
