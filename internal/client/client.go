// Package client is a framed TCP client for the relay. A dedicated reader
// goroutine turns the inbound byte stream into frames delivered on a channel,
// so callers never block on the socket to receive.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/luciancaetano/relaynet"
	"github.com/luciancaetano/relaynet/internal/logging"
	"github.com/luciancaetano/relaynet/internal/protocol"
)

// ErrClosed is returned by sends on a closed client.
var ErrClosed = errors.New(relaynet.ErrMsgConnectionClosed)

// Options configures a Client. The zero value is usable.
type Options struct {
	// MaxPayload bounds inbound and outbound payloads; 0 selects the default.
	MaxPayload uint32
	// Buffer is the capacity of the Messages channel; 0 selects 64.
	Buffer int
	// DialTimeout bounds connection setup in Dial; 0 means no timeout
	// beyond the context.
	DialTimeout time.Duration
	Logger      *slog.Logger
}

// Client is one connection to a relay.
type Client struct {
	conn   net.Conn
	codec  *protocol.Codec
	logger *slog.Logger

	msgs    chan protocol.Frame
	closing chan struct{}
	done    chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

// Dial connects to the relay at addr.
func Dial(ctx context.Context, addr string, opts *Options) (*Client, error) {
	if opts == nil {
		opts = &Options{}
	}
	d := net.Dialer{Timeout: opts.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return New(conn, opts), nil
}

// New wraps an established connection and starts its reader.
func New(conn net.Conn, opts *Options) *Client {
	if opts == nil {
		opts = &Options{}
	}
	size := opts.Buffer
	if size <= 0 {
		size = 64
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}

	c := &Client{
		conn:    conn,
		codec:   protocol.NewCodec(opts.MaxPayload),
		logger:  logger.With(logging.KeyRemoteAddr, conn.RemoteAddr().String()),
		msgs:    make(chan protocol.Frame, size),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Send sends text as one TEXT frame.
func (c *Client) Send(text string) error {
	return c.SendFrame(protocol.KindText, []byte(text))
}

// SendFrame encodes and sends one frame. Safe for concurrent use.
func (c *Client) SendFrame(kind protocol.Kind, payload []byte) error {
	data, err := c.codec.Encode(kind, payload)
	if err != nil {
		return err
	}
	_, err = c.Write(data)
	return err
}

// Write sends already framed bytes unchanged. Safe for concurrent use.
func (c *Client) Write(p []byte) (int, error) {
	select {
	case <-c.closing:
		return 0, ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	n, err := c.conn.Write(p)
	if err != nil {
		return n, fmt.Errorf("write: %w", err)
	}
	return n, nil
}

// Messages returns the inbound frame channel. It is closed when the
// connection ends; Err then reports why.
func (c *Client) Messages() <-chan protocol.Frame {
	return c.msgs
}

// Done is closed once the reader has stopped.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that stopped the reader, or nil when the relay
// closed the connection cleanly or Close was called.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// LocalAddr returns the client side of the connection.
func (c *Client) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// Close closes the connection and waits for the reader to stop.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)
		err = c.conn.Close()
	})
	<-c.done
	return err
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.msgs)

	r := protocol.NewReader(c.conn, c.codec)
	for {
		f, err := r.ReadFrame()
		if err != nil {
			c.finish(err)
			return
		}
		select {
		case c.msgs <- f:
		case <-c.closing:
			return
		}
	}
}

func (c *Client) finish(err error) {
	select {
	case <-c.closing:
		return
	default:
	}
	if errors.Is(err, io.EOF) {
		c.logger.Debug("relay closed the connection")
		return
	}

	c.errMu.Lock()
	c.err = err
	c.errMu.Unlock()
	c.logger.Warn("connection lost", logging.KeyError, err)
}
