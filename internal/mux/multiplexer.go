// Package mux implements the relay's single-goroutine readiness loop: it
// accepts connections, reassembles frames from partial reads and fans every
// text frame out to all other connected clients.
package mux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/luciancaetano/relaynet"
	"github.com/luciancaetano/relaynet/internal/logging"
	"github.com/luciancaetano/relaynet/internal/metrics"
	"github.com/luciancaetano/relaynet/internal/protocol"
	"github.com/luciancaetano/relaynet/internal/transport"
)

const (
	// DefaultPollInterval bounds each readiness wait so housekeeping runs without traffic.
	DefaultPollInterval = time.Second

	// DefaultReadChunk is the most bytes taken from one socket per ready event.
	DefaultReadChunk = 4096

	// DefaultMaxOutbound caps the bytes queued for one slow peer. It holds
	// at least one frame of DefaultMaxPayload.
	DefaultMaxOutbound = 2 << 20
)

// RateLimitConfig bounds the frames a single connection may send.
type RateLimitConfig struct {
	Enabled           bool
	MessagesPerSecond rate.Limit
	Burst             int
}

// DefaultRateLimitConfig allows 100 frames per second with a burst of 200.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           true,
		MessagesPerSecond: 100,
		Burst:             200,
	}
}

// Hooks are lifecycle callbacks. All of them run on the loop goroutine and
// must not block.
type Hooks struct {
	// OnOpen is called after a connection is accepted, before any read.
	OnOpen func(conn relaynet.Conn)
	// OnClose is called once the socket is released. reason is the error
	// that moved the connection out of StateOpen; io.EOF for a peer close.
	OnClose func(conn relaynet.Conn, reason error)
	// OnFrame is called for every decoded frame, relayed or not.
	OnFrame func(conn relaynet.Conn, frame protocol.Frame)
}

// Config holds Multiplexer settings. Zero values select defaults.
type Config struct {
	Address        string
	PollInterval   time.Duration
	ReadChunk      int
	MaxPayload     uint32
	MaxOutbound    int
	MaxConnections int           // 0 = unlimited
	IdleTimeout    time.Duration // 0 = disabled
	Welcome        bool
	RateLimit      RateLimitConfig

	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Hooks   Hooks
}

// DefaultConfig returns a configuration listening on address.
func DefaultConfig(address string) Config {
	return Config{
		Address:      address,
		PollInterval: DefaultPollInterval,
		ReadChunk:    DefaultReadChunk,
		MaxPayload:   protocol.DefaultMaxPayload,
		MaxOutbound:  DefaultMaxOutbound,
		Welcome:      true,
	}
}

var (
	_ relaynet.Server = (*Multiplexer)(nil)
	_ relaynet.Conn   = (*Connection)(nil)
)

// Multiplexer owns the listening socket and the connection set. Run drives
// it from one goroutine; Shutdown, Addr and Stats are safe from any other.
type Multiplexer struct {
	cfg     Config
	tr      transport.Transport
	codec   *protocol.Codec
	set     *ConnectionSet
	router  *Router
	logger  *slog.Logger
	metrics *metrics.Metrics

	readBuf   []byte
	interests []transport.Interest
	now       func() time.Time
	pause     func(time.Duration)
	stopped   chan struct{}

	started      atomic.Bool
	running      atomic.Bool
	stopping     atomic.Bool
	shutdownOnce sync.Once

	connections   atomic.Int64
	framesRelayed atomic.Uint64
	bytesIn       atomic.Uint64
	bytesOut      atomic.Uint64
}

// New listens on cfg.Address and returns a Multiplexer ready to Run.
func New(cfg Config) (*Multiplexer, error) {
	tr, err := transport.Listen(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Address, err)
	}
	return NewWithTransport(tr, cfg), nil
}

// NewWithTransport builds a Multiplexer over an existing transport, which it
// takes ownership of.
func NewWithTransport(tr transport.Transport, cfg Config) *Multiplexer {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ReadChunk <= 0 {
		cfg.ReadChunk = DefaultReadChunk
	}
	if cfg.MaxOutbound <= 0 {
		cfg.MaxOutbound = DefaultMaxOutbound
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NopLogger()
	}

	codec := protocol.NewCodec(cfg.MaxPayload)
	// A peer must be able to queue one legal frame without overflowing.
	if minOutbound := int(codec.MaxPayload()) + protocol.HeaderSize; cfg.MaxOutbound < minOutbound {
		cfg.MaxOutbound = minOutbound
	}

	m := &Multiplexer{
		cfg:     cfg,
		tr:      tr,
		codec:   codec,
		set:     NewConnectionSet(),
		logger:  cfg.Logger.With(logging.KeyComponent, "mux"),
		metrics: cfg.Metrics,
		readBuf: make([]byte, cfg.ReadChunk),
		now:     time.Now,
		stopped: make(chan struct{}),
	}
	m.pause = m.backoff
	m.router = NewRouter(m.set, tr, m.codec)
	m.router.sent = func(n int) {
		m.bytesOut.Add(uint64(n))
		m.metrics.RecordBytesSent(n)
	}
	return m
}

// Run drives the event loop until ctx is cancelled or Shutdown is called.
// On exit every connection is flushed best effort and closed, the listener
// is released and nil is returned. Run may only be called once.
func (m *Multiplexer) Run(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	m.running.Store(true)
	defer m.running.Store(false)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			m.Shutdown()
		case <-done:
		}
	}()

	m.logger.Info("relay listening", logging.KeyAddress, m.tr.Addr().String())

	for !m.stopping.Load() {
		m.iterate()
	}

	m.closeAll()
	m.logger.Info("relay stopped")
	return nil
}

// Shutdown asks the loop to stop and interrupts its current wait.
func (m *Multiplexer) Shutdown() {
	m.shutdownOnce.Do(func() {
		m.stopping.Store(true)
		close(m.stopped)
		if err := m.tr.Wake(); err != nil && !errors.Is(err, transport.ErrClosed) {
			m.logger.Warn("wake failed", logging.KeyError, err)
		}
	})
}

// Addr returns the listening address.
func (m *Multiplexer) Addr() net.Addr {
	return m.tr.Addr()
}

// Stats returns a snapshot of relay counters.
func (m *Multiplexer) Stats() relaynet.Stats {
	return relaynet.Stats{
		Running:       m.running.Load(),
		Connections:   int(m.connections.Load()),
		FramesRelayed: m.framesRelayed.Load(),
		BytesIn:       m.bytesIn.Load(),
		BytesOut:      m.bytesOut.Load(),
	}
}

// iterate runs one wait / accept / read / housekeeping / sweep cycle.
func (m *Multiplexer) iterate() {
	m.metrics.RecordIteration()

	ready, err := m.tr.Wait(m.buildInterests(), m.cfg.PollInterval)
	if err != nil {
		if errors.Is(err, transport.ErrClosed) {
			m.logger.Error("transport closed underneath the loop")
			m.stopping.Store(true)
			return
		}
		m.metrics.RecordPollError()
		m.logger.Warn("readiness wait failed", logging.KeyError, err)
		// Wait fails fast on errors like ENOMEM; back off instead of spinning.
		m.pause(m.cfg.PollInterval)
	} else {
		if ready.Accept {
			m.acceptPending()
		}
		for _, ev := range ready.Events {
			m.handleEvent(ev)
		}
	}

	m.housekeep()
	m.sweep()
}

// backoff sleeps for d or until Shutdown.
func (m *Multiplexer) backoff(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-m.stopped:
	}
}

// buildInterests watches every open connection, asking for write
// readiness only where output is queued.
func (m *Multiplexer) buildInterests() []transport.Interest {
	m.interests = m.interests[:0]
	m.set.Each(func(c *Connection) {
		if c.state != relaynet.StateOpen {
			return
		}
		m.interests = append(m.interests, transport.Interest{
			Handle: c.handle,
			Write:  c.hasPending(),
		})
	})
	return m.interests
}

// acceptPending accepts until the listener would block.
func (m *Multiplexer) acceptPending() {
	for {
		h, addr, err := m.tr.Accept()
		if errors.Is(err, transport.ErrWouldBlock) {
			return
		}
		if err != nil {
			m.logger.Warn("accept failed", logging.KeyError, err)
			return
		}

		remote := ""
		if addr != nil {
			remote = addr.String()
		}

		if m.cfg.MaxConnections > 0 && m.set.OpenCount() >= m.cfg.MaxConnections {
			m.logger.Warn("connection rejected",
				logging.KeyRemoteAddr, remote,
				logging.KeyReason, ErrTooManyConnections)
			if err := m.tr.CloseHandle(h); err != nil {
				m.logger.Debug("close rejected socket", logging.KeyError, err)
			}
			continue
		}

		c := newConnection(h, remote, m.cfg.MaxOutbound, m.newLimiter(), m.now())
		m.set.Add(c)
		m.connections.Store(int64(m.set.Len()))
		m.metrics.RecordConnect()

		m.logger.Info("client connected",
			logging.KeyConnID, c.id,
			logging.KeyRemoteAddr, remote,
			logging.KeyCount, m.set.OpenCount())

		if m.cfg.Hooks.OnOpen != nil {
			m.cfg.Hooks.OnOpen(c)
		}
		if m.cfg.Welcome {
			m.sendWelcome(c)
		}
	}
}

func (m *Multiplexer) newLimiter() *rate.Limiter {
	if !m.cfg.RateLimit.Enabled {
		return nil
	}
	return rate.NewLimiter(m.cfg.RateLimit.MessagesPerSecond, m.cfg.RateLimit.Burst)
}

// WelcomeText is the notice sent to a newly accepted client; users counts
// everyone connected including the newcomer.
func WelcomeText(users int) string {
	return fmt.Sprintf("Welcome! There are currently %d user(s) in the chat.\nType '/exit' to leave the chat.", users)
}

func (m *Multiplexer) sendWelcome(c *Connection) {
	data, err := m.codec.Encode(protocol.KindText, []byte(WelcomeText(m.set.OpenCount())))
	if err != nil {
		m.logger.Warn("encode welcome", logging.KeyError, err)
		return
	}
	m.router.Send(c, data)
}

func (m *Multiplexer) handleEvent(ev transport.Event) {
	c, ok := m.set.ByHandle(ev.Handle)
	if !ok || c.state != relaynet.StateOpen {
		return
	}

	if ev.Writable {
		m.router.Flush(c)
	}
	if c.state == relaynet.StateOpen && (ev.Readable || ev.Hangup) {
		m.readFrom(c, ev.Hangup)
	}
}

// readFrom performs one read and relays whatever frames it completes.
func (m *Multiplexer) readFrom(c *Connection, hangup bool) {
	n, err := m.tr.Read(c.handle, m.readBuf)
	if n > 0 {
		c.lastActive = m.now()
		m.bytesIn.Add(uint64(n))
		m.metrics.RecordBytesReceived(n)
		c.AppendReceived(m.readBuf[:n])
		m.dispatch(c)
	}

	switch {
	case err == nil:
	case errors.Is(err, transport.ErrWouldBlock):
		if hangup && n == 0 {
			c.MarkClosing(io.EOF)
		}
	case errors.Is(err, io.EOF):
		c.MarkClosing(io.EOF)
	default:
		c.MarkClosing(err)
	}
}

// dispatch drains completed frames from c and relays text frames in
// arrival order.
func (m *Multiplexer) dispatch(c *Connection) {
	frames, decodeErr := c.DrainFrames(m.codec)

	for _, f := range frames {
		if c.state != relaynet.StateOpen {
			m.metrics.RecordDrop("origin_closing")
			continue
		}
		m.metrics.RecordFrame(f.Kind.String())

		if !c.allow() {
			c.MarkClosing(ErrRateLimited)
			m.metrics.RecordDrop("rate_limited")
			continue
		}

		if m.cfg.Hooks.OnFrame != nil {
			m.cfg.Hooks.OnFrame(c, f)
		}

		if f.Kind != protocol.KindText {
			m.metrics.RecordDrop("unknown_kind")
			m.logger.Debug("frame not relayed",
				logging.KeyConnID, c.id,
				logging.KeyKind, f.Kind.String())
			continue
		}

		delivered, err := m.router.Publish(c.id, f)
		if err != nil {
			m.metrics.RecordDrop("encode")
			m.logger.Warn("publish failed", logging.KeyConnID, c.id, logging.KeyError, err)
			continue
		}
		m.framesRelayed.Add(uint64(delivered))
		m.metrics.RecordFanout(delivered)
	}

	if decodeErr != nil {
		m.metrics.RecordDrop(reasonLabel(decodeErr))
		c.MarkClosing(decodeErr)
	}
}

// housekeep closes connections idle longer than the configured timeout.
func (m *Multiplexer) housekeep() {
	if m.cfg.IdleTimeout <= 0 {
		return
	}
	now := m.now()
	m.set.Each(func(c *Connection) {
		if c.state == relaynet.StateOpen && now.Sub(c.lastActive) > m.cfg.IdleTimeout {
			c.MarkClosing(ErrIdleTimeout)
		}
	})
}

// sweep releases every connection that left StateOpen during this iteration.
func (m *Multiplexer) sweep() {
	if m.set.Sweep(m.release) > 0 {
		m.connections.Store(int64(m.set.Len()))
	}
}

func (m *Multiplexer) release(c *Connection) {
	m.router.Flush(c)

	if err := m.tr.CloseHandle(c.handle); err != nil {
		m.logger.Debug("close socket", logging.KeyConnID, c.id, logging.KeyError, err)
	}
	c.markClosed()
	m.metrics.RecordDisconnect(reasonLabel(c.reason))

	attrs := []any{
		logging.KeyConnID, c.id,
		logging.KeyRemoteAddr, c.remoteAddr,
		logging.KeyReason, reasonLabel(c.reason),
	}
	if pending := c.Buffered(); pending > 0 {
		attrs = append(attrs, "discarded_bytes", pending)
	}
	if errors.Is(c.reason, io.EOF) || errors.Is(c.reason, ErrShutdown) {
		m.logger.Info("client disconnected", attrs...)
	} else {
		m.logger.Warn("client disconnected", append(attrs, logging.KeyError, c.reason)...)
	}

	if m.cfg.Hooks.OnClose != nil {
		m.cfg.Hooks.OnClose(c, c.reason)
	}
}

// closeAll marks every connection closing, releases them and the listener.
func (m *Multiplexer) closeAll() {
	m.set.Each(func(c *Connection) {
		c.MarkClosing(ErrShutdown)
	})
	m.sweep()

	if err := m.tr.Close(); err != nil {
		m.logger.Warn("close listener", logging.KeyError, err)
	}
}
