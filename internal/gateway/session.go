package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/relaynet"
	"github.com/luciancaetano/relaynet/internal/client"
	"github.com/luciancaetano/relaynet/internal/metrics"
	"github.com/luciancaetano/relaynet/internal/protocol"
)

// ErrSessionClosed is returned when sending on a closed session.
var ErrSessionClosed = errors.New(relaynet.ErrMsgConnectionClosed)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	outboxSize = 256
)

// Session pairs one browser WebSocket with its own relay connection.
//
// Two goroutines run per session: relayPump reads frames from the relay and
// queues them on outbox, writePump drains outbox onto the WebSocket and
// keeps it alive with pings. The read side is driven by the server's
// handleSession.
type Session struct {
	id     uuid.UUID
	ws     *websocket.Conn
	relay  *client.Client
	remote string

	life context.Context
	stop context.CancelFunc

	outbox chan []byte

	// closeMu guards closed and outbox closure. Senders hold it shared.
	closeMu sync.RWMutex
	closed  bool

	limiter *rate.Limiter
	metrics *metrics.Metrics
}

// NewSession wires ws to relay and starts both pumps.
func NewSession(ws *websocket.Conn, remote string, relay *client.Client, rl *RateLimitConfig, m *metrics.Metrics) *Session {
	life, stop := context.WithCancel(context.Background())

	s := &Session{
		id:      uuid.New(),
		ws:      ws,
		relay:   relay,
		remote:  remote,
		life:    life,
		stop:    stop,
		outbox:  make(chan []byte, outboxSize),
		metrics: m,
	}
	if rl != nil && rl.Enabled {
		s.limiter = rate.NewLimiter(rl.MessagesPerSecond, rl.Burst)
	}

	go s.writePump()
	go s.relayPump()

	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id.String()
}

// RemoteAddr returns the browser's remote address.
func (s *Session) RemoteAddr() string {
	return s.remote
}

// State reports open until the session is closed.
func (s *Session) State() relaynet.State {
	if s.IsAlive() {
		return relaynet.StateOpen
	}
	return relaynet.StateClosed
}

// Context is cancelled when the session ends.
func (s *Session) Context() context.Context {
	return s.life
}

// Send queues one frame for the browser.
func (s *Session) Send(ctx context.Context, kind protocol.Kind, payload []byte) error {
	data, err := protocol.Encode(kind, payload)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return s.enqueue(ctx, data)
}

// enqueue blocks until data is queued, ctx ends or the session stops.
func (s *Session) enqueue(ctx context.Context, data []byte) error {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()

	if s.closed {
		return ErrSessionClosed
	}
	select {
	case s.outbox <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.life.Done():
		return ErrSessionClosed
	}
}

// forward passes one browser message to the relay. Binary messages are
// already framed; text messages become a TEXT frame.
func (s *Session) forward(msgType int, data []byte) error {
	switch msgType {
	case websocket.BinaryMessage:
		_, err := s.relay.Write(data)
		return err
	case websocket.TextMessage:
		return s.relay.Send(string(data))
	}
	return nil
}

// Close closes the session with a normal closure.
func (s *Session) Close(ctx context.Context) error {
	return s.CloseWithCode(ctx, websocket.CloseNormalClosure, "")
}

// CloseWithCode sends a close frame with code and reason, then releases the
// WebSocket and the relay connection. Later calls are no-ops.
func (s *Session) CloseWithCode(ctx context.Context, code int, reason string) error {
	// Unblock pending senders before taking the exclusive lock.
	s.stop()

	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return nil
	}
	s.closed = true
	close(s.outbox)
	s.closeMu.Unlock()

	deadline := time.Now().Add(time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)

	s.relay.Close()
	return s.ws.Close()
}

// IsAlive reports whether the session has not been closed.
func (s *Session) IsAlive() bool {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	return !s.closed
}

// CheckRateLimit reports whether one more inbound message is allowed.
func (s *Session) CheckRateLimit() bool {
	return s.limiter == nil || s.limiter.Allow()
}

// relayPump turns every relay frame into one binary message. When the relay
// goes away the session is closed.
func (s *Session) relayPump() {
	for f := range s.relay.Messages() {
		data, err := protocol.Encode(f.Kind, f.Payload)
		if err != nil {
			continue
		}
		if s.enqueue(s.life, data) != nil {
			return
		}
	}
	s.CloseWithCode(context.Background(), websocket.CloseGoingAway, relaynet.ErrMsgRelayUnavailable)
}

// writePump owns WebSocket data writes. A failed write ends the session's
// context and drops the socket so the reader in handleSession returns.
func (s *Session) writePump() {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	fail := func() {
		s.stop()
		s.ws.Close()
	}

	for {
		select {
		case data, ok := <-s.outbox:
			if !ok {
				return
			}
			s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
				fail()
				return
			}
			s.metrics.RecordGatewayMessage("out")

		case <-ping.C:
			s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				fail()
				return
			}

		case <-s.life.Done():
			return
		}
	}
}
