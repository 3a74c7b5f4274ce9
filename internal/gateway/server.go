// Package gateway bridges WebSocket clients onto the TCP relay. Every
// WebSocket session owns one relay connection: binary messages carry raw
// frame bytes to the relay, text messages are wrapped into TEXT frames, and
// each frame coming back from the relay is sent as one binary message.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/relaynet"
	"github.com/luciancaetano/relaynet/internal/client"
	"github.com/luciancaetano/relaynet/internal/logging"
	"github.com/luciancaetano/relaynet/internal/metrics"
)

// CheckOriginFn validates the Origin of an upgrade request.
type CheckOriginFn = func(r *http.Request) bool

// OnConnectFn is called once a session's relay connection is established,
// before its first message is read. It runs on the session goroutine and
// should return quickly.
type OnConnectFn = func(session relaynet.Conn)

// OnDisconnectFn is called when a session ends. voluntary is true when the
// browser closed the WebSocket normally and false for errors, rate limit
// violations, relay loss or server shutdown.
type OnDisconnectFn = func(session relaynet.Conn, voluntary bool)

// ServerConfig holds gateway settings.
type ServerConfig struct {
	Addr            string
	Path            string // default "/ws"
	RelayAddr       string
	RateLimitConfig *RateLimitConfig
	CheckOrigin     CheckOriginFn
	OnConnect       OnConnectFn
	OnDisconnect    OnDisconnectFn
	MaxPayload      uint32
	DialTimeout     time.Duration
	StopTimeout     time.Duration // bounds the Stop triggered by Start's ctx; default 5s
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
}

// RateLimitConfig defines rate limiting for inbound WebSocket messages.
type RateLimitConfig struct {
	// MessagesPerSecond defines how many messages a session can send per second
	MessagesPerSecond rate.Limit
	// Burst defines the maximum burst size (token bucket capacity)
	Burst int
	// Enabled determines if rate limiting is active
	Enabled bool
}

// DefaultRateLimitConfig allows 100 messages per second with burst of 200.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MessagesPerSecond: 100,
		Burst:             200,
		Enabled:           true,
	}
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{
		Enabled: false,
	}
}

// AllowOrigins accepts requests whose Origin header is listed. An empty list
// or a request without Origin (non-browser clients) is always accepted.
func AllowOrigins(origins []string) CheckOriginFn {
	if len(origins) == 0 {
		return func(*http.Request) bool { return true }
	}
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}

// Server accepts WebSocket sessions and relays them over TCP.
type Server struct {
	addr      string
	path      string
	relayAddr string
	server    *http.Server
	listener  net.Listener
	sessions  sync.Map // map[string]*Session
	wg        sync.WaitGroup

	rateLimitConfig *RateLimitConfig
	clientOpts      client.Options
	stopTimeout     time.Duration

	mu           sync.RWMutex
	running      bool
	stopped      chan struct{}
	upgrader     websocket.Upgrader
	onConnect    OnConnectFn
	onDisconnect OnDisconnectFn

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a gateway. A nil RateLimitConfig selects DefaultRateLimitConfig
// and a nil CheckOrigin allows every origin.
func New(cfg *ServerConfig) *Server {
	if cfg.RateLimitConfig == nil {
		cfg.RateLimitConfig = DefaultRateLimitConfig()
	}
	if cfg.CheckOrigin == nil {
		cfg.CheckOrigin = AllowOrigins(nil)
	}
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	logger = logger.With(logging.KeyComponent, "gateway")

	return &Server{
		addr:            cfg.Addr,
		path:            cfg.Path,
		relayAddr:       cfg.RelayAddr,
		rateLimitConfig: cfg.RateLimitConfig,
		stopTimeout:     cfg.StopTimeout,
		clientOpts: client.Options{
			MaxPayload:  cfg.MaxPayload,
			DialTimeout: cfg.DialTimeout,
			Logger:      logger,
		},
		onConnect:    cfg.OnConnect,
		onDisconnect: cfg.OnDisconnect,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
		logger:  logger,
		metrics: cfg.Metrics,
	}
}

// Start binds the listener and serves in the background. The gateway stops
// when ctx is cancelled or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New(relaynet.ErrMsgServerRunning)
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleWebSocket)

	s.listener = ln
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.stopped = make(chan struct{})
	s.running = true
	server, stopped := s.server, s.stopped
	s.mu.Unlock()

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("gateway serve failed", logging.KeyError, err)
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
			defer cancel()
			if err := s.Stop(stopCtx); err != nil {
				s.logger.Warn("gateway stop failed", logging.KeyError, err)
			}
		case <-stopped:
		}
	}()

	s.logger.Info("gateway listening",
		logging.KeyAddress, ln.Addr().String(),
		"path", s.path,
		"relay", s.relayAddr)
	return nil
}

// Stop closes every session and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopped)
	server := s.server
	s.mu.Unlock()

	s.sessions.Range(func(key, value interface{}) bool {
		if sess, ok := value.(*Session); ok {
			sess.CloseWithCode(ctx, websocket.CloseGoingAway, relaynet.ErrMsgServerShutdown)
		}
		return true
	})

	err := server.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// IsRunning reports whether the gateway is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	n := 0
	s.sessions.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// handleWebSocket upgrades the request and pairs it with a relay connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		s.logger.Debug("upgrade failed", logging.KeyRemoteAddr, r.RemoteAddr, logging.KeyError, err)
		return
	}

	dialCtx, cancel := context.WithTimeout(r.Context(), s.clientOpts.DialTimeout)
	relay, err := client.Dial(dialCtx, s.relayAddr, &s.clientOpts)
	cancel()
	if err != nil {
		s.logger.Warn("relay dial failed",
			logging.KeyRemoteAddr, r.RemoteAddr,
			logging.KeyAddress, s.relayAddr,
			logging.KeyError, err)
		message := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, relaynet.ErrMsgRelayUnavailable)
		conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
		conn.Close()
		return
	}

	sess := NewSession(conn, r.RemoteAddr, relay, s.rateLimitConfig, s.metrics)

	s.mu.RLock()
	if !s.running {
		s.mu.RUnlock()
		sess.CloseWithCode(context.Background(), websocket.CloseGoingAway, relaynet.ErrMsgServerShutdown)
		return
	}
	s.sessions.Store(sess.ID(), sess)
	s.wg.Add(1)
	s.mu.RUnlock()

	s.metrics.RecordSessionOpen()
	go s.handleSession(sess)
}

// handleSession reads browser messages until the session ends.
func (s *Server) handleSession(sess *Session) {
	voluntary := false
	logger := s.logger.With(logging.KeySessionID, sess.ID(), logging.KeyRemoteAddr, sess.RemoteAddr())

	defer func() {
		if s.onDisconnect != nil {
			s.onDisconnect(sess, voluntary)
		}
		s.sessions.Delete(sess.ID())
		sess.Close(context.Background())
		s.metrics.RecordSessionClose()
		logger.Info("session closed", "voluntary", voluntary)
		s.wg.Done()
	}()

	// Set read deadline to prevent indefinite blocking
	sess.ws.SetReadDeadline(time.Now().Add(pongWait))
	sess.ws.SetPongHandler(func(string) error {
		sess.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	logger.Info("session opened")
	if s.onConnect != nil {
		s.onConnect(sess)
	}

	for {
		select {
		case <-sess.Context().Done():
			return
		default:
		}

		msgType, data, err := sess.ws.ReadMessage()
		if err != nil {
			voluntary = websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
			if !voluntary && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("unexpected websocket close", logging.KeyError, err)
			}
			return
		}

		sess.ws.SetReadDeadline(time.Now().Add(pongWait))

		if !sess.CheckRateLimit() {
			logger.Warn("rate limit exceeded")
			sess.CloseWithCode(context.Background(), websocket.ClosePolicyViolation, relaynet.ErrMsgRateLimited)
			return
		}

		if err := sess.forward(msgType, data); err != nil {
			logger.Warn("forward to relay failed", logging.KeyError, err)
			sess.CloseWithCode(context.Background(), websocket.CloseInternalServerErr, relaynet.ErrMsgRelayUnavailable)
			return
		}
		s.metrics.RecordGatewayMessage("in")
	}
}

var (
	_ relaynet.Gateway = (*Server)(nil)
	_ relaynet.Conn    = (*Session)(nil)
)
