package ws

import (
	"github.com/luciancaetano/relaynet"
	"github.com/luciancaetano/relaynet/internal/gateway"
)

type RateLimitConfig = gateway.RateLimitConfig
type CheckOriginFn = gateway.CheckOriginFn
type OnConnectFn = gateway.OnConnectFn
type OnDisconnectFn = gateway.OnDisconnectFn
type ServerConfig = *gateway.ServerConfig

// New creates a WebSocket gateway in front of a relay.
//
// Each WebSocket session dials its own relay connection. Binary messages
// are forwarded as raw frame bytes, text messages are wrapped into TEXT
// frames, and every frame from the relay is delivered as one binary
// message.
//
// Example:
//
//	gw := ws.New(ws.NewConfig(":8081", "127.0.0.1:8412", ws.DefaultRateLimitConfig(), ws.AllOrigins(),
//	    func(session relaynet.Conn) {
//	        log.Printf("Session connected: %s", session.ID())
//	    }, nil))
func New(cfg ServerConfig) relaynet.Gateway {
	return gateway.New(cfg)
}

// NewConfig builds a gateway configuration.
//
// Parameters:
//   - addr: The HTTP address to listen on (e.g., ":8081")
//   - relayAddr: The relay every session dials (e.g., "127.0.0.1:8412")
//   - rateLimitConfig: Use DefaultRateLimitConfig() or NoRateLimit(); nil selects the default
//   - checkOrigin: Origin policy. Use AllOrigins() to allow all (dev only)
//   - onConnect, onDisconnect: Optional session callbacks. Can be nil.
func NewConfig(addr, relayAddr string, rateLimitConfig *RateLimitConfig, checkOrigin CheckOriginFn, onConnect OnConnectFn, onDisconnect OnDisconnectFn) ServerConfig {
	return &gateway.ServerConfig{
		Addr:            addr,
		RelayAddr:       relayAddr,
		RateLimitConfig: rateLimitConfig,
		CheckOrigin:     checkOrigin,
		OnConnect:       onConnect,
		OnDisconnect:    onDisconnect,
	}
}

// AllOrigins returns a checkOrigin function that allows all origins
func AllOrigins() CheckOriginFn {
	return gateway.AllowOrigins(nil)
}

// AllowOrigins returns a checkOrigin function accepting only the listed origins
func AllowOrigins(origins ...string) CheckOriginFn {
	return gateway.AllowOrigins(origins)
}

// DefaultRateLimitConfig returns the default rate limit configuration
func DefaultRateLimitConfig() *RateLimitConfig {
	return gateway.DefaultRateLimitConfig()
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return gateway.NoRateLimit()
}
