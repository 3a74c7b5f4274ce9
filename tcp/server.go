package tcp

import (
	"github.com/luciancaetano/relaynet"
	"github.com/luciancaetano/relaynet/internal/mux"
)

type Config = mux.Config
type Hooks = mux.Hooks
type RateLimitConfig = mux.RateLimitConfig

// New creates a relay listening on cfg.Address. Call Run to start serving.
//
// Example:
//
//	cfg := tcp.DefaultConfig(":8412")
//	cfg.RateLimit = tcp.DefaultRateLimitConfig()
//	server, err := tcp.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := server.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
func New(cfg Config) (relaynet.Server, error) {
	m, err := mux.New(cfg)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// DefaultConfig returns a configuration listening on addr with a 1s poll
// interval, 1 MiB payload and outbound limits and the welcome notice on.
func DefaultConfig(addr string) Config {
	return mux.DefaultConfig(addr)
}

// DefaultRateLimitConfig allows 100 frames per second with burst of 200.
func DefaultRateLimitConfig() RateLimitConfig {
	return mux.DefaultRateLimitConfig()
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() RateLimitConfig {
	return RateLimitConfig{Enabled: false}
}
