package ws

import (
	"net/http"
	"testing"
)

// TestNewConfig tests that every parameter lands in the configuration
func TestNewConfig(t *testing.T) {
	t.Parallel()

	cfg := NewConfig(":8081", "127.0.0.1:8412", NoRateLimit(), AllOrigins(), nil, nil)

	if cfg.Addr != ":8081" {
		t.Errorf("Addr = %q, want :8081", cfg.Addr)
	}
	if cfg.RelayAddr != "127.0.0.1:8412" {
		t.Errorf("RelayAddr = %q, want 127.0.0.1:8412", cfg.RelayAddr)
	}
	if cfg.RateLimitConfig.Enabled {
		t.Error("rate limit enabled, want disabled")
	}
}

// TestOrigins tests the origin helpers
func TestOrigins(t *testing.T) {
	t.Parallel()

	req, _ := http.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://other.example")

	if !AllOrigins()(req) {
		t.Error("AllOrigins() rejected a request")
	}
	if AllowOrigins("https://chat.example")(req) {
		t.Error("AllowOrigins() accepted an unlisted origin")
	}
}

// TestNewGateway tests that New returns a stopped gateway
func TestNewGateway(t *testing.T) {
	t.Parallel()

	gw := New(NewConfig("127.0.0.1:0", "127.0.0.1:1", DefaultRateLimitConfig(), AllOrigins(), nil, nil))

	if gw == nil {
		t.Fatal("New() returned nil")
	}
	if gw.SessionCount() != 0 {
		t.Errorf("SessionCount() = %d, want 0", gw.SessionCount())
	}
}
