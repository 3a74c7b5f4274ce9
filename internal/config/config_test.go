package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/luciancaetano/relaynet/internal/protocol"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Relay.Address != "0.0.0.0:8412" {
		t.Errorf("Relay.Address = %s, want 0.0.0.0:8412", cfg.Relay.Address)
	}
	if cfg.Relay.PollInterval != time.Second {
		t.Errorf("Relay.PollInterval = %v, want 1s", cfg.Relay.PollInterval)
	}
	if cfg.Relay.MaxPayload != 1<<20 {
		t.Errorf("Relay.MaxPayload = %d, want %d", cfg.Relay.MaxPayload, 1<<20)
	}
	if cfg.Relay.MaxOutbound < cfg.Relay.MaxPayload+protocol.HeaderSize {
		t.Errorf("Relay.MaxOutbound = %d cannot hold one %d byte frame", cfg.Relay.MaxOutbound, cfg.Relay.MaxPayload+protocol.HeaderSize)
	}
	if !cfg.Relay.Welcome {
		t.Error("Relay.Welcome = false, want true")
	}
	if cfg.RateLimit.MessagesPerSecond != 100 || cfg.RateLimit.Burst != 200 {
		t.Errorf("RateLimit = %+v, want 100/s burst 200", cfg.RateLimit)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %s, want info", cfg.Log.Level)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestParse_ValidConfig(t *testing.T) {
	yamlConfig := `
relay:
  address: "127.0.0.1:9000"
  poll_interval: 250ms
  read_chunk: "8 KiB"
  max_payload: "64KiB"
  max_outbound: 2MiB
  max_connections: 50
  idle_timeout: 5m
  welcome: false

rate_limit:
  enabled: true
  messages_per_second: 10
  burst: 20

gateway:
  enabled: true
  address: ":9001"
  path: /chat
  allowed_origins:
    - "https://example.com"

health:
  enabled: true
  address: "127.0.0.1:9002"

log:
  level: debug
  format: json
`

	cfg, err := Parse([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Relay.Address != "127.0.0.1:9000" {
		t.Errorf("Relay.Address = %s, want 127.0.0.1:9000", cfg.Relay.Address)
	}
	if cfg.Relay.PollInterval != 250*time.Millisecond {
		t.Errorf("Relay.PollInterval = %v, want 250ms", cfg.Relay.PollInterval)
	}
	if cfg.Relay.ReadChunk != 8192 {
		t.Errorf("Relay.ReadChunk = %d, want 8192", cfg.Relay.ReadChunk)
	}
	if cfg.Relay.MaxPayload != 65536 {
		t.Errorf("Relay.MaxPayload = %d, want 65536", cfg.Relay.MaxPayload)
	}
	if cfg.Relay.MaxOutbound != 2<<20 {
		t.Errorf("Relay.MaxOutbound = %d, want %d", cfg.Relay.MaxOutbound, 2<<20)
	}
	if cfg.Relay.MaxConnections != 50 {
		t.Errorf("Relay.MaxConnections = %d, want 50", cfg.Relay.MaxConnections)
	}
	if cfg.Relay.IdleTimeout != 5*time.Minute {
		t.Errorf("Relay.IdleTimeout = %v, want 5m", cfg.Relay.IdleTimeout)
	}
	if cfg.Relay.Welcome {
		t.Error("Relay.Welcome = true, want false")
	}
	if !cfg.RateLimit.Enabled || cfg.RateLimit.Burst != 20 {
		t.Errorf("RateLimit = %+v", cfg.RateLimit)
	}
	if cfg.Gateway.Path != "/chat" {
		t.Errorf("Gateway.Path = %s, want /chat", cfg.Gateway.Path)
	}
	if len(cfg.Gateway.AllowedOrigins) != 1 {
		t.Errorf("len(Gateway.AllowedOrigins) = %d, want 1", len(cfg.Gateway.AllowedOrigins))
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %s, want json", cfg.Log.Format)
	}
}

func TestParse_PlainIntegerByteSize(t *testing.T) {
	cfg, err := Parse([]byte("relay:\n  max_payload: 1024\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Relay.MaxPayload != 1024 {
		t.Errorf("Relay.MaxPayload = %d, want 1024", cfg.Relay.MaxPayload)
	}
}

func TestParse_InvalidByteSize(t *testing.T) {
	_, err := Parse([]byte("relay:\n  max_payload: lots\n"))
	if err == nil {
		t.Fatal("Parse() should fail for unparseable byte size")
	}
	if !strings.Contains(err.Error(), "invalid byte size") {
		t.Errorf("error = %v, want mention of invalid byte size", err)
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("relay: [unclosed"))
	if err == nil {
		t.Error("Parse() should fail on invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "missing relay address",
			mutate:  func(c *Config) { c.Relay.Address = "" },
			wantErr: "relay.address",
		},
		{
			name:    "relay address without port",
			mutate:  func(c *Config) { c.Relay.Address = "localhost" },
			wantErr: "relay.address",
		},
		{
			name:    "zero poll interval",
			mutate:  func(c *Config) { c.Relay.PollInterval = 0 },
			wantErr: "poll_interval",
		},
		{
			name:    "tiny read chunk",
			mutate:  func(c *Config) { c.Relay.ReadChunk = 8 },
			wantErr: "read_chunk",
		},
		{
			name: "payload above hard cap",
			mutate: func(c *Config) {
				c.Relay.MaxPayload = 65 << 20
				c.Relay.MaxOutbound = 128 << 20
			},
			wantErr: "max_payload",
		},
		{
			name:    "outbound smaller than one frame",
			mutate:  func(c *Config) { c.Relay.MaxOutbound = 1024 },
			wantErr: "max_outbound",
		},
		{
			name:    "negative max connections",
			mutate:  func(c *Config) { c.Relay.MaxConnections = -1 },
			wantErr: "max_connections",
		},
		{
			name: "rate limit without rate",
			mutate: func(c *Config) {
				c.RateLimit.Enabled = true
				c.RateLimit.MessagesPerSecond = 0
			},
			wantErr: "messages_per_second",
		},
		{
			name: "gateway path without slash",
			mutate: func(c *Config) {
				c.Gateway.Enabled = true
				c.Gateway.Path = "ws"
			},
			wantErr: "gateway.path",
		},
		{
			name: "health without address",
			mutate: func(c *Config) {
				c.Health.Enabled = true
				c.Health.Address = ""
			},
			wantErr: "health.address",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: "log.level",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: "log.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_DisabledSectionsIgnored(t *testing.T) {
	cfg := Default()
	cfg.Gateway.Address = ""
	cfg.Health.Address = ""
	cfg.RateLimit.MessagesPerSecond = 0

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil for disabled sections", err)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("RELAY_TEST_PORT", "7000")

	tests := []struct {
		input string
		want  string
	}{
		{"${RELAY_TEST_PORT}", "7000"},
		{"$RELAY_TEST_PORT", "7000"},
		{"127.0.0.1:${RELAY_TEST_PORT}", "127.0.0.1:7000"},
		{"${RELAY_TEST_MISSING:-4000}", "4000"},
		{"${RELAY_TEST_PORT:-4000}", "7000"},
		{"${RELAY_TEST_MISSING}", "${RELAY_TEST_MISSING}"},
		{"no vars", "no vars"},
	}

	for _, tt := range tests {
		if got := expandEnvVars(tt.input); got != tt.want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	content := "relay:\n  address: \"127.0.0.1:5555\"\nlog:\n  level: warn\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Relay.Address != "127.0.0.1:5555" {
		t.Errorf("Relay.Address = %s, want 127.0.0.1:5555", cfg.Relay.Address)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %s, want warn", cfg.Log.Level)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Error("Load() should fail for a missing file")
	}
}

func TestGatewayRelayAddress(t *testing.T) {
	tests := []struct {
		relay   string
		gateway string
		want    string
	}{
		{"0.0.0.0:4000", "", "127.0.0.1:4000"},
		{":4000", "", "127.0.0.1:4000"},
		{"10.0.0.5:4000", "", "10.0.0.5:4000"},
		{"0.0.0.0:4000", "relay.internal:4100", "relay.internal:4100"},
	}

	for _, tt := range tests {
		cfg := Default()
		cfg.Relay.Address = tt.relay
		cfg.Gateway.RelayAddress = tt.gateway
		if got := cfg.GatewayRelayAddress(); got != tt.want {
			t.Errorf("GatewayRelayAddress() relay=%q gateway=%q = %q, want %q",
				tt.relay, tt.gateway, got, tt.want)
		}
	}
}

func TestByteSizeString(t *testing.T) {
	if got := ByteSize(1 << 20).String(); got != "1.0 MiB" {
		t.Errorf("ByteSize(1MiB).String() = %q, want %q", got, "1.0 MiB")
	}
	if !strings.Contains(Default().String(), "max_payload: 1.0 MiB") {
		t.Errorf("String() missing human max_payload:\n%s", Default().String())
	}
}
