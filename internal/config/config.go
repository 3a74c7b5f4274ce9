// Package config provides configuration parsing and validation for the relay.
package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/luciancaetano/relaynet/internal/protocol"
)

// Config represents the complete relay configuration.
type Config struct {
	Relay     RelayConfig     `yaml:"relay"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Health    HealthConfig    `yaml:"health"`
	Log       LogConfig       `yaml:"log"`
}

// RelayConfig contains the TCP relay settings.
type RelayConfig struct {
	Address        string        `yaml:"address"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	ReadChunk      ByteSize      `yaml:"read_chunk"`
	MaxPayload     ByteSize      `yaml:"max_payload"`
	MaxOutbound    ByteSize      `yaml:"max_outbound"`
	MaxConnections int           `yaml:"max_connections"` // 0 = unlimited
	IdleTimeout    time.Duration `yaml:"idle_timeout"`    // 0 = disabled
	Welcome        bool          `yaml:"welcome"`
}

// RateLimitConfig bounds inbound frames per connection.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	MessagesPerSecond float64 `yaml:"messages_per_second"`
	Burst             int     `yaml:"burst"`
}

// GatewayConfig defines the WebSocket ingress.
type GatewayConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Address        string   `yaml:"address"`
	Path           string   `yaml:"path"`
	RelayAddress   string   `yaml:"relay_address"` // empty = relay.address
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// HealthConfig defines the health and metrics HTTP server.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// LogConfig defines logging output.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// ByteSize is a byte count that accepts plain integers or human strings
// such as "64 KiB" or "1MB".
type ByteSize uint64

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: byte size must be a scalar", value.Line)
	}
	n, err := humanize.ParseBytes(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid byte size %q: %w", value.Line, value.Value, err)
	}
	*b = ByteSize(n)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (b ByteSize) MarshalYAML() (interface{}, error) {
	return b.String(), nil
}

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Relay: RelayConfig{
			Address:        "0.0.0.0:8412",
			PollInterval:   time.Second,
			ReadChunk:      4096,
			MaxPayload:     ByteSize(protocol.DefaultMaxPayload),
			MaxOutbound:    2 << 20,
			MaxConnections: 0,
			IdleTimeout:    0,
			Welcome:        true,
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			MessagesPerSecond: 100,
			Burst:             200,
		},
		Gateway: GatewayConfig{
			Enabled:        false,
			Address:        ":8081",
			Path:           "/ws",
			AllowedOrigins: []string{},
		},
		Health: HealthConfig{
			Enabled: false,
			Address: ":8080",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// envVarRegex matches ${VAR} or $VAR patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references with their values.
// ${VAR:-default} falls back to default; unknown variables are left as written.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		if idx := strings.Index(name, ":-"); idx != -1 {
			if val, ok := os.LookupEnv(name[:idx]); ok {
				return val
			}
			return name[idx+2:]
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if err := validateAddress(c.Relay.Address); err != nil {
		errs = append(errs, fmt.Sprintf("relay.address: %v", err))
	}
	if c.Relay.PollInterval <= 0 {
		errs = append(errs, "relay.poll_interval must be positive")
	}
	if c.Relay.ReadChunk < 64 {
		errs = append(errs, "relay.read_chunk must be at least 64 B")
	}
	if c.Relay.MaxPayload == 0 || c.Relay.MaxPayload > ByteSize(protocol.MaxPayloadLimit) {
		errs = append(errs, fmt.Sprintf("relay.max_payload must be between 1 B and %s",
			ByteSize(protocol.MaxPayloadLimit)))
	}
	if c.Relay.MaxOutbound < c.Relay.MaxPayload+protocol.HeaderSize {
		errs = append(errs, "relay.max_outbound must hold at least one maximum-size frame")
	}
	if c.Relay.MaxConnections < 0 {
		errs = append(errs, "relay.max_connections must not be negative")
	}
	if c.Relay.IdleTimeout < 0 {
		errs = append(errs, "relay.idle_timeout must not be negative")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.MessagesPerSecond <= 0 {
			errs = append(errs, "rate_limit.messages_per_second must be positive")
		}
		if c.RateLimit.Burst < 1 {
			errs = append(errs, "rate_limit.burst must be at least 1")
		}
	}

	if c.Gateway.Enabled {
		if err := validateAddress(c.Gateway.Address); err != nil {
			errs = append(errs, fmt.Sprintf("gateway.address: %v", err))
		}
		if !strings.HasPrefix(c.Gateway.Path, "/") {
			errs = append(errs, "gateway.path must start with /")
		}
	}

	if c.Health.Enabled {
		if err := validateAddress(c.Health.Address); err != nil {
			errs = append(errs, fmt.Sprintf("health.address: %v", err))
		}
	}

	if !isValidLogLevel(c.Log.Level) {
		errs = append(errs, fmt.Sprintf("invalid log.level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}
	if !isValidLogFormat(c.Log.Format) {
		errs = append(errs, fmt.Sprintf("invalid log.format: %s (must be text or json)", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// GatewayRelayAddress returns the address gateway sessions dial.
func (c *Config) GatewayRelayAddress() string {
	if c.Gateway.RelayAddress != "" {
		return c.Gateway.RelayAddress
	}
	host, port, err := net.SplitHostPort(c.Relay.Address)
	if err != nil {
		return c.Relay.Address
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

// String returns the configuration as YAML.
func (c *Config) String() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(data)
}

func validateAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address is required")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch format {
	case "text", "json":
		return true
	default:
		return false
	}
}
