package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/relaynet"
	"github.com/luciancaetano/relaynet/internal/config"
	"github.com/luciancaetano/relaynet/internal/gateway"
	"github.com/luciancaetano/relaynet/internal/health"
	"github.com/luciancaetano/relaynet/internal/logging"
	"github.com/luciancaetano/relaynet/internal/metrics"
	"github.com/luciancaetano/relaynet/internal/mux"
)

type serveFlags struct {
	configPath string
	address    string
	logLevel   string
	logFormat  string
	gateway    string
	health     string
}

func serveCmd() *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay",
		Long:  "Start the relay, and optionally the WebSocket gateway and health server, with the given configuration.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServeConfig(cmd, flags)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)
			return runServe(ctx, cfg, logger, cmd.OutOrStdout())
		},
	}

	bindServeFlags(cmd, &flags)

	return cmd
}

func bindServeFlags(cmd *cobra.Command, flags *serveFlags) {
	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "Path to configuration file (defaults are used when empty)")
	cmd.Flags().StringVarP(&flags.address, "address", "a", "", "Relay listen address, overrides relay.address")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	cmd.Flags().StringVar(&flags.logFormat, "log-format", "", "Log format: text, json")
	cmd.Flags().StringVar(&flags.gateway, "gateway", "", "Enable the WebSocket gateway on this address")
	cmd.Flags().StringVar(&flags.health, "health", "", "Enable the health server on this address")
}

// loadServeConfig reads the config file, if any, and applies flag overrides.
func loadServeConfig(cmd *cobra.Command, flags serveFlags) (*config.Config, error) {
	cfg := config.Default()
	if flags.configPath != "" {
		loaded, err := config.Load(flags.configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	changed := cmd.Flags().Changed
	if changed("address") {
		cfg.Relay.Address = flags.address
	}
	if changed("log-level") {
		cfg.Log.Level = flags.logLevel
	}
	if changed("log-format") {
		cfg.Log.Format = flags.logFormat
	}
	if changed("gateway") {
		cfg.Gateway.Enabled = true
		cfg.Gateway.Address = flags.gateway
	}
	if changed("health") {
		cfg.Health.Enabled = true
		cfg.Health.Address = flags.health
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// muxConfig translates file configuration into relay settings.
func muxConfig(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) mux.Config {
	mc := mux.DefaultConfig(cfg.Relay.Address)
	mc.PollInterval = cfg.Relay.PollInterval
	mc.ReadChunk = int(cfg.Relay.ReadChunk)
	mc.MaxPayload = uint32(cfg.Relay.MaxPayload)
	mc.MaxOutbound = int(cfg.Relay.MaxOutbound)
	mc.MaxConnections = cfg.Relay.MaxConnections
	mc.IdleTimeout = cfg.Relay.IdleTimeout
	mc.Welcome = cfg.Relay.Welcome
	mc.RateLimit = mux.RateLimitConfig{
		Enabled:           cfg.RateLimit.Enabled,
		MessagesPerSecond: rate.Limit(cfg.RateLimit.MessagesPerSecond),
		Burst:             cfg.RateLimit.Burst,
	}
	mc.Logger = logger
	mc.Metrics = m
	return mc
}

// gatewayConfig translates file configuration into gateway settings.
func gatewayConfig(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *gateway.ServerConfig {
	rl := gateway.NoRateLimit()
	if cfg.RateLimit.Enabled {
		rl = &gateway.RateLimitConfig{
			Enabled:           true,
			MessagesPerSecond: rate.Limit(cfg.RateLimit.MessagesPerSecond),
			Burst:             cfg.RateLimit.Burst,
		}
	}
	return &gateway.ServerConfig{
		Addr:            cfg.Gateway.Address,
		Path:            cfg.Gateway.Path,
		RelayAddr:       cfg.GatewayRelayAddress(),
		RateLimitConfig: rl,
		CheckOrigin:     gateway.AllowOrigins(cfg.Gateway.AllowedOrigins),
		MaxPayload:      uint32(cfg.Relay.MaxPayload),
		Logger:          logger,
		Metrics:         m,
	}
}

// runServe runs the relay and its optional companions until ctx ends.
func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetricsWithRegistry(reg)

	relay, err := mux.New(muxConfig(cfg, logger, m))
	if err != nil {
		return fmt.Errorf("failed to start relay: %w", err)
	}
	fmt.Fprintf(out, "Relay listening on %s\n", relay.Addr())

	if cfg.Health.Enabled {
		hs := health.NewServer(health.ServerConfig{
			Address:      cfg.Health.Address,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			Logger:       logger,
		}, relay, reg)
		if err := hs.Start(); err != nil {
			abort(relay)
			return fmt.Errorf("failed to start health server: %w", err)
		}
		defer hs.Stop()
		fmt.Fprintf(out, "Health server: http://%s/healthz\n", hs.Address())
	}

	var gw *gateway.Server
	if cfg.Gateway.Enabled {
		// Dial the bound port so ":0" style relay addresses still work.
		bound := *cfg
		bound.Relay.Address = relay.Addr().String()
		gw = gateway.New(gatewayConfig(&bound, logger, m))
		if err := gw.Start(ctx); err != nil {
			abort(relay)
			return fmt.Errorf("failed to start gateway: %w", err)
		}
		fmt.Fprintf(out, "WebSocket gateway: ws://%s%s\n", gw.Addr(), cfg.Gateway.Path)
	}

	runErr := relay.Run(ctx)

	if gw != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := gw.Stop(stopCtx); err != nil {
			logger.Warn("gateway shutdown", logging.KeyError, err)
		}
	}

	fmt.Fprintln(out, summary(relay.Stats()))
	return runErr
}

// summary renders relay counters for the shutdown message.
func summary(s relaynet.Stats) string {
	return fmt.Sprintf("Relay stopped. Relayed %s frames, received %s, sent %s.",
		humanize.Comma(int64(s.FramesRelayed)),
		humanize.Bytes(s.BytesIn),
		humanize.Bytes(s.BytesOut))
}

// abort releases a relay whose loop never started.
func abort(relay *mux.Multiplexer) {
	relay.Shutdown()
	_ = relay.Run(context.Background())
}
