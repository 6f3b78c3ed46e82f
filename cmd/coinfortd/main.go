package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"coinfort/config"
	"coinfort/observability/logging"
	telemetry "coinfort/observability/otel"
	"coinfort/rpc"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis YAML file (overrides COINFORT_GENESIS and config GenesisFile)")
	flag.Parse()

	if err := run(*configFile, *genesisFlag); err != nil {
		fmt.Fprintf(os.Stderr, "coinfortd: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile, genesisOverride string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.Setup("coinfortd", cfg.Environment, logging.Options{
		Level: cfg.Logging.Level,
		File:  cfg.Logging.File,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "coinfortd",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Traces:      cfg.Telemetry.Traces,
		Metrics:     cfg.Telemetry.Metrics,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", slog.Any("error", err))
		}
	}()

	genesisPath := strings.TrimSpace(genesisOverride)
	if genesisPath == "" {
		genesisPath = cfg.GenesisFile
	}
	var gen *config.Genesis
	if genesisPath != "" {
		if gen, err = config.LoadGenesis(genesisPath); err != nil {
			return fmt.Errorf("load genesis: %w", err)
		}
	}

	n, err := newNode(cfg, gen, logger)
	if err != nil {
		return err
	}
	defer n.close()

	secret, err := cfg.Auth.SecretBytes()
	if err != nil {
		return err
	}
	srv, err := rpc.NewServer(rpc.Options{
		Engine:  n.engine,
		Tokens:  n.tokens,
		Oracle:  n.oracle,
		Journal: n.journal,
		Hub:     n.hub,
		Auth:    rpc.AuthConfig{Secret: secret, Issuer: cfg.Auth.Issuer},
		RateLimit: rpc.RateLimit{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
			TrustProxyHeaders: cfg.RateLimit.TrustProxyHeaders,
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}
	logger.Info("coinfortd starting",
		slog.String("storage", cfg.StorageBackend),
		slog.String("custody", n.engine.CustodyAddress().Hex()))
	if err := srv.Serve(ctx, cfg.ListenAddress); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("coinfortd stopped")
	return nil
}
