package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"nhbmarket/config"
	"nhbmarket/core"
	"nhbmarket/core/genesis"
	"nhbmarket/native/common"
	"nhbmarket/observability/logging"
	telemetry "nhbmarket/observability/otel"
	"nhbmarket/rpc"
	"nhbmarket/rpc/middleware"
	"nhbmarket/services/indexer"
	"nhbmarket/storage"
)

const (
	serviceName    = "nhb-market"
	genesisPathEnv = "NHB_GENESIS"
	envEnv         = "NHB_ENV"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis YAML file (overrides NHB_GENESIS and config GenesisFile)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configFile, *genesisFlag, os.LookupEnv); err != nil {
		slog.Error("nhb-market exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, genesisFlag string, lookup envLookupFunc) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	env := cfg.Env
	if value, ok := lookup(envEnv); ok && strings.TrimSpace(value) != "" {
		env = strings.TrimSpace(value)
	}
	logger := logging.Setup(serviceName, env, logging.FileOptions{Path: cfg.LogFile})
	slog.SetDefault(logger)

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: serviceName,
		Environment: env,
		NetworkName: cfg.NetworkName,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	var spec *genesis.GenesisSpec
	if path := resolveGenesisPath(genesisFlag, cfg.GenesisFile, lookup); path != "" {
		spec, err = genesis.LoadGenesisSpec(path)
		if err != nil {
			return err
		}
		logger.Info("genesis spec loaded", "path", path, "allocations", len(spec.Allocations()))
	} else {
		logger.Warn("no genesis file configured; starting without allocations")
	}

	db, err := storage.Open(cfg.DBBackend, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open %s database: %w", cfg.DBBackend, err)
	}
	defer db.Close()

	node, err := core.NewNode(db,
		core.WithGenesis(spec),
		core.WithPauses(pauseSet{cfg.Pauses, spec}),
		core.WithQuota(cfg.Quotas.Marketplace.Common()),
		core.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}
	if err := node.VerifyEvents(); err != nil {
		return fmt.Errorf("event log integrity: %w", err)
	}
	logger.Info("marketplace ledger ready", "chain_id", node.ChainID(), "event_head", node.EventHead())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var indexerDone <-chan error
	if cfg.Indexer.Enabled() {
		ix, err := indexer.Open(cfg.Indexer.DatabaseURL, logger)
		if err != nil {
			return err
		}
		defer ix.Close()
		indexerDone = superviseIndexer(ctx, cancel, func(ctx context.Context) error { return ix.Run(ctx, node) }, logger)
	}

	server := rpc.NewServer(node, rpcConfig(cfg), logger)
	rpcErr := server.Serve(ctx, cfg.RPCAddress)
	cancel()
	if indexerDone != nil {
		if err := <-indexerDone; err != nil {
			return fmt.Errorf("indexer: %w", err)
		}
	}
	if rpcErr != nil && !errors.Is(rpcErr, context.Canceled) {
		return rpcErr
	}
	logger.Info("nhb-market stopped")
	return nil
}

func rpcConfig(cfg *config.Config) rpc.Config {
	return rpc.Config{
		Auth: middleware.AuthConfig{
			HMACSecret: cfg.RPC.JWTSecret,
			Issuer:     cfg.RPC.JWTIssuer,
		},
		RateLimit: middleware.RateLimit{
			RequestsPerMinute: float64(cfg.RPC.RequestsPerMinute),
			Burst:             cfg.RPC.Burst,
		},
		AllowedOrigins: append([]string{}, cfg.RPC.AllowedOrigins...),
		MaxConnections: cfg.RPC.MaxConnections,
	}
}

// superviseIndexer runs the projection in the background. A failed
// projection is logged when it happens and cancels the daemon, so the RPC
// surface never outlives it.
func superviseIndexer(ctx context.Context, cancel context.CancelFunc, run func(context.Context) error, logger *slog.Logger) <-chan error {
	done := make(chan error, 1)
	go func() {
		err := run(ctx)
		if err != nil {
			logger.Error("indexer stopped; shutting down", slog.Any("error", err))
			cancel()
		}
		done <- err
	}()
	return done
}

// pauseSet pauses a module when either the operator config or the genesis
// document switches it off.
type pauseSet struct {
	cfg     config.Pauses
	genesis *genesis.GenesisSpec
}

var _ common.PauseView = pauseSet{}

func (p pauseSet) IsPaused(module string) bool {
	return p.cfg.IsPaused(module) || p.genesis.IsPaused(module)
}

type envLookupFunc func(string) (string, bool)

func resolveGenesisPath(cliPath, cfgPath string, lookup envLookupFunc) string {
	if trimmed := strings.TrimSpace(cliPath); trimmed != "" {
		return trimmed
	}
	if lookup != nil {
		if value, ok := lookup(genesisPathEnv); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	return strings.TrimSpace(cfgPath)
}
