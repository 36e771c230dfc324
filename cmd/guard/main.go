// Package main runs the volume guard: it tracks external buy volume of one mint
// and invokes the liquidator when the window threshold is crossed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"solana-volume-guard/internal/aggregation"
	"solana-volume-guard/internal/classifier"
	"solana-volume-guard/internal/config"
	"solana-volume-guard/internal/journal"
	"solana-volume-guard/internal/liquidation"
	"solana-volume-guard/internal/listener"
	"solana-volume-guard/internal/solana"
	"solana-volume-guard/internal/storage"
	chstore "solana-volume-guard/internal/storage/clickhouse"
	"solana-volume-guard/internal/storage/memory"
	"solana-volume-guard/internal/storage/migrations"
	pgstore "solana-volume-guard/internal/storage/postgres"
	"solana-volume-guard/internal/tracker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	// Flags override the environment for the values operators change most.
	flag.StringVar(&cfg.TrackedMint, "mint", cfg.TrackedMint, "SPL mint to track")
	flag.StringVar(&cfg.SwapProgram, "program", cfg.SwapProgram, "Swap program used as the log subscription filter")
	threshold := flag.String("threshold", cfg.Threshold.String(), "External buy volume (SOL) that triggers liquidation")
	flag.DurationVar(&cfg.Window, "window", cfg.Window, "Aggregation window")
	flag.DurationVar(&cfg.Cooldown, "cooldown", cfg.Cooldown, "Delay between a breach and the window reset")
	flag.BoolVar(&cfg.SimulateOnly, "simulate", cfg.SimulateOnly, "Log the liquidation instead of invoking it")
	flag.StringVar(&cfg.LiquidatorCmd, "liquidator", cfg.LiquidatorCmd, "Liquidation command line")
	flag.StringVar(&cfg.Journal, "journal", cfg.Journal, "Journal backend: off, memory, postgres, clickhouse")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics HTTP address")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: json or console")
	flag.Parse()

	if cfg.Threshold, err = decimal.NewFromString(*threshold); err != nil {
		fmt.Fprintf(os.Stderr, "invalid --threshold %q: %v\n", *threshold, err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config validation failed:\n%v\n", err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("guard stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func newLogger(format string) (*zap.Logger, error) {
	if format == "console" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	events, triggers, cleanup, err := createStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	var j *journal.Journal
	if events != nil || triggers != nil {
		j = journal.New(journal.Options{Events: events, Triggers: triggers, Logger: logger})
		defer j.Close()
	}

	hub := listener.NewHub(logger)
	hub.Register("metrics", listener.Metrics())
	if j != nil {
		hub.Register("journal", j)
	}

	var liquidator aggregation.Liquidator
	if cfg.LiquidatorCmd != "" {
		cmd, err := liquidation.NewCommandLiquidator(cfg.LiquidatorCmd, logger)
		if err != nil {
			return fmt.Errorf("liquidator: %w", err)
		}
		liquidator = cmd
	}

	var recorder aggregation.OutcomeRecorder
	if j != nil {
		recorder = j
	}

	rpc := solana.NewHTTPClient(cfg.RPCEndpoint)
	svc := tracker.NewService(tracker.ServiceOptions{
		Dial: func(ctx context.Context) (solana.WSClient, error) {
			return solana.NewWSClient(ctx, cfg.WSEndpoint, nil, logger)
		},
		RPC:        rpc,
		Liquidator: liquidator,
		Recorder:   recorder,
		Hub:        hub,
		Resolver: classifier.ResolverConfig{
			ResolveTimeout: cfg.ResolveTimeout,
		},
		DedupCapacity:        cfg.DedupCapacity,
		PriorityQueueSize:    cfg.PriorityQueueSize,
		MaxBackgroundWorkers: int64(cfg.MaxBackgroundWorkers),
		StatusInterval:       cfg.StatusInterval,
		Logger:               logger,
	})

	api := &apiServer{svc: svc, rpc: rpc, events: events, triggers: triggers, logger: logger}
	srv := startHTTPServer(cfg.MetricsAddr, api, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	// The session outlives the signal context; shutdown goes through Stop.
	if err := svc.Start(context.Background(), cfg.ToSession()); err != nil {
		return fmt.Errorf("start tracking: %w", err)
	}

	// SIGHUP reloads the internal wallet set.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			logger.Info("received shutdown signal")
			return stopWithin(svc, 30*time.Second)

		case <-svc.Done():
			err := svc.Err()
			_ = svc.Stop()
			if err == nil {
				err = errors.New("tracking ended unexpectedly")
			}
			return err

		case <-hup:
			wallets := config.ReloadInternalWallets()
			if err := svc.UpdateInternalWallets(wallets); err != nil {
				logger.Warn("reload internal wallets", zap.Error(err))
			}
		}
	}
}

// stopWithin stops the service, giving up after timeout.
func stopWithin(svc *tracker.Service, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- svc.Stop() }()

	select {
	case err := <-done:
		if errors.Is(err, tracker.ErrNotRunning) {
			return nil
		}
		return err
	case <-time.After(timeout):
		return fmt.Errorf("graceful shutdown timed out after %s", timeout)
	}
}

// createStores opens the journal backend. Both stores are nil when journaling is off.
func createStores(ctx context.Context, cfg *config.Config) (storage.EventStore, storage.TriggerStore, func(), error) {
	switch cfg.Journal {
	case config.JournalMemory:
		return memory.NewEventStore(), memory.NewTriggerStore(), func() {}, nil

	case config.JournalPostgres:
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		return pgstore.NewEventStore(pool), pgstore.NewTriggerStore(pool), pool.Close, nil

	case config.JournalClickHouse:
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouseDSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("migrate clickhouse: %w", err)
		}
		return chstore.NewEventStore(conn), chstore.NewTriggerStore(conn), func() { _ = conn.Close() }, nil

	default:
		return nil, nil, func() {}, nil
	}
}
