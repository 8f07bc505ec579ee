// kpistream - real-time e-commerce KPI pipeline
// SPDX-License-Identifier: AGPL-3.0-or-later

// Command processor is the entry point for the stream processor (spec
// component E): it wires the broker subscriber, store gateway, dedupe
// cache, and aggregates buffer, then runs the ingest loop until a shutdown
// signal arrives.
//
// Startup order: store pool, then broker consumer, then the flush task
// (started inside the processor's Run). Shutdown reverses that order:
// flush task and consumers stop first (inside Run), the store pool is
// closed last.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/kpistream/pipeline/internal/api"
	"github.com/kpistream/pipeline/internal/broker"
	"github.com/kpistream/pipeline/internal/config"
	"github.com/kpistream/pipeline/internal/ingest"
	"github.com/kpistream/pipeline/internal/logging"
	"github.com/kpistream/pipeline/internal/store"
)

func main() {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("PROCESSOR: failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	if err := run(cfg); err != nil {
		logging.Error().Err(err).Msg("PROCESSOR: exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	db, err := store.Open(&cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("PROCESSOR: error closing store")
		}
	}()
	logging.Info().Str("path", cfg.Database.Path).Msg("PROCESSOR: store opened")

	if cfg.NATS.Embedded {
		es, err := broker.StartEmbeddedServer(broker.EmbeddedServerConfig{
			Port:     cfg.NATS.EmbeddedPort,
			StoreDir: cfg.NATS.EmbeddedStoreDir,
		})
		if err != nil {
			return err
		}
		defer es.Shutdown()
		cfg.NATS.URL = es.ClientURL()
	}

	sub, err := broker.New(&cfg.NATS, watermill.NewSlogLogger(logging.NewSlogLogger()))
	if err != nil {
		return err
	}
	defer func() {
		if err := sub.Close(); err != nil {
			logging.Error().Err(err).Msg("PROCESSOR: error closing broker subscriber")
		}
	}()
	logging.Info().Str("url", cfg.NATS.URL).Msg("PROCESSOR: broker subscriber ready")

	proc := ingest.New(sub, db, cfg.NATS, cfg.Ingest)

	checker := api.NewHealthChecker(5 * time.Second)
	checker.Register("store", api.PingChecker(db.Ping))
	httpServer := api.NewServer(&cfg.Server, checker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("PROCESSOR: shutdown signal received")
		cancel()
	}()

	httpErrCh := make(chan error, 1)
	go func() {
		httpErrCh <- httpServer.ListenAndServe()
	}()

	procErrCh := make(chan error, 1)
	go func() {
		procErrCh <- proc.Run(ctx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-procErrCh:
		runErr = err
		cancel()
	case err := <-httpErrCh:
		runErr = err
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("PROCESSOR: error shutting down health server")
	}

	if runErr == nil {
		runErr = <-procErrCh
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	logging.Info().Msg("PROCESSOR: stopped gracefully")
	return nil
}
