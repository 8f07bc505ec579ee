// kpistream - real-time e-commerce KPI pipeline
// SPDX-License-Identifier: AGPL-3.0-or-later

// Command query-api is the entry point for the read-side KPI and alert
// query API. It is the "user" referenced by the error handling design's
// SLO statement: given a successful raw insert, an aggregate reflects the
// event within one flush interval. It never writes to the store and has no
// broker dependency.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kpistream/pipeline/internal/api"
	"github.com/kpistream/pipeline/internal/config"
	"github.com/kpistream/pipeline/internal/logging"
	"github.com/kpistream/pipeline/internal/store"
)

func main() {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("QUERY-API: failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	if err := run(cfg); err != nil {
		logging.Error().Err(err).Msg("QUERY-API: exited with error")
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
			logging.Error().Err(err).Msg("QUERY-API: error closing store")
		}
	}()
	logging.Info().Str("path", cfg.Database.Path).Msg("QUERY-API: store opened")

	checker := api.NewHealthChecker(5 * time.Second)
	checker.Register("store", api.PingChecker(db.Ping))
	httpServer := api.NewQueryServer(&cfg.Server, checker, db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("QUERY-API: shutdown signal received")
		cancel()
	}()

	httpErrCh := make(chan error, 1)
	go func() {
		httpErrCh <- httpServer.ListenAndServe()
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-httpErrCh:
		runErr = err
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("QUERY-API: error shutting down")
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	logging.Info().Msg("QUERY-API: stopped gracefully")
	return nil
}
