// kpistream - real-time e-commerce KPI pipeline
// SPDX-License-Identifier: AGPL-3.0-or-later

// Command detector is the entry point for the alert detector loop. It runs
// as its own process with its own store pool and no in-memory communication
// with the ingest side, so a slow or failing detector tick cannot affect
// ingestion.
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
	"github.com/kpistream/pipeline/internal/detector"
	"github.com/kpistream/pipeline/internal/logging"
	"github.com/kpistream/pipeline/internal/store"
)

func main() {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("DETECTOR: failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	if err := run(cfg); err != nil {
		logging.Error().Err(err).Msg("DETECTOR: exited with error")
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
			logging.Error().Err(err).Msg("DETECTOR: error closing store")
		}
	}()
	logging.Info().Str("path", cfg.Database.Path).Msg("DETECTOR: store opened")

	logging.Info().
		Str("kpi", cfg.Detector.KPI).
		Int("baseline_days", cfg.Detector.BaselineDays).
		Float64("threshold_pct", cfg.Detector.ThresholdPct).
		Int("duration_minutes", cfg.Detector.DurationMinutes).
		Msg("DETECTOR: parameters loaded")

	det := detector.New(db, cfg.Detector)

	checker := api.NewHealthChecker(5 * time.Second)
	checker.Register("store", api.PingChecker(db.Ping))
	httpServer := api.NewServer(&cfg.Server, checker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("DETECTOR: shutdown signal received")
		cancel()
	}()

	httpErrCh := make(chan error, 1)
	go func() {
		httpErrCh <- httpServer.ListenAndServe()
	}()

	detErrCh := make(chan error, 1)
	go func() {
		detErrCh <- det.Run(ctx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-detErrCh:
		runErr = err
		cancel()
	case err := <-httpErrCh:
		runErr = err
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("DETECTOR: error shutting down health server")
	}

	if runErr == nil {
		runErr = <-detErrCh
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	logging.Info().Msg("DETECTOR: stopped gracefully")
	return nil
}
