// kpistream - real-time e-commerce KPI pipeline
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package detector implements the anomaly detector loop: a periodic tick
// that compares a smoothed current KPI value against a seasonality-aware
// historical baseline, gates on threshold and duration, and emits
// deduplicated alert rows.
package detector

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/kpistream/pipeline/internal/config"
	"github.com/kpistream/pipeline/internal/logging"
	"github.com/kpistream/pipeline/internal/metrics"
	"github.com/kpistream/pipeline/internal/store"
)

// Store is the subset of the alert store gateway the detector depends on.
type Store interface {
	LatestBuckets(ctx context.Context, lookbackMinutes, count int) ([]time.Time, error)
	SmoothedCurrent(ctx context.Context, bucket time.Time, kpi string, windowMinutes int) (float64, bool, error)
	Baseline(ctx context.Context, bucket time.Time, kpi string, baselineDays int) (float64, bool, error)
	InsertAlert(ctx context.Context, bucket time.Time, kpi string, current, baseline, deltaPct float64, direction string) (bool, error)
}

// Detector runs the periodic anomaly check for a single (kpi, ...)
// parameter tuple.
type Detector struct {
	store Store

	kpi                  string
	baselineDays         int
	thresholdPct         float64
	minBaseline          float64
	lookbackMinutes      int
	currentWindowMinutes int
	durationMinutes      int

	interval time.Duration

	// queryLimiter bounds the rate at which a single tick issues store
	// calls, so that a burst of buckets (a large duration/lookback window)
	// cannot saturate the store connection with back-to-back queries.
	queryLimiter *rate.Limiter
}

// New builds a Detector from the loaded DetectorConfig.
func New(st Store, cfg config.DetectorConfig) *Detector {
	limit := cfg.MaxStoreQueriesPerSecond
	if limit <= 0 {
		limit = 50
	}
	return &Detector{
		store:                st,
		kpi:                  cfg.KPI,
		baselineDays:         cfg.BaselineDays,
		thresholdPct:         cfg.ThresholdPct,
		minBaseline:          cfg.MinBaseline,
		lookbackMinutes:      cfg.LookbackMinutes,
		currentWindowMinutes: cfg.CurrentWindowMinutes,
		durationMinutes:      cfg.DurationMinutes,
		interval:             time.Duration(cfg.IntervalSeconds) * time.Second,
		queryLimiter:         rate.NewLimiter(rate.Limit(limit), 10),
	}
}

// Run blocks, ticking every interval until ctx is canceled. Each tick's
// error is logged and swallowed; only ctx cancellation stops the loop.
func (d *Detector) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := d.tick(ctx); err != nil {
				metrics.DetectorTickErrorsTotal.Inc()
				logging.Error().Err(err).Str("kpi", d.kpi).Msg("DETECTOR: tick failed")
			}
		}
	}
}

// verdict is the per-bucket evaluation computed while scanning the
// duration-gating window.
type verdict struct {
	bucket    time.Time
	current   float64
	baseline  float64
	deltaPct  float64
	direction string
	passed    bool
}

// tick runs one full evaluation: fetch the gating window, score every
// bucket, and fire for the latest bucket only if all of them passed.
func (d *Detector) tick(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.DetectorTickDuration.Observe(time.Since(start).Seconds()) }()

	if err := store.ValidateKPI(d.kpi); err != nil {
		return err
	}

	if err := d.queryLimiter.Wait(ctx); err != nil {
		return err
	}
	buckets, err := d.store.LatestBuckets(ctx, d.lookbackMinutes, d.durationMinutes)
	if err != nil {
		return err
	}
	if len(buckets) < d.durationMinutes {
		// Not enough history yet within the lookback window; emit nothing.
		return nil
	}

	verdicts := make([]verdict, 0, len(buckets))
	for _, bucket := range buckets {
		v, ok, err := d.evaluate(ctx, bucket)
		if err != nil {
			return err
		}
		if !ok {
			// Missing current/baseline data aborts the whole tick, no alert.
			return nil
		}
		verdicts = append(verdicts, v)
	}

	for _, v := range verdicts {
		if !v.passed {
			// Duration gating: every bucket in the window must independently
			// cross the threshold, or no alert fires this tick.
			return nil
		}
	}

	latest := verdicts[len(verdicts)-1]
	if err := d.queryLimiter.Wait(ctx); err != nil {
		return err
	}
	inserted, err := d.store.InsertAlert(ctx, latest.bucket, d.kpi, latest.current, latest.baseline, latest.deltaPct, latest.direction)
	if err != nil {
		return err
	}
	if inserted {
		metrics.AlertsEmittedTotal.WithLabelValues(d.kpi, latest.direction).Inc()
		logging.Info().
			Str("kpi", d.kpi).
			Time("bucket", latest.bucket).
			Float64("current", latest.current).
			Float64("baseline", latest.baseline).
			Float64("delta_pct", latest.deltaPct).
			Str("direction", latest.direction).
			Msg("DETECTOR: alert emitted")
	}
	return nil
}

// evaluate computes the verdict for a single bucket. ok is false when the
// bucket must abort the whole tick (missing current, missing/tiny baseline);
// in that case the returned verdict is a zero value and the caller must not
// use it.
func (d *Detector) evaluate(ctx context.Context, bucket time.Time) (verdict, bool, error) {
	if err := d.queryLimiter.Wait(ctx); err != nil {
		return verdict{}, false, err
	}
	current, ok, err := d.store.SmoothedCurrent(ctx, bucket, d.kpi, d.currentWindowMinutes)
	if err != nil {
		return verdict{}, false, err
	}
	if !ok {
		return verdict{}, false, nil
	}

	if err := d.queryLimiter.Wait(ctx); err != nil {
		return verdict{}, false, err
	}
	baseline, ok, err := d.store.Baseline(ctx, bucket, d.kpi, d.baselineDays)
	if err != nil {
		return verdict{}, false, err
	}
	if !ok || baseline < d.minBaseline {
		return verdict{}, false, nil
	}

	deltaPct := (current - baseline) / baseline
	direction := "down"
	if deltaPct > 0 {
		direction = "up"
	}

	// Strict inequality both ways: delta_pct == threshold does not trigger,
	// nor does delta_pct == 0.
	passed := deltaPct > d.thresholdPct || deltaPct < -d.thresholdPct

	return verdict{
		bucket:    bucket,
		current:   current,
		baseline:  baseline,
		deltaPct:  deltaPct,
		direction: direction,
		passed:    passed,
	}, true, nil
}
