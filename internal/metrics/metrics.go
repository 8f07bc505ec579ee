// kpistream - real-time e-commerce KPI pipeline
// SPDX-License-Identifier: AGPL-3.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the stream processor and alert detector.

var (
	// EventsConsumedTotal counts broker deliveries, by topic.
	EventsConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_events_consumed_total",
			Help: "Total number of broker messages delivered to the processor",
		},
		[]string{"topic"},
	)

	// EventsDroppedTotal counts messages dropped before a store call, by reason.
	EventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_events_dropped_total",
			Help: "Total number of messages dropped without a store write",
		},
		[]string{"reason"}, // malformed_payload, missing_field, bad_enum, duplicate
	)

	// EventsPersistedTotal counts rows newly written to orders/sessions.
	EventsPersistedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_events_persisted_total",
			Help: "Total number of events newly persisted to the raw tables",
		},
		[]string{"topic"},
	)

	// StoreErrorsTotal counts store-call failures, by kind.
	StoreErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_store_errors_total",
			Help: "Total number of store errors encountered by the processor",
		},
		[]string{"kind"}, // transient, fatal
	)

	// StoreCallDuration measures latency of individual store calls.
	StoreCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_call_duration_seconds",
			Help:    "Duration of store gateway calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// FlushDuration measures how long an aggregate flush takes.
	FlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aggregates_flush_duration_seconds",
			Help:    "Duration of the periodic aggregates flush",
			Buckets: prometheus.DefBuckets,
		},
	)

	// FlushBucketsTotal counts buckets written per flush, by granularity.
	FlushBucketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aggregates_flush_buckets_total",
			Help: "Total number of minute/hour buckets written during flushes",
		},
		[]string{"granularity"}, // minute, hour
	)

	// DedupeCacheHitsTotal counts dedupe cache hits/misses.
	DedupeCacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedupe_cache_total",
			Help: "Total number of dedupe cache lookups",
		},
		[]string{"result"}, // hit, miss
	)

	// DedupeCacheSize tracks the current number of tracked event ids.
	DedupeCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dedupe_cache_entries",
			Help: "Current number of entries held in the dedupe cache",
		},
	)

	// CircuitBreakerState exposes the store circuit breaker state (0=closed, 1=half-open, 2=open).
	CircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "store_circuit_breaker_state",
			Help: "Current state of the store circuit breaker",
		},
	)

	// AlertsEmittedTotal counts alert rows actually inserted, by KPI and direction.
	AlertsEmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detector_alerts_emitted_total",
			Help: "Total number of alert rows inserted by the detector",
		},
		[]string{"kpi", "direction"},
	)

	// DetectorTickDuration measures the wall time of one detector tick.
	DetectorTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "detector_tick_duration_seconds",
			Help:    "Duration of one alert detector tick",
			Buckets: prometheus.DefBuckets,
		},
	)

	// DetectorTickErrorsTotal counts ticks that errored and were swallowed.
	DetectorTickErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "detector_tick_errors_total",
			Help: "Total number of detector ticks that encountered an error",
		},
	)
)
