// kpistream - real-time e-commerce KPI pipeline
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package metrics exposes Prometheus instrumentation for the stream processor
and alert detector.

# Available Metrics

Ingest:
  - ingest_events_consumed_total{topic}
  - ingest_events_dropped_total{reason}
  - ingest_events_persisted_total{topic}
  - ingest_store_errors_total{kind}
  - store_call_duration_seconds{operation}

Aggregates:
  - aggregates_flush_duration_seconds
  - aggregates_flush_buckets_total{granularity}
  - dedupe_cache_total{result}
  - dedupe_cache_entries

Resilience:
  - store_circuit_breaker_state

Detector:
  - detector_alerts_emitted_total{kpi,direction}
  - detector_tick_duration_seconds
  - detector_tick_errors_total

# Usage

Metrics are package-level prometheus collectors registered via promauto at
import time; the metrics HTTP server just mounts promhttp.Handler():

	http.Handle("/metrics", promhttp.Handler())
	metrics.EventsConsumedTotal.WithLabelValues("events.orders").Inc()
*/
package metrics
