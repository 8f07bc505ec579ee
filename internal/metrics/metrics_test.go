// kpistream - real-time e-commerce KPI pipeline
// SPDX-License-Identifier: AGPL-3.0-or-later

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestEventsConsumedTotal(t *testing.T) {
	EventsConsumedTotal.Reset()

	EventsConsumedTotal.WithLabelValues("events.orders").Inc()
	EventsConsumedTotal.WithLabelValues("events.orders").Inc()
	EventsConsumedTotal.WithLabelValues("events.sessions").Inc()

	if got := testutil.ToFloat64(EventsConsumedTotal.WithLabelValues("events.orders")); got != 2 {
		t.Errorf("orders count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(EventsConsumedTotal.WithLabelValues("events.sessions")); got != 1 {
		t.Errorf("sessions count = %v, want 1", got)
	}
}

func TestEventsDroppedTotal(t *testing.T) {
	EventsDroppedTotal.Reset()

	EventsDroppedTotal.WithLabelValues("duplicate").Inc()
	EventsDroppedTotal.WithLabelValues("malformed_payload").Inc()
	EventsDroppedTotal.WithLabelValues("malformed_payload").Inc()

	if got := testutil.ToFloat64(EventsDroppedTotal.WithLabelValues("malformed_payload")); got != 2 {
		t.Errorf("malformed_payload count = %v, want 2", got)
	}
}

func TestDedupeCacheSize(t *testing.T) {
	DedupeCacheSize.Set(42)
	if got := testutil.ToFloat64(DedupeCacheSize); got != 42 {
		t.Errorf("DedupeCacheSize = %v, want 42", got)
	}
}

func TestAlertsEmittedTotal(t *testing.T) {
	AlertsEmittedTotal.Reset()

	AlertsEmittedTotal.WithLabelValues("revenue", "up").Inc()

	if got := testutil.ToFloat64(AlertsEmittedTotal.WithLabelValues("revenue", "up")); got != 1 {
		t.Errorf("revenue/up count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(AlertsEmittedTotal.WithLabelValues("revenue", "down")); got != 0 {
		t.Errorf("revenue/down count = %v, want 0", got)
	}
}

func TestCircuitBreakerStateGauge(t *testing.T) {
	CircuitBreakerState.Set(1)
	if got := testutil.ToFloat64(CircuitBreakerState); got != 1 {
		t.Errorf("CircuitBreakerState = %v, want 1", got)
	}
}

func TestFlushBucketsTotalCarriesGranularityLabel(t *testing.T) {
	FlushBucketsTotal.Reset()
	FlushBucketsTotal.WithLabelValues("minute").Add(3)

	var m dto.Metric
	if err := FlushBucketsTotal.WithLabelValues("minute").Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := m.GetCounter().GetValue(); got != 3 {
		t.Errorf("counter value = %v, want 3", got)
	}
	labels := m.GetLabel()
	if len(labels) != 1 || labels[0].GetName() != "granularity" || labels[0].GetValue() != "minute" {
		t.Errorf("labels = %v, want granularity=minute", labels)
	}
}
