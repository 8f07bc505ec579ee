// kpistream - real-time e-commerce KPI pipeline
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"context"
	"testing"
)

func TestGenerateCorrelationIDIsShortAndUnique(t *testing.T) {
	a := GenerateCorrelationID()
	b := GenerateCorrelationID()

	if len(a) != 8 {
		t.Errorf("correlation id length = %d, want 8", len(a))
	}
	if a == b {
		t.Errorf("two generated ids are equal: %q", a)
	}
}

func TestCorrelationIDRoundTrip(t *testing.T) {
	ctx := ContextWithCorrelationID(context.Background(), "abc12345")
	if got := CorrelationIDFromContext(ctx); got != "abc12345" {
		t.Errorf("CorrelationIDFromContext = %q, want abc12345", got)
	}
}

func TestCorrelationIDAbsentReturnsEmpty(t *testing.T) {
	if got := CorrelationIDFromContext(context.Background()); got != "" {
		t.Errorf("CorrelationIDFromContext on empty ctx = %q, want \"\"", got)
	}
}
