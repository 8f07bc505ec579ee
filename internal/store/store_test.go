// kpistream - real-time e-commerce KPI pipeline
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"testing"
	"time"

	"github.com/kpistream/pipeline/internal/aggregates"
	"github.com/kpistream/pipeline/internal/config"
	"github.com/kpistream/pipeline/internal/events"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(&config.DatabaseConfig{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// TestInsertOrderIdempotent: a given order_id appears at most once, and
// redelivery reports "not newly written".
func TestInsertOrderIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	order := &events.OrderEvent{
		EventID: "e1", OrderID: "o1", Amount: 100.0, Currency: "USD",
		EventTime:  time.Date(2026, 2, 3, 10, 15, 30, 0, time.UTC),
		ReceivedAt: time.Date(2026, 2, 3, 10, 15, 31, 0, time.UTC),
	}
	processedAt := time.Date(2026, 2, 3, 10, 15, 32, 0, time.UTC)

	written, err := db.InsertOrder(ctx, order, processedAt)
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if !written {
		t.Fatalf("first insert reported not written")
	}

	written, err = db.InsertOrder(ctx, order, processedAt)
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if written {
		t.Fatalf("duplicate insert reported written")
	}
}

func TestInsertSessionIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	session := &events.SessionEvent{
		EventID: "e2", SessionID: "s1", EventType: events.SessionView,
		EventTime:  time.Date(2026, 2, 3, 10, 16, 5, 0, time.UTC),
		ReceivedAt: time.Date(2026, 2, 3, 10, 16, 6, 0, time.UTC),
	}
	processedAt := time.Date(2026, 2, 3, 10, 16, 7, 0, time.UTC)

	written, err := db.InsertSession(ctx, session, processedAt)
	if err != nil || !written {
		t.Fatalf("first insert: written=%v err=%v", written, err)
	}
	written, err = db.InsertSession(ctx, session, processedAt)
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if written {
		t.Fatalf("duplicate session insert reported written")
	}
}

// TestFlushAdditive: repeated flushes of the same bucket add rather than
// overwrite.
func TestFlushAdditive(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	bucket := time.Date(2026, 2, 3, 10, 15, 0, 0, time.UTC)
	hourBucket := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)

	minute := aggregates.BucketMap{bucket: {Revenue: 100, OrderCount: 1}}
	hour := aggregates.BucketMap{hourBucket: {Revenue: 100, OrderCount: 1}}

	if err := db.Flush(ctx, minute, hour); err != nil {
		t.Fatalf("first flush: %v", err)
	}
	if err := db.Flush(ctx, minute, hour); err != nil {
		t.Fatalf("second flush: %v", err)
	}

	var revenue float64
	var orderCount int64
	row := db.Conn().QueryRowContext(ctx, `SELECT revenue, order_count FROM kpi_minute WHERE bucket = ?`, bucket)
	if err := row.Scan(&revenue, &orderCount); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if revenue != 200 || orderCount != 2 {
		t.Errorf("kpi_minute = (%v, %v), want (200, 2)", revenue, orderCount)
	}
}

func TestSmoothedCurrentMissingBucketReturnsNone(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	bucket := time.Date(2026, 2, 3, 10, 15, 0, 0, time.UTC)

	_, ok, err := db.SmoothedCurrent(ctx, bucket, "revenue", 3)
	if err != nil {
		t.Fatalf("SmoothedCurrent: %v", err)
	}
	if ok {
		t.Errorf("expected ok=false on empty store")
	}
}

func TestSmoothedCurrentAverages(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	b0 := time.Date(2026, 2, 3, 10, 13, 0, 0, time.UTC)
	b1 := time.Date(2026, 2, 3, 10, 14, 0, 0, time.UTC)
	b2 := time.Date(2026, 2, 3, 10, 15, 0, 0, time.UTC)

	minute := aggregates.BucketMap{
		b0: {Revenue: 100},
		b1: {Revenue: 200},
		b2: {Revenue: 300},
	}
	if err := db.Flush(ctx, minute, nil); err != nil {
		t.Fatalf("flush: %v", err)
	}

	got, ok, err := db.SmoothedCurrent(ctx, b2, "revenue", 3)
	if err != nil || !ok {
		t.Fatalf("SmoothedCurrent: ok=%v err=%v", ok, err)
	}
	if got != 200 {
		t.Errorf("smoothed current = %v, want 200", got)
	}
}

func TestValidateKPIRejectsUnknown(t *testing.T) {
	if err := ValidateKPI("drop_table"); err == nil {
		t.Fatalf("expected UnknownKPIError")
	}
}

// TestInsertAlertUniqueness: repeated inserts for the same (bucket, kpi)
// yield at most one row.
func TestInsertAlertUniqueness(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	bucket := time.Date(2026, 2, 3, 10, 15, 0, 0, time.UTC)

	inserted, err := db.InsertAlert(ctx, bucket, "revenue", 160, 100, 0.6, "up")
	if err != nil || !inserted {
		t.Fatalf("first insert: inserted=%v err=%v", inserted, err)
	}

	inserted, err = db.InsertAlert(ctx, bucket, "revenue", 160, 100, 0.6, "up")
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if inserted {
		t.Errorf("duplicate alert reported inserted")
	}

	var count int
	row := db.Conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts WHERE bucket = ? AND kpi = ?`, bucket, "revenue")
	if err := row.Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("alerts row count = %d, want 1", count)
	}
}
