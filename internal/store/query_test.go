// kpistream - real-time e-commerce KPI pipeline
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"testing"
	"time"

	"github.com/kpistream/pipeline/internal/aggregates"
)

func TestLatestPointReturnsMostRecentBucket(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	minute := aggregates.BucketMap{
		time.Date(2026, 2, 3, 10, 15, 0, 0, time.UTC): {Revenue: 100, OrderCount: 1},
		time.Date(2026, 2, 3, 10, 16, 0, 0, time.UTC): {Revenue: 50, OrderCount: 1},
	}
	if err := db.Flush(ctx, minute, nil); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	point, ok, err := db.LatestPoint(ctx, "minute")
	if err != nil {
		t.Fatalf("LatestPoint: %v", err)
	}
	if !ok {
		t.Fatal("expected a point")
	}
	want := time.Date(2026, 2, 3, 10, 16, 0, 0, time.UTC)
	if !point.Bucket.Equal(want) || point.Revenue != 50 {
		t.Errorf("got %+v, want bucket=%v revenue=50", point, want)
	}
}

func TestLatestPointEmptyTableReturnsFalse(t *testing.T) {
	db := newTestDB(t)
	_, ok, err := db.LatestPoint(context.Background(), "minute")
	if err != nil {
		t.Fatalf("LatestPoint: %v", err)
	}
	if ok {
		t.Fatal("expected no point on empty table")
	}
}

func TestLatestPointUnknownBucketFails(t *testing.T) {
	db := newTestDB(t)
	if _, _, err := db.LatestPoint(context.Background(), "week"); err == nil {
		t.Fatal("expected UnknownKPIError for unrecognized bucket granularity")
	}
}

func TestSeriesRangeOrdersAscendingAndRespectsLimit(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	minute := aggregates.BucketMap{
		time.Date(2026, 2, 3, 10, 15, 0, 0, time.UTC): {Revenue: 10},
		time.Date(2026, 2, 3, 10, 16, 0, 0, time.UTC): {Revenue: 20},
		time.Date(2026, 2, 3, 10, 17, 0, 0, time.UTC): {Revenue: 30},
	}
	if err := db.Flush(ctx, minute, nil); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	from := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	to := time.Date(2026, 2, 3, 11, 0, 0, 0, time.UTC)

	points, err := db.SeriesRange(ctx, "minute", from, to, 2)
	if err != nil {
		t.Fatalf("SeriesRange: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("got %d points, want 2 (limit)", len(points))
	}
	if points[0].Revenue != 10 || points[1].Revenue != 20 {
		t.Errorf("not ascending: %+v", points)
	}
}

func TestAlertsRangeReturnsMostRecentFirst(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	b1 := time.Date(2026, 2, 3, 10, 15, 0, 0, time.UTC)
	b2 := time.Date(2026, 2, 3, 10, 16, 0, 0, time.UTC)
	if _, err := db.InsertAlert(ctx, b1, "revenue", 160, 100, 0.6, "up"); err != nil {
		t.Fatalf("InsertAlert: %v", err)
	}
	if _, err := db.InsertAlert(ctx, b2, "revenue", 170, 100, 0.7, "up"); err != nil {
		t.Fatalf("InsertAlert: %v", err)
	}

	from := time.Now().UTC().Add(-time.Hour)
	to := time.Now().UTC().Add(time.Hour)
	items, err := db.AlertsRange(ctx, from, to, 10)
	if err != nil {
		t.Fatalf("AlertsRange: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d alerts, want 2", len(items))
	}
	if !items[0].Bucket.Equal(b2) {
		t.Errorf("items[0].Bucket = %v, want most recent %v first", items[0].Bucket, b2)
	}
}
