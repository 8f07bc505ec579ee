// kpistream - real-time e-commerce KPI pipeline
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// KPIPoint is one bucketed row of the KPI read-side query API.
type KPIPoint struct {
	Bucket        time.Time
	Revenue       float64
	OrderCount    int64
	SessionCount  int64
	CheckoutCount int64
	PurchaseCount int64
}

// AlertRow is one row of the alerts read-side query API.
type AlertRow struct {
	ID            int64
	Bucket        time.Time
	KPI           string
	CurrentValue  float64
	BaselineValue float64
	DeltaPct      float64
	Direction     string
	CreatedAt     time.Time
}

var allowedBucketTables = map[string]string{
	"minute": "kpi_minute",
	"hour":   "kpi_hour",
}

// bucketTable validates and resolves a bucket granularity ("minute" or
// "hour") to its backing table name, the same whitelist-before-interpolation
// discipline ValidateKPI applies to KPI column names.
func bucketTable(bucket string) (string, error) {
	table, ok := allowedBucketTables[bucket]
	if !ok {
		return "", &UnknownKPIError{KPI: bucket}
	}
	return table, nil
}

// LatestPoint returns the most recently written row for the given bucket
// granularity, or (zero, false) if the table is empty.
func (db *DB) LatestPoint(ctx context.Context, bucket string) (KPIPoint, bool, error) {
	table, err := bucketTable(bucket)
	if err != nil {
		return KPIPoint{}, false, err
	}

	row := db.conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT bucket, revenue, order_count, session_count, checkout_count, purchase_count
		FROM %s ORDER BY bucket DESC LIMIT 1
	`, table))

	var p KPIPoint
	if err := row.Scan(&p.Bucket, &p.Revenue, &p.OrderCount, &p.SessionCount, &p.CheckoutCount, &p.PurchaseCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return KPIPoint{}, false, nil
		}
		return KPIPoint{}, false, classifyReadErr("latest_point:"+table, err)
	}
	return p, true, nil
}

// SeriesRange returns rows in [from, to] for the given bucket granularity,
// ascending by time, capped at limit rows.
func (db *DB) SeriesRange(ctx context.Context, bucket string, from, to time.Time, limit int) ([]KPIPoint, error) {
	table, err := bucketTable(bucket)
	if err != nil {
		return nil, err
	}

	rows, err := db.conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT bucket, revenue, order_count, session_count, checkout_count, purchase_count
		FROM %s WHERE bucket >= ? AND bucket <= ?
		ORDER BY bucket ASC LIMIT ?
	`, table), from, to, limit)
	if err != nil {
		return nil, classifyReadErr("series_range:"+table, err)
	}
	defer func() { _ = rows.Close() }()

	var points []KPIPoint
	for rows.Next() {
		var p KPIPoint
		if err := rows.Scan(&p.Bucket, &p.Revenue, &p.OrderCount, &p.SessionCount, &p.CheckoutCount, &p.PurchaseCount); err != nil {
			return nil, classifyReadErr("series_range:"+table, err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyReadErr("series_range:"+table, err)
	}
	return points, nil
}

// AlertsRange returns alerts created in [from, to], most recent first,
// capped at limit rows.
func (db *DB) AlertsRange(ctx context.Context, from, to time.Time, limit int) ([]AlertRow, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, bucket, kpi, current_value, baseline_value, delta_pct, direction, created_at
		FROM alerts WHERE created_at >= ? AND created_at <= ?
		ORDER BY created_at DESC LIMIT ?
	`, from, to, limit)
	if err != nil {
		return nil, classifyReadErr("alerts_range", err)
	}
	defer func() { _ = rows.Close() }()

	var items []AlertRow
	for rows.Next() {
		var a AlertRow
		if err := rows.Scan(&a.ID, &a.Bucket, &a.KPI, &a.CurrentValue, &a.BaselineValue, &a.DeltaPct, &a.Direction, &a.CreatedAt); err != nil {
			return nil, classifyReadErr("alerts_range", err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyReadErr("alerts_range", err)
	}
	return items, nil
}
