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

// allowedKPIs is the fixed whitelist of KPI column names that may be
// interpolated into a query. Any other value fails with UnknownKPIError
// before a query is ever built.
var allowedKPIs = map[string]bool{
	"revenue":        true,
	"order_count":    true,
	"session_count":  true,
	"checkout_count": true,
	"purchase_count": true,
}

// ValidateKPI enforces the KPI whitelist. Callers must invoke this before
// interpolating kpi into any SQL string.
func ValidateKPI(kpi string) error {
	if !allowedKPIs[kpi] {
		return &UnknownKPIError{KPI: kpi}
	}
	return nil
}

// LatestBuckets returns the most recent count minute buckets present in
// kpi_minute within the last lookbackMinutes, ordered ascending by time.
// Fewer than count may be returned if not enough data exists.
func (db *DB) LatestBuckets(ctx context.Context, lookbackMinutes, count int) ([]time.Time, error) {
	since := time.Now().UTC().Add(-time.Duration(lookbackMinutes) * time.Minute)

	rows, err := db.conn.QueryContext(ctx, `
		SELECT bucket FROM kpi_minute
		WHERE bucket >= ?
		ORDER BY bucket DESC
		LIMIT ?
	`, since, count)
	if err != nil {
		return nil, classifyReadErr("latest_buckets", err)
	}
	defer func() { _ = rows.Close() }()

	var buckets []time.Time
	for rows.Next() {
		var b time.Time
		if err := rows.Scan(&b); err != nil {
			return nil, classifyReadErr("latest_buckets", err)
		}
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyReadErr("latest_buckets", err)
	}

	// Reverse to ascending order; the query fetched most-recent-first so
	// LIMIT keeps the right window.
	for i, j := 0, len(buckets)-1; i < j; i, j = i+1, j-1 {
		buckets[i], buckets[j] = buckets[j], buckets[i]
	}
	return buckets, nil
}

// SmoothedCurrent averages kpi_minute[kpi] over the windowMinutes buckets
// ending at (and including) bucket. Returns (0, false) if windowMinutes is 0
// or any required bucket in the window is missing.
func (db *DB) SmoothedCurrent(ctx context.Context, bucket time.Time, kpi string, windowMinutes int) (float64, bool, error) {
	if err := ValidateKPI(kpi); err != nil {
		return 0, false, err
	}
	if windowMinutes <= 0 {
		return 0, false, nil
	}

	bucket = bucket.UTC()
	start := bucket.Add(-time.Duration(windowMinutes-1) * time.Minute)
	query := fmt.Sprintf(`
		SELECT bucket, %s FROM kpi_minute
		WHERE bucket >= ? AND bucket <= ?
	`, kpi)

	rows, err := db.conn.QueryContext(ctx, query, start, bucket)
	if err != nil {
		return 0, false, classifyReadErr("smoothed_current", err)
	}
	defer func() { _ = rows.Close() }()

	seen := make(map[time.Time]float64)
	for rows.Next() {
		var b time.Time
		var v float64
		if err := rows.Scan(&b, &v); err != nil {
			return 0, false, classifyReadErr("smoothed_current", err)
		}
		seen[b.UTC()] = v
	}
	if err := rows.Err(); err != nil {
		return 0, false, classifyReadErr("smoothed_current", err)
	}

	if len(seen) < windowMinutes {
		return 0, false, nil
	}

	var sum float64
	for t := start; !t.After(bucket); t = t.Add(time.Minute) {
		v, ok := seen[t]
		if !ok {
			return 0, false, nil
		}
		sum += v
	}
	return sum / float64(windowMinutes), true, nil
}

// Baseline averages historical kpi_minute[kpi] values over
// [bucket-baselineDays, bucket), matching on hour-of-day and minute-of-hour;
// when baselineDays >= 7 it additionally matches on day-of-week. Returns
// (0, false) if no matching rows exist.
func (db *DB) Baseline(ctx context.Context, bucket time.Time, kpi string, baselineDays int) (float64, bool, error) {
	if err := ValidateKPI(kpi); err != nil {
		return 0, false, err
	}

	start := bucket.AddDate(0, 0, -baselineDays)

	var query string
	if baselineDays >= 7 {
		query = fmt.Sprintf(`
			SELECT AVG(%s) FROM kpi_minute
			WHERE bucket >= ? AND bucket < ?
			  AND EXTRACT(dow FROM bucket) = EXTRACT(dow FROM CAST(? AS TIMESTAMP))
			  AND EXTRACT(hour FROM bucket) = EXTRACT(hour FROM CAST(? AS TIMESTAMP))
			  AND EXTRACT(minute FROM bucket) = EXTRACT(minute FROM CAST(? AS TIMESTAMP))
		`, kpi)
	} else {
		query = fmt.Sprintf(`
			SELECT AVG(%s) FROM kpi_minute
			WHERE bucket >= ? AND bucket < ?
			  AND EXTRACT(hour FROM bucket) = EXTRACT(hour FROM CAST(? AS TIMESTAMP))
			  AND EXTRACT(minute FROM bucket) = EXTRACT(minute FROM CAST(? AS TIMESTAMP))
		`, kpi)
	}

	var args []interface{}
	if baselineDays >= 7 {
		args = []interface{}{start, bucket, bucket, bucket, bucket}
	} else {
		args = []interface{}{start, bucket, bucket, bucket}
	}

	var value sql.NullFloat64
	row := db.conn.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&value); err != nil {
		return 0, false, classifyReadErr("baseline", err)
	}
	if !value.Valid {
		return 0, false, nil
	}
	return value.Float64, true, nil
}

// InsertAlert writes an alert row with conflict-on-(bucket,kpi) policy "do
// nothing", reporting whether the row was newly inserted.
func (db *DB) InsertAlert(ctx context.Context, bucket time.Time, kpi string, current, baseline, deltaPct float64, direction string) (bool, error) {
	if err := ValidateKPI(kpi); err != nil {
		return false, err
	}

	row := db.conn.QueryRowContext(ctx, `
		INSERT INTO alerts (bucket, kpi, current_value, baseline_value, delta_pct, direction)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (bucket, kpi) DO NOTHING
		RETURNING id
	`, bucket, kpi, current, baseline, deltaPct, direction)

	var id int64
	err := row.Scan(&id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	default:
		return false, classifyWriteErr("insert_alert", err)
	}
}

func classifyReadErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, sql.ErrConnDone) {
		return &TransientStoreError{Op: op, Err: err}
	}
	return &FatalStoreError{Op: op, Err: err}
}
