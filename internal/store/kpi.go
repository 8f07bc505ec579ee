// kpistream - real-time e-commerce KPI pipeline
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kpistream/pipeline/internal/aggregates"
	"github.com/kpistream/pipeline/internal/events"
)

// InsertOrder writes a newly-decoded order with conflict-on-order_id policy
// "do nothing". It reports whether the row was newly written; callers must
// gate their aggregate contribution on this return value.
func (db *DB) InsertOrder(ctx context.Context, e *events.OrderEvent, processedAt time.Time) (bool, error) {
	row := db.conn.QueryRowContext(ctx, `
		INSERT INTO orders (
			order_id, event_id, customer_id, amount, currency, channel,
			event_time, received_at, processed_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (order_id) DO NOTHING
		RETURNING order_id
	`,
		e.OrderID, e.EventID, nullIfEmpty(e.CustomerID), e.Amount, e.Currency, nullIfEmpty(e.Channel),
		e.EventTime, e.ReceivedAt, processedAt,
	)

	var written string
	err := row.Scan(&written)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	default:
		return false, classifyWriteErr("insert_order", err)
	}
}

// InsertSession writes a newly-decoded session event with conflict-on-event_id
// policy "do nothing", reporting whether the row was newly written.
func (db *DB) InsertSession(ctx context.Context, e *events.SessionEvent, processedAt time.Time) (bool, error) {
	row := db.conn.QueryRowContext(ctx, `
		INSERT INTO sessions (
			event_id, session_id, event_type, user_id, channel,
			event_time, received_at, processed_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id) DO NOTHING
		RETURNING event_id
	`,
		e.EventID, e.SessionID, string(e.EventType), nullIfEmpty(e.UserID), nullIfEmpty(e.Channel),
		e.EventTime, e.ReceivedAt, processedAt,
	)

	var written string
	err := row.Scan(&written)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	default:
		return false, classifyWriteErr("insert_session", err)
	}
}

// Flush issues the additive upsert batches for the drained minute and hour
// bucket maps. Each non-empty map is written inside its own DuckDB
// transaction so a failure rolls back that granularity's batch atomically;
// the minute and hour batches are not required to share a transaction.
func (db *DB) Flush(ctx context.Context, minute, hour aggregates.BucketMap) error {
	if len(minute) > 0 {
		if err := db.flushBuckets(ctx, "kpi_minute", minute); err != nil {
			return err
		}
	}
	if len(hour) > 0 {
		if err := db.flushBuckets(ctx, "kpi_hour", hour); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) flushBuckets(ctx context.Context, table string, buckets aggregates.BucketMap) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return classifyWriteErr("flush:"+table, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (bucket, revenue, order_count, session_count, checkout_count, purchase_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (bucket) DO UPDATE SET
			revenue = %s.revenue + EXCLUDED.revenue,
			order_count = %s.order_count + EXCLUDED.order_count,
			session_count = %s.session_count + EXCLUDED.session_count,
			checkout_count = %s.checkout_count + EXCLUDED.checkout_count,
			purchase_count = %s.purchase_count + EXCLUDED.purchase_count,
			updated_at = EXCLUDED.updated_at
	`, table, table, table, table, table, table))
	if err != nil {
		return classifyWriteErr("flush:"+table, err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UTC()
	for bucket, m := range buckets {
		if _, err := stmt.ExecContext(ctx, bucket, m.Revenue, m.OrderCount, m.SessionCount, m.CheckoutCount, m.PurchaseCount, now); err != nil {
			return classifyWriteErr("flush:"+table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return classifyWriteErr("flush:"+table, err)
	}
	return nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// classifyWriteErr maps a raw driver error to TransientStoreError or
// FatalStoreError. Connection-level failures are treated as transient;
// anything else (schema mismatch, constraint violations other than the
// handled primary-key conflict) is fatal.
func classifyWriteErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, sql.ErrConnDone) {
		return &TransientStoreError{Op: op, Err: err}
	}
	return &FatalStoreError{Op: op, Err: err}
}
