// kpistream - real-time e-commerce KPI pipeline
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store implements the KPI and alert store gateways on top of an
// embedded DuckDB file, with idempotent raw inserts, additive aggregate
// upserts, and baseline queries for the anomaly detector.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/kpistream/pipeline/internal/config"
	"github.com/kpistream/pipeline/internal/logging"
)

// DB wraps the DuckDB connection pool shared by the raw-insert, aggregate
// flush, and alert query surfaces.
type DB struct {
	conn *sql.DB
}

// Open connects to the DuckDB file described by cfg, applying pragmas and
// creating the schema if absent. The returned DB is safe for concurrent use;
// callers must call Close exactly once during shutdown.
func Open(cfg *config.DatabaseConfig) (*DB, error) {
	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", dir, err)
		}
	}

	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	maxMemory := cfg.MaxMemory
	if maxMemory == "" {
		maxMemory = "2GB"
	}

	dsn := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s", cfg.Path, threads, maxMemory)
	conn, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1) // DuckDB single-writer model; serialize through the pool.

	db := &DB{conn: conn}
	if err := db.createSchema(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return db, nil
}

// Close releases the underlying connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies the connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Conn exposes the raw *sql.DB for callers that need to issue their own
// queries (the store tests read tables directly through it).
func (db *DB) Conn() *sql.DB {
	return db.conn
}

func (db *DB) createSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			order_id     TEXT PRIMARY KEY,
			event_id     TEXT NOT NULL,
			customer_id  TEXT,
			amount       DOUBLE NOT NULL,
			currency     TEXT NOT NULL,
			channel      TEXT,
			event_time   TIMESTAMP NOT NULL,
			received_at  TIMESTAMP NOT NULL,
			processed_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			event_id     TEXT PRIMARY KEY,
			session_id   TEXT NOT NULL,
			event_type   TEXT NOT NULL,
			user_id      TEXT,
			channel      TEXT,
			event_time   TIMESTAMP NOT NULL,
			received_at  TIMESTAMP NOT NULL,
			processed_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS kpi_minute (
			bucket         TIMESTAMP PRIMARY KEY,
			revenue        DOUBLE NOT NULL DEFAULT 0,
			order_count    BIGINT NOT NULL DEFAULT 0,
			session_count  BIGINT NOT NULL DEFAULT 0,
			checkout_count BIGINT NOT NULL DEFAULT 0,
			purchase_count BIGINT NOT NULL DEFAULT 0,
			updated_at     TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS kpi_hour (
			bucket         TIMESTAMP PRIMARY KEY,
			revenue        DOUBLE NOT NULL DEFAULT 0,
			order_count    BIGINT NOT NULL DEFAULT 0,
			session_count  BIGINT NOT NULL DEFAULT 0,
			checkout_count BIGINT NOT NULL DEFAULT 0,
			purchase_count BIGINT NOT NULL DEFAULT 0,
			updated_at     TIMESTAMP NOT NULL
		)`,
		`CREATE SEQUENCE IF NOT EXISTS alerts_id_seq`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id            BIGINT PRIMARY KEY DEFAULT nextval('alerts_id_seq'),
			bucket        TIMESTAMP NOT NULL,
			kpi           TEXT NOT NULL,
			current_value DOUBLE NOT NULL,
			baseline_value DOUBLE NOT NULL,
			delta_pct     DOUBLE NOT NULL,
			direction     TEXT NOT NULL,
			created_at    TIMESTAMP NOT NULL DEFAULT current_timestamp,
			UNIQUE (bucket, kpi)
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	logging.Debug().Msg("STORE: schema initialized")
	return nil
}
