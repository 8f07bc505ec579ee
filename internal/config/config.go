// kpistream - real-time e-commerce KPI pipeline
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import "time"

// Config is the root configuration shared by both the stream processor and
// the alert detector. Each binary reads only the sections it needs.
type Config struct {
	NATS     NATSConfig     `koanf:"nats"`
	Database DatabaseConfig `koanf:"database"`
	Ingest   IngestConfig   `koanf:"ingest"`
	Detector DetectorConfig `koanf:"detector"`
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// NATSConfig binds the process to the JetStream broker carrying the orders
// and sessions topics.
type NATSConfig struct {
	URL string `koanf:"url"`
	// Embedded starts an in-process JetStream server and ignores URL.
	// Single-node deployments and local development.
	Embedded         bool   `koanf:"embedded"`
	EmbeddedPort     int    `koanf:"embedded_port"`
	EmbeddedStoreDir string `koanf:"embedded_store_dir"`
	OrdersSubject    string `koanf:"orders_subject"`
	SessionsSubject  string `koanf:"sessions_subject"`
	StreamName       string `koanf:"stream_name"`
	DurableName      string `koanf:"durable_name" validate:"required"`
	QueueGroup       string `koanf:"queue_group"`
	// DeliverPolicy selects the broker offset reset behavior: "new" or "all".
	DeliverPolicy    string        `koanf:"deliver_policy"`
	AckWait          time.Duration `koanf:"ack_wait"`
	MaxDeliver       int           `koanf:"max_deliver"`
	MaxAckPending    int           `koanf:"max_ack_pending"`
	ConnectTimeout   time.Duration `koanf:"connect_timeout"`
	SubscribersCount int           `koanf:"subscribers_count"`
	CloseTimeout     time.Duration `koanf:"close_timeout"`
	MaxReconnects    int           `koanf:"max_reconnects"`
	ReconnectWait    time.Duration `koanf:"reconnect_wait"`
}

// DatabaseConfig binds the process to the relational store.
type DatabaseConfig struct {
	// Path is the DuckDB DSN (a filesystem path, or ":memory:" for tests).
	Path      string `koanf:"path" validate:"required"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"`
}

// IngestConfig governs the stream processor loop.
type IngestConfig struct {
	FlushIntervalSeconds int `koanf:"flush_interval_seconds" validate:"gt=0"`
	DedupeTTLSeconds     int `koanf:"dedupe_ttl_seconds" validate:"gt=0"`
	LogEveryN            int `koanf:"log_every_n" validate:"gt=0"`
}

// DetectorConfig governs the alert detector loop.
type DetectorConfig struct {
	KPI                  string  `koanf:"kpi" validate:"required"`
	BaselineDays         int     `koanf:"baseline_days" validate:"gt=0"`
	ThresholdPct         float64 `koanf:"threshold_pct" validate:"gt=0"`
	MinBaseline          float64 `koanf:"min_baseline" validate:"gte=0"`
	LookbackMinutes      int     `koanf:"lookback_minutes" validate:"gt=0"`
	IntervalSeconds      int     `koanf:"interval_seconds" validate:"gt=0"`
	CurrentWindowMinutes int     `koanf:"current_window_minutes" validate:"gt=0"`
	DurationMinutes      int     `koanf:"duration_minutes" validate:"gt=0"`
	// MaxStoreQueriesPerSecond bounds how fast the detector issues store
	// calls within a single tick, so a wide duration/lookback window
	// cannot saturate the store with back-to-back queries.
	MaxStoreQueriesPerSecond float64 `koanf:"max_store_queries_per_second" validate:"gt=0"`
}

// ServerConfig binds the minimal health/metrics HTTP surface.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// LoggingConfig controls the zerolog global logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}
