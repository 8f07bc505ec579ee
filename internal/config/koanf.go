// kpistream - real-time e-commerce KPI pipeline
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/kpistream/config.yaml",
	"/etc/kpistream/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all sensible default values.
// Defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		NATS: NATSConfig{
			URL:              "nats://127.0.0.1:4222",
			Embedded:         false,
			EmbeddedPort:     4222,
			EmbeddedStoreDir: "/data/nats",
			OrdersSubject:    "events.orders",
			SessionsSubject:  "events.sessions",
			StreamName:       "KPISTREAM",
			DurableName:      "kpi-stream-processor",
			QueueGroup:       "kpi-stream-processor",
			DeliverPolicy:    "new",
			AckWait:          30 * time.Second,
			MaxDeliver:       5,
			MaxAckPending:    1000,
			ConnectTimeout:   10 * time.Second,
			SubscribersCount: 1,
			CloseTimeout:     30 * time.Second,
			MaxReconnects:    -1,
			ReconnectWait:    2 * time.Second,
		},
		Database: DatabaseConfig{
			Path:      "/data/kpistream.duckdb",
			MaxMemory: "2GB",
			Threads:   0, // 0 = runtime.NumCPU()
		},
		Ingest: IngestConfig{
			FlushIntervalSeconds: 10,
			DedupeTTLSeconds:     300,
			LogEveryN:            100,
		},
		Detector: DetectorConfig{
			KPI:                      "revenue",
			BaselineDays:             7,
			ThresholdPct:             0.3,
			MinBaseline:              10.0,
			LookbackMinutes:          60,
			IntervalSeconds:          60,
			CurrentWindowMinutes:     3,
			DurationMinutes:          3,
			MaxStoreQueriesPerSecond: 50,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 9090,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML config file (if one is found)
//  3. Environment variables: override any setting
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - NATS_URL -> nats.url
//   - ORDERS_SUBJECT -> nats.orders_subject
//   - FLUSH_INTERVAL_SECONDS -> ingest.flush_interval_seconds
//   - DETECTOR_KPI -> detector.kpi
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		"nats_url":                "nats.url",
		"nats_embedded":           "nats.embedded",
		"nats_embedded_port":      "nats.embedded_port",
		"nats_embedded_store_dir": "nats.embedded_store_dir",
		"orders_subject":          "nats.orders_subject",
		"sessions_subject":        "nats.sessions_subject",
		"nats_stream_name":        "nats.stream_name",
		"nats_durable_name":       "nats.durable_name",
		"nats_queue_group":        "nats.queue_group",
		"nats_deliver_policy":     "nats.deliver_policy",
		"nats_ack_wait":           "nats.ack_wait",
		"nats_max_deliver":        "nats.max_deliver",
		"nats_max_ack_pending":    "nats.max_ack_pending",
		"nats_connect_timeout":    "nats.connect_timeout",
		"nats_subscribers_count":  "nats.subscribers_count",
		"nats_close_timeout":      "nats.close_timeout",
		"nats_max_reconnects":     "nats.max_reconnects",
		"nats_reconnect_wait":     "nats.reconnect_wait",

		"duckdb_path":       "database.path",
		"duckdb_max_memory": "database.max_memory",
		"duckdb_threads":    "database.threads",

		"flush_interval_seconds": "ingest.flush_interval_seconds",
		"dedupe_ttl_seconds":     "ingest.dedupe_ttl_seconds",
		"log_every_n":            "ingest.log_every_n",

		"kpi":                          "detector.kpi",
		"baseline_days":                "detector.baseline_days",
		"threshold_pct":                "detector.threshold_pct",
		"min_baseline":                 "detector.min_baseline",
		"lookback_minutes":             "detector.lookback_minutes",
		"interval_seconds":             "detector.interval_seconds",
		"current_window_minutes":       "detector.current_window_minutes",
		"duration_minutes":             "detector.duration_minutes",
		"max_store_queries_per_second": "detector.max_store_queries_per_second",

		"http_host": "server.host",
		"http_port": "server.port",

		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	return ""
}

// GetKoanfInstance returns a new Koanf instance for advanced usage (testing,
// custom sources).
func GetKoanfInstance() *koanf.Koanf {
	return koanf.New(".")
}
