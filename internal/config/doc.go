// kpistream - real-time e-commerce KPI pipeline
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package config provides centralized configuration loading for the stream
processor and alert detector binaries.

# Configuration Sources

Configuration is layered, in order of increasing precedence:

  - Built-in defaults (defaultConfig)
  - An optional YAML file (CONFIG_PATH, or one of DefaultConfigPaths)
  - Environment variables

# Structure

  - NATSConfig: broker bootstrap, subjects, consumer group, offset reset
  - DatabaseConfig: DuckDB DSN and tuning
  - IngestConfig: flush cadence, dedupe TTL, log cadence
  - DetectorConfig: KPI, baseline window, threshold, duration gating
  - ServerConfig: the minimal health/metrics HTTP surface
  - LoggingConfig: zerolog level/format

# Usage

	cfg, err := config.LoadWithKoanf()
	if err != nil {
	    log.Fatal(err)
	}
	fmt.Println(cfg.NATS.URL, cfg.Database.Path)

# Validation

LoadWithKoanf validates the result with go-playground/validator struct tags
plus a handful of cross-field checks (see config_validate.go) before
returning it. A Config returned from LoadWithKoanf is always valid.
*/
package config
