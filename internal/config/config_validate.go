// kpistream - real-time e-commerce KPI pipeline
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate enforces struct-tag constraints on a loaded Config and performs
// the few cross-field checks validator tags can't express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.NATS.DeliverPolicy != "new" && cfg.NATS.DeliverPolicy != "all" {
		return fmt.Errorf("nats.deliver_policy must be \"new\" or \"all\", got %q", cfg.NATS.DeliverPolicy)
	}

	if cfg.NATS.OrdersSubject == cfg.NATS.SessionsSubject {
		return fmt.Errorf("nats.orders_subject and nats.sessions_subject must differ")
	}

	if cfg.Detector.DurationMinutes > cfg.Detector.LookbackMinutes {
		return fmt.Errorf("detector.duration_minutes (%d) cannot exceed detector.lookback_minutes (%d)",
			cfg.Detector.DurationMinutes, cfg.Detector.LookbackMinutes)
	}

	return nil
}
