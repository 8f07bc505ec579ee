// kpistream - real-time e-commerce KPI pipeline
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package logging is the zerolog-based structured logging layer shared by the
pipeline binaries.

It exposes a small surface: a global logger configured once at startup from
the process configuration, an EventLogger façade naming the log points of
the event-processing loops, a per-event correlation id carried through
context.Context, and a slog adapter for libraries that take a *slog.Logger
(Watermill's logger is bridged this way).

# Usage

	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	logging.Info().Str("path", dbPath).Msg("store opened")
	logging.Error().Err(err).Msg("flush failed")

	eventLog := logging.NewEventLogger("ingest")
	eventLog.LogEventReceived(ctx, eventID, topic)

Always terminate an event chain with Msg; an unterminated chain is never
emitted:

	logging.Info().Str("key", "value").Msg("done") // emitted
	logging.Info().Str("key", "value")             // dropped
*/
package logging
