// kpistream - real-time e-commerce KPI pipeline
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// EventLogger is the structured-logging façade for the event-processing
// loops. It carries a component field and names the log points of the
// per-message pipeline so call sites stay free of ad-hoc field plumbing.
type EventLogger struct {
	logger zerolog.Logger
}

// NewEventLogger returns an EventLogger tagged with the given component
// name ("ingest", "detector"), writing through the global logger.
func NewEventLogger(component string) *EventLogger {
	return &EventLogger{
		logger: With().Str("component", component).Logger(),
	}
}

// ctxLogger returns the wrapped logger with the correlation id from ctx
// added as a field, if one is present.
func (e *EventLogger) ctxLogger(ctx context.Context) zerolog.Logger {
	logCtx := e.logger.With()
	if id := CorrelationIDFromContext(ctx); id != "" {
		logCtx = logCtx.Str("correlation_id", id)
	}
	return logCtx.Logger()
}

// LogEventReceived marks a broker delivery entering the pipeline.
func (e *EventLogger) LogEventReceived(ctx context.Context, eventID, topic string) {
	logger := e.ctxLogger(ctx)
	logger.Info().
		Str("event_id", eventID).
		Str("topic", topic).
		Msg("event received")
}

// LogEventProcessed marks an event persisted and folded into the aggregates.
func (e *EventLogger) LogEventProcessed(ctx context.Context, eventID, topic string, elapsed time.Duration) {
	logger := e.ctxLogger(ctx)
	logger.Info().
		Str("event_id", eventID).
		Str("topic", topic).
		Int64("duration_ms", elapsed.Milliseconds()).
		Msg("event processed")
}

// LogEventFailed marks an event that could not be decoded or persisted.
func (e *EventLogger) LogEventFailed(ctx context.Context, eventID, topic string, err error) {
	logger := e.ctxLogger(ctx)
	logger.Error().
		Str("event_id", eventID).
		Str("topic", topic).
		Err(err).
		Msg("event processing failed")
}

// LogDuplicate marks a delivery dropped by the dedupe cache.
func (e *EventLogger) LogDuplicate(ctx context.Context, eventID, reason string) {
	logger := e.ctxLogger(ctx)
	logger.Debug().
		Str("event_id", eventID).
		Str("reason", reason).
		Msg("duplicate event skipped")
}

// LogBatchFlush reports how many minute and hour buckets a periodic
// aggregates flush wrote.
func (e *EventLogger) LogBatchFlush(ctx context.Context, minuteBuckets, hourBuckets int) {
	logger := e.ctxLogger(ctx)
	logger.Info().
		Int("minute_buckets", minuteBuckets).
		Int("hour_buckets", hourBuckets).
		Msg("batch flush completed")
}

// LogSubscriptionStarted marks a topic consumer starting.
func (e *EventLogger) LogSubscriptionStarted(topic string) {
	e.logger.Info().Str("topic", topic).Msg("subscription started")
}

// LogSubscriptionStopped marks a topic consumer stopping.
func (e *EventLogger) LogSubscriptionStopped(topic string) {
	e.logger.Info().Str("topic", topic).Msg("subscription stopped")
}
