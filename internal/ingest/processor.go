// kpistream - real-time e-commerce KPI pipeline
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ingest implements the stream processor loop: pull from the
// broker, decode, dedupe, idempotently persist, and fold newly-written
// events into the in-memory aggregates buffer, with a parallel periodic
// flush task.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/kpistream/pipeline/internal/aggregates"
	"github.com/kpistream/pipeline/internal/broker"
	"github.com/kpistream/pipeline/internal/config"
	"github.com/kpistream/pipeline/internal/dedupe"
	"github.com/kpistream/pipeline/internal/events"
	"github.com/kpistream/pipeline/internal/logging"
	"github.com/kpistream/pipeline/internal/metrics"
	"github.com/kpistream/pipeline/internal/store"
)

// Store is the subset of the KPI store gateway the processor depends on.
type Store interface {
	InsertOrder(ctx context.Context, e *events.OrderEvent, processedAt time.Time) (bool, error)
	InsertSession(ctx context.Context, e *events.SessionEvent, processedAt time.Time) (bool, error)
	Flush(ctx context.Context, minute, hour aggregates.BucketMap) error
}

// Processor orchestrates the subscribe -> decode -> dedupe -> persist ->
// aggregate pipeline for both the orders and sessions topics.
type Processor struct {
	sub     *broker.Subscriber
	store   Store
	dedup   *dedupe.Cache
	buffer  *aggregates.Buffer
	breaker *circuitBreaker
	logger  *logging.EventLogger

	ordersTopic   string
	sessionsTopic string

	flushInterval time.Duration
	logEveryN     int64

	processed atomic.Int64
}

// circuitBreaker is the narrow slice of broker.Execute this package needs,
// kept as an unexported alias so tests can stub it out without importing
// gobreaker directly.
type circuitBreaker struct {
	execute func(fn func() (interface{}, error)) (interface{}, error)
	state   func() float64
}

// New builds a Processor wired to the given broker subscriber and store.
func New(sub *broker.Subscriber, st Store, natsCfg config.NATSConfig, ingestCfg config.IngestConfig) *Processor {
	cb := broker.NewCircuitBreaker(broker.DefaultCircuitBreakerConfig())

	return &Processor{
		sub:           sub,
		store:         st,
		dedup:         dedupe.New(time.Duration(ingestCfg.DedupeTTLSeconds) * time.Second),
		buffer:        aggregates.New(),
		logger:        logging.NewEventLogger("ingest"),
		ordersTopic:   natsCfg.OrdersSubject,
		sessionsTopic: natsCfg.SessionsSubject,
		flushInterval: time.Duration(ingestCfg.FlushIntervalSeconds) * time.Second,
		logEveryN:     int64(ingestCfg.LogEveryN),
		breaker: &circuitBreaker{
			execute: func(fn func() (interface{}, error)) (interface{}, error) { return broker.Execute(cb, fn) },
			state:   func() float64 { return broker.StateGaugeValue(cb) },
		},
	}
}

// Run blocks processing both topics and flushing aggregates until ctx is
// canceled. Shutdown order follows the documented sequence: the flush task
// is canceled first, then the broker consumers, before Run returns (the
// caller is responsible for closing the store pool afterward).
func (p *Processor) Run(ctx context.Context) error {
	flushCtx, cancelFlush := context.WithCancel(ctx)
	consumerCtx, cancelConsumers := context.WithCancel(ctx)

	var wg sync.WaitGroup
	errCh := make(chan error, 3)

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.runFlushLoop(flushCtx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := p.runTopic(consumerCtx, p.ordersTopic, p.handleOrder); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := p.runTopic(consumerCtx, p.sessionsTopic, p.handleSession); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		cancelFlush()
		cancelConsumers()
		wg.Wait()
		return err
	}

	cancelFlush()
	cancelConsumers()
	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

func (p *Processor) runTopic(ctx context.Context, topic string, handle func(ctx context.Context, msg *message.Message) error) error {
	p.logger.LogSubscriptionStarted(topic)
	defer p.logger.LogSubscriptionStopped(topic)
	return p.sub.NewMessageHandler(topic).Handle(handle).Run(ctx)
}

func (p *Processor) runFlushLoop(ctx context.Context) {
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.flush(ctx)
		}
	}
}

func (p *Processor) flush(ctx context.Context) {
	minute, hour := p.buffer.Drain()
	if len(minute) == 0 && len(hour) == 0 {
		return
	}

	start := time.Now()
	okMinute := p.flushGranularity(ctx, "minute", minute, nil)
	okHour := p.flushGranularity(ctx, "hour", nil, hour)
	metrics.FlushDuration.Observe(time.Since(start).Seconds())
	metrics.CircuitBreakerState.Set(p.breaker.state())

	if okMinute && okHour {
		p.logger.LogBatchFlush(ctx, len(minute), len(hour))
	}
}

// flushGranularity writes one granularity's batch. On failure the deltas go
// back into the buffer so the next cycle retries them; each granularity is
// restored independently so a committed batch is never re-applied.
func (p *Processor) flushGranularity(ctx context.Context, granularity string, minute, hour aggregates.BucketMap) bool {
	if len(minute) == 0 && len(hour) == 0 {
		return true
	}

	_, err := p.breaker.execute(func() (interface{}, error) {
		return nil, p.store.Flush(ctx, minute, hour)
	})
	if err == nil {
		metrics.FlushBucketsTotal.WithLabelValues(granularity).Add(float64(len(minute) + len(hour)))
		return true
	}

	p.buffer.Restore(minute, hour)
	var fatal *store.FatalStoreError
	if errors.As(err, &fatal) {
		metrics.StoreErrorsTotal.WithLabelValues("fatal").Inc()
		logging.Error().Err(err).Str("granularity", granularity).Msg("INGEST: aggregate flush failed (fatal)")
		return false
	}
	metrics.StoreErrorsTotal.WithLabelValues("transient").Inc()
	logging.Error().Err(err).Str("granularity", granularity).Msg("INGEST: aggregate flush failed, deltas retained for next cycle")
	return false
}

func (p *Processor) handleOrder(ctx context.Context, msg *message.Message) error {
	return p.handle(ctx, "orders", msg)
}

func (p *Processor) handleSession(ctx context.Context, msg *message.Message) error {
	return p.handle(ctx, "sessions", msg)
}

// handle runs the per-message pipeline: decode, dedupe check, idempotent
// raw insert, and (only for newly-written rows) the aggregate contribution.
func (p *Processor) handle(ctx context.Context, topic string, msg *message.Message) error {
	ctx = logging.ContextWithCorrelationID(ctx, logging.GenerateCorrelationID())
	metrics.EventsConsumedTotal.WithLabelValues(topic).Inc()

	event, err := events.Parse(topic, msg.Payload)
	if err != nil {
		var parseErr *events.ParseError
		reason := "malformed_payload"
		if errors.As(err, &parseErr) {
			reason = parseErr.Kind
		}
		metrics.EventsDroppedTotal.WithLabelValues(reason).Inc()
		logging.Warn().Err(err).Str("topic", topic).Str("reason", reason).
			Str("correlation_id", logging.CorrelationIDFromContext(ctx)).
			Msg("INGEST: undecodable event dropped")
		return nil // do not nack: redelivery would just fail the same way
	}

	p.logger.LogEventReceived(ctx, event.EventID(), topic)

	now := time.Now().UTC()
	if p.dedup.Seen(event.EventID(), now) {
		metrics.EventsDroppedTotal.WithLabelValues("duplicate").Inc()
		metrics.DedupeCacheHitsTotal.WithLabelValues("hit").Inc()
		p.logger.LogDuplicate(ctx, event.EventID(), "dedupe cache hit")
		return nil
	}
	metrics.DedupeCacheHitsTotal.WithLabelValues("miss").Inc()

	processedAt := time.Now().UTC()
	written, delta, err := p.persist(ctx, topic, event, processedAt)
	if err != nil {
		var transient *store.TransientStoreError
		if errors.As(err, &transient) {
			metrics.StoreErrorsTotal.WithLabelValues("transient").Inc()
			p.logger.LogEventFailed(ctx, event.EventID(), topic, err)
			// Drop the cache entry so the redelivery is not suppressed; the
			// relational unique constraint still guards against double writes.
			p.dedup.Forget(event.EventID())
			return err // nack: the broker redelivers and the write is re-attempted
		}
		metrics.StoreErrorsTotal.WithLabelValues("fatal").Inc()
		return fmt.Errorf("%w: %w", broker.ErrTerminate, err) // fatal: stops the consumer loop
	}

	if written {
		metrics.EventsPersistedTotal.WithLabelValues(topic).Inc()
		p.buffer.Add(event.EventTime(), delta)
		p.logger.LogEventProcessed(ctx, event.EventID(), topic, time.Since(processedAt))
	}

	p.tick(ctx, now)
	return nil
}

func (p *Processor) persist(ctx context.Context, topic string, event events.Event, processedAt time.Time) (bool, aggregates.Metrics, error) {
	var written bool
	var callErr error

	op := "insert_order"
	if topic != "orders" {
		op = "insert_session"
	}
	start := time.Now()
	_, err := p.breaker.execute(func() (interface{}, error) {
		switch topic {
		case "orders":
			w, err := p.store.InsertOrder(ctx, event.Order, processedAt)
			written, callErr = w, err
			return nil, err
		default:
			w, err := p.store.InsertSession(ctx, event.Session, processedAt)
			written, callErr = w, err
			return nil, err
		}
	})
	metrics.StoreCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	metrics.CircuitBreakerState.Set(p.breaker.state())
	if err != nil {
		if callErr != nil {
			return false, aggregates.Metrics{}, callErr
		}
		// The breaker rejected the call without running it (open or
		// half-open at capacity): the store is presumed down, so the
		// failure is transient by definition.
		return false, aggregates.Metrics{}, &store.TransientStoreError{Op: op, Err: err}
	}
	if !written {
		return false, aggregates.Metrics{}, nil
	}

	return true, delta(topic, event), nil
}

func delta(topic string, event events.Event) aggregates.Metrics {
	if topic == "orders" {
		return aggregates.Metrics{Revenue: event.Order.Amount, OrderCount: 1}
	}
	switch event.Session.EventType {
	case events.SessionView:
		return aggregates.Metrics{SessionCount: 1}
	case events.SessionCheckout:
		return aggregates.Metrics{CheckoutCount: 1}
	case events.SessionPurchase:
		return aggregates.Metrics{PurchaseCount: 1}
	default:
		return aggregates.Metrics{}
	}
}

// tick advances the processed-message counter, logging progress every
// logEveryN messages and sweeping the dedupe cache every 5*logEveryN.
func (p *Processor) tick(ctx context.Context, now time.Time) {
	count := p.processed.Add(1)
	if p.logEveryN <= 0 {
		return
	}
	if count%p.logEveryN == 0 {
		logging.Info().Int64("processed", count).Msg("INGEST: progress")
	}
	if count%(5*p.logEveryN) == 0 {
		p.dedup.Cleanup(now)
		metrics.DedupeCacheSize.Set(float64(p.dedup.Len()))
	}
}
