package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"reserva/internal/domain"
	"reserva/internal/metrics"

	"github.com/rs/zerolog"
)

const pruneKeepFor = 24 * time.Hour

// Dispatcher drains the transactional outbox into the configured sinks. A
// single goroutine drains in insertion order, which preserves per-entity
// commit order downstream. An event is marked processed only after every sink
// accepted it, so a crash between publish and mark causes redelivery, never
// loss.
type Dispatcher struct {
	store        domain.OutboxStore
	sinks        []domain.EventSink
	policy       RetryPolicy
	pollInterval time.Duration
	batchSize    int
	logger       zerolog.Logger

	lastPrune time.Time
}

func NewDispatcher(store domain.OutboxStore, sinks []domain.EventSink, policy RetryPolicy, pollInterval time.Duration, logger *zerolog.Logger) *Dispatcher {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	var dLogger zerolog.Logger
	if logger != nil {
		dLogger = logger.With().Str("component", "dispatcher").Logger()
	}

	return &Dispatcher{
		store:        store,
		sinks:        sinks,
		policy:       policy,
		pollInterval: pollInterval,
		batchSize:    50,
		logger:       dLogger,
	}
}

// Run polls the outbox until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	d.logger.Info().Dur("poll_interval", d.pollInterval).Int("sinks", len(d.sinks)).Msg("event dispatcher started")

	for {
		select {
		case <-ctx.Done():
			d.logger.Info().Msg("event dispatcher stopped")
			return
		case <-ticker.C:
			if err := d.Flush(ctx); err != nil {
				d.logger.Error().Err(err).Msg("outbox flush failed")
			}
			d.maybePrune(ctx)
		}
	}
}

// Flush delivers one batch of pending events. Exported so tests can drive the
// dispatcher synchronously.
func (d *Dispatcher) Flush(ctx context.Context) error {
	events, err := d.store.PendingOutboxEvents(ctx, d.batchSize)
	if err != nil {
		return fmt.Errorf("failed to load pending events: %w", err)
	}

	for _, outboxEvent := range events {
		var failures []string
		for _, sink := range d.sinks {
			if err := sink.Publish(ctx, outboxEvent.Event); err != nil {
				failures = append(failures, fmt.Sprintf("%s: %v", sink.Name(), err))
				continue
			}
			metrics.IncEventPublished(sink.Name())
		}

		if len(failures) == 0 {
			if err := d.store.MarkOutboxProcessed(ctx, outboxEvent.ID); err != nil {
				return fmt.Errorf("failed to mark event %d processed: %w", outboxEvent.ID, err)
			}
			continue
		}

		lastError := strings.Join(failures, "; ")
		if d.policy.Exhausted(outboxEvent.RetryCount) {
			d.logger.Error().
				Int64("outbox_id", outboxEvent.ID).
				Str("entity_type", outboxEvent.Event.EntityType).
				Int64("entity_id", outboxEvent.Event.EntityID).
				Str("errors", lastError).
				Msg("event dead-lettered after exhausting retries")
			metrics.IncEventDeadLettered()
			if err := d.store.MarkOutboxDead(ctx, outboxEvent.ID, lastError); err != nil {
				return fmt.Errorf("failed to dead-letter event %d: %w", outboxEvent.ID, err)
			}
			continue
		}

		nextRetryAt := time.Now().Add(d.policy.NextDelay(outboxEvent.RetryCount + 1))
		d.logger.Warn().
			Int64("outbox_id", outboxEvent.ID).
			Int("retry_count", outboxEvent.RetryCount+1).
			Time("next_retry_at", nextRetryAt).
			Str("errors", lastError).
			Msg("event delivery failed, scheduling retry")
		if err := d.store.MarkOutboxRetry(ctx, outboxEvent.ID, lastError, nextRetryAt); err != nil {
			return fmt.Errorf("failed to schedule retry for event %d: %w", outboxEvent.ID, err)
		}
	}

	return nil
}

func (d *Dispatcher) maybePrune(ctx context.Context) {
	if time.Since(d.lastPrune) < time.Hour {
		return
	}
	d.lastPrune = time.Now()

	pruned, err := d.store.PruneProcessedOutbox(ctx, time.Now().Add(-pruneKeepFor))
	if err != nil {
		d.logger.Error().Err(err).Msg("outbox prune failed")
		return
	}
	if pruned > 0 {
		d.logger.Info().Int64("pruned", pruned).Msg("pruned processed outbox events")
	}
}
