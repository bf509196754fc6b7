package database

import (
	"context"
	"fmt"
	"time"

	"reserva/internal/models"
)

// OutboxEvent is a pending change event waiting for dispatch. Rows are marked
// processed only after every sink accepted the event, so delivery is
// at-least-once; per-entity ordering comes from draining in insertion order.
type OutboxEvent struct {
	ID         int64
	Event      models.ChangeEvent
	RetryCount int
	LastError  string
}

// PendingOutboxEvents returns undelivered events in insertion order.
func (s *Store) PendingOutboxEvents(ctx context.Context, limit int) ([]OutboxEvent, error) {
	query := `SELECT id, entity_type, entity_id, old_status, new_status, commit_seq, retry_count, COALESCE(last_error, ''), created_at
              FROM event_outbox
              WHERE status IN ('pending', 'retry') AND (next_retry_at IS NULL OR next_retry_at <= ?)
              ORDER BY id ASC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, time.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending outbox events: %w", err)
	}
	defer rows.Close()

	var events []OutboxEvent
	for rows.Next() {
		var e OutboxEvent
		if err := rows.Scan(&e.ID, &e.Event.EntityType, &e.Event.EntityID, &e.Event.OldStatus,
			&e.Event.NewStatus, &e.Event.CommitSeq, &e.RetryCount, &e.LastError, &e.Event.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// MarkOutboxProcessed records successful delivery.
func (s *Store) MarkOutboxProcessed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE event_outbox SET status = 'processed', processed_at = ? WHERE id = ?`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event processed: %w", err)
	}
	return nil
}

// MarkOutboxRetry schedules another delivery attempt.
func (s *Store) MarkOutboxRetry(ctx context.Context, id int64, lastError string, nextRetryAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE event_outbox SET status = 'retry', retry_count = retry_count + 1, last_error = ?, next_retry_at = ? WHERE id = ?`,
		lastError, nextRetryAt, id)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event for retry: %w", err)
	}
	return nil
}

// MarkOutboxDead parks an event that exhausted its retries.
func (s *Store) MarkOutboxDead(ctx context.Context, id int64, lastError string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE event_outbox SET status = 'dead', retry_count = retry_count + 1, last_error = ? WHERE id = ?`,
		lastError, id)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event dead: %w", err)
	}
	return nil
}

// PruneProcessedOutbox deletes delivered events older than the cutoff. The
// outbox is a delivery buffer, not history; reconnecting subscribers re-fetch
// current state instead of replaying.
func (s *Store) PruneProcessedOutbox(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM event_outbox WHERE status = 'processed' AND processed_at < ?`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to prune outbox: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
