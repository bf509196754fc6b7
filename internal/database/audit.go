package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"reserva/internal/models"
)

// AuditEntry is one row of the append-only transition trail. Forced expiries
// carry SystemInitiated so operator actions and engine actions stay
// distinguishable in activity logs.
type AuditEntry struct {
	ID              int64     `json:"id"`
	EntityType      string    `json:"entity_type"`
	EntityID        int64     `json:"entity_id"`
	OldStatus       string    `json:"old_status"`
	NewStatus       string    `json:"new_status"`
	ActorName       string    `json:"actor_name"`
	ActorRole       string    `json:"actor_role"`
	SystemInitiated bool      `json:"system_initiated"`
	CommitSeq       int64     `json:"commit_sequence"`
	CreatedAt       time.Time `json:"created_at"`
}

// appendChange records a committed transition in the audit log and the event
// outbox inside the caller's transaction. Everything the broadcaster later
// delivers originates here.
func (s *Store) appendChange(ctx context.Context, tx *sql.Tx, entityType string, entityID int64, old, new string, actor models.Actor, system bool, commitSeq int64, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO audit_log (entity_type, entity_id, old_status, new_status, actor_name, actor_role, system_initiated, commit_seq, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entityType, entityID, old, new, actor.Name, actor.Role, system, commitSeq, now)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO event_outbox (entity_type, entity_id, old_status, new_status, commit_seq, status, created_at)
         VALUES (?, ?, ?, ?, ?, 'pending', ?)`,
		entityType, entityID, old, new, commitSeq, now)
	if err != nil {
		return fmt.Errorf("failed to append outbox event: %w", err)
	}
	return nil
}

// ListAuditEntries returns the most recent audit rows, newest first.
func (s *Store) ListAuditEntries(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, entity_type, entity_id, old_status, new_status, actor_name, actor_role, system_initiated, commit_seq, created_at
         FROM audit_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.OldStatus, &e.NewStatus,
			&e.ActorName, &e.ActorRole, &e.SystemInitiated, &e.CommitSeq, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
