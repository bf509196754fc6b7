package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"reserva/internal/models"
)

// ConfirmGrant moves a grant from Pending to Confirmed and the linked order
// from Pending to Preparing.
func (s *Store) ConfirmGrant(ctx context.Context, orderID int64, actor models.Actor) (*models.Grant, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	g, err := s.loadGrantTx(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if g.Status != models.GrantPending {
		return nil, &InvalidTransitionError{Entity: models.EntityGrant, EntityID: orderID, Current: g.Status, Requested: models.GrantConfirmed}
	}

	if err := s.updateGrantStatusTx(ctx, tx, g, models.GrantConfirmed, actor, false, now); err != nil {
		return nil, err
	}
	if err := s.updateOrderStatusTx(ctx, tx, orderID, models.OrderPreparing, actor, false, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit grant confirmation: %w", err)
	}
	return g, nil
}

// GrantAccess starts the live session: the grant becomes Granted with
// actual_start_time = start and scheduled_end_time = start + duration, and the
// linked reservation moves to InProgress. Allowed only from Pending or
// Confirmed; of two concurrent callers exactly one wins, the other gets an
// InvalidTransitionError.
func (s *Store) GrantAccess(ctx context.Context, orderID int64, start time.Time, duration time.Duration, actor models.Actor) (*models.Grant, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	g, err := s.loadGrantTx(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if g.Status != models.GrantPending && g.Status != models.GrantConfirmed {
		return nil, &InvalidTransitionError{Entity: models.EntityGrant, EntityID: orderID, Current: g.Status, Requested: models.GrantGranted}
	}

	end := start.Add(duration)
	result, err := tx.ExecContext(ctx,
		`UPDATE grants SET grant_status = ?, actual_start_ts = ?, scheduled_end_ts = ?, duration_seconds = ?,
                version = version + 1, updated_at = ?
         WHERE order_id = ? AND version = ?`,
		models.GrantGranted, start.Unix(), end.Unix(), int64(duration.Seconds()), now, orderID, g.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to grant access: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, ErrConcurrentModification
	}

	if err := s.appendChange(ctx, tx, models.EntityGrant, orderID, g.Status, models.GrantGranted, actor, false, g.Version+1, now); err != nil {
		return nil, err
	}
	if err := s.advanceReservationTx(ctx, tx, g.ReservationID, models.ReservationConfirmed, models.ReservationInProgress, actor, false, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit access grant: %w", err)
	}

	startUTC := start.UTC()
	endUTC := end.UTC()
	g.Status = models.GrantGranted
	g.ActualStartTime = &startUTC
	g.ScheduledEndTime = &endUTC
	g.DurationSeconds = int64(duration.Seconds())
	g.Version++
	return g, nil
}

// EndSession closes a live session manually: grant -> Expired, order ->
// Completed, reservation -> Completed. Allowed only from Granted.
func (s *Store) EndSession(ctx context.Context, orderID int64, actor models.Actor) (*models.Grant, error) {
	g, _, err := s.expireGrant(ctx, orderID, actor, false)
	return g, err
}

// ForceExpire is invoked by the countdown authority when a deadline elapses.
// Identical effect to EndSession, but idempotent: a grant already in a
// terminal state is a no-op, not an error, so an expiry race between the
// authority and a manual EndSession fails neither caller. The bool reports
// whether this call performed the transition.
func (s *Store) ForceExpire(ctx context.Context, orderID int64) (*models.Grant, bool, error) {
	return s.expireGrant(ctx, orderID, models.SystemActor, true)
}

func (s *Store) expireGrant(ctx context.Context, orderID int64, actor models.Actor, idempotent bool) (*models.Grant, bool, error) {
	system := actor.IsSystem()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	g, err := s.loadGrantTx(ctx, tx, orderID)
	if err != nil {
		return nil, false, err
	}
	if g.Terminal() {
		if idempotent {
			return g, false, nil
		}
		return nil, false, &InvalidTransitionError{Entity: models.EntityGrant, EntityID: orderID, Current: g.Status, Requested: models.GrantExpired}
	}
	if g.Status != models.GrantGranted {
		return nil, false, &InvalidTransitionError{Entity: models.EntityGrant, EntityID: orderID, Current: g.Status, Requested: models.GrantExpired}
	}

	if err := s.updateGrantStatusTx(ctx, tx, g, models.GrantExpired, actor, system, now); err != nil {
		return nil, false, err
	}
	if err := s.updateOrderStatusTx(ctx, tx, orderID, models.OrderCompleted, actor, system, now); err != nil {
		return nil, false, err
	}
	if err := s.advanceReservationTx(ctx, tx, g.ReservationID, models.ReservationInProgress, models.ReservationCompleted, actor, system, now); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit session end: %w", err)
	}
	return g, true, nil
}

// DeclineOrCancel is the decline path: Pending/Confirmed -> Cancelled, order
// and reservation cancelled alongside.
func (s *Store) DeclineOrCancel(ctx context.Context, orderID int64, actor models.Actor) (*models.Grant, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	g, err := s.loadGrantTx(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if g.Status != models.GrantPending && g.Status != models.GrantConfirmed {
		return nil, &InvalidTransitionError{Entity: models.EntityGrant, EntityID: orderID, Current: g.Status, Requested: models.GrantCancelled}
	}

	if err := s.updateGrantStatusTx(ctx, tx, g, models.GrantCancelled, actor, false, now); err != nil {
		return nil, err
	}
	if err := s.updateOrderStatusTx(ctx, tx, orderID, models.OrderCancelled, actor, false, now); err != nil {
		return nil, err
	}
	if err := s.advanceReservationTx(ctx, tx, g.ReservationID, models.ReservationConfirmed, models.ReservationCancelled, actor, false, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit grant cancellation: %w", err)
	}
	return g, nil
}

// cancelGrantTx cancels an undecided grant as a side effect of closing its
// reservation. Runs inside the caller's transaction.
func (s *Store) cancelGrantTx(ctx context.Context, tx *sql.Tx, orderID int64, actor models.Actor, now time.Time) error {
	g, err := s.loadGrantTx(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if g.Status != models.GrantPending && g.Status != models.GrantConfirmed {
		return nil
	}
	if err := s.updateGrantStatusTx(ctx, tx, g, models.GrantCancelled, actor, false, now); err != nil {
		return err
	}
	return s.updateOrderStatusTx(ctx, tx, orderID, models.OrderCancelled, actor, false, now)
}

// GetGrant returns a grant by its order id.
func (s *Store) GetGrant(ctx context.Context, orderID int64) (*models.Grant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT order_id, reservation_id, grant_status, actual_start_ts, scheduled_end_ts, duration_seconds,
                created_at, updated_at, version
         FROM grants WHERE order_id = ?`, orderID)
	g, err := scanGrant(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get grant: %w", err)
	}
	return g, nil
}

// GetOrder returns an order by id.
func (s *Store) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, reservation_id, total_amount, status, payment_status, order_date
         FROM orders WHERE id = ?`, id)

	var o models.Order
	err := row.Scan(&o.ID, &o.ReservationID, &o.TotalAmount, &o.Status, &o.PaymentStatus, &o.OrderDate)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &o, nil
}

// ActiveGrants returns every Granted grant. Used by the expiry authority to
// rehydrate deadlines after a restart.
func (s *Store) ActiveGrants(ctx context.Context) ([]models.Grant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT order_id, reservation_id, grant_status, actual_start_ts, scheduled_end_ts, duration_seconds,
                created_at, updated_at, version
         FROM grants WHERE grant_status = ?`, models.GrantGranted)
	if err != nil {
		return nil, fmt.Errorf("failed to list active grants: %w", err)
	}
	defer rows.Close()

	var out []models.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		out = append(out, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) loadGrantTx(ctx context.Context, tx *sql.Tx, orderID int64) (*models.Grant, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT order_id, reservation_id, grant_status, actual_start_ts, scheduled_end_ts, duration_seconds,
                created_at, updated_at, version
         FROM grants WHERE order_id = ?`, orderID)
	g, err := scanGrant(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load grant: %w", err)
	}
	return g, nil
}

func (s *Store) updateGrantStatusTx(ctx context.Context, tx *sql.Tx, g *models.Grant, to string, actor models.Actor, system bool, now time.Time) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE grants SET grant_status = ?, version = version + 1, updated_at = ? WHERE order_id = ? AND version = ?`,
		to, now, g.OrderID, g.Version)
	if err != nil {
		return fmt.Errorf("failed to update grant status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}

	old := g.Status
	g.Status = to
	g.Version++
	return s.appendChange(ctx, tx, models.EntityGrant, g.OrderID, old, to, actor, system, g.Version, now)
}

func (s *Store) updateOrderStatusTx(ctx context.Context, tx *sql.Tx, orderID int64, to string, actor models.Actor, system bool, now time.Time) error {
	var current string
	var version int64
	err := tx.QueryRowContext(ctx,
		`SELECT status, version FROM orders WHERE id = ?`, orderID).Scan(&current, &version)
	if err == sql.ErrNoRows {
		return fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load order: %w", err)
	}
	if current == to {
		return nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE orders SET status = ?, version = version + 1 WHERE id = ? AND version = ?`,
		to, orderID, version); err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}

	return s.appendChange(ctx, tx, models.EntityOrder, orderID, current, to, actor, system, version+1, now)
}

func scanGrant(row rowScanner) (*models.Grant, error) {
	var g models.Grant
	var actualStart, scheduledEnd sql.NullInt64
	err := row.Scan(&g.OrderID, &g.ReservationID, &g.Status, &actualStart, &scheduledEnd,
		&g.DurationSeconds, &g.CreatedAt, &g.UpdatedAt, &g.Version)
	if err != nil {
		return nil, err
	}
	if actualStart.Valid {
		t := time.Unix(actualStart.Int64, 0).UTC()
		g.ActualStartTime = &t
	}
	if scheduledEnd.Valid {
		t := time.Unix(scheduledEnd.Int64, 0).UTC()
		g.ScheduledEndTime = &t
	}
	return &g, nil
}
