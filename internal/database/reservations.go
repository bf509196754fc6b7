package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"reserva/internal/models"
)

// CreateReservation inserts a reservation together with its order and pending
// grant in one transaction. The conflict check re-reads overlapping
// Confirmed/InProgress reservations inside the same transaction, so two
// concurrent requests for the same slot cannot both succeed.
func (s *Store) CreateReservation(ctx context.Context, res *models.Reservation, actor models.Actor) (int64, error) {
	if _, err := s.GetSpace(res.SpaceID); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM reservations
         WHERE space_id = ? AND status IN (?, ?) AND start_ts < ? AND end_ts > ?
         ORDER BY id`,
		res.SpaceID, models.ReservationConfirmed, models.ReservationInProgress,
		res.EndTime.Unix(), res.StartTime.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to check for conflicts: %w", err)
	}

	var colliding []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan conflicting reservation: %w", err)
		}
		colliding = append(colliding, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to read conflicts: %w", err)
	}

	if len(colliding) > 0 {
		return 0, &ConflictError{SpaceID: res.SpaceID, CollidingIDs: colliding}
	}

	now := time.Now()
	result, err := tx.ExecContext(ctx,
		`INSERT INTO reservations (space_id, customer_name, start_ts, end_ts, status, created_at, updated_at, version)
         VALUES (?, ?, ?, ?, ?, ?, ?, 1)`,
		res.SpaceID, res.CustomerName, res.StartTime.Unix(), res.EndTime.Unix(),
		models.ReservationConfirmed, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to insert reservation: %w", err)
	}
	reservationID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get reservation id: %w", err)
	}

	result, err = tx.ExecContext(ctx,
		`INSERT INTO orders (reservation_id, total_amount, status, payment_status, order_date)
         VALUES (?, 0, ?, 'unpaid', ?)`,
		reservationID, models.OrderPending, now)
	if err != nil {
		return 0, fmt.Errorf("failed to insert order: %w", err)
	}
	orderID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get order id: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO grants (order_id, reservation_id, grant_status, created_at, updated_at, version)
         VALUES (?, ?, ?, ?, ?, 1)`,
		orderID, reservationID, models.GrantPending, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to insert grant: %w", err)
	}

	if err := s.appendChange(ctx, tx, models.EntityReservation, reservationID, "", models.ReservationConfirmed, actor, false, 1, now); err != nil {
		return 0, err
	}
	if err := s.appendChange(ctx, tx, models.EntityGrant, orderID, "", models.GrantPending, actor, false, 1, now); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit reservation: %w", err)
	}

	res.ID = reservationID
	res.Status = models.ReservationConfirmed
	res.CreatedAt = now
	res.UpdatedAt = now
	res.Version = 1
	return orderID, nil
}

// CancelReservation moves a Confirmed reservation to Cancelled. The linked
// grant and order are cancelled in the same transaction so no Pending grant
// survives a dead reservation.
func (s *Store) CancelReservation(ctx context.Context, id int64, actor models.Actor) error {
	return s.closeReservation(ctx, id, []string{models.ReservationConfirmed}, models.ReservationCancelled, actor)
}

// MarkNoShow moves a Confirmed reservation to NoShow when the customer never
// arrived. The linked grant is cancelled as well.
func (s *Store) MarkNoShow(ctx context.Context, id int64, actor models.Actor) error {
	return s.closeReservation(ctx, id, []string{models.ReservationConfirmed}, models.ReservationNoShow, actor)
}

// MarkCompleted moves an InProgress reservation to Completed. The grant keeps
// its own lifecycle: EndSession is the normal path, and a deadline left behind
// is closed by the expiry authority, whose conditional reservation update then
// no-ops.
func (s *Store) MarkCompleted(ctx context.Context, id int64, actor models.Actor) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	if _, err := s.transitionReservationTx(ctx, tx, id, []string{models.ReservationInProgress}, models.ReservationCompleted, actor, false, now); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) closeReservation(ctx context.Context, id int64, from []string, to string, actor models.Actor) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	if _, err := s.transitionReservationTx(ctx, tx, id, from, to, actor, false, now); err != nil {
		return err
	}

	// Cancel the linked grant while it is still undecided.
	var orderID int64
	var grantStatus string
	err = tx.QueryRowContext(ctx,
		`SELECT order_id, grant_status FROM grants WHERE reservation_id = ?`, id).
		Scan(&orderID, &grantStatus)
	switch {
	case err == sql.ErrNoRows:
		// Reservation without a grant; nothing else to do.
	case err != nil:
		return fmt.Errorf("failed to load linked grant: %w", err)
	case grantStatus == models.GrantPending || grantStatus == models.GrantConfirmed:
		if err := s.cancelGrantTx(ctx, tx, orderID, actor, now); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// transitionReservationTx applies a conditional status update. The version
// guard turns a lost race into ErrConcurrentModification instead of a lost
// update.
func (s *Store) transitionReservationTx(ctx context.Context, tx *sql.Tx, id int64, allowedFrom []string, to string, actor models.Actor, system bool, now time.Time) (int64, error) {
	var current string
	var version int64
	err := tx.QueryRowContext(ctx,
		`SELECT status, version FROM reservations WHERE id = ?`, id).Scan(&current, &version)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("reservation %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load reservation: %w", err)
	}

	allowed := false
	for _, from := range allowedFrom {
		if current == from {
			allowed = true
			break
		}
	}
	if !allowed {
		return 0, &InvalidTransitionError{Entity: models.EntityReservation, EntityID: id, Current: current, Requested: to}
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE reservations SET status = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`,
		to, now, id, version)
	if err != nil {
		return 0, fmt.Errorf("failed to update reservation status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return 0, ErrConcurrentModification
	}

	newVersion := version + 1
	if err := s.appendChange(ctx, tx, models.EntityReservation, id, current, to, actor, system, newVersion, now); err != nil {
		return 0, err
	}
	return newVersion, nil
}

// advanceReservationTx moves the reservation between lifecycle states as a
// side effect of a grant transition. Unlike transitionReservationTx it no-ops
// when the reservation is not in the expected state, which keeps idempotent
// grant expiry from failing after a manual completion.
func (s *Store) advanceReservationTx(ctx context.Context, tx *sql.Tx, id int64, from, to string, actor models.Actor, system bool, now time.Time) error {
	var current string
	var version int64
	err := tx.QueryRowContext(ctx,
		`SELECT status, version FROM reservations WHERE id = ?`, id).Scan(&current, &version)
	if err == sql.ErrNoRows {
		return fmt.Errorf("reservation %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load reservation: %w", err)
	}
	if current != from {
		return nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE reservations SET status = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`,
		to, now, id, version); err != nil {
		return fmt.Errorf("failed to advance reservation status: %w", err)
	}

	return s.appendChange(ctx, tx, models.EntityReservation, id, current, to, actor, system, version+1, now)
}

// GetReservation returns a reservation by id.
func (s *Store) GetReservation(ctx context.Context, id int64) (*models.Reservation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, space_id, customer_name, start_ts, end_ts, status, created_at, updated_at, version
         FROM reservations WHERE id = ?`, id)
	res, err := scanReservation(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("reservation %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	return res, nil
}

// ListForSpaceOnDate returns every reservation whose interval touches the
// given calendar day. Used by booking calendars; not order-sensitive.
func (s *Store) ListForSpaceOnDate(ctx context.Context, spaceID int64, date time.Time) ([]models.Reservation, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, space_id, customer_name, start_ts, end_ts, status, created_at, updated_at, version
         FROM reservations WHERE space_id = ? AND start_ts < ? AND end_ts > ?
         ORDER BY start_ts`,
		spaceID, dayEnd.Unix(), dayStart.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	defer rows.Close()

	var out []models.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		out = append(out, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(row rowScanner) (*models.Reservation, error) {
	var res models.Reservation
	var startTS, endTS int64
	err := row.Scan(&res.ID, &res.SpaceID, &res.CustomerName, &startTS, &endTS,
		&res.Status, &res.CreatedAt, &res.UpdatedAt, &res.Version)
	if err != nil {
		return nil, err
	}
	res.StartTime = time.Unix(startTS, 0).UTC()
	res.EndTime = time.Unix(endTS, 0).UTC()
	return &res, nil
}
