package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"reserva/internal/database"
	"reserva/internal/domain"
	"reserva/internal/metrics"
	"reserva/internal/models"

	"github.com/rs/zerolog"
)

var (
	// ErrStartTooFarAhead rejects bookings beyond the advance window.
	ErrStartTooFarAhead = errors.New("reservation start is too far in the future")

	// ErrCustomerRequired rejects anonymous reservations.
	ErrCustomerRequired = errors.New("customer name is required")
)

// ReservationService validates booking requests and drives the conflict-checked
// store. All business validation lives here; the store enforces only atomicity
// and transition legality.
type ReservationService struct {
	store          domain.Store
	maxAdvanceDays int
	clock          domain.Clock
	logger         zerolog.Logger
}

func NewReservationService(store domain.Store, maxAdvanceDays int, clock domain.Clock, logger *zerolog.Logger) *ReservationService {
	if clock == nil {
		clock = time.Now
	}
	var svcLogger zerolog.Logger
	if logger != nil {
		svcLogger = logger.With().Str("component", "reservation-service").Logger()
	}
	return &ReservationService{
		store:          store,
		maxAdvanceDays: maxAdvanceDays,
		clock:          clock,
		logger:         svcLogger,
	}
}

// CreateReservation books [start, end) for a space. The half-open interval
// means a reservation ending at 15:00 never collides with one starting at
// 15:00. Returns the created reservation together with the id of its linked
// order.
func (s *ReservationService) CreateReservation(ctx context.Context, spaceID int64, start, end time.Time, customerName string, actor models.Actor) (*models.Reservation, int64, error) {
	if customerName == "" {
		return nil, 0, ErrCustomerRequired
	}
	interval, err := models.NewInterval(start, end)
	if err != nil {
		return nil, 0, err
	}
	if s.maxAdvanceDays > 0 {
		horizon := s.clock().AddDate(0, 0, s.maxAdvanceDays)
		if interval.Start.After(horizon) {
			return nil, 0, fmt.Errorf("%w: starts %s, horizon %s", ErrStartTooFarAhead,
				interval.Start.Format(time.RFC3339), horizon.Format(time.RFC3339))
		}
	}
	if _, err := s.store.GetSpace(spaceID); err != nil {
		return nil, 0, err
	}

	res := &models.Reservation{
		SpaceID:      spaceID,
		CustomerName: customerName,
		StartTime:    interval.Start,
		EndTime:      interval.End,
		Status:       models.ReservationConfirmed,
	}

	orderID, err := s.store.CreateReservation(ctx, res, actor)
	if err != nil {
		var conflict *database.ConflictError
		if errors.As(err, &conflict) {
			metrics.IncReservationConflict()
			s.logger.Warn().
				Int64("space_id", spaceID).
				Time("start", interval.Start).
				Time("end", interval.End).
				Ints64("colliding_ids", conflict.CollidingIDs).
				Msg("reservation rejected: interval conflict")
		}
		return nil, 0, err
	}

	metrics.IncReservationCreated()
	s.logger.Info().
		Int64("reservation_id", res.ID).
		Int64("order_id", orderID).
		Int64("space_id", spaceID).
		Dur("duration", interval.Duration()).
		Str("actor", actor.Name).
		Msg("reservation created")
	return res, orderID, nil
}

// Cancel releases the reservation's interval. The linked grant, if still
// undecided, is cancelled in the same transaction.
func (s *ReservationService) Cancel(ctx context.Context, id int64, actor models.Actor) error {
	if err := s.store.CancelReservation(ctx, id, actor); err != nil {
		return err
	}
	s.logger.Info().Int64("reservation_id", id).Str("actor", actor.Name).Msg("reservation cancelled")
	return nil
}

// MarkNoShow closes a reservation whose customer never arrived. Frees the
// interval like a cancellation but keeps the distinct terminal status for
// reporting.
func (s *ReservationService) MarkNoShow(ctx context.Context, id int64, actor models.Actor) error {
	if err := s.store.MarkNoShow(ctx, id, actor); err != nil {
		return err
	}
	s.logger.Info().Int64("reservation_id", id).Str("actor", actor.Name).Msg("reservation marked no-show")
	return nil
}

// MarkCompleted finishes an in-progress visit.
func (s *ReservationService) MarkCompleted(ctx context.Context, id int64, actor models.Actor) error {
	if err := s.store.MarkCompleted(ctx, id, actor); err != nil {
		return err
	}
	s.logger.Info().Int64("reservation_id", id).Str("actor", actor.Name).Msg("reservation completed")
	return nil
}

// Get returns a reservation by id.
func (s *ReservationService) Get(ctx context.Context, id int64) (*models.Reservation, error) {
	return s.store.GetReservation(ctx, id)
}

// DayCalendar returns every reservation touching the given calendar day for a
// space, ordered by start time.
func (s *ReservationService) DayCalendar(ctx context.Context, spaceID int64, date time.Time) ([]models.Reservation, error) {
	if _, err := s.store.GetSpace(spaceID); err != nil {
		return nil, err
	}
	return s.store.ListForSpaceOnDate(ctx, spaceID, date)
}
