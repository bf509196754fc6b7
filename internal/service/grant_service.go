package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"reserva/internal/domain"
	"reserva/internal/metrics"
	"reserva/internal/models"

	"github.com/rs/zerolog"
)

// ErrDurationOutOfRange rejects grant durations outside the configured window.
var ErrDurationOutOfRange = errors.New("grant duration out of allowed range")

// GrantService drives the access-grant state machine and keeps the countdown
// authority's deadline registry in step with it. Every mutation carries the
// acting operator; expiries initiated by the authority are attributed to the
// system actor inside the store.
type GrantService struct {
	store     domain.Store
	deadlines domain.DeadlineRegistry
	minDur    time.Duration
	maxDur    time.Duration
	clock     domain.Clock
	logger    zerolog.Logger
}

func NewGrantService(store domain.Store, deadlines domain.DeadlineRegistry, minDur, maxDur time.Duration, clock domain.Clock, logger *zerolog.Logger) *GrantService {
	if clock == nil {
		clock = time.Now
	}
	var svcLogger zerolog.Logger
	if logger != nil {
		svcLogger = logger.With().Str("component", "grant-service").Logger()
	}
	return &GrantService{
		store:     store,
		deadlines: deadlines,
		minDur:    minDur,
		maxDur:    maxDur,
		clock:     clock,
		logger:    svcLogger,
	}
}

// Confirm acknowledges a pending grant request.
func (s *GrantService) Confirm(ctx context.Context, orderID int64, actor models.Actor) (*models.Grant, error) {
	g, err := s.store.ConfirmGrant(ctx, orderID, actor)
	if err != nil {
		metrics.IncGrantTransition("confirm", "rejected")
		return nil, err
	}
	metrics.IncGrantTransition("confirm", "ok")
	s.logger.Info().Int64("order_id", orderID).Str("actor", actor.Name).Msg("grant confirmed")
	return g, nil
}

// GrantAccess starts the live session now for the given duration and registers
// its deadline with the countdown authority. Of two concurrent calls exactly
// one succeeds.
func (s *GrantService) GrantAccess(ctx context.Context, orderID int64, duration time.Duration, actor models.Actor) (*models.Grant, error) {
	if duration < s.minDur || duration > s.maxDur {
		return nil, fmt.Errorf("%w: %s not in [%s, %s]", ErrDurationOutOfRange, duration, s.minDur, s.maxDur)
	}

	start := s.clock()
	g, err := s.store.GrantAccess(ctx, orderID, start, duration, actor)
	if err != nil {
		metrics.IncGrantTransition("grant", "rejected")
		return nil, err
	}

	s.deadlines.Register(orderID, *g.ScheduledEndTime)
	metrics.IncGrantTransition("grant", "ok")
	s.logger.Info().
		Int64("order_id", orderID).
		Dur("duration", duration).
		Time("scheduled_end", *g.ScheduledEndTime).
		Str("actor", actor.Name).
		Msg("access granted")
	return g, nil
}

// EndSession closes a live session before its deadline.
func (s *GrantService) EndSession(ctx context.Context, orderID int64, actor models.Actor) (*models.Grant, error) {
	g, err := s.store.EndSession(ctx, orderID, actor)
	if err != nil {
		metrics.IncGrantTransition("end", "rejected")
		return nil, err
	}

	s.deadlines.Deregister(orderID)
	metrics.IncGrantTransition("end", "ok")
	s.logger.Info().Int64("order_id", orderID).Str("actor", actor.Name).Msg("session ended")
	return g, nil
}

// DeclineOrCancel rejects an undecided grant request.
func (s *GrantService) DeclineOrCancel(ctx context.Context, orderID int64, actor models.Actor) (*models.Grant, error) {
	g, err := s.store.DeclineOrCancel(ctx, orderID, actor)
	if err != nil {
		metrics.IncGrantTransition("decline", "rejected")
		return nil, err
	}

	metrics.IncGrantTransition("decline", "ok")
	s.logger.Info().Int64("order_id", orderID).Str("actor", actor.Name).Msg("grant declined")
	return g, nil
}

// ForceExpire closes a session whose deadline elapsed. Called by the countdown
// authority only; attributed to the system actor. Idempotent: expiring an
// already-terminal grant reports false with no error.
func (s *GrantService) ForceExpire(ctx context.Context, orderID int64) (bool, error) {
	_, transitioned, err := s.store.ForceExpire(ctx, orderID)
	if err != nil {
		return false, err
	}
	if transitioned {
		metrics.IncForcedExpiry()
		metrics.IncGrantTransition("expire", "ok")
		s.logger.Info().Int64("order_id", orderID).Str("actor", models.SystemActor.Name).Msg("session expired by countdown")
	}
	return transitioned, nil
}

// RemainingTime reports how long a session has left. Never negative: once the
// deadline passes the answer is zero regardless of sweep timing.
func (s *GrantService) RemainingTime(ctx context.Context, orderID int64) (time.Duration, error) {
	g, err := s.store.GetGrant(ctx, orderID)
	if err != nil {
		return 0, err
	}
	return g.Remaining(s.clock()), nil
}

// Get returns a grant by its order id.
func (s *GrantService) Get(ctx context.Context, orderID int64) (*models.Grant, error) {
	return s.store.GetGrant(ctx, orderID)
}

// Rehydrate re-registers deadlines for every live session. Run once on
// startup so sessions granted before a restart still expire on schedule.
func (s *GrantService) Rehydrate(ctx context.Context) error {
	grants, err := s.store.ActiveGrants(ctx)
	if err != nil {
		return fmt.Errorf("failed to rehydrate deadlines: %w", err)
	}

	for _, g := range grants {
		if g.ScheduledEndTime == nil {
			continue
		}
		s.deadlines.Register(g.OrderID, *g.ScheduledEndTime)
	}

	s.logger.Info().Int("sessions", len(grants)).Msg("deadlines rehydrated")
	return nil
}
