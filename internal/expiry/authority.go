package expiry

import (
	"context"
	"errors"
	"sync"
	"time"

	"reserva/internal/database"
	"reserva/internal/domain"
	"reserva/internal/metrics"

	"github.com/rs/zerolog"
)

// Expirer closes a session whose deadline elapsed. The grant service
// implements it; the underlying transition is idempotent, so duplicate or
// late sweeps are harmless.
type Expirer interface {
	ForceExpire(ctx context.Context, orderID int64) (bool, error)
}

// Authority is the single source of truth for "has this grant's time run
// out". It runs next to the store, not in any client: deadlines are enforced
// even when no observer is connected. Registration happens only through grant
// transitions; there is no independent admission path.
type Authority struct {
	tick   time.Duration
	clock  domain.Clock
	logger zerolog.Logger

	mu        sync.Mutex
	deadlines map[int64]time.Time
}

func NewAuthority(tick time.Duration, clock domain.Clock, logger *zerolog.Logger) *Authority {
	if tick <= 0 {
		tick = time.Second
	}
	if clock == nil {
		clock = time.Now
	}

	var authLogger zerolog.Logger
	if logger != nil {
		authLogger = logger.With().Str("component", "expiry").Logger()
	}

	return &Authority{
		tick:      tick,
		clock:     clock,
		logger:    authLogger,
		deadlines: make(map[int64]time.Time),
	}
}

// Register tracks the scheduled end of a live session.
func (a *Authority) Register(orderID int64, deadline time.Time) {
	a.mu.Lock()
	a.deadlines[orderID] = deadline
	n := len(a.deadlines)
	a.mu.Unlock()

	metrics.SetActiveSessions(float64(n))
	a.logger.Info().Int64("order_id", orderID).Time("deadline", deadline).Msg("deadline registered")
}

// Deregister drops a deadline. Safe to call for unknown ids.
func (a *Authority) Deregister(orderID int64) {
	a.mu.Lock()
	delete(a.deadlines, orderID)
	n := len(a.deadlines)
	a.mu.Unlock()

	metrics.SetActiveSessions(float64(n))
}

// Active returns the number of tracked deadlines.
func (a *Authority) Active() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.deadlines)
}

// Run sweeps deadlines until the context is cancelled. A single ticker
// goroutine is sufficient; expiry transitions go through the same atomic path
// as manual calls, so the loop needs no extra locking discipline.
func (a *Authority) Run(ctx context.Context, expirer Expirer) {
	ticker := time.NewTicker(a.tick)
	defer ticker.Stop()

	a.logger.Info().Dur("tick", a.tick).Msg("expiry authority started")

	for {
		select {
		case <-ctx.Done():
			a.logger.Info().Msg("expiry authority stopped")
			return
		case <-ticker.C:
			a.Sweep(ctx, expirer)
		}
	}
}

// Sweep force-expires every deadline at or before now. Exported so tests can
// drive the authority without waiting on the ticker.
func (a *Authority) Sweep(ctx context.Context, expirer Expirer) {
	now := a.clock()

	a.mu.Lock()
	var due []int64
	for orderID, deadline := range a.deadlines {
		if !deadline.After(now) {
			due = append(due, orderID)
		}
	}
	a.mu.Unlock()

	for _, orderID := range due {
		transitioned, err := expirer.ForceExpire(ctx, orderID)
		switch {
		case err == nil:
			a.Deregister(orderID)
			if transitioned {
				a.logger.Info().Int64("order_id", orderID).Msg("session force-expired")
			}
		case errors.Is(err, database.ErrNotFound):
			// Nothing left to enforce.
			a.Deregister(orderID)
		default:
			// Transient store failure: keep the deadline, the next tick
			// retries and the transition stays idempotent.
			a.logger.Error().Err(err).Int64("order_id", orderID).Msg("force expire failed, will retry")
		}
	}
}
