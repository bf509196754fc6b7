package models

import "time"

// Grant authorizes physical access to a space for a bounded time window,
// one-to-one with a reservation. ActualStartTime and ScheduledEndTime are set
// together when the grant becomes Granted and retained for audit after it
// expires.
type Grant struct {
	OrderID          int64      `json:"order_id"`
	ReservationID    int64      `json:"reservation_id"`
	Status           string     `json:"grant_status"`
	ActualStartTime  *time.Time `json:"actual_start_time,omitempty"`
	ScheduledEndTime *time.Time `json:"scheduled_end_time,omitempty"`
	DurationSeconds  int64      `json:"duration_seconds"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	Version          int64      `json:"version"`
}

// Terminal reports whether the grant reached a state it can never leave.
func (g *Grant) Terminal() bool {
	return g.Status == GrantExpired || g.Status == GrantCancelled
}

// Active reports whether the grant has a live deadline.
func (g *Grant) Active() bool {
	return g.Status == GrantGranted
}

// Remaining returns the time left until ScheduledEndTime, floored at zero.
// Zero for grants that are not Granted.
func (g *Grant) Remaining(now time.Time) time.Duration {
	if !g.Active() || g.ScheduledEndTime == nil {
		return 0
	}
	left := g.ScheduledEndTime.Sub(now)
	if left < 0 {
		return 0
	}
	return left
}
