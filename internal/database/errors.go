package database

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrNotFound is returned for unknown reservation, order or space ids.
	ErrNotFound = errors.New("not found")

	// ErrConcurrentModification is returned when a versioned update lost the
	// race to a concurrent writer. Callers refresh and retry.
	ErrConcurrentModification = errors.New("concurrent modification, please refresh")
)

// ConflictError rejects a reservation that overlaps existing Confirmed or
// InProgress reservations on the same space. It names the colliding ids so an
// operator can decide the next action.
type ConflictError struct {
	SpaceID      int64
	CollidingIDs []int64
}

func (e *ConflictError) Error() string {
	ids := make([]string, 0, len(e.CollidingIDs))
	for _, id := range e.CollidingIDs {
		ids = append(ids, strconv.FormatInt(id, 10))
	}
	return fmt.Sprintf("space %d already reserved, colliding reservations: %s", e.SpaceID, strings.Join(ids, ", "))
}

// InvalidTransitionError rejects a state machine transition attempted from a
// state that does not allow it. Transitions are never silently coerced.
type InvalidTransitionError struct {
	Entity    string
	EntityID  int64
	Current   string
	Requested string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s %d: invalid transition %s -> %s", e.Entity, e.EntityID, e.Current, e.Requested)
}
