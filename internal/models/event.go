package models

import "time"

// ChangeEvent is produced once per committed transition and delivered
// at-least-once to subscribers, ordered per entity id by CommitSeq.
type ChangeEvent struct {
	EntityType string    `json:"entity_type"`
	EntityID   int64     `json:"entity_id"`
	OldStatus  string    `json:"old_status"`
	NewStatus  string    `json:"new_status"`
	CommitSeq  int64     `json:"commit_sequence"`
	Timestamp  time.Time `json:"timestamp"`
}

// Actor identifies who requested a state-mutating operation. It is passed
// explicitly into every transition instead of being read from ambient state.
type Actor struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// SystemActor marks transitions initiated by the engine itself, such as
// forced expiries from the countdown authority.
var SystemActor = Actor{Name: "system", Role: "system"}

// IsSystem reports whether the actor is the engine itself.
func (a Actor) IsSystem() bool {
	return a.Role == "system"
}

// Session resolves an operator token to an actor. Sessions are created by the
// external login flow; the engine only reads them.
type Session struct {
	Token     string    `json:"token"`
	Actor     Actor     `json:"actor"`
	ExpiresAt time.Time `json:"expires_at"`
}
