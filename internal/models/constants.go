package models

// Reservation lifecycle. A reservation is never deleted, only
// status-transitioned.
const (
	ReservationConfirmed  = "Confirmed"
	ReservationInProgress = "InProgress"
	ReservationCompleted  = "Completed"
	ReservationCancelled  = "Cancelled"
	ReservationNoShow     = "NoShow"
)

// Grant lifecycle: Pending -> Confirmed -> Granted -> {Expired, Cancelled},
// with a direct decline path Pending/Confirmed -> Cancelled. All transitions
// are one-way.
const (
	GrantPending   = "Pending"
	GrantConfirmed = "Confirmed"
	GrantGranted   = "Granted"
	GrantExpired   = "Expired"
	GrantCancelled = "Cancelled"
)

const (
	OrderPending   = "Pending"
	OrderPreparing = "Preparing"
	OrderCompleted = "Completed"
	OrderCancelled = "Cancelled"
)

// Entity types carried on change events.
const (
	EntityReservation = "reservation"
	EntityGrant       = "grant"
	EntityOrder       = "order"
)

const (
	// DefaultTickIntervalSeconds is the expiry authority sweep resolution.
	DefaultTickIntervalSeconds = 1

	// DefaultMaxAdvanceDays limits how far ahead a reservation may start.
	DefaultMaxAdvanceDays = 365

	// DefaultMinGrantMinutes is the shortest duration GrantAccess accepts.
	DefaultMinGrantMinutes = 5

	// DefaultMaxGrantHours is the longest duration GrantAccess accepts.
	DefaultMaxGrantHours = 12

	// DefaultSessionTTL время жизни сессии оператора в Redis (в секундах).
	DefaultSessionTTL = 12 * 60 * 60

	// DefaultOutboxBatchSize number of outbox rows per dispatcher poll.
	DefaultOutboxBatchSize = 50

	// DefaultSubscriberBuffer capacity of a subscriber's delivery channel.
	DefaultSubscriberBuffer = 64
)
