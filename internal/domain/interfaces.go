package domain

import (
	"context"
	"time"

	"reserva/internal/database"
	"reserva/internal/models"
)

// Store is the persistence surface the services depend on. *database.Store is
// the production implementation.
type Store interface {
	CreateReservation(ctx context.Context, res *models.Reservation, actor models.Actor) (int64, error)
	CancelReservation(ctx context.Context, id int64, actor models.Actor) error
	MarkNoShow(ctx context.Context, id int64, actor models.Actor) error
	MarkCompleted(ctx context.Context, id int64, actor models.Actor) error
	GetReservation(ctx context.Context, id int64) (*models.Reservation, error)
	ListForSpaceOnDate(ctx context.Context, spaceID int64, date time.Time) ([]models.Reservation, error)
	GetSpace(id int64) (models.Space, error)

	GetGrant(ctx context.Context, orderID int64) (*models.Grant, error)
	ConfirmGrant(ctx context.Context, orderID int64, actor models.Actor) (*models.Grant, error)
	GrantAccess(ctx context.Context, orderID int64, start time.Time, duration time.Duration, actor models.Actor) (*models.Grant, error)
	EndSession(ctx context.Context, orderID int64, actor models.Actor) (*models.Grant, error)
	ForceExpire(ctx context.Context, orderID int64) (*models.Grant, bool, error)
	DeclineOrCancel(ctx context.Context, orderID int64, actor models.Actor) (*models.Grant, error)
	ActiveGrants(ctx context.Context) ([]models.Grant, error)
}

// OutboxStore is what the event dispatcher needs from persistence.
type OutboxStore interface {
	PendingOutboxEvents(ctx context.Context, limit int) ([]database.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id int64) error
	MarkOutboxRetry(ctx context.Context, id int64, lastError string, nextRetryAt time.Time) error
	MarkOutboxDead(ctx context.Context, id int64, lastError string) error
	PruneProcessedOutbox(ctx context.Context, olderThan time.Time) (int64, error)
}

// EventSink receives committed change events from the dispatcher. Delivery is
// at-least-once; sinks and their consumers must tolerate duplicates.
type EventSink interface {
	Name() string
	Publish(ctx context.Context, event models.ChangeEvent) error
}

// DeadlineRegistry tracks the scheduled end of live sessions. The countdown
// authority implements it; registration happens only through grant
// transitions.
type DeadlineRegistry interface {
	Register(orderID int64, deadline time.Time)
	Deregister(orderID int64)
}

// SessionRepository resolves operator tokens to actors. Sessions are written
// by the external login flow and read here to authorize grant transitions.
type SessionRepository interface {
	GetSession(ctx context.Context, token string) (*models.Session, error)
	PutSession(ctx context.Context, session *models.Session) error
	DeleteSession(ctx context.Context, token string) error
}

// Clock abstracts wall time so expiry behavior is testable.
type Clock func() time.Time
