package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"reserva/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testActor = models.Actor{ID: 7, Name: "olga", Role: "operator"}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	store.SetSpaces([]models.Space{
		{ID: 1, Title: "Зал 1", Capacity: 8},
		{ID: 2, Title: "Зал 2", Capacity: 4},
	})
	return store
}

func newReservation(spaceID int64, start, end string) *models.Reservation {
	s, _ := time.Parse(time.RFC3339, start)
	e, _ := time.Parse(time.RFC3339, end)
	return &models.Reservation{
		SpaceID:      spaceID,
		CustomerName: "Иван",
		StartTime:    s,
		EndTime:      e,
	}
}

func TestCreateReservationRejectsOverlap(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := newReservation(1, "2026-03-01T14:00:00Z", "2026-03-01T16:00:00Z")
	_, err := store.CreateReservation(ctx, first, testActor)
	require.NoError(t, err)
	require.NotZero(t, first.ID)

	second := newReservation(1, "2026-03-01T15:00:00Z", "2026-03-01T17:00:00Z")
	_, err = store.CreateReservation(ctx, second, testActor)
	require.Error(t, err)

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(1), conflict.SpaceID)
	assert.Equal(t, []int64{first.ID}, conflict.CollidingIDs)
}

func TestCreateReservationAllowsBackToBack(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateReservation(ctx, newReservation(1, "2026-03-01T14:00:00Z", "2026-03-01T16:00:00Z"), testActor)
	require.NoError(t, err)

	// Ends exactly when the next one starts: half-open intervals do not touch.
	_, err = store.CreateReservation(ctx, newReservation(1, "2026-03-01T16:00:00Z", "2026-03-01T18:00:00Z"), testActor)
	require.NoError(t, err)

	_, err = store.CreateReservation(ctx, newReservation(1, "2026-03-01T12:00:00Z", "2026-03-01T14:00:00Z"), testActor)
	require.NoError(t, err)
}

func TestCreateReservationIsolatesSpaces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateReservation(ctx, newReservation(1, "2026-03-01T14:00:00Z", "2026-03-01T16:00:00Z"), testActor)
	require.NoError(t, err)

	_, err = store.CreateReservation(ctx, newReservation(2, "2026-03-01T14:00:00Z", "2026-03-01T16:00:00Z"), testActor)
	require.NoError(t, err)
}

func TestCreateReservationUnknownSpace(t *testing.T) {
	store := newTestStore(t)

	_, err := store.CreateReservation(context.Background(), newReservation(99, "2026-03-01T14:00:00Z", "2026-03-01T16:00:00Z"), testActor)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentBookingSingleWinner(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const workers = 10
	var wg sync.WaitGroup
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			res := newReservation(1, "2026-03-01T14:00:00Z", "2026-03-01T16:00:00Z")
			_, errs[idx] = store.CreateReservation(ctx, res, testActor)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var conflict *ConflictError
		require.ErrorAs(t, err, &conflict)
	}
	assert.Equal(t, 1, succeeded, "exactly one of the concurrent bookings must win")
}

func TestCancelFreesIntervalAndCancelsGrant(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	res := newReservation(1, "2026-03-01T14:00:00Z", "2026-03-01T16:00:00Z")
	orderID, err := store.CreateReservation(ctx, res, testActor)
	require.NoError(t, err)

	require.NoError(t, store.CancelReservation(ctx, res.ID, testActor))

	got, err := store.GetReservation(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationCancelled, got.Status)

	g, err := store.GetGrant(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, models.GrantCancelled, g.Status)

	// The interval is free again.
	_, err = store.CreateReservation(ctx, newReservation(1, "2026-03-01T14:00:00Z", "2026-03-01T16:00:00Z"), testActor)
	require.NoError(t, err)
}

func TestCancelTwiceRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	res := newReservation(1, "2026-03-01T14:00:00Z", "2026-03-01T16:00:00Z")
	_, err := store.CreateReservation(ctx, res, testActor)
	require.NoError(t, err)

	require.NoError(t, store.CancelReservation(ctx, res.ID, testActor))

	err = store.CancelReservation(ctx, res.ID, testActor)
	var transition *InvalidTransitionError
	require.ErrorAs(t, err, &transition)
	assert.Equal(t, models.ReservationCancelled, transition.Current)
}

func TestMarkNoShowFreesInterval(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	res := newReservation(1, "2026-03-01T14:00:00Z", "2026-03-01T16:00:00Z")
	orderID, err := store.CreateReservation(ctx, res, testActor)
	require.NoError(t, err)

	require.NoError(t, store.MarkNoShow(ctx, res.ID, testActor))

	got, err := store.GetReservation(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationNoShow, got.Status)

	g, err := store.GetGrant(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, models.GrantCancelled, g.Status)

	_, err = store.CreateReservation(ctx, newReservation(1, "2026-03-01T15:00:00Z", "2026-03-01T17:00:00Z"), testActor)
	require.NoError(t, err)
}

func TestMarkCompletedRequiresInProgress(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	res := newReservation(1, "2026-03-01T14:00:00Z", "2026-03-01T16:00:00Z")
	orderID, err := store.CreateReservation(ctx, res, testActor)
	require.NoError(t, err)

	var transition *InvalidTransitionError
	require.ErrorAs(t, store.MarkCompleted(ctx, res.ID, testActor), &transition)

	_, err = store.GrantAccess(ctx, orderID, time.Now(), time.Hour, testActor)
	require.NoError(t, err)

	require.NoError(t, store.MarkCompleted(ctx, res.ID, testActor))
	got, err := store.GetReservation(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationCompleted, got.Status)
}

func TestListForSpaceOnDate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateReservation(ctx, newReservation(1, "2026-03-01T16:00:00Z", "2026-03-01T18:00:00Z"), testActor)
	require.NoError(t, err)
	_, err = store.CreateReservation(ctx, newReservation(1, "2026-03-01T10:00:00Z", "2026-03-01T12:00:00Z"), testActor)
	require.NoError(t, err)
	_, err = store.CreateReservation(ctx, newReservation(1, "2026-03-02T10:00:00Z", "2026-03-02T12:00:00Z"), testActor)
	require.NoError(t, err)
	_, err = store.CreateReservation(ctx, newReservation(2, "2026-03-01T10:00:00Z", "2026-03-01T12:00:00Z"), testActor)
	require.NoError(t, err)

	date := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	got, err := store.ListForSpaceOnDate(ctx, 1, date)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].StartTime.Before(got[1].StartTime), "calendar is ordered by start time")
}

func TestGetReservationNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetReservation(context.Background(), 12345)
	assert.ErrorIs(t, err, ErrNotFound)
}
