package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboxLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	createBooking(t, store)

	events, err := store.PendingOutboxEvents(ctx, 10)
	require.NoError(t, err)
	// Reservation creation writes one event per created entity state.
	require.Len(t, events, 2)
	assert.Less(t, events[0].ID, events[1].ID, "events drain in insertion order")

	require.NoError(t, store.MarkOutboxProcessed(ctx, events[0].ID))

	remaining, err := store.PendingOutboxEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, events[1].ID, remaining[0].ID)
}

func TestOutboxRetryDelaysRedelivery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	createBooking(t, store)

	events, err := store.PendingOutboxEvents(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, events)

	// Scheduled for the future: not eligible yet.
	require.NoError(t, store.MarkOutboxRetry(ctx, events[0].ID, "sink down", time.Now().Add(time.Hour)))

	eligible, err := store.PendingOutboxEvents(ctx, 10)
	require.NoError(t, err)
	for _, e := range eligible {
		assert.NotEqual(t, events[0].ID, e.ID)
	}

	// Scheduled in the past: eligible again, with the retry recorded.
	require.NoError(t, store.MarkOutboxRetry(ctx, events[0].ID, "sink down again", time.Now().Add(-time.Minute)))

	eligible, err = store.PendingOutboxEvents(ctx, 10)
	require.NoError(t, err)
	found := false
	for _, e := range eligible {
		if e.ID == events[0].ID {
			found = true
			assert.Equal(t, 2, e.RetryCount)
			assert.Equal(t, "sink down again", e.LastError)
		}
	}
	assert.True(t, found)
}

func TestOutboxDeadLetterLeavesQueue(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	createBooking(t, store)

	events, err := store.PendingOutboxEvents(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, events)

	require.NoError(t, store.MarkOutboxDead(ctx, events[0].ID, "gave up"))

	eligible, err := store.PendingOutboxEvents(ctx, 10)
	require.NoError(t, err)
	for _, e := range eligible {
		assert.NotEqual(t, events[0].ID, e.ID)
	}
}

func TestPruneProcessedOutbox(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	createBooking(t, store)

	events, err := store.PendingOutboxEvents(ctx, 10)
	require.NoError(t, err)
	for _, e := range events {
		require.NoError(t, store.MarkOutboxProcessed(ctx, e.ID))
	}

	pruned, err := store.PruneProcessedOutbox(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(len(events)), pruned)

	// Pending rows are never pruned.
	createBooking2 := newReservation(2, "2026-03-02T14:00:00Z", "2026-03-02T16:00:00Z")
	_, err = store.CreateReservation(ctx, createBooking2, testActor)
	require.NoError(t, err)

	pruned, err = store.PruneProcessedOutbox(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, pruned)
}

func TestStatsSnapshot(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)
	_, orderID := createBooking(t, store)
	_, err := store.GrantAccess(ctx, orderID, now, time.Hour, testActor)
	require.NoError(t, err)

	resB := newReservation(2, "2026-03-01T14:00:00Z", "2026-03-01T16:00:00Z")
	_, err = store.CreateReservation(ctx, resB, testActor)
	require.NoError(t, err)

	snap, err := store.Stats(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.ActiveSessions)
	assert.Equal(t, int64(1), snap.PendingGrants)
	assert.Equal(t, int64(2), snap.ReservationsToday)
}
