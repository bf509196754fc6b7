package broadcast

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"reserva/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisSinkPublishesPerEntityChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	sink := NewRedisSink(client, "reserva:events", nil)
	require.Equal(t, "redis", sink.Name())

	ctx := context.Background()
	pubsub := client.Subscribe(ctx, "reserva:events:grant")
	defer pubsub.Close()
	_, err := pubsub.Receive(ctx)
	require.NoError(t, err)

	sent := models.ChangeEvent{
		EntityType: models.EntityGrant,
		EntityID:   7,
		OldStatus:  models.GrantConfirmed,
		NewStatus:  models.GrantGranted,
		CommitSeq:  3,
		Timestamp:  time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC),
	}
	require.NoError(t, sink.Publish(ctx, sent))

	select {
	case msg := <-pubsub.Channel():
		var got models.ChangeEvent
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, sent, got)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received on the grant channel")
	}
}

func TestRedisSinkReportsConnectionFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	sink := NewRedisSink(client, "", nil)
	mr.Close()

	err := sink.Publish(context.Background(), models.ChangeEvent{EntityType: models.EntityGrant})
	assert.Error(t, err, "a dead redis must surface so the dispatcher can retry")
}
