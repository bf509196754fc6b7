package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"reserva/internal/broadcast"
	"reserva/internal/config"
	"reserva/internal/database"
	"reserva/internal/domain"
	"reserva/internal/models"
	"reserva/internal/service"
	"reserva/internal/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	ts          *httptest.Server
	store       *database.Store
	broadcaster *broadcast.Broadcaster
	dispatcher  *worker.Dispatcher
}

type noopRegistry struct{}

func (noopRegistry) Register(int64, time.Time) {}
func (noopRegistry) Deregister(int64)          {}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := database.NewStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	store.SetSpaces([]models.Space{
		{ID: 1, Title: "Зал 1", Capacity: 8},
		{ID: 2, Title: "Зал 2", Capacity: 4},
	})

	broadcaster := broadcast.NewBroadcaster(nil)
	dispatcher := worker.NewDispatcher(store, []domain.EventSink{broadcaster}, worker.DefaultRetryPolicy(), time.Second, nil)

	reservations := service.NewReservationService(store, 365, nil, nil)
	grants := service.NewGrantService(store, noopRegistry{}, 5*time.Minute, 12*time.Hour, nil, nil)

	cfg := config.APIConfig{HTTP: config.APIHTTPConfig{Port: 0}}
	auth := NewHTTPAuth(cfg, nil, nil)
	srv := NewHTTPServer(cfg, reservations, grants, broadcaster, store, auth, nil)

	ts := httptest.NewServer(srv.server.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, store: store, broadcaster: broadcaster, dispatcher: dispatcher}
}

func (e *testEnv) post(t *testing.T, path string, body any) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	} else {
		buf.WriteString("{}")
	}
	resp, err := http.Post(e.ts.URL+path, "application/json", &buf)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var payload map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return resp, payload
}

func (e *testEnv) get(t *testing.T, path string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(e.ts.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func (e *testEnv) book(t *testing.T, spaceID int64, start, end string) (reservationID, orderID int64) {
	t.Helper()
	resp, payload := e.post(t, "/api/v1/reservations", map[string]any{
		"space_id":      spaceID,
		"customer_name": "Иван",
		"start_time":    start,
		"end_time":      end,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var res models.Reservation
	require.NoError(t, json.Unmarshal(payload["reservation"], &res))
	require.NoError(t, json.Unmarshal(payload["order_id"], &orderID))
	return res.ID, orderID
}

func TestCreateReservationEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resID, orderID := env.book(t, 1, "2026-03-01T14:00:00Z", "2026-03-01T16:00:00Z")
	assert.NotZero(t, resID)
	assert.NotZero(t, orderID)

	// Overlap is a 409 naming the collision.
	resp, payload := env.post(t, "/api/v1/reservations", map[string]any{
		"space_id":      1,
		"customer_name": "Пётр",
		"start_time":    "2026-03-01T15:00:00Z",
		"end_time":      "2026-03-01T17:00:00Z",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	var colliding []int64
	require.NoError(t, json.Unmarshal(payload["colliding_ids"], &colliding))
	assert.Equal(t, []int64{resID}, colliding)

	// Bad interval is a 400.
	resp, _ = env.post(t, "/api/v1/reservations", map[string]any{
		"space_id":      1,
		"customer_name": "Пётр",
		"start_time":    "2026-03-01T18:00:00Z",
		"end_time":      "2026-03-01T18:00:00Z",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGrantLifecycleEndpoints(t *testing.T) {
	env := newTestEnv(t)
	resID, orderID := env.book(t, 1, "2026-03-01T14:00:00Z", "2026-03-01T16:00:00Z")

	resp, _ := env.post(t, fmt.Sprintf("/api/v1/orders/%d/confirm", orderID), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, payload := env.post(t, fmt.Sprintf("/api/v1/orders/%d/grant", orderID), map[string]any{"duration_minutes": 90})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status string
	require.NoError(t, json.Unmarshal(payload["grant_status"], &status))
	assert.Equal(t, models.GrantGranted, status)

	var remaining map[string]int64
	resp = env.get(t, fmt.Sprintf("/api/v1/orders/%d/remaining", orderID), &remaining)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.InDelta(t, 90*60, remaining["remaining_seconds"], 5)

	var res models.Reservation
	resp = env.get(t, fmt.Sprintf("/api/v1/reservations/%d", resID), &res)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.ReservationInProgress, res.Status)

	resp, _ = env.post(t, fmt.Sprintf("/api/v1/orders/%d/end", orderID), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Ending twice hits the one-way state machine.
	resp, payload = env.post(t, fmt.Sprintf("/api/v1/orders/%d/end", orderID), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	var current string
	require.NoError(t, json.Unmarshal(payload["current_status"], &current))
	assert.Equal(t, models.GrantExpired, current)
}

func TestGrantDurationValidationEndpoint(t *testing.T) {
	env := newTestEnv(t)
	_, orderID := env.book(t, 1, "2026-03-01T14:00:00Z", "2026-03-01T16:00:00Z")

	resp, _ := env.post(t, fmt.Sprintf("/api/v1/orders/%d/grant", orderID), map[string]any{"duration_minutes": 1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeclineEndpoint(t *testing.T) {
	env := newTestEnv(t)
	resID, orderID := env.book(t, 1, "2026-03-01T14:00:00Z", "2026-03-01T16:00:00Z")

	resp, _ := env.post(t, fmt.Sprintf("/api/v1/orders/%d/decline", orderID), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var res models.Reservation
	env.get(t, fmt.Sprintf("/api/v1/reservations/%d", resID), &res)
	assert.Equal(t, models.ReservationCancelled, res.Status)
}

func TestUnknownIDsReturn404(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/api/v1/reservations/999", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.get(t, "/api/v1/orders/999/remaining", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDayCalendarEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.book(t, 1, "2026-03-01T10:00:00Z", "2026-03-01T12:00:00Z")
	env.book(t, 1, "2026-03-01T14:00:00Z", "2026-03-01T16:00:00Z")
	env.book(t, 1, "2026-03-02T10:00:00Z", "2026-03-02T12:00:00Z")

	var payload struct {
		Reservations []models.Reservation `json:"reservations"`
	}
	resp := env.get(t, "/api/v1/spaces/1/reservations?date=2026-03-01", &payload)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, payload.Reservations, 2)

	resp = env.get(t, "/api/v1/spaces/1/reservations?date=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatsAndHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.book(t, 1, "2026-03-01T14:00:00Z", "2026-03-01T16:00:00Z")

	var snap database.StatsSnapshot
	resp := env.get(t, "/api/v1/stats", &snap)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(1), snap.PendingGrants)

	var health map[string]string
	resp = env.get(t, "/healthz", &health)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", health["status"])
}

func TestEventsStreamDeliversCommittedTransitions(t *testing.T) {
	env := newTestEnv(t)
	_, orderID := env.book(t, 1, "2026-03-01T14:00:00Z", "2026-03-01T16:00:00Z")

	req, err := http.NewRequest(http.MethodGet, env.ts.URL+"/api/v1/events?entity_type=grant", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Drain the outbox into the broadcaster after the subscription exists.
	require.NoError(t, env.dispatcher.Flush(req.Context()))

	reader := bufio.NewReader(resp.Body)
	deadline := time.After(5 * time.Second)
	lines := make(chan string, 16)
	go func() {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			lines <- strings.TrimSpace(line)
		}
	}()

	for {
		select {
		case line := <-lines:
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var ev models.ChangeEvent
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
			assert.Equal(t, models.EntityGrant, ev.EntityType)
			assert.Equal(t, orderID, ev.EntityID)
			assert.Equal(t, models.GrantPending, ev.NewStatus)
			return
		case <-deadline:
			t.Fatal("no event received on the stream")
		}
	}
}
