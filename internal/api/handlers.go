package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"reserva/internal/models"
)

type createReservationRequest struct {
	SpaceID      int64     `json:"space_id"`
	CustomerName string    `json:"customer_name"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
}

type grantAccessRequest struct {
	DurationMinutes int64 `json:"duration_minutes"`
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil && id > 0
}

func (s *HTTPServer) handleCreateReservation(w http.ResponseWriter, r *http.Request) {
	var req createReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, orderID, err := s.reservations.CreateReservation(r.Context(), req.SpaceID, req.StartTime, req.EndTime, req.CustomerName, ActorFromContext(r.Context()))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"reservation": res,
		"order_id":    orderID,
	})
}

func (s *HTTPServer) handleGetReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid reservation id")
		return
	}

	res, err := s.reservations.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleCancelReservation(w http.ResponseWriter, r *http.Request) {
	s.reservationTransition(w, r, s.reservations.Cancel)
}

func (s *HTTPServer) handleMarkNoShow(w http.ResponseWriter, r *http.Request) {
	s.reservationTransition(w, r, s.reservations.MarkNoShow)
}

func (s *HTTPServer) handleMarkCompleted(w http.ResponseWriter, r *http.Request) {
	s.reservationTransition(w, r, s.reservations.MarkCompleted)
}

func (s *HTTPServer) reservationTransition(w http.ResponseWriter, r *http.Request, transition func(context.Context, int64, models.Actor) error) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid reservation id")
		return
	}

	if err := transition(r.Context(), id, ActorFromContext(r.Context())); err != nil {
		writeDomainError(w, err)
		return
	}

	res, err := s.reservations.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleListSpaces(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.GetSpaces())
}

func (s *HTTPServer) handleDayCalendar(w http.ResponseWriter, r *http.Request) {
	spaceID, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid space id")
		return
	}

	date := time.Now()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
			return
		}
		date = parsed
	}

	reservations, err := s.reservations.DayCalendar(r.Context(), spaceID, date)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"space_id":     spaceID,
		"date":         date.Format("2006-01-02"),
		"reservations": reservations,
	})
}

func (s *HTTPServer) handleGetGrant(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	g, err := s.grants.Get(r.Context(), orderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *HTTPServer) handleRemainingTime(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	remaining, err := s.grants.RemainingTime(r.Context(), orderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"order_id":          orderID,
		"remaining_seconds": int64(remaining.Seconds()),
	})
}

func (s *HTTPServer) handleConfirmGrant(w http.ResponseWriter, r *http.Request) {
	s.grantTransition(w, r, s.grants.Confirm)
}

func (s *HTTPServer) handleEndSession(w http.ResponseWriter, r *http.Request) {
	s.grantTransition(w, r, s.grants.EndSession)
}

func (s *HTTPServer) handleDeclineGrant(w http.ResponseWriter, r *http.Request) {
	s.grantTransition(w, r, s.grants.DeclineOrCancel)
}

func (s *HTTPServer) grantTransition(w http.ResponseWriter, r *http.Request, transition func(context.Context, int64, models.Actor) (*models.Grant, error)) {
	orderID, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	g, err := transition(r.Context(), orderID, ActorFromContext(r.Context()))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *HTTPServer) handleGrantAccess(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	var req grantAccessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	g, err := s.grants.GrantAccess(r.Context(), orderID, time.Duration(req.DurationMinutes)*time.Minute, ActorFromContext(r.Context()))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.Stats(r.Context(), time.Now())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *HTTPServer) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 1000 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	entries, err := s.store.ListAuditEntries(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
