package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"reserva/internal/broadcast"
	"reserva/internal/config"
	"reserva/internal/database"
	"reserva/internal/metrics"
	"reserva/internal/models"
	"reserva/internal/service"

	"github.com/rs/zerolog"
)

// HTTPServer exposes the reservation and grant engine to operator consoles.
type HTTPServer struct {
	reservations *service.ReservationService
	grants       *service.GrantService
	broadcaster  *broadcast.Broadcaster
	store        *database.Store
	auth         *HTTPAuth
	server       *http.Server
	logger       zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, reservations *service.ReservationService, grants *service.GrantService, broadcaster *broadcast.Broadcaster, store *database.Store, auth *HTTPAuth, logger *zerolog.Logger) *HTTPServer {
	var srvLogger zerolog.Logger
	if logger != nil {
		srvLogger = logger.With().Str("component", "http-server").Logger()
	}

	s := &HTTPServer{
		reservations: reservations,
		grants:       grants,
		broadcaster:  broadcaster,
		store:        store,
		auth:         auth,
		logger:       srvLogger,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		// SSE streams stay open indefinitely, so no server-wide write timeout.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

func (s *HTTPServer) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /api/v1/reservations", s.guard(PermWriteReservations, "create_reservation", s.handleCreateReservation))
	mux.HandleFunc("GET /api/v1/reservations/{id}", s.guard(PermReadCalendar, "get_reservation", s.handleGetReservation))
	mux.HandleFunc("POST /api/v1/reservations/{id}/cancel", s.guard(PermWriteReservations, "cancel_reservation", s.handleCancelReservation))
	mux.HandleFunc("POST /api/v1/reservations/{id}/no-show", s.guard(PermWriteReservations, "mark_no_show", s.handleMarkNoShow))
	mux.HandleFunc("POST /api/v1/reservations/{id}/complete", s.guard(PermWriteReservations, "complete_reservation", s.handleMarkCompleted))

	mux.HandleFunc("GET /api/v1/spaces", s.guard(PermReadCalendar, "list_spaces", s.handleListSpaces))
	mux.HandleFunc("GET /api/v1/spaces/{id}/reservations", s.guard(PermReadCalendar, "day_calendar", s.handleDayCalendar))

	mux.HandleFunc("GET /api/v1/orders/{id}", s.guard(PermReadCalendar, "get_grant", s.handleGetGrant))
	mux.HandleFunc("GET /api/v1/orders/{id}/remaining", s.guard(PermReadCalendar, "remaining_time", s.handleRemainingTime))
	mux.HandleFunc("POST /api/v1/orders/{id}/confirm", s.guard(PermWriteGrants, "confirm_grant", s.handleConfirmGrant))
	mux.HandleFunc("POST /api/v1/orders/{id}/grant", s.guard(PermWriteGrants, "grant_access", s.handleGrantAccess))
	mux.HandleFunc("POST /api/v1/orders/{id}/end", s.guard(PermWriteGrants, "end_session", s.handleEndSession))
	mux.HandleFunc("POST /api/v1/orders/{id}/decline", s.guard(PermWriteGrants, "decline_grant", s.handleDeclineGrant))

	mux.HandleFunc("GET /api/v1/events", s.guard(PermReadEvents, "events_stream", s.handleEvents))
	mux.HandleFunc("GET /api/v1/stats", s.guard(PermReadCalendar, "stats", s.handleStats))
	mux.HandleFunc("GET /api/v1/audit", s.guard(PermReadCalendar, "audit", s.handleAudit))
}

// guard wires auth and per-endpoint request metrics around a handler.
func (s *HTTPServer) guard(permission, endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	metered := func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler(recorder, r)
		metrics.IncHTTP(endpoint, strconv.Itoa(recorder.status))
	}
	return s.auth.Middleware(permission, metered)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush keeps SSE working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("http server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeDomainError translates engine errors into HTTP statuses. Conflicts and
// lost transition races are both 409: the request was well-formed but the
// current state refuses it.
func writeDomainError(w http.ResponseWriter, err error) {
	var conflict *database.ConflictError
	if errors.As(err, &conflict) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":         conflict.Error(),
			"space_id":      conflict.SpaceID,
			"colliding_ids": conflict.CollidingIDs,
		})
		return
	}

	var transition *database.InvalidTransitionError
	if errors.As(err, &transition) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":            transition.Error(),
			"current_status":   transition.Current,
			"requested_status": transition.Requested,
		})
		return
	}

	switch {
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, database.ErrConcurrentModification):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrInvalidInterval),
		errors.Is(err, service.ErrStartTooFarAhead),
		errors.Is(err, service.ErrCustomerRequired),
		errors.Is(err, service.ErrDurationOutOfRange):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
