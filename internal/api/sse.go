package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const sseHeartbeatInterval = 15 * time.Second

// handleEvents streams change events over SSE. Optional query parameters
// entity_type and entity_id narrow the stream; without them the client gets
// every committed transition. There is no replay: on reconnect a console
// re-fetches current state and resumes from live events, dropping duplicates
// by commit_sequence.
func (s *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	entityType := r.URL.Query().Get("entity_type")
	var entityID int64
	if raw := r.URL.Query().Get("entity_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid entity_id")
			return
		}
		entityID = parsed
	}

	sub := s.broadcaster.Subscribe(entityType, entityID)
	defer s.broadcaster.Unsubscribe(sub.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.logger.Debug().Str("subscription", sub.ID).Str("entity_type", entityType).Int64("entity_id", entityID).Msg("sse stream opened")

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug().Str("subscription", sub.ID).Msg("sse stream closed by client")
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event, open := <-sub.Events:
			if !open {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				s.logger.Error().Err(err).Msg("failed to marshal sse event")
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
