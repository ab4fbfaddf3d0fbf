package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ent0n29/maitred/internal/session"
)

type stopRequest struct {
	Reason string `json:"reason"`
}

type commandResponse struct {
	Status  string           `json:"status"`
	Session session.Snapshot `json:"session"`
}

func (s *Server) handleGetSession(w http.ResponseWriter, _ *http.Request) {
	if s.sessions == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "session machine not configured")
		return
	}
	respondJSON(w, http.StatusOK, s.sessions.Snapshot())
}

// handleStartSession queues a start. The machine applies it asynchronously, so
// the returned snapshot may still show the previous state.
func (s *Server) handleStartSession(w http.ResponseWriter, _ *http.Request) {
	if s.sessions == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "session machine not configured")
		return
	}
	snap := s.sessions.Snapshot()
	if snap.State != session.StateIdle {
		respondError(w, http.StatusConflict, "session_active", "a session is already in progress")
		return
	}
	s.sessions.Post(session.StartRequested{})
	s.metrics.ObserveSessionEvent("api_start")
	respondJSON(w, http.StatusAccepted, commandResponse{Status: "queued", Session: snap})
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "session machine not configured")
		return
	}
	var req stopRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = session.ReasonUser
	}

	snap := s.sessions.Snapshot()
	if snap.State == session.StateIdle {
		respondError(w, http.StatusConflict, "no_active_session", "no session is in progress")
		return
	}
	s.sessions.Post(session.StopRequested{Reason: reason})
	s.metrics.ObserveSessionEvent("api_stop")
	respondJSON(w, http.StatusAccepted, commandResponse{Status: "queued", Session: snap})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "session journal not configured")
		return
	}

	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		if n > 500 {
			n = 500
		}
		limit = n
	}

	records, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("list session records failed")
		respondError(w, http.StatusInternalServerError, "journal_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"sessions": records,
		"count":    len(records),
	})
}
