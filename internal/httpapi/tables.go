package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/maitred/internal/reliability"
	"github.com/ent0n29/maitred/internal/status"
)

func (s *Server) handleGetStatus(w http.ResponseWriter, _ *http.Request) {
	if s.status == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "status poller not configured")
		return
	}
	st, fetchedAt, ok := s.status.Last()
	if !ok {
		respondError(w, http.StatusServiceUnavailable, "no_status", "no successful status poll yet")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"fetched_at": fetchedAt,
		"tables":     st.Tables,
		"waitlist":   st.Waitlist,
	})
}

// handleCheckout frees a table and refreshes the dashboard right away instead
// of waiting for the next poll.
func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	tableID := strings.TrimSpace(chi.URLParam(r, "id"))
	if tableID == "" {
		respondError(w, http.StatusBadRequest, "invalid_table_id", "missing table id")
		return
	}
	if s.checkout == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "checkout client not configured")
		return
	}

	res, err := s.checkout.Checkout(r.Context(), s.userID, tableID)
	if err != nil {
		var statusErr *reliability.HTTPStatusError
		switch {
		case errors.Is(err, status.ErrCheckoutRejected):
			respondJSON(w, http.StatusConflict, res)
		case errors.As(err, &statusErr):
			respondError(w, http.StatusBadGateway, "upstream_status", err.Error())
		default:
			s.log.Warn().Err(err).Str("table", tableID).Msg("checkout failed")
			respondError(w, http.StatusBadGateway, "upstream_unreachable", err.Error())
		}
		return
	}

	if s.status != nil {
		if err := s.status.PollOnce(r.Context()); err != nil {
			s.log.Debug().Err(err).Msg("post-checkout poll failed")
		}
	}
	respondJSON(w, http.StatusOK, res)
}
