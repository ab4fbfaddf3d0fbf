// Package httpapi serves local diagnostics and control for the running client.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/ent0n29/maitred/internal/journal"
	"github.com/ent0n29/maitred/internal/observability"
	"github.com/ent0n29/maitred/internal/protocol"
	"github.com/ent0n29/maitred/internal/session"
)

// SessionController is the part of the session machine the API drives.
type SessionController interface {
	Snapshot() session.Snapshot
	Post(ev session.Event)
}

type CheckoutClient interface {
	Checkout(ctx context.Context, userID, tableID string) (protocol.CheckoutResponse, error)
}

// StatusSource exposes the status poller.
type StatusSource interface {
	PollOnce(ctx context.Context) error
	Last() (protocol.Status, time.Time, bool)
}

type Options struct {
	UserID   string
	Sessions SessionController
	Journal  journal.Store
	Checkout CheckoutClient
	Status   StatusSource
	Metrics  *observability.Metrics
	Logger   zerolog.Logger
}

type Server struct {
	userID   string
	sessions SessionController
	journal  journal.Store
	checkout CheckoutClient
	status   StatusSource
	metrics  *observability.Metrics
	log      zerolog.Logger
}

func New(opts Options) *Server {
	return &Server{
		userID:   opts.UserID,
		sessions: opts.Sessions,
		journal:  opts.Journal,
		checkout: opts.Checkout,
		status:   opts.Status,
		metrics:  opts.Metrics,
		log:      opts.Logger.With().Str("component", "httpapi").Logger(),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})

	r.Get("/v1/session", s.handleGetSession)
	r.Post("/v1/session/start", s.handleStartSession)
	r.Post("/v1/session/stop", s.handleStopSession)
	r.Get("/v1/sessions", s.handleListSessions)
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Get("/v1/status", s.handleGetStatus)
	r.Post("/v1/tables/{id}/checkout", s.handleCheckout)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"status":        "ok",
		"journal_store": s.journalMode(),
	}
	if s.sessions != nil {
		snap := s.sessions.Snapshot()
		payload["session_state"] = snap.State
		payload["agent_connected"] = snap.Connected
	}
	respondJSON(w, http.StatusOK, payload)
}

func (s *Server) journalMode() string {
	switch s.journal.(type) {
	case nil:
		return "disabled"
	case *journal.PostgresStore:
		return "postgres"
	default:
		return "in-memory"
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
