// Package api provides the HTTP server for BetterMe.
// It exposes the tracker state, the report operations and a live event feed.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/betterme-app/betterme/internal/app/engagement"
	"github.com/betterme-app/betterme/internal/app/state"
	"github.com/betterme-app/betterme/internal/domain"
)

// Version is reported by GET /api/status.
const Version = "0.1.0"

// Server is the BetterMe HTTP API server.
type Server struct {
	engine         *engagement.Engine
	repo           *state.Repository
	hub            *Hub // live event feed (nil if not set)
	metricsEnabled bool
	log            *zap.Logger
}

// NewServer creates a new API server.
func NewServer(engine *engagement.Engine, repo *state.Repository, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{engine: engine, repo: repo, log: log.Named("api")}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetHub sets the live event hub served at /api/events.
func (s *Server) SetHub(h *Hub) { s.hub = h }

// Hub returns the live event hub.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
		})
	})

	// Streaming routes must not sit behind the request timeout.
	if s.hub != nil {
		r.Get("/api/events", s.hub.HandleSSE)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Route("/api", func(r chi.Router) {
			r.Get("/status", s.handleStatus)
			r.Get("/state", s.handleState)
			r.Get("/logs", s.handleLogs)
			r.Get("/timer", s.handleTimer)
			r.Post("/reports", s.handleReport)
			r.Post("/backlog", s.handleBacklog)
			r.Post("/reset", s.handleReset)
		})
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    kind,
		},
	})
}

// writeEngineError maps an engine error onto an HTTP status.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error": map[string]interface{}{
				"message": err.Error(),
				"type":    "incomplete_answers",
				"missing": ve.Missing,
			},
		})
	case errors.Is(err, domain.ErrBacklogOutstanding):
		writeError(w, http.StatusConflict, "backlog_outstanding", err.Error())
	case errors.Is(err, domain.ErrNoBacklog):
		writeError(w, http.StatusConflict, "no_backlog", err.Error())
	case errors.Is(err, domain.ErrResetNotConfirmed):
		writeError(w, http.StatusBadRequest, "confirmation_required", err.Error())
	default:
		s.log.Error("operation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "storage", err.Error())
	}
}

// corsMiddleware adds CORS headers for local development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
