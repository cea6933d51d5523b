package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/betterme-app/betterme/internal/app/engagement"
	"github.com/betterme-app/betterme/internal/domain"
)

// ─── Tracker API ────────────────────────────────────────────────────────────
// REST endpoints for the CLI and any local UI.
//
// GET  /api/status  - phase, level, owed windows, next due
// GET  /api/state   - raw persisted snapshot
// GET  /api/logs    - report history (?order=desc|insert)
// GET  /api/timer   - countdown display
// POST /api/reports - on-time report
// POST /api/backlog - backfill one missed window
// POST /api/reset   - reset level (requires {"confirm": true})

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

type reportRequest struct {
	Answers domain.Answers `json:"answers"`
}

type resetRequest struct {
	Confirm bool `json:"confirm"`
}

type statusResponse struct {
	engagement.Status
	Categories domain.CategorySet `json:"categories"`
	Interval   string             `json:"interval"`
	Version    string             `json:"version"`
}

// handleStatus returns the derived tracker status.
// GET /api/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.statusResponse(s.engine.Status()))
}

func (s *Server) statusResponse(st engagement.Status) statusResponse {
	cfg := s.engine.Config()
	return statusResponse{
		Status:     st,
		Categories: cfg.Categories,
		Interval:   cfg.Interval.String(),
		Version:    Version,
	}
}

// handleState returns the persisted snapshot in its wire shape.
// GET /api/state
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.repo.Current())
}

// handleLogs returns the report history. The default order is newest first;
// order=insert returns the append order.
// GET /api/logs
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	logs := s.repo.Current().Logs

	order := r.URL.Query().Get("order")
	var entries []domain.ReportEntry
	switch order {
	case "", "desc":
		order = "desc"
		entries = logs.Descending()
	case "insert":
		entries = logs.Entries()
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("unknown order %q (want desc or insert)", order))
		return
	}
	if entries == nil {
		entries = []domain.ReportEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"order":   order,
		"count":   len(entries),
		"entries": entries,
	})
}

// handleTimer returns the countdown to the next report.
// GET /api/timer
func (s *Server) handleTimer(w http.ResponseWriter, r *http.Request) {
	st := s.engine.Status()
	display := engagement.FormatRemaining(st.Remaining)
	alerting := st.Remaining <= 0
	if alerting {
		display = engagement.DueText
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"phase":        st.Phase,
		"pending":      st.Pending,
		"remaining_ms": st.Remaining.Milliseconds(),
		"display":      display,
		"alerting":     alerting,
		"next_due":     st.NextDue.UnixMilli(),
	})
}

// handleReport records an on-time report.
// POST /api/reports
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	st, err := s.engine.SubmitOnTime(req.Answers)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.statusResponse(st))
}

// handleBacklog backfills the oldest missed window.
// POST /api/backlog
func (s *Server) handleBacklog(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	st, err := s.engine.SubmitBacklogItem(req.Answers)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.statusResponse(st))
}

// handleReset drops the level to the floor and clears any debt.
// POST /api/reset
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if !req.Confirm {
		s.writeEngineError(w, domain.ErrResetNotConfirmed)
		return
	}
	st, err := s.engine.Reset()
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.statusResponse(st))
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("empty request body: %w", err)
		}
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}
