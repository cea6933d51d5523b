package engagement

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/betterme-app/betterme/internal/app/state"
	"github.com/betterme-app/betterme/internal/domain"
	"github.com/betterme-app/betterme/internal/infra/observability"
)

// ─── Configuration ──────────────────────────────────────────────────────────

// Config configures the reconciliation engine.
type Config struct {
	// Interval is the fixed length of one report window.
	Interval time.Duration

	// Categories every report must answer, in display order.
	Categories domain.CategorySet

	// LevelFloor is the level a reset drops to.
	LevelFloor int

	// ResetValue is written for every category of a reset entry;
	// ResetFinalValue replaces it for the last category.
	ResetValue      string
	ResetFinalValue string
}

// DefaultConfig returns the hourly tracker defaults.
func DefaultConfig() Config {
	return Config{
		Interval:        time.Hour,
		Categories:      domain.CategorySet{"health", "focus", "income", "control"},
		LevelFloor:      1,
		ResetValue:      "FAIL",
		ResetFinalValue: "LEVEL RESET",
	}
}

// ─── Phase & Status ─────────────────────────────────────────────────────────

// Phase is the engine's state-machine phase.
type Phase int

const (
	PhaseCurrent Phase = iota // No debt; on-time reports accepted
	PhaseBacklog              // One or more windows owed; only backfill accepted
)

// String returns a lowercase phase name.
func (p Phase) String() string {
	switch p {
	case PhaseCurrent:
		return "current"
	case PhaseBacklog:
		return "backlog"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// Status is the derived view of the snapshot at a point in time.
type Status struct {
	Phase      Phase         `json:"phase"`
	Pending    int           `json:"pending"`
	Level      int           `json:"level"`
	LastUpdate time.Time     `json:"last_update"`
	NextDue    time.Time     `json:"next_due"`
	Remaining  time.Duration `json:"remaining_ns"`
	// Slot is the historical window the next backfill report fills.
	// Only meaningful in PhaseBacklog.
	Slot time.Time `json:"slot"`
}

// ─── Engine ─────────────────────────────────────────────────────────────────

// Engine orchestrates on-time submissions, backlog submissions and resets.
// Each operation runs to completion under a mutex before the next starts.
type Engine struct {
	mu    sync.Mutex
	cfg   Config
	repo  *state.Repository
	clock domain.Clock
	log   *zap.Logger

	lastPhase Phase
}

// NewEngine creates an engine over a loaded repository.
func NewEngine(cfg Config, repo *state.Repository, clock domain.Clock, log *zap.Logger) (*Engine, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", cfg.Interval)
	}
	if len(cfg.Categories) == 0 {
		return nil, errors.New("at least one category is required")
	}
	if cfg.LevelFloor < 0 {
		cfg.LevelFloor = 0
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{cfg: cfg, repo: repo, clock: clock, log: log.Named("engine")}
	e.lastPhase = e.statusOf(repo.Current(), e.now()).Phase
	return e, nil
}

// now reads the clock at the precision the snapshot is persisted with.
func (e *Engine) now() time.Time {
	return time.UnixMilli(e.clock.Now().UnixMilli())
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Categories returns the category set reports must cover.
func (e *Engine) Categories() domain.CategorySet { return e.cfg.Categories }

// Status derives the current phase and debt from the clock and snapshot.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusOf(e.repo.Current(), e.now())
}

// Refresh re-derives the status and reports whether the phase changed since
// the last operation or refresh. It is the re-entry check used by the timer
// and after peer changes; it never writes.
func (e *Engine) Refresh() (Status, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.statusOf(e.repo.Current(), e.now())
	changed := st.Phase != e.lastPhase
	e.lastPhase = st.Phase
	if changed {
		e.log.Info("phase changed", zap.Stringer("phase", st.Phase), zap.Int("pending", st.Pending))
	}
	return st, changed
}

func (e *Engine) statusOf(s domain.State, now time.Time) Status {
	pending := PendingWindows(now, s.LastUpdate, e.cfg.Interval)
	next := s.NextDue(e.cfg.Interval)
	st := Status{
		Phase:      PhaseCurrent,
		Pending:    pending,
		Level:      s.Level,
		LastUpdate: s.LastUpdate,
		NextDue:    next,
		Remaining:  next.Sub(now),
		Slot:       next,
	}
	if pending > 0 {
		st.Phase = PhaseBacklog
	}
	observability.ObserveProgress(st.Level, st.Pending, st.Remaining)
	return st
}

// SubmitOnTime records a regular report. Only valid with no debt outstanding.
// The timer restarts from now even when the report comes early.
func (e *Engine) SubmitOnTime(answers domain.Answers) (Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	s := e.repo.Current()
	if st := e.statusOf(s, now); st.Phase != PhaseCurrent {
		return st, fmt.Errorf("%w: %d owed", domain.ErrBacklogOutstanding, st.Pending)
	}
	clean, err := e.validate(answers)
	if err != nil {
		return e.statusOf(s, now), err
	}

	s.Logs.Append(domain.ReportEntry{Kind: domain.KindRegular, Timestamp: now, Data: clean})
	s.Level++
	s.LastUpdate = now

	return e.commit(s, now, domain.KindRegular)
}

// SubmitBacklogItem backfills the oldest missed window. The entry is stamped
// with the window's slot time, not the wall clock. When the last window is
// resolved the timer restarts from now.
func (e *Engine) SubmitBacklogItem(answers domain.Answers) (Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	s := e.repo.Current()
	if st := e.statusOf(s, now); st.Phase != PhaseBacklog {
		return st, domain.ErrNoBacklog
	}
	clean, err := e.validate(answers)
	if err != nil {
		return e.statusOf(s, now), err
	}

	slot := s.LastUpdate.Add(e.cfg.Interval)
	s.Logs.Append(domain.ReportEntry{Kind: domain.KindRecovery, Timestamp: slot, Data: clean})
	s.LastUpdate = slot
	s.Level++

	if PendingWindows(now, s.LastUpdate, e.cfg.Interval) == 0 {
		s.LastUpdate = now
	}

	return e.commit(s, now, domain.KindRecovery)
}

// Reset drops the level to the configured floor, restarts the timer and
// clears any debt. History is kept: a reset entry is appended.
func (e *Engine) Reset() (Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	s := e.repo.Current()
	s.Logs.Append(domain.ReportEntry{Kind: domain.KindReset, Timestamp: now, Data: e.resetData()})
	s.Level = e.cfg.LevelFloor
	s.LastUpdate = now

	return e.commit(s, now, domain.KindReset)
}

func (e *Engine) resetData() domain.Answers {
	data := make(domain.Answers, len(e.cfg.Categories))
	for i, c := range e.cfg.Categories {
		if i == len(e.cfg.Categories)-1 && e.cfg.ResetFinalValue != "" {
			data[c] = e.cfg.ResetFinalValue
			continue
		}
		data[c] = e.cfg.ResetValue
	}
	return data
}

func (e *Engine) validate(answers domain.Answers) (domain.Answers, error) {
	if missing := answers.Missing(e.cfg.Categories); len(missing) > 0 {
		observability.ValidationFailures.Inc()
		return nil, &domain.ValidationError{Missing: missing}
	}
	return answers.Normalize(e.cfg.Categories), nil
}

func (e *Engine) commit(s domain.State, now time.Time, kind domain.EntryKind) (Status, error) {
	if err := e.repo.Save(s); err != nil {
		return e.statusOf(e.repo.Current(), now), fmt.Errorf("%s report: %w", kind, err)
	}
	observability.Reports.WithLabelValues(kind.String()).Inc()

	st := e.statusOf(s, now)
	e.lastPhase = st.Phase
	e.log.Info("report recorded",
		zap.Stringer("kind", kind),
		zap.Int("level", st.Level),
		zap.Int("pending", st.Pending))
	return st, nil
}
