package engagement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/betterme-app/betterme/internal/domain"
	"github.com/betterme-app/betterme/internal/infra/observability"
)

// DefaultTickEvery is the timer cadence, independent of the report interval.
const DefaultTickEvery = time.Second

// DueText is displayed once the deadline has passed.
const DueText = "NOW!"

// Tick is the display state computed on one timer tick.
type Tick struct {
	Remaining time.Duration `json:"remaining_ns"`
	Alerting  bool          `json:"alerting"`
	Text      string        `json:"text"`
	Status    Status        `json:"status"`
}

// Ticker re-derives the time until the next report on a fixed cadence and
// raises the notifier when a window elapses. It never mutates the snapshot.
type Ticker struct {
	engine   *Engine
	notifier domain.Notifier
	every    time.Duration

	mu        sync.Mutex
	alerting  bool
	alerted   int // pending count at the last Alert
	remaining time.Duration
	onTick    []func(Tick)
}

// NewTicker creates a ticker. A nil notifier discards alerts; every <= 0
// uses DefaultTickEvery.
func NewTicker(engine *Engine, notifier domain.Notifier, every time.Duration) *Ticker {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if every <= 0 {
		every = DefaultTickEvery
	}
	return &Ticker{engine: engine, notifier: notifier, every: every}
}

// OnTick registers a display callback run after every tick.
func (t *Ticker) OnTick(fn func(Tick)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTick = append(t.onTick, fn)
}

// Run ticks until ctx is done. The first tick happens immediately.
func (t *Ticker) Run(ctx context.Context) error {
	t.Tick()

	tk := time.NewTicker(t.every)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tk.C:
			t.Tick()
		}
	}
}

// Tick performs one evaluation and returns the resulting display state.
func (t *Ticker) Tick() Tick {
	st, _ := t.engine.Refresh()

	t.mu.Lock()
	t.remaining = st.Remaining
	tick := Tick{Remaining: st.Remaining, Status: st}

	var (
		alert   bool
		dismiss bool
	)
	if st.Pending > 0 {
		tick.Alerting = true
		tick.Text = DueText
		if !t.alerting || st.Pending != t.alerted {
			alert = true
			if !t.alerting {
				observability.Alerts.Inc()
			}
		}
		t.alerting = true
		t.alerted = st.Pending
	} else {
		tick.Text = FormatRemaining(st.Remaining)
		dismiss = t.alerting
		t.alerting = false
		t.alerted = 0
	}
	fns := append([]func(Tick){}, t.onTick...)
	t.mu.Unlock()

	if alert {
		t.notifier.Alert(st.Pending, st.Slot)
	}
	if dismiss {
		t.notifier.Dismiss()
	}
	for _, fn := range fns {
		fn(tick)
	}
	return tick
}

// TimeRemaining returns the remaining time computed on the last tick.
func (t *Ticker) TimeRemaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

// Alerting reports whether the ticker is in the alerting display state.
func (t *Ticker) Alerting() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.alerting
}

// FormatRemaining renders d as total minutes and seconds ("MM:SS").
func FormatRemaining(d time.Duration) string {
	if d <= 0 {
		return "00:00"
	}
	m := int(d / time.Minute)
	s := int(d % time.Minute / time.Second)
	return fmt.Sprintf("%02d:%02d", m, s)
}

// ─── Notifiers ──────────────────────────────────────────────────────────────

// NopNotifier discards alerts.
type NopNotifier struct{}

func (NopNotifier) Alert(int, time.Time) {}
func (NopNotifier) Dismiss()             {}

// MultiNotifier fans alerts out to several notifiers in order.
type MultiNotifier []domain.Notifier

// Alert forwards to every notifier.
func (m MultiNotifier) Alert(count int, next time.Time) {
	for _, n := range m {
		n.Alert(count, next)
	}
}

// Dismiss forwards to every notifier.
func (m MultiNotifier) Dismiss() {
	for _, n := range m {
		n.Dismiss()
	}
}
