package engagement

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/betterme-app/betterme/internal/testutil"
)

type recordingNotifier struct {
	mu        sync.Mutex
	alerts    []int
	dismissed int
}

func (r *recordingNotifier) Alert(count int, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, count)
}

func (r *recordingNotifier) Dismiss() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dismissed++
}

func (r *recordingNotifier) snapshot() ([]int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.alerts...), r.dismissed
}

type countingClock struct {
	*testutil.FakeClock
	mu    sync.Mutex
	reads int
}

func (c *countingClock) Now() time.Time {
	c.mu.Lock()
	c.reads++
	c.mu.Unlock()
	return c.FakeClock.Now()
}

func (c *countingClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

func TestFormatRemaining(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{time.Hour, "60:00"},
		{59*time.Minute + 59*time.Second, "59:59"},
		{90 * time.Second, "01:30"},
		{1500 * time.Millisecond, "00:01"},
		{0, "00:00"},
		{-5 * time.Minute, "00:00"},
		{2*time.Hour + 3*time.Second, "120:03"},
	}
	for _, tt := range tests {
		if got := FormatRemaining(tt.d); got != tt.want {
			t.Errorf("FormatRemaining(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestTicker_CountsDown(t *testing.T) {
	f := newFixture(t, DefaultConfig(), 1)
	n := &recordingNotifier{}
	tk := NewTicker(f.engine, n, 0)

	tick := tk.Tick()
	if tick.Text != "60:00" || tick.Alerting {
		t.Errorf("Tick() = %q alerting=%v, want 60:00 not alerting", tick.Text, tick.Alerting)
	}

	f.clock.Advance(25*time.Minute + 30*time.Second)
	tick = tk.Tick()
	if tick.Text != "34:30" {
		t.Errorf("Text = %q, want 34:30", tick.Text)
	}
	if tk.TimeRemaining() != 34*time.Minute+30*time.Second {
		t.Errorf("TimeRemaining() = %v", tk.TimeRemaining())
	}
	if alerts, _ := n.snapshot(); len(alerts) != 0 {
		t.Errorf("alerts = %v, want none", alerts)
	}
}

func TestTicker_AlertIsEdgeTriggered(t *testing.T) {
	f := newFixture(t, DefaultConfig(), 1)
	n := &recordingNotifier{}
	tk := NewTicker(f.engine, n, 0)

	f.clock.Advance(time.Hour)
	tick := tk.Tick()
	if !tick.Alerting || tick.Text != DueText {
		t.Errorf("Tick() = %q alerting=%v, want %q alerting", tick.Text, tick.Alerting, DueText)
	}
	if tick.Status.Phase != PhaseBacklog {
		t.Errorf("Phase = %v, want backlog", tick.Status.Phase)
	}
	tk.Tick()
	tk.Tick()

	alerts, _ := n.snapshot()
	if len(alerts) != 1 || alerts[0] != 1 {
		t.Fatalf("alerts = %v, want [1]", alerts)
	}

	// Another window elapses while still unresolved.
	f.clock.Advance(time.Hour)
	tk.Tick()
	alerts, _ = n.snapshot()
	if len(alerts) != 2 || alerts[1] != 2 {
		t.Errorf("alerts = %v, want [1 2]", alerts)
	}
	if !tk.Alerting() {
		t.Error("Alerting() = false, want true")
	}
}

func TestTicker_DismissesWhenCleared(t *testing.T) {
	f := newFixture(t, DefaultConfig(), 1)
	n := &recordingNotifier{}
	tk := NewTicker(f.engine, n, 0)

	f.clock.Advance(2*time.Hour + time.Minute)
	tk.Tick()

	for f.engine.Status().Phase == PhaseBacklog {
		if _, err := f.engine.SubmitBacklogItem(allSi()); err != nil {
			t.Fatal(err)
		}
	}
	tick := tk.Tick()
	if tick.Alerting {
		t.Error("still alerting after backlog cleared")
	}
	if tick.Text != "60:00" {
		t.Errorf("Text = %q, want 60:00", tick.Text)
	}
	if _, dismissed := n.snapshot(); dismissed != 1 {
		t.Errorf("dismissed = %d, want 1", dismissed)
	}
	tk.Tick()
	if _, dismissed := n.snapshot(); dismissed != 1 {
		t.Errorf("dismissed = %d after steady tick, want 1", dismissed)
	}
}

func TestTicker_RunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t, DefaultConfig(), 1)
	tk := NewTicker(f.engine, nil, 5*time.Millisecond)

	ticks := make(chan Tick, 64)
	tk.OnTick(func(tick Tick) {
		select {
		case ticks <- tick:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tk.Run(ctx) }()

	for i := 0; i < 3; i++ {
		select {
		case <-ticks:
		case <-time.After(2 * time.Second):
			t.Fatalf("tick %d never arrived", i)
		}
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestMultiNotifier(t *testing.T) {
	a, b := &recordingNotifier{}, &recordingNotifier{}
	m := MultiNotifier{a, b}
	m.Alert(3, time.Time{})
	m.Dismiss()

	for i, n := range []*recordingNotifier{a, b} {
		alerts, dismissed := n.snapshot()
		if len(alerts) != 1 || alerts[0] != 3 || dismissed != 1 {
			t.Errorf("notifier %d: alerts=%v dismissed=%d", i, alerts, dismissed)
		}
	}
}

func TestTicker_EvaluatesOneSnapshotPerTick(t *testing.T) {
	f := newFixture(t, DefaultConfig(), 1)
	clock := &countingClock{FakeClock: f.clock}
	e, err := NewEngine(DefaultConfig(), f.repo, clock, nil)
	if err != nil {
		t.Fatal(err)
	}
	n := &recordingNotifier{}
	tk := NewTicker(e, n, 0)

	f.clock.Advance(time.Hour)
	before := clock.count()
	tick := tk.Tick()
	if got := clock.count() - before; got != 1 {
		t.Errorf("clock reads per tick = %d, want 1", got)
	}
	if !tick.Alerting || tick.Status.Pending != 1 {
		t.Errorf("Tick() alerting=%v pending=%d, want alerting with 1", tick.Alerting, tick.Status.Pending)
	}

	// A report lands exactly at the deadline of the next window.
	if _, err := e.SubmitBacklogItem(allSi()); err != nil {
		t.Fatal(err)
	}
	tick = tk.Tick()
	if tick.Alerting {
		t.Errorf("Tick() alerting after catch-up, pending=%d", tick.Status.Pending)
	}

	alerts, dismissed := n.snapshot()
	for i, c := range alerts {
		if c <= 0 {
			t.Errorf("alerts[%d] = %d, want > 0", i, c)
		}
	}
	if len(alerts) != 1 || dismissed != 1 {
		t.Errorf("alerts = %v dismissed = %d, want [1] and 1", alerts, dismissed)
	}
}
