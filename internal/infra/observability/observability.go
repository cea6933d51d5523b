// Package observability holds the Prometheus metrics for the tracker.
//
// Metrics are registered on the default registry at init (promauto) and
// exposed by the API server at /metrics when enabled.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ═══════════════════════════════════════════════════════════════════════════
// Tracker Metrics
// ═══════════════════════════════════════════════════════════════════════════

// ─── Progress ───────────────────────────────────────────────────────────────

// Level tracks the current level.
var Level = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "betterme",
	Subsystem: "tracker",
	Name:      "level",
	Help:      "Current level.",
})

// PendingWindows tracks the number of missed report windows owed.
var PendingWindows = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "betterme",
	Subsystem: "tracker",
	Name:      "pending_windows",
	Help:      "Number of fully elapsed report windows not yet backfilled.",
})

// SecondsUntilDue tracks the time left before the next report is due.
var SecondsUntilDue = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "betterme",
	Subsystem: "timer",
	Name:      "seconds_until_due",
	Help:      "Seconds until the next report is due (negative when overdue).",
})

// ─── Reports ────────────────────────────────────────────────────────────────

// Reports counts appended log entries by kind.
var Reports = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "betterme",
	Subsystem: "tracker",
	Name:      "reports_total",
	Help:      "Total report entries appended, by kind (regular, recovery, reset).",
}, []string{"kind"})

// ValidationFailures counts rejected submissions.
var ValidationFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "betterme",
	Subsystem: "tracker",
	Name:      "validation_failures_total",
	Help:      "Total submissions rejected for incomplete answers.",
})

// ─── Sync ───────────────────────────────────────────────────────────────────

// PeerResyncs counts full reloads triggered by another process.
var PeerResyncs = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "betterme",
	Subsystem: "state",
	Name:      "peer_resyncs_total",
	Help:      "Total snapshot reloads triggered by changes from other instances.",
})

// Alerts counts deadline alerts raised by the timer.
var Alerts = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "betterme",
	Subsystem: "timer",
	Name:      "alerts_total",
	Help:      "Total times the timer entered the alerting state.",
})

// ObserveProgress sets the progress gauges in one call.
func ObserveProgress(level, pending int, untilDue time.Duration) {
	Level.Set(float64(level))
	PendingWindows.Set(float64(pending))
	SecondsUntilDue.Set(untilDue.Seconds())
}
