// Package engagement implements the interval-debt reconciliation core.
//
// Every report window of length Interval that elapses without a report
// becomes a debt. Debts are never stored: they are derived on demand from
// the snapshot's lastUpdate and the clock. While any debt is outstanding the
// engine is in the Backlog phase and only accepts backfill reports, oldest
// window first; otherwise it is Current and accepts on-time reports.
package engagement

import "time"

// PendingWindows returns how many whole intervals have elapsed since
// lastUpdate. Clock skew (now before lastUpdate) and a non-positive interval
// both yield 0.
func PendingWindows(now, lastUpdate time.Time, interval time.Duration) int {
	if interval <= 0 {
		return 0
	}
	elapsed := now.Sub(lastUpdate)
	if elapsed <= 0 {
		return 0
	}
	return int(elapsed / interval)
}
