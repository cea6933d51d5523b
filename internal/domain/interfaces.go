package domain

import (
	"context"
	"time"
)

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// KVStore is the persistence transport: a flat key-value store.
type KVStore interface {
	// Get returns the value for key. ok is false when the key was never written.
	Get(key string) (value []byte, ok bool, err error)

	// Put stores value under key, replacing any previous value.
	Put(key string, value []byte) error

	Close() error
}

// ChangeFeed reports keys changed by other processes sharing the same store.
// Writes made through the same store instance are not reported.
type ChangeFeed interface {
	Changes(ctx context.Context) (<-chan string, error)
}

// AnswerSource is the input-collection surface.
type AnswerSource interface {
	// Answers collects one answer per category. ok is false when the user
	// abandoned the prompt.
	Answers(cats CategorySet) (answers Answers, ok bool)

	// Clear discards any partially entered input.
	Clear()
}

// Notifier is the alerting surface fired when a report window elapses.
type Notifier interface {
	// Alert signals that count reports are owed; next is the slot to fill first.
	Alert(count int, next time.Time)
	Dismiss()
}
