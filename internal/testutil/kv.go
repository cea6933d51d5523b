package testutil

import (
	"context"
	"sync"
)

// MemKV is an in-memory domain.KVStore.
type MemKV struct {
	mu   sync.Mutex
	data map[string][]byte
	puts int

	// FailPut, when set, is returned by Put without storing anything.
	FailPut error
}

// NewMemKV returns an empty store.
func NewMemKV() *MemKV {
	return &MemKV{data: make(map[string][]byte)}
}

// Get returns the stored value.
func (m *MemKV) Get(key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Put stores a copy of value.
func (m *MemKV) Put(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPut != nil {
		return m.FailPut
	}
	m.data[key] = append([]byte(nil), value...)
	m.puts++
	return nil
}

// Puts returns how many successful Put calls were made.
func (m *MemKV) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

// Close is a no-op.
func (m *MemKV) Close() error { return nil }

// Feed is a domain.ChangeFeed driven by the test.
type Feed chan string

// Changes returns the feed itself.
func (f Feed) Changes(ctx context.Context) (<-chan string, error) { return f, nil }
