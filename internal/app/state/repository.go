// Package state owns the persisted snapshot {level, lastUpdate, logs}.
//
// The Repository is the single source of truth for the live snapshot: it
// loads and saves the whole snapshot as one unit through a domain.KVStore and
// publishes every change to subscribers. Changes committed by other processes
// arrive through a domain.ChangeFeed and trigger a full reload.
package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/betterme-app/betterme/internal/domain"
	"github.com/betterme-app/betterme/internal/infra/observability"
)

// DefaultKey is the key the snapshot is stored under.
const DefaultKey = "betterMeState"

// Origin says where a change came from.
type Origin string

const (
	OriginLocal Origin = "local" // Saved by this process
	OriginPeer  Origin = "peer"  // Reloaded after another process saved
)

// Event is published after every save or peer reload.
type Event struct {
	ID     string
	Origin Origin
	At     time.Time
	State  domain.State
}

// Options configures a Repository.
type Options struct {
	Key          string // Storage key (default DefaultKey)
	InitialLevel int    // Level of a freshly created snapshot
	Clock        domain.Clock
	Logger       *zap.Logger
}

// Repository loads, saves and broadcasts the persisted snapshot.
type Repository struct {
	kv           domain.KVStore
	key          string
	initialLevel int
	clock        domain.Clock
	log          *zap.Logger

	mu      sync.RWMutex
	current domain.State

	subMu  sync.Mutex
	subs   map[uint64]func(Event)
	nextID uint64
}

// New creates a Repository over kv. Call Load before using Current.
func New(kv domain.KVStore, opts Options) *Repository {
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	if opts.Clock == nil {
		opts.Clock = domain.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.InitialLevel < 0 {
		opts.InitialLevel = 0
	}
	return &Repository{
		kv:           kv,
		key:          opts.Key,
		initialLevel: opts.InitialLevel,
		clock:        opts.Clock,
		log:          opts.Logger.Named("state"),
		subs:         make(map[uint64]func(Event)),
	}
}

// Load reads the snapshot from storage. On first run (nothing stored) a fresh
// snapshot is created and persisted. Malformed snapshots are repaired field by
// field and never abort loading.
func (r *Repository) Load() (domain.State, error) {
	s, err := r.read()
	if err != nil {
		return domain.State{}, err
	}
	r.mu.Lock()
	r.current = s
	r.mu.Unlock()
	return s.Clone(), nil
}

func (r *Repository) read() (domain.State, error) {
	data, ok, err := r.kv.Get(r.key)
	if err != nil {
		return domain.State{}, fmt.Errorf("load snapshot: %w", err)
	}
	now := time.UnixMilli(r.clock.Now().UnixMilli())

	if !ok {
		fresh := domain.State{Level: r.initialLevel, LastUpdate: now}
		if err := r.put(fresh); err != nil {
			return domain.State{}, err
		}
		r.log.Info("created snapshot", zap.Int("level", fresh.Level))
		return fresh, nil
	}

	s, repairs := Decode(data, now)
	if len(repairs) > 0 {
		r.log.Warn("repaired malformed snapshot",
			zap.Strings("fields", repairs),
			zap.Error(domain.ErrCorruptSnapshot))
	}
	return s, nil
}

// Current returns a copy of the live snapshot.
func (r *Repository) Current() domain.State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current.Clone()
}

// Save persists s synchronously, makes it the live snapshot and notifies
// subscribers. On a storage error nothing changes.
func (r *Repository) Save(s domain.State) error {
	if s.Level < 0 {
		s.Level = 0
	}
	if err := r.put(s); err != nil {
		return err
	}
	r.mu.Lock()
	r.current = s.Clone()
	r.mu.Unlock()

	r.publish(OriginLocal, s)
	return nil
}

func (r *Repository) put(s domain.State) error {
	data, err := Encode(s)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := r.kv.Put(r.key, data); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Resync reloads the full snapshot from storage and notifies subscribers.
func (r *Repository) Resync() (domain.State, error) {
	s, err := r.read()
	if err != nil {
		return domain.State{}, err
	}
	r.mu.Lock()
	r.current = s
	r.mu.Unlock()

	observability.PeerResyncs.Inc()
	r.log.Debug("resynced from peer", zap.Int("level", s.Level), zap.Int("logs", s.Logs.Len()))
	r.publish(OriginPeer, s)
	return s.Clone(), nil
}

// Follow consumes feed until ctx is done, resyncing whenever another process
// changes the snapshot key.
func (r *Repository) Follow(ctx context.Context, feed domain.ChangeFeed) error {
	changes, err := feed.Changes(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to changes: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case key, ok := <-changes:
			if !ok {
				return nil
			}
			if key != r.key {
				continue
			}
			if _, err := r.Resync(); err != nil {
				r.log.Warn("resync failed", zap.Error(err))
			}
		}
	}
}

// ─── Subscriptions ──────────────────────────────────────────────────────────

// Subscribe registers fn to be called after every change. Callbacks run
// synchronously on the goroutine that saved. Returns an unsubscribe func.
func (r *Repository) Subscribe(fn func(Event)) func() {
	r.subMu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = fn
	r.subMu.Unlock()

	return func() {
		r.subMu.Lock()
		delete(r.subs, id)
		r.subMu.Unlock()
	}
}

// SubscriberCount returns the number of registered subscribers.
func (r *Repository) SubscriberCount() int {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	return len(r.subs)
}

func (r *Repository) publish(origin Origin, s domain.State) {
	r.subMu.Lock()
	fns := make([]func(Event), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.subMu.Unlock()

	ev := Event{ID: uuid.NewString(), Origin: origin, At: r.clock.Now()}
	for _, fn := range fns {
		ev.State = s.Clone()
		fn(ev)
	}
}
