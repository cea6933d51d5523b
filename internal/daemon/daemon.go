package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/betterme-app/betterme/internal/api"
	"github.com/betterme-app/betterme/internal/app/engagement"
	"github.com/betterme-app/betterme/internal/app/state"
	"github.com/betterme-app/betterme/internal/domain"
	"github.com/betterme-app/betterme/internal/infra/filestore"
	"github.com/betterme-app/betterme/internal/infra/sqlite"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// Store is a KV store that also reports changes made by other processes.
type Store interface {
	domain.KVStore
	domain.ChangeFeed
}

// OpenStore opens the configured storage backend inside dir.
func OpenStore(backend, dir string) (Store, error) {
	switch backend {
	case BackendSQLite, "":
		db, err := sqlite.Open(dir)
		if err != nil {
			return nil, err
		}
		return db, nil
	case BackendFile:
		fs, err := filestore.Open(dir)
		if err != nil {
			return nil, err
		}
		return fs, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

// Options customizes a Daemon. Every field is optional.
type Options struct {
	Clock    domain.Clock
	Logger   *zap.Logger
	Notifier domain.Notifier // receives timer alerts in addition to the hub

	// Store overrides the configured backend.
	Store Store

	// OnListen is called with the bound address once the API is listening.
	OnListen func(net.Addr)
}

// Daemon is a fully wired BetterMe instance.
type Daemon struct {
	cfg      Config
	log      *zap.Logger
	instance string
	store    Store
	onListen func(net.Addr)

	Repo   *state.Repository
	Engine *engagement.Engine
	Ticker *engagement.Ticker
	Hub    *api.Hub
	Server *api.Server

	unsubscribe []func()
}

// New opens storage, loads the snapshot and builds the engine, timer and API.
func New(cfg Config, home string, opts Options) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	interval, _ := cfg.Tracker.IntervalDuration()
	tick, _ := cfg.Tracker.TickDuration()

	instance := uuid.NewString()
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("instance", instance))

	store := opts.Store
	if store == nil {
		var err error
		store, err = OpenStore(cfg.Storage.Backend, cfg.StorageDir(home))
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
	}

	repo := state.New(store, state.Options{
		InitialLevel: cfg.Tracker.InitialLevel,
		Clock:        opts.Clock,
		Logger:       log,
	})
	if _, err := repo.Load(); err != nil {
		store.Close()
		return nil, err
	}

	engine, err := engagement.NewEngine(engagement.Config{
		Interval:        interval,
		Categories:      domain.CategorySet(cfg.Tracker.Categories),
		LevelFloor:      cfg.Tracker.LevelFloor,
		ResetValue:      cfg.Tracker.ResetValue,
		ResetFinalValue: cfg.Tracker.ResetFinalValue,
	}, repo, opts.Clock, log)
	if err != nil {
		store.Close()
		return nil, err
	}

	hub := api.NewHub()
	var notifier domain.Notifier = hub
	if opts.Notifier != nil {
		notifier = engagement.MultiNotifier{hub, opts.Notifier}
	}

	server := api.NewServer(engine, repo, log)
	server.SetHub(hub)
	if cfg.Metrics.Enabled {
		server.EnableMetrics()
	}

	d := &Daemon{
		cfg:      cfg,
		log:      log,
		instance: instance,
		store:    store,
		onListen: opts.OnListen,
		Repo:     repo,
		Engine:   engine,
		Ticker:   engagement.NewTicker(engine, notifier, tick),
		Hub:      hub,
		Server:   server,
	}
	d.unsubscribe = append(d.unsubscribe,
		repo.Subscribe(hub.OnStateChanged),
		repo.Subscribe(func(ev state.Event) {
			if ev.Origin == state.OriginPeer {
				engine.Refresh()
			}
		}),
	)
	return d, nil
}

// Instance returns this process's unique id.
func (d *Daemon) Instance() string { return d.instance }

// Logger returns the instance logger.
func (d *Daemon) Logger() *zap.Logger { return d.log }

// Config returns the effective configuration.
func (d *Daemon) Config() Config { return d.cfg }

// Serve runs the HTTP API, the timer and the peer-change follower until ctx
// is cancelled or one of them fails.
func (d *Daemon) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", d.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", d.cfg.Addr(), err)
	}
	d.log.Info("api listening", zap.String("addr", ln.Addr().String()))
	if d.onListen != nil {
		d.onListen(ln.Addr())
	}

	g, ctx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Handler:           d.Server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Streaming clients end with the daemon.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	d.background(ctx, g)
	return g.Wait()
}

// Watch runs the timer and the peer-change follower without the API.
func (d *Daemon) Watch(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	d.background(ctx, g)
	return g.Wait()
}

func (d *Daemon) background(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error { return d.Ticker.Run(ctx) })
	g.Go(func() error { return d.Repo.Follow(ctx, d.store) })
}

// Close releases storage and subscriptions.
func (d *Daemon) Close() error {
	for _, unsub := range d.unsubscribe {
		unsub()
	}
	d.unsubscribe = nil
	_ = d.log.Sync()
	return d.store.Close()
}
