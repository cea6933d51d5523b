// Package sqlite implements the key-value persistence transport on SQLite.
// A single pinned connection is used so that PRAGMA data_version only moves
// when another connection (another process) commits.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// FileName is the database file created inside the data directory.
const FileName = "betterme.db"

// DefaultPollInterval is how often Changes checks for commits by peers.
const DefaultPollInterval = time.Second

// DB is a SQLite-backed domain.KVStore and domain.ChangeFeed.
type DB struct {
	db        *sql.DB
	path      string
	pollEvery time.Duration

	mu    sync.Mutex
	known map[string]int64 // key → last version seen or written by this instance
}

// ─── Schema ─────────────────────────────────────────────────────────────────

// Migrations returns the schema migration statements.
// Each string is a single SQL statement (SQLite executes one at a time).
func Migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS kv (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			version    INTEGER NOT NULL DEFAULT 1,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
	}
}

// Open opens (creating if needed) the database inside dir and runs migrations.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	path := filepath.Join(dir, FileName)
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	for _, stmt := range Migrations() {
		if _, err := sqlDB.Exec(stmt); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	return &DB{
		db:        sqlDB,
		path:      path,
		pollEvery: DefaultPollInterval,
		known:     make(map[string]int64),
	}, nil
}

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

// SetPollInterval changes the change-feed polling cadence. Call before Changes.
func (db *DB) SetPollInterval(d time.Duration) {
	if d > 0 {
		db.pollEvery = d
	}
}

// Close closes the database.
func (db *DB) Close() error {
	return db.db.Close()
}

// ─── KV Operations ──────────────────────────────────────────────────────────

// Get returns the value stored under key.
func (db *DB) Get(key string) ([]byte, bool, error) {
	var (
		value   []byte
		version int64
	)
	err := db.db.QueryRow(`SELECT value, version FROM kv WHERE key = ?`, key).Scan(&value, &version)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}

	db.mu.Lock()
	db.known[key] = version
	db.mu.Unlock()
	return value, true, nil
}

// Put stores value under key and bumps its version.
func (db *DB) Put(key string, value []byte) error {
	var version int64
	err := db.db.QueryRow(`
		INSERT INTO kv (key, value, version, updated_at)
		VALUES (?, ?, 1, datetime('now'))
		ON CONFLICT(key) DO UPDATE SET
			value      = excluded.value,
			version    = kv.version + 1,
			updated_at = datetime('now')
		RETURNING version
	`, key, value).Scan(&version)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}

	db.mu.Lock()
	db.known[key] = version
	db.mu.Unlock()
	return nil
}

// ─── Change Feed ────────────────────────────────────────────────────────────

// Changes polls PRAGMA data_version and emits every key whose version moved
// since this instance last saw it. The channel closes when ctx is done.
func (db *DB) Changes(ctx context.Context) (<-chan string, error) {
	base, err := db.dataVersion()
	if err != nil {
		return nil, err
	}
	if err := db.syncVersions(nil); err != nil {
		return nil, err
	}

	out := make(chan string, 16)
	go func() {
		defer close(out)
		ticker := time.NewTicker(db.pollEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			v, err := db.dataVersion()
			if err != nil || v == base {
				continue
			}
			base = v

			var changed []string
			if err := db.syncVersions(&changed); err != nil {
				continue
			}
			for _, k := range changed {
				select {
				case out <- k:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (db *DB) dataVersion() (int64, error) {
	var v int64
	if err := db.db.QueryRow(`PRAGMA data_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("data_version: %w", err)
	}
	return v, nil
}

// syncVersions refreshes the known versions. When changed is non-nil, keys
// whose version differs from the previously known one are appended to it.
func (db *DB) syncVersions(changed *[]string) error {
	rows, err := db.db.Query(`SELECT key, version FROM kv ORDER BY key`)
	if err != nil {
		return err
	}
	defer rows.Close()

	db.mu.Lock()
	defer db.mu.Unlock()
	for rows.Next() {
		var (
			k string
			v int64
		)
		if err := rows.Scan(&k, &v); err != nil {
			return err
		}
		if prev, ok := db.known[k]; (!ok || prev != v) && changed != nil {
			*changed = append(*changed, k)
		}
		db.known[k] = v
	}
	return rows.Err()
}
