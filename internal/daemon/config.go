// Package daemon wires storage, the reconciliation engine, the timer and the
// HTTP API into a running BetterMe process.
package daemon

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/betterme-app/betterme/internal/domain"
)

// ConfigFileName is the config file inside the home directory.
const ConfigFileName = "config.toml"

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
)

// Config is the complete BetterMe configuration, read from config.toml.
type Config struct {
	Tracker TrackerConfig `toml:"tracker"`
	Storage StorageConfig `toml:"storage"`
	API     APIConfig     `toml:"api"`
	Metrics MetricsConfig `toml:"metrics"`
	Log     LogConfig     `toml:"log"`
}

// TrackerConfig holds the report cadence and scoring rules.
type TrackerConfig struct {
	Interval        string   `toml:"interval"` // e.g. "1h", "30m"
	Tick            string   `toml:"tick"`     // timer cadence
	InitialLevel    int      `toml:"initial_level"`
	LevelFloor      int      `toml:"level_floor"`
	Categories      []string `toml:"categories"`
	ResetValue      string   `toml:"reset_value"`
	ResetFinalValue string   `toml:"reset_final_value"`
}

type StorageConfig struct {
	Backend string `toml:"backend"` // "sqlite" or "file"
	Dir     string `toml:"dir"`     // empty means the home directory
}

type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

type LogConfig struct {
	Level string `toml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Tracker: TrackerConfig{
			Interval:        "1h",
			Tick:            "1s",
			InitialLevel:    1,
			LevelFloor:      1,
			Categories:      []string{"health", "focus", "income", "control"},
			ResetValue:      "FAIL",
			ResetFinalValue: "LEVEL RESET",
		},
		Storage: StorageConfig{
			Backend: BackendSQLite,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 7345,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Home returns the BetterMe home directory: $BETTERME_HOME or ~/.betterme.
func Home() string {
	if env := os.Getenv("BETTERME_HOME"); env != "" {
		return env
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".betterme"
	}
	return filepath.Join(home, ".betterme")
}

// LoadConfig overlays the TOML file at path onto DefaultConfig. A missing
// file yields the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return cfg, fmt.Errorf("parse %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the engine cannot run with.
func (c Config) Validate() error {
	if _, err := c.Tracker.IntervalDuration(); err != nil {
		return err
	}
	if _, err := c.Tracker.TickDuration(); err != nil {
		return err
	}
	if len(c.Tracker.Categories) == 0 {
		return errors.New("tracker.categories: at least one category is required")
	}
	seen := make(domain.CategorySet, 0, len(c.Tracker.Categories))
	for _, cat := range c.Tracker.Categories {
		name := strings.TrimSpace(cat)
		if name == "" {
			return errors.New("tracker.categories: blank category name")
		}
		if seen.Contains(name) {
			return fmt.Errorf("tracker.categories: duplicate category %q", name)
		}
		seen = append(seen, name)
	}
	if c.Tracker.LevelFloor < 0 {
		return fmt.Errorf("tracker.level_floor: must be >= 0, got %d", c.Tracker.LevelFloor)
	}
	if c.Tracker.InitialLevel < 0 {
		return fmt.Errorf("tracker.initial_level: must be >= 0, got %d", c.Tracker.InitialLevel)
	}
	switch c.Storage.Backend {
	case BackendSQLite, BackendFile:
	default:
		return fmt.Errorf("storage.backend: unknown backend %q (want %q or %q)", c.Storage.Backend, BackendSQLite, BackendFile)
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port: out of range: %d", c.API.Port)
	}
	if _, err := parseLogLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// IntervalDuration parses tracker.interval.
func (t TrackerConfig) IntervalDuration() (time.Duration, error) {
	return parsePositiveDuration("tracker.interval", t.Interval)
}

// TickDuration parses tracker.tick.
func (t TrackerConfig) TickDuration() (time.Duration, error) {
	return parsePositiveDuration("tracker.tick", t.Tick)
}

func parsePositiveDuration(field, s string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %s", field, s)
	}
	return d, nil
}

// StorageDir resolves the storage directory against home.
func (c Config) StorageDir(home string) string {
	if c.Storage.Dir == "" {
		return home
	}
	if filepath.IsAbs(c.Storage.Dir) {
		return c.Storage.Dir
	}
	return filepath.Join(home, c.Storage.Dir)
}

// Addr returns the API listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}

// WriteTOML encodes the configuration as TOML.
func (c Config) WriteTOML(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}
