// Package config loads runledger configuration from config.yaml under
// the runledger home directory, applies RUNLEDGER_* environment
// overrides, and normalizes defaults.
package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/basket/runledger/internal/otel"
)

const (
	defaultMaxEvents = 10000

	// Periodic compaction is off unless configured.
	defaultCompactIntervalMS = 0
)

// StorageConfig holds the event store and retention settings.
type StorageConfig struct {
	// Path is the storage directory holding the record, index, and
	// lock files. Empty means <home>/store.
	Path string `yaml:"path"`

	// MaxEvents is the compaction retention bound.
	MaxEvents int `yaml:"max_events"`

	// CompactIntervalMS schedules recurring background compaction in
	// watch mode. 0 disables the interval timer.
	CompactIntervalMS int `yaml:"compact_interval_ms"`

	// CompactSchedule is an optional 5-field cron expression for
	// scheduled compaction in watch mode, e.g. "0 3 * * *". Empty
	// disables the cron trigger. Interval and schedule may coexist.
	CompactSchedule string `yaml:"compact_schedule"`

	// EnableWAL toggles the fire-and-forget durable append on every
	// logged event. When disabled, events reach disk only on an
	// explicit save. Defaults to true.
	EnableWAL *bool `yaml:"enable_wal"`
}

// WALEnabled resolves the EnableWAL tri-state.
func (s StorageConfig) WALEnabled() bool {
	return s.EnableWAL == nil || *s.EnableWAL
}

type Config struct {
	HomeDir string `yaml:"-"`

	LogLevel string        `yaml:"log_level"`
	Storage  StorageConfig `yaml:"storage"`
	OTel     otel.Config   `yaml:"otel"`

	NeedsGenesis bool `yaml:"-"`
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// StoragePath resolves the effective storage directory.
func (c Config) StoragePath() string {
	if strings.TrimSpace(c.Storage.Path) != "" {
		return c.Storage.Path
	}
	return filepath.Join(c.HomeDir, "store")
}

// Fingerprint returns a stable hash of the active config, used to
// detect whether a hot reload actually changed anything.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "log=%s|path=%s|max=%d|interval=%d|schedule=%s|wal=%v",
		c.LogLevel, c.StoragePath(), c.Storage.MaxEvents,
		c.Storage.CompactIntervalMS, c.Storage.CompactSchedule, c.Storage.WALEnabled())
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func defaultConfig() Config {
	return Config{
		LogLevel: "info",
		Storage: StorageConfig{
			MaxEvents:         defaultMaxEvents,
			CompactIntervalMS: defaultCompactIntervalMS,
		},
	}
}

func HomeDir() string {
	if override := os.Getenv("RUNLEDGER_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".runledger")
}

func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create runledger home: %w", err)
	}

	configPath := ConfigPath(cfg.HomeDir)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.NeedsGenesis = true
		} else {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Storage.MaxEvents <= 0 {
		cfg.Storage.MaxEvents = defaultMaxEvents
	}
	if cfg.Storage.CompactIntervalMS < 0 {
		cfg.Storage.CompactIntervalMS = 0
	}
	cfg.Storage.CompactSchedule = strings.TrimSpace(cfg.Storage.CompactSchedule)
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("RUNLEDGER_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("RUNLEDGER_STORAGE_PATH"); raw != "" {
		cfg.Storage.Path = raw
	}
	if raw := os.Getenv("RUNLEDGER_MAX_EVENTS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Storage.MaxEvents = v
		}
	}
	if raw := os.Getenv("RUNLEDGER_COMPACT_INTERVAL_MS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Storage.CompactIntervalMS = v
		}
	}
	if raw := os.Getenv("RUNLEDGER_COMPACT_SCHEDULE"); raw != "" {
		cfg.Storage.CompactSchedule = raw
	}
	if raw := os.Getenv("RUNLEDGER_ENABLE_WAL"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			cfg.Storage.EnableWAL = &v
		}
	}
}
