// Package config loads runtime controls for the validator from a YAML file
// with environment-variable overrides. Controls are read once at run start;
// there is no hot reload — a run keeps the configuration it started with.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// EnvConfigPath overrides the default config file location.
	EnvConfigPath = "TAGWATCH_CONFIG"

	// Defaults for the runtime controls; see SchedulerConfig.
	DefaultWorkerCount     = 3
	DefaultPhase1TimeoutMs = 20_000
	DefaultPhase2TimeoutMs = 60_000
	// DefaultTagManagerWaitMs is the extra wait window for the tag-manager
	// container on top of the phase-2 budget.
	DefaultTagManagerWaitMs = 30_000
	DefaultRetentionDays    = 30
	// DefaultRetryIntervalMs is the retry-queue polling cadence.
	DefaultRetryIntervalMs = 5 * 60 * 1000

	defaultLockfilePath = "/var/run/tagwatch/run.lock"
	defaultMirrorRoot   = "/tmp/tagwatch"
)

// DatastoreConfig points at the relational store.
type DatastoreConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// ObjectStoreConfig points at the screenshot bucket.
type ObjectStoreConfig struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	// UsePathStyle is required for S3-compatible stores fronted by a single
	// host (MinIO, Supabase storage gateways).
	UsePathStyle bool `yaml:"use_path_style"`
}

// SchedulerConfig carries the two-phase scheduler controls.
type SchedulerConfig struct {
	WorkerCount      int   `yaml:"worker_count"`
	Phase1TimeoutMs  int64 `yaml:"phase1_timeout_ms"`
	Phase2TimeoutMs  int64 `yaml:"phase2_timeout_ms"`
	TagManagerWaitMs int64 `yaml:"tag_manager_wait_ms"`
}

// Phase1Timeout returns the phase-1 per-property deadline.
func (s SchedulerConfig) Phase1Timeout() time.Duration {
	return time.Duration(s.Phase1TimeoutMs) * time.Millisecond
}

// Phase2Timeout returns the phase-2 per-property deadline.
func (s SchedulerConfig) Phase2Timeout() time.Duration {
	return time.Duration(s.Phase2TimeoutMs) * time.Millisecond
}

// TagManagerWait returns the extra container wait window.
func (s SchedulerConfig) TagManagerWait() time.Duration {
	return time.Duration(s.TagManagerWaitMs) * time.Millisecond
}

// BrowserConfig carries browser-pool settings.
type BrowserConfig struct {
	Headless  bool   `yaml:"headless"`
	ChromeBin string `yaml:"chrome_bin"`
	UserAgent string `yaml:"user_agent"`
}

// Config is the full runtime configuration.
type Config struct {
	Datastore   DatastoreConfig   `yaml:"datastore"`
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Browser     BrowserConfig     `yaml:"browser"`

	RetentionDays   int    `yaml:"retention_days"`
	RetryIntervalMs int64  `yaml:"retry_interval_ms"`
	LockfilePath    string `yaml:"lockfile_path"`
	// MirrorRoot is where the temp cache writes its per-run crash-recovery
	// mirror. Cleared on every terminal path.
	MirrorRoot string `yaml:"mirror_root"`
	// MetricsAddr, when non-empty, exposes prometheus metrics.
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns a config with every control at its default.
func Default() Config {
	return Config{
		Datastore: DatastoreConfig{MaxOpenConns: 10},
		Scheduler: SchedulerConfig{
			WorkerCount:      DefaultWorkerCount,
			Phase1TimeoutMs:  DefaultPhase1TimeoutMs,
			Phase2TimeoutMs:  DefaultPhase2TimeoutMs,
			TagManagerWaitMs: DefaultTagManagerWaitMs,
		},
		Browser:         BrowserConfig{Headless: true},
		RetentionDays:   DefaultRetentionDays,
		RetryIntervalMs: DefaultRetryIntervalMs,
		LockfilePath:    defaultLockfilePath,
		MirrorRoot:      defaultMirrorRoot,
	}
}

// Load reads the config file at path (or EnvConfigPath, or returns defaults
// when neither is set), applies environment overrides, and validates.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnvOverrides lets deployment environments override file values
// without editing the file. Only the controls operators actually tune.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TAGWATCH_DATASTORE_DSN"); v != "" {
		cfg.Datastore.DSN = v
	}
	if v := os.Getenv("TAGWATCH_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.WorkerCount = n
		}
	}
	if v := os.Getenv("TAGWATCH_PHASE1_TIMEOUT_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Scheduler.Phase1TimeoutMs = n
		}
	}
	if v := os.Getenv("TAGWATCH_PHASE2_TIMEOUT_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Scheduler.Phase2TimeoutMs = n
		}
	}
	if v := os.Getenv("TAGWATCH_LOCKFILE"); v != "" {
		cfg.LockfilePath = v
	}
	if v := os.Getenv("TAGWATCH_MIRROR_ROOT"); v != "" {
		cfg.MirrorRoot = v
	}
}

// Validate rejects configurations the scheduler cannot run with.
func (c Config) Validate() error {
	if c.Scheduler.WorkerCount < 1 {
		return fmt.Errorf("worker_count must be >= 1, got %d", c.Scheduler.WorkerCount)
	}
	if c.Scheduler.Phase1TimeoutMs <= 0 {
		return fmt.Errorf("phase1_timeout_ms must be positive, got %d", c.Scheduler.Phase1TimeoutMs)
	}
	if c.Scheduler.Phase2TimeoutMs < c.Scheduler.Phase1TimeoutMs {
		return fmt.Errorf("phase2_timeout_ms (%d) must be >= phase1_timeout_ms (%d)",
			c.Scheduler.Phase2TimeoutMs, c.Scheduler.Phase1TimeoutMs)
	}
	if c.RetryIntervalMs <= 0 {
		return fmt.Errorf("retry_interval_ms must be positive, got %d", c.RetryIntervalMs)
	}
	return nil
}
