// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(...) to build a Config with defaults.
// - External errors must be wrapped via this package's error helpers.
package config

import "time"

// Storage backend names accepted by the Storage field.
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
)

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// MaxScore is the score ceiling; the floor is always zero.
	MaxScore int `koanf:"max_score"`

	// WorkerCount sets the number of scoring workers.
	WorkerCount int `koanf:"worker_count"`

	// QueueSize bounds the number of pending jobs.
	QueueSize int `koanf:"queue_size"`

	// MaxBatch caps the number of events in one batch submission.
	MaxBatch int `koanf:"max_batch"`

	// MaxAttempts is the retry ceiling before a job dead-letters.
	MaxAttempts int `koanf:"max_attempts"`

	// BackoffBaseMS and BackoffMaxMS shape the retry delay curve.
	BackoffBaseMS int `koanf:"backoff_base_ms"`
	BackoffMaxMS  int `koanf:"backoff_max_ms"`

	// JobTimeoutMS bounds a single processing attempt.
	JobTimeoutMS int `koanf:"job_timeout_ms"`

	// LockStripes sets the per-lead mutual exclusion stripe count.
	LockStripes int `koanf:"lock_stripes"`

	// Storage selects the event store backend: memory or sqlite.
	Storage string `koanf:"storage"`

	// SQLitePath locates the database file when Storage is sqlite.
	SQLitePath string `koanf:"sqlite_path"`

	// RulesPath optionally loads the scoring rule table from a YAML file.
	RulesPath string `koanf:"rules_path"`

	// WatchRules hot-reloads the rule file on change.
	WatchRules bool `koanf:"watch_rules"`

	// NotifyBuffer is the per-client WebSocket send buffer depth. Clients
	// that fall this many updates behind are disconnected.
	NotifyBuffer int `koanf:"notify_buffer"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:      "info",
		Addr:          ":8080",
		MaxScore:      1000,
		WorkerCount:   5,
		QueueSize:     100_000,
		MaxBatch:      1000,
		MaxAttempts:   5,
		BackoffBaseMS: 200,
		BackoffMaxMS:  30_000,
		JobTimeoutMS:  5_000,
		LockStripes:   64,
		Storage:       StorageMemory,
		SQLitePath:    "leadscore.db",
		NotifyBuffer:  16,
	}
}

// BackoffBase returns the retry backoff base as a duration.
func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMS) * time.Millisecond
}

// BackoffMax returns the retry backoff cap as a duration.
func (c *Config) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMS) * time.Millisecond
}

// JobTimeout returns the per-attempt timeout as a duration.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutMS) * time.Millisecond
}
