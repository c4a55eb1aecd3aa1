package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config is the on-disk configuration of a run.
//
// All durations are Go duration strings (e.g. "100ms", "5s").
// Numeric fields that accept 0 as a meaningful value are pointers so an
// omitted key can be told apart from an explicit zero.
//
// Defaults (when fields are omitted):
//   - concurrency_limit: 4
//   - time_limit_seconds: 60
//   - max_retries: 3
//   - retry_delay: "100ms"
//   - poll_interval: "1ms"
//   - kill_grace: "500ms"
//   - spawn_rate_per_sec: 0 (disabled)
//   - ipc_directory: <os temp dir>/mtman
//   - log_level: "info"
//   - worker_mode: "process"
//   - store.driver: "file"
type Config struct {
	ConcurrencyLimit *int     `json:"concurrency_limit,omitempty" validate:"omitempty,gte=1"`
	TimeLimitSeconds *float64 `json:"time_limit_seconds,omitempty" validate:"omitempty,gt=0"`
	MaxRetries       *int     `json:"max_retries,omitempty" validate:"omitempty,gte=0"`

	RetryDelay   string `json:"retry_delay,omitempty"`
	PollInterval string `json:"poll_interval,omitempty"`
	KillGrace    string `json:"kill_grace,omitempty"`

	SpawnRatePerSec float64 `json:"spawn_rate_per_sec,omitempty" validate:"gte=0"`
	SpawnBurst      int     `json:"spawn_burst,omitempty" validate:"gte=0"`

	IPCDirectory string `json:"ipc_directory,omitempty"`
	LogLevel     string `json:"log_level,omitempty" validate:"omitempty,oneof=trace debug info warn warning error"`
	LogFile      string `json:"log_file,omitempty"`
	WorkerMode   string `json:"worker_mode,omitempty" validate:"omitempty,oneof=process inprocess"`

	Store StoreConfig `json:"store"`
}

// StoreConfig selects the result store backend.
type StoreConfig struct {
	Driver string `json:"driver,omitempty" validate:"omitempty,oneof=file sqlite sqlite3 postgres postgresql pgx"`
	// Path is the sqlite database file. Default <ipc_directory>/mtman.db.
	Path string `json:"path,omitempty"`
	// DSN is the postgres connection string.
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

const (
	WorkerModeProcess   = "process"
	WorkerModeInProcess = "inprocess"
)

const (
	defaultConcurrency  = 4
	defaultTimeLimit    = 60 * time.Second
	defaultMaxRetries   = 3
	defaultRetryDelay   = 100 * time.Millisecond
	defaultPollInterval = time.Millisecond
	defaultKillGrace    = 500 * time.Millisecond
	defaultBusyTimeout  = 5 * time.Second
	defaultLogLevel     = "info"
)

// DefaultIPCDirectory is where result files live unless configured otherwise.
func DefaultIPCDirectory() string { return filepath.Join(os.TempDir(), "mtman") }
