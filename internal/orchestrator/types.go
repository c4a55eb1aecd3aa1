package orchestrator

import (
	"fmt"
	"time"

	"mtman/internal/task"
)

// Config controls one run. It is immutable once Run starts.
type Config struct {
	// ConcurrencyLimit bounds how many workers are alive at once.
	ConcurrencyLimit int
	// TimeLimit is the global wall-clock deadline for Run.
	TimeLimit time.Duration
	// MaxRetries is how many times a failed task is re-enqueued. 0 disables retries.
	MaxRetries int

	// RetryDelay is how long a failed task waits before it may be admitted again.
	RetryDelay time.Duration
	// PollInterval bounds how long the loop waits for a worker exit between ticks.
	PollInterval time.Duration
	// KillGrace is how long terminated workers get before they are killed.
	KillGrace time.Duration

	// SpawnRatePerSec throttles admissions with a token bucket. 0 disables it.
	SpawnRatePerSec float64
	SpawnBurst      int

	// WorkerLogLevel is passed to worker processes.
	WorkerLogLevel string
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		ConcurrencyLimit: 4,
		TimeLimit:        60 * time.Second,
		MaxRetries:       3,
		RetryDelay:       100 * time.Millisecond,
		PollInterval:     time.Millisecond,
		KillGrace:        500 * time.Millisecond,
		WorkerLogLevel:   "warn",
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ConcurrencyLimit <= 0 {
		c.ConcurrencyLimit = def.ConcurrencyLimit
	}
	if c.TimeLimit <= 0 {
		c.TimeLimit = def.TimeLimit
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.KillGrace <= 0 {
		c.KillGrace = def.KillGrace
	}
	if c.SpawnRatePerSec < 0 {
		c.SpawnRatePerSec = 0
	}
	if c.SpawnRatePerSec > 0 && c.SpawnBurst <= 0 {
		c.SpawnBurst = 1
	}
	if c.WorkerLogLevel == "" {
		c.WorkerLogLevel = def.WorkerLogLevel
	}
	return c
}

// Results maps task id to the value of its successful attempt.
type Results map[int]task.Value

// State is a worker's lifecycle state. A worker only ever moves from
// StateRunning to exactly one of the other states.
type State string

const (
	StateRunning   State = "RUNNING"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
	// StateUnresolved: the worker exited successfully but left no result.
	StateUnresolved State = "UNRESOLVED"
)

func (s State) terminal() bool { return s != StateRunning }

// WorkerID identifies one worker within a run. OS pids are diagnostics only
// because the OS may reuse them.
type WorkerID uint64

func (id WorkerID) String() string { return fmt.Sprintf("w-%d", uint64(id)) }

// WorkerStatus is a point-in-time view of one worker.
type WorkerStatus struct {
	ID       WorkerID      `json:"id"`
	TaskID   int           `json:"task_id"`
	Attempt  int           `json:"attempt"`
	PID      int           `json:"pid,omitempty"`
	State    State         `json:"state"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration,omitempty"`
	ExitCode int           `json:"exit_code"`
}

// Failure describes one failed attempt, as reported to OnTaskError.
type Failure struct {
	TaskID  int
	Attempt int
	// Retries is the task's retry count after this failure was handled.
	Retries   int
	Permanent bool
	ExitCode  int
	Reason    string
}

func (f Failure) String() string {
	if f.Permanent {
		return fmt.Sprintf("task %d failed permanently after %d retries (exit %d): %s", f.TaskID, f.Retries, f.ExitCode, f.Reason)
	}
	return fmt.Sprintf("task %d attempt %d failed (exit %d), retry %d scheduled: %s", f.TaskID, f.Attempt, f.ExitCode, f.Retries, f.Reason)
}
