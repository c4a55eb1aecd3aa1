// Package worker starts one-shot workers, each running exactly one task
// invocation, and reports how they exited.
//
// Two spawners share the same contract. ProcessSpawner re-executes the current
// binary; the child recognises itself through EnvWorker and runs Serve.
// InProcessSpawner runs the invocation on a supervised goroutine. In both
// cases the only channels back to the orchestrator are the result store and
// the exit code.
package worker

import (
	"context"
	"time"

	"mtman/internal/store"
	"mtman/internal/task"
)

// Exit codes reported by workers.
const (
	ExitOK            = 0
	ExitTaskFailed    = 1
	ExitBadInvocation = 2
	ExitStoreFailed   = 3
	ExitTerminated    = 143
)

// Invocation is everything a worker needs to run one attempt of one task.
// It is the only task state that crosses into a worker.
type Invocation struct {
	RunID    string       `json:"run_id"`
	TaskID   int          `json:"task_id"`
	Attempt  int          `json:"attempt"`
	Callable string       `json:"callable"`
	Args     task.Args    `json:"args"`
	Store    store.Config `json:"store"`
	LogLevel string       `json:"log_level,omitempty"`
}

// Exit describes how a worker ended. Err carries detail for diagnostics only;
// Code is what the orchestrator acts on.
type Exit struct {
	Code     int
	Err      error
	Duration time.Duration
}

func (e Exit) Success() bool { return e.Code == ExitOK }

// Handle is a started worker.
type Handle interface {
	// PID is the OS process id, or 0 for in-process workers.
	PID() int
	// Done is closed once the worker has exited and Exit is valid.
	Done() <-chan struct{}
	Exit() Exit
	// Terminate asks the worker to stop (SIGTERM or context cancellation).
	Terminate() error
	// Kill stops the worker without grace where the platform allows it.
	Kill() error
}

// Spawner starts workers. A returned error means no worker exists.
type Spawner interface {
	Spawn(ctx context.Context, inv Invocation) (Handle, error)
}

// SpawnerFunc adapts a function to Spawner.
type SpawnerFunc func(ctx context.Context, inv Invocation) (Handle, error)

func (f SpawnerFunc) Spawn(ctx context.Context, inv Invocation) (Handle, error) { return f(ctx, inv) }
