package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"mtman/internal/store"
	"mtman/internal/task"
	logx "mtman/pkg/logx"
)

// EnvWorker marks a process as a worker child. Its value is "1".
const EnvWorker = "MTMAN_WORKER"

// IsWorker reports whether the current process was started by ProcessSpawner.
func IsWorker() bool { return os.Getenv(EnvWorker) == "1" }

// Main turns the current process into a worker when it was spawned as one:
// it serves the invocation on stdin and exits. In any other process it
// returns immediately. Call it first thing in main (or TestMain).
func Main(reg *task.Registry) {
	if !IsWorker() {
		return
	}
	// Nested managers started by a task must spawn real children again.
	_ = os.Unsetenv(EnvWorker)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	code := Serve(ctx, os.Stdin, reg)
	stop()
	os.Exit(code)
}

// Serve decodes one Invocation from r, opens its store, runs it and returns
// the exit code the process should end with.
func Serve(ctx context.Context, r io.Reader, reg *task.Registry) int {
	var inv Invocation
	if err := json.NewDecoder(r).Decode(&inv); err != nil {
		logx.NewConsole("error").Error("worker: bad invocation", logx.Err(err))
		return ExitBadInvocation
	}
	log := logx.NewConsole(inv.LogLevel).With(
		logx.String("comp", "worker"),
		logx.String("run", inv.RunID),
		logx.Int("task", inv.TaskID),
		logx.Int("attempt", inv.Attempt),
		logx.Int("pid", os.Getpid()),
	)

	st, err := store.Open(ctx, inv.Store, log)
	if err != nil {
		log.Error("worker: store unavailable", logx.Err(err))
		return ExitStoreFailed
	}
	defer st.Close()

	code, err := Execute(ctx, inv, reg, st, log)
	if err != nil && code != ExitTaskFailed {
		log.Error("worker: exiting", logx.Int("code", code), logx.Err(err))
	}
	return code
}

// Execute runs one invocation against an already opened store. It is shared by
// the child process and the in-process spawner so both report identical codes.
func Execute(ctx context.Context, inv Invocation, reg *task.Registry, st store.Store, log logx.Logger) (int, error) {
	if reg == nil {
		reg = task.Default
	}
	c, err := reg.Lookup(inv.Callable)
	if err != nil {
		return ExitBadInvocation, err
	}

	log.Debug("task.invoke", logx.String("callable", c.Name()), logx.Int("params", inv.Args.Len()))
	v, err := call(ctx, c, inv.Args)
	if err != nil {
		if ctx.Err() != nil {
			log.Debug("task.cancelled", logx.Err(err))
			return ExitTerminated, fmt.Errorf("task %d cancelled: %w", inv.TaskID, err)
		}
		log.Error("task.error", logx.Err(err))
		return ExitTaskFailed, err
	}

	b, err := task.EncodeValue(v)
	if err != nil {
		log.Error("task.error", logx.Err(err))
		return ExitTaskFailed, err
	}
	if err := st.Put(ctx, inv.TaskID, b); err != nil {
		return ExitStoreFailed, fmt.Errorf("store result for task %d: %w", inv.TaskID, err)
	}
	log.Debug("task.stored")
	return ExitOK, nil
}

var errPanic = errors.New("task panicked")

// call invokes c and converts a panic into an error so one bad task cannot
// take down the worker host.
func call(ctx context.Context, c *task.Callable, args task.Args) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v = nil
			err = fmt.Errorf("%w: %v\n%s", errPanic, r, debug.Stack())
		}
	}()
	return c.Call(ctx, args)
}
