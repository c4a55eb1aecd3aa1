package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	logx "mtman/pkg/logx"
)

// ProcessSpawner runs each invocation in a fresh OS process by re-executing
// Path (the current binary by default). The child must call Main early.
//
// WARNING: No sandboxing - workers run with the same privileges as the parent.
type ProcessSpawner struct {
	// Path is the executable to start. Empty means os.Executable().
	Path string
	// Args are passed to the child verbatim.
	Args []string
	// Stdout and Stderr receive the child's output. Nil means the parent's stderr.
	Stdout io.Writer
	Stderr io.Writer

	Log logx.Logger
}

func (p *ProcessSpawner) Spawn(ctx context.Context, inv Invocation) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := p.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
		path = exe
	}

	payload, err := json.Marshal(inv)
	if err != nil {
		return nil, fmt.Errorf("encode invocation: %w", err)
	}

	cmd := exec.Command(path, p.Args...)
	cmd.Env = append(os.Environ(), EnvWorker+"=1")
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = p.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stderr
	}
	cmd.Stderr = p.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker process: %w", err)
	}

	h := &processHandle{cmd: cmd, started: started, done: make(chan struct{})}
	go h.wait()

	if !p.Log.IsZero() {
		p.Log.Debug("worker.spawned", logx.Int("task", inv.TaskID), logx.Int("attempt", inv.Attempt), logx.Int("pid", cmd.Process.Pid))
	}
	return h, nil
}

type processHandle struct {
	cmd     *exec.Cmd
	started time.Time

	done chan struct{}
	mu   sync.Mutex
	exit Exit
}

func (h *processHandle) wait() {
	err := h.cmd.Wait()
	ex := Exit{Duration: time.Since(h.started)}

	code := -1
	if h.cmd.ProcessState != nil {
		code = h.cmd.ProcessState.ExitCode()
	}
	switch {
	case err == nil:
		ex.Code = ExitOK
	case code == -1:
		// Killed by a signal (or never reaped cleanly).
		ex.Code = ExitTerminated
		ex.Err = err
	default:
		var ee *exec.ExitError
		if !errors.As(err, &ee) {
			// The process exited but copying its stdio failed; keep its code.
			ex.Err = err
		}
		ex.Code = code
	}

	h.mu.Lock()
	h.exit = ex
	h.mu.Unlock()
	close(h.done)
}

func (h *processHandle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func (h *processHandle) Done() <-chan struct{} { return h.done }

func (h *processHandle) Exit() Exit {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exit
}

func (h *processHandle) Terminate() error {
	if h.cmd.Process == nil {
		return nil
	}
	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("send SIGTERM: %w", err)
	}
	return nil
}

func (h *processHandle) Kill() error {
	if h.cmd.Process == nil {
		return nil
	}
	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("send SIGKILL: %w", err)
	}
	return nil
}
