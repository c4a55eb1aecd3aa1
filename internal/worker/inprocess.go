package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	rtsup "mtman/internal/runtime/supervisor"
	"mtman/internal/store"
	"mtman/internal/task"
	logx "mtman/pkg/logx"
)

// InProcessSpawner runs invocations on supervised goroutines of the current
// process. Panics are contained per task and reported as ExitTaskFailed.
//
// Termination is cooperative: Terminate and Kill cancel the invocation's
// context, and a task that ignores its context keeps its goroutine until it
// returns.
type InProcessSpawner struct {
	reg   *task.Registry
	store store.Store
	log   logx.Logger
	sup   *rtsup.Supervisor
}

func NewInProcessSpawner(reg *task.Registry, st store.Store, log logx.Logger) *InProcessSpawner {
	if reg == nil {
		reg = task.Default
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &InProcessSpawner{
		reg:   reg,
		store: st,
		log:   log,
		sup: rtsup.New(context.Background(),
			rtsup.WithLogger(log.With(logx.String("comp", "inprocess"))),
			// one failing task must not cancel its siblings
			rtsup.WithCancelOnError(false),
		),
	}
}

func (s *InProcessSpawner) Spawn(ctx context.Context, inv Invocation) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.store == nil {
		return nil, fmt.Errorf("in-process spawner has no store")
	}

	wctx, cancel := context.WithCancel(s.sup.Context())
	h := &goroutineHandle{started: time.Now(), cancel: cancel, done: make(chan struct{})}
	log := s.log.With(logx.Int("task", inv.TaskID), logx.Int("attempt", inv.Attempt))

	name := fmt.Sprintf("task.%d.%d", inv.TaskID, inv.Attempt)
	s.sup.Go(name, func(context.Context) error {
		defer cancel()
		code, err := Execute(wctx, inv, s.reg, s.store, log)
		h.finish(Exit{Code: code, Err: err, Duration: time.Since(h.started)})
		return nil
	})
	return h, nil
}

// Counters exposes the underlying supervisor counters.
func (s *InProcessSpawner) Counters() rtsup.Counters { return s.sup.Counters() }

// Close cancels every running invocation and waits for their goroutines.
func (s *InProcessSpawner) Close(ctx context.Context) error {
	return s.sup.Stop(ctx)
}

type goroutineHandle struct {
	started time.Time
	cancel  context.CancelFunc

	once sync.Once
	done chan struct{}
	mu   sync.Mutex
	exit Exit
}

func (h *goroutineHandle) finish(ex Exit) {
	h.once.Do(func() {
		h.mu.Lock()
		h.exit = ex
		h.mu.Unlock()
		close(h.done)
	})
}

func (h *goroutineHandle) PID() int              { return 0 }
func (h *goroutineHandle) Done() <-chan struct{} { return h.done }

func (h *goroutineHandle) Exit() Exit {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exit
}

func (h *goroutineHandle) Terminate() error {
	h.cancel()
	return nil
}

func (h *goroutineHandle) Kill() error { return h.Terminate() }
