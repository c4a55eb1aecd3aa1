// Package orchestrator runs submitted tasks on one-shot workers.
//
// A single loop owns all scheduling state: it admits queued tasks while fewer
// than ConcurrencyLimit workers are alive, reaps exited workers, reads their
// results from the store, re-enqueues failures until MaxRetries is used up,
// and terminates everything once TimeLimit has passed.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"mtman/internal/store"
	"mtman/internal/task"
	"mtman/internal/worker"
	logx "mtman/pkg/logx"
)

// ResultReader is the part of the store the orchestrator needs.
type ResultReader interface {
	Get(ctx context.Context, taskID int) ([]byte, bool, error)
}

const storeReadTimeout = 10 * time.Second

type runState int

const (
	stateIdle runState = iota
	stateRunning
	stateDone
)

// Orchestrator admits submitted tasks onto a bounded set of workers and
// collects their results.
type Orchestrator struct {
	cfg      Config
	spawner  worker.Spawner
	results  ResultReader
	storeCfg store.Config
	registry *task.Registry
	obs      Observer
	log      logx.Logger
	now      func() time.Time
	limiter  *rate.Limiter

	mu    sync.Mutex // guards state, tasks and out for callers outside the loop
	state runState
	tasks []*descriptor
	out   Results

	queue   pendingQueue
	workers *workerSet
	wake    chan struct{}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger; the default discards everything.
func WithLogger(log logx.Logger) Option { return func(o *Orchestrator) { o.log = log } }

// WithObserver receives task lifecycle callbacks.
func WithObserver(obs Observer) Option { return func(o *Orchestrator) { o.obs = obs } }

// WithClock replaces time.Now for deadline and retry eligibility checks.
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// WithStoreConfig sets the store config handed to every worker invocation.
func WithStoreConfig(cfg store.Config) Option { return func(o *Orchestrator) { o.storeCfg = cfg } }

// WithRegistry makes Submit reject callables the workers cannot resolve.
func WithRegistry(r *task.Registry) Option { return func(o *Orchestrator) { o.registry = r } }

// New returns an idle orchestrator. Non-positive limits and intervals in cfg
// fall back to DefaultConfig.
func New(cfg Config, sp worker.Spawner, results ResultReader, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:     cfg.withDefaults(),
		spawner: sp,
		results: results,
		now:     time.Now,
		out:     Results{},
		workers: newWorkerSet(),
		wake:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.log.IsZero() {
		o.log = logx.Nop()
	}
	if o.obs == nil {
		o.obs = Observers(nil)
	}
	if o.cfg.SpawnRatePerSec > 0 {
		o.limiter = rate.NewLimiter(rate.Limit(o.cfg.SpawnRatePerSec), o.cfg.SpawnBurst)
	}
	o.log = o.log.With(logx.String("comp", "orchestrator"), logx.String("run", o.storeCfg.RunID))
	return o
}

func (o *Orchestrator) Config() Config { return o.cfg }

// Submit queues a callable with its bound params and returns its task id.
// Ids start at 0 and increase by one per submission.
func (o *Orchestrator) Submit(c *task.Callable, params ...any) (int, error) {
	if c == nil {
		return 0, ErrNilCallable
	}
	if o.registry != nil && !o.registry.Owns(c) {
		return 0, fmt.Errorf("%w: %s", ErrForeign, c.Name())
	}
	args, err := task.EncodeArgs(params...)
	if err != nil {
		return 0, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != stateIdle {
		return 0, ErrAlreadyRun
	}
	d := &descriptor{id: len(o.tasks), callable: c, args: args}
	o.tasks = append(o.tasks, d)
	o.queue.push(d)
	return d.id, nil
}

// Run executes every submitted task and blocks until all of them have either
// succeeded or failed permanently. It returns one entry per successful task.
//
// Fatal errors match ErrForkFailure, ErrStorageFailure or ErrTimeout. If ctx
// is cancelled the workers are terminated and the context error is returned.
// Run may be called once.
//
// Process workers are gone when Run returns. In-process workers are only
// cancelled, so a task that ignores its context can outlive Run.
func (o *Orchestrator) Run(ctx context.Context) (Results, error) {
	o.mu.Lock()
	if o.state != stateIdle {
		o.mu.Unlock()
		return nil, ErrAlreadyRun
	}
	o.state = stateRunning
	total := len(o.tasks)
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.state = stateDone
		o.mu.Unlock()
	}()

	start := o.now()
	o.log.Info("run.started",
		logx.Int("tasks", total),
		logx.Int("concurrency", o.cfg.ConcurrencyLimit),
		logx.Duration("time_limit", o.cfg.TimeLimit),
		logx.Int("max_retries", o.cfg.MaxRetries),
	)

	for o.queue.len() > 0 || o.workers.len() > 0 {
		if err := o.checkDeadline(ctx, start); err != nil {
			return nil, err
		}
		if err := o.admit(ctx); err != nil {
			o.abort(err)
			return nil, err
		}
		if err := o.reap(ctx); err != nil {
			o.abort(err)
			return nil, err
		}
		if o.queue.len() == 0 && o.workers.len() == 0 {
			break
		}
		o.waitTick(ctx)
	}

	o.drain(ctx)

	out := o.snapshotResults()
	o.log.Info("run.completed",
		logx.Int("results", len(out)),
		logx.Int("tasks", total),
		logx.Duration("dur", o.now().Sub(start)),
	)
	return out, nil
}

func (o *Orchestrator) checkDeadline(ctx context.Context, start time.Time) error {
	if err := ctx.Err(); err != nil {
		n := o.terminateAll()
		o.log.Warn("run.cancelled", logx.Int("terminated", n), logx.Err(err))
		return fmt.Errorf("run cancelled: %w", err)
	}
	elapsed := o.now().Sub(start)
	if elapsed <= o.cfg.TimeLimit {
		return nil
	}
	n := o.terminateAll()
	err := &TimeoutError{Limit: o.cfg.TimeLimit, Elapsed: elapsed, Terminated: n, Partial: o.snapshotResults()}
	o.log.Error("run.timeout", logx.Duration("elapsed", elapsed), logx.Duration("limit", o.cfg.TimeLimit), logx.Int("terminated", n))
	return err
}

// admit starts workers for eligible queued tasks while capacity remains.
func (o *Orchestrator) admit(ctx context.Context) error {
	for o.workers.len() < o.cfg.ConcurrencyLimit {
		d := o.queue.peek()
		if d == nil {
			return nil
		}
		now := o.now()
		if now.Before(d.eligibleAt) {
			return nil
		}
		if o.limiter != nil && !o.limiter.AllowN(now, 1) {
			return nil
		}
		o.queue.pop()

		inv := worker.Invocation{
			RunID:    o.storeCfg.RunID,
			TaskID:   d.id,
			Attempt:  d.retries + 1,
			Callable: d.callable.Name(),
			Args:     d.args,
			Store:    o.storeCfg,
			LogLevel: o.cfg.WorkerLogLevel,
		}
		h, err := o.spawner.Spawn(ctx, inv)
		if err != nil {
			return fmt.Errorf("%w: task %d: %w", ErrForkFailure, d.id, err)
		}

		w := o.workers.add(d, h, now)
		go o.notifyOnExit(h)
		o.log.Debug("task.started",
			logx.Int("task", d.id),
			logx.Int("attempt", w.attempt),
			logx.String("worker", w.id.String()),
			logx.Int("pid", h.PID()),
		)
		o.obs.OnTaskStart(d.id)
	}
	return nil
}

func (o *Orchestrator) notifyOnExit(h worker.Handle) {
	<-h.Done()
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// reap checks every running worker without blocking and handles the ones that
// have exited, in admission order.
func (o *Orchestrator) reap(ctx context.Context) error {
	for _, w := range o.workers.snapshot() {
		select {
		case <-w.handle.Done():
		default:
			continue
		}
		o.workers.remove(w)
		if err := o.collect(ctx, w); err != nil {
			return err
		}
	}
	return nil
}

// collect handles one exited worker. The store is read only here, after the
// exit has been observed, so a read can never race the worker's write.
func (o *Orchestrator) collect(ctx context.Context, w *runningWorker) error {
	ex := w.handle.Exit()
	now := o.now()
	d := w.task
	o.log.Debug("worker.exited",
		logx.Int("task", d.id),
		logx.String("worker", w.id.String()),
		logx.Int("exit_code", ex.Code),
		logx.Duration("dur", ex.Duration),
	)

	switch ex.Code {
	case worker.ExitOK:
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeReadTimeout)
		v, ok, err := o.results.Get(rctx, d.id)
		cancel()
		if err != nil {
			o.workers.finish(w, StateFailed, ex.Code, now)
			return fmt.Errorf("%w: read result of task %d: %w", ErrStorageFailure, d.id, err)
		}
		if !ok {
			o.workers.finish(w, StateUnresolved, ex.Code, now)
			o.log.Warn("task.unresolved", logx.Int("task", d.id), logx.String("worker", w.id.String()))
			return nil
		}
		val := task.Value(v)
		o.mu.Lock()
		o.out[d.id] = val
		o.mu.Unlock()
		o.workers.finish(w, StateCompleted, ex.Code, now)
		o.log.Debug("task.completed", logx.Int("task", d.id), logx.Int("attempt", w.attempt), logx.Duration("dur", ex.Duration))
		o.obs.OnTaskComplete(d.id, val)
		return nil

	case worker.ExitStoreFailed:
		o.workers.finish(w, StateFailed, ex.Code, now)
		return fmt.Errorf("%w: worker for task %d could not store its result: %s", ErrStorageFailure, d.id, exitReason(ex))

	case worker.ExitBadInvocation:
		o.workers.finish(w, StateFailed, ex.Code, now)
		return fmt.Errorf("%w: worker for task %d could not start %q: %s", ErrForkFailure, d.id, d.callable.Name(), exitReason(ex))
	}

	f := o.handleFailure(w, ex, now)
	o.workers.finish(w, StateFailed, ex.Code, now)
	o.obs.OnTaskError(d.id, f)
	return nil
}

func (o *Orchestrator) waitTick(ctx context.Context) {
	t := time.NewTimer(o.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-o.wake:
	case <-ctx.Done():
	case <-t.C:
	}
}

// drain blocks on any worker still tracked after the loop and collects what
// it can. The loop only exits with an empty running set, so this is a guard.
func (o *Orchestrator) drain(ctx context.Context) {
	for _, w := range o.workers.snapshot() {
		<-w.handle.Done()
		o.workers.remove(w)
		if w.handle.Exit().Success() {
			if err := o.collect(ctx, w); err != nil {
				o.log.Warn("drain: result lost", logx.Int("task", w.task.id), logx.Err(err))
			}
			continue
		}
		o.workers.finish(w, StateFailed, w.handle.Exit().Code, o.now())
		o.log.Debug("drain: worker exited", logx.Int("task", w.task.id))
	}
}

// abort terminates every running worker after a fatal error.
func (o *Orchestrator) abort(err error) {
	n := o.terminateAll()
	o.log.Error("run.aborted", logx.Int("terminated", n), logx.Err(err))
}

// terminateAll signals every running worker, waits up to KillGrace for them to
// exit, kills the stragglers and returns how many workers it stopped.
func (o *Orchestrator) terminateAll() int {
	running := o.workers.snapshot()
	if len(running) == 0 {
		return 0
	}
	for _, w := range running {
		if err := w.handle.Terminate(); err != nil {
			o.log.Warn("worker.terminate failed", logx.String("worker", w.id.String()), logx.Err(err))
		}
	}

	grace := time.NewTimer(o.cfg.KillGrace)
	defer grace.Stop()
	for _, w := range running {
		select {
		case <-w.handle.Done():
			continue
		case <-grace.C:
		}
		break
	}
	for _, w := range running {
		select {
		case <-w.handle.Done():
			continue
		default:
		}
		if err := w.handle.Kill(); err != nil {
			o.log.Warn("worker.kill failed", logx.String("worker", w.id.String()), logx.Err(err))
		}
		select {
		case <-w.handle.Done():
		case <-time.After(o.cfg.KillGrace):
			o.log.Warn("worker still alive after kill", logx.String("worker", w.id.String()), logx.Int("pid", w.handle.PID()))
		}
	}

	now := o.now()
	for _, w := range running {
		o.workers.remove(w)
		o.workers.finish(w, StateFailed, w.handle.Exit().Code, now)
	}
	return len(running)
}

func (o *Orchestrator) snapshotResults() Results {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(Results, len(o.out))
	for k, v := range o.out {
		out[k] = v
	}
	return out
}

// ThreadStatus returns the state of every worker started so far. It stays
// valid after Run returns.
func (o *Orchestrator) ThreadStatus() map[WorkerID]State { return o.workers.status() }

// Workers returns every worker in start order.
func (o *Orchestrator) Workers() []WorkerStatus { return o.workers.list() }

// RetryCount reports how many times a task has been re-enqueued.
func (o *Orchestrator) RetryCount(taskID int) (int, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if taskID < 0 || taskID >= len(o.tasks) {
		return 0, false
	}
	return o.tasks[taskID].retries, true
}
