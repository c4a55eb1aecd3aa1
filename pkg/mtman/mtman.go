package mtman

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"mtman/internal/config"
	"mtman/internal/orchestrator"
	"mtman/internal/store"
	"mtman/internal/task"
	"mtman/internal/worker"
	logx "mtman/pkg/logx"
)

type (
	Config       = config.Config
	StoreConfig  = config.StoreConfig
	Callable     = task.Callable
	Func         = task.Func
	Args         = task.Args
	Value        = task.Value
	Results      = orchestrator.Results
	State        = orchestrator.State
	WorkerID     = orchestrator.WorkerID
	WorkerStatus = orchestrator.WorkerStatus
	Failure      = orchestrator.Failure
	Observer     = orchestrator.Observer
	Hooks        = orchestrator.Hooks
	TimeoutError = orchestrator.TimeoutError
)

const (
	StateRunning    = orchestrator.StateRunning
	StateCompleted  = orchestrator.StateCompleted
	StateFailed     = orchestrator.StateFailed
	StateUnresolved = orchestrator.StateUnresolved
)

var (
	ErrForkFailure    = orchestrator.ErrForkFailure
	ErrStorageFailure = orchestrator.ErrStorageFailure
	ErrTimeout        = orchestrator.ErrTimeout
	ErrAlreadyRun     = orchestrator.ErrAlreadyRun
)

const storeOpenTimeout = 30 * time.Second

// Define registers fn under name in the default registry.
func Define(name string, fn Func) *Callable { return task.Define(name, fn) }

func Func0[R any](fn func(ctx context.Context) (R, error)) Func { return task.Func0(fn) }

func Func1[A, R any](fn func(ctx context.Context, a A) (R, error)) Func { return task.Func1(fn) }

func Func2[A, B, R any](fn func(ctx context.Context, a A, b B) (R, error)) Func {
	return task.Func2(fn)
}

// Ptr returns a pointer to v, for the optional Config fields.
func Ptr[T any](v T) *T { return &v }

// LoadConfig reads a YAML or JSON config file.
func LoadConfig(path string) (Config, error) {
	cfg, err := config.NewConfigManager(path).Load()
	if err != nil {
		return Config{}, err
	}
	return *cfg, nil
}

// Main turns the process into a worker when it was started as one and never
// returns in that case. Call it first in main.
func Main() { worker.Main(task.Default) }

// MainWith is Main for callables registered in reg.
func MainWith(reg *task.Registry) { worker.Main(reg) }

type options struct {
	observers    []Observer
	registry     *task.Registry
	inProcess    bool
	log          logx.Logger
	runID        string
	workerOutput io.Writer
}

type Option func(*options)

// WithObserver adds a lifecycle observer. Observers run on the scheduling
// loop and must return quickly.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observers = append(o.observers, obs) }
}

// WithRegistry uses reg instead of the default registry. Worker processes
// must call MainWith with the same registry.
func WithRegistry(reg *task.Registry) Option { return func(o *options) { o.registry = reg } }

// WithInProcessWorkers runs tasks on goroutines instead of processes,
// overriding worker_mode.
func WithInProcessWorkers() Option { return func(o *options) { o.inProcess = true } }

// WithLogger replaces the logger built from the config.
func WithLogger(log logx.Logger) Option { return func(o *options) { o.log = log } }

// WithRunID fixes the run namespace instead of generating one.
func WithRunID(id string) Option { return func(o *options) { o.runID = id } }

// WithWorkerOutput redirects worker process stdout and stderr.
func WithWorkerOutput(w io.Writer) Option { return func(o *options) { o.workerOutput = w } }

// Manager owns one run: its store namespace, its workers and its results.
type Manager struct {
	runID    string
	settings config.Settings
	store    store.Store
	inproc   *worker.InProcessSpawner
	orc      *orchestrator.Orchestrator
	logSvc   *logx.Service
	log      logx.Logger
	cleaned  bool
}

// New validates cfg, opens the result store for a fresh run namespace and
// prepares the workers. Store failures match ErrStorageFailure.
func New(cfg Config, opts ...Option) (*Manager, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	s, err := config.Resolve(&cfg)
	if err != nil {
		return nil, err
	}
	if o.registry == nil {
		o.registry = task.Default
	}
	if o.inProcess {
		s.WorkerMode = config.WorkerModeInProcess
	}

	m := &Manager{settings: s, log: o.log}
	if m.log.IsZero() {
		m.logSvc, m.log = logx.New(logx.Config{
			Level:   s.LogLevel,
			Console: true,
			File:    logx.FileConfig{Enabled: s.LogFile != "", Path: s.LogFile},
		})
	}

	m.runID = o.runID
	if m.runID == "" {
		m.runID = uuid.NewString()
	}
	m.log = m.log.With(logx.String("run", m.runID))

	storeCfg := s.Store
	storeCfg.RunID = m.runID
	ctx, cancel := context.WithTimeout(context.Background(), storeOpenTimeout)
	defer cancel()
	st, err := store.Open(ctx, storeCfg, m.log)
	if err != nil {
		m.closeLog()
		return nil, fmt.Errorf("%w: open %s store: %w", ErrStorageFailure, storeCfg.Driver, err)
	}
	m.store = st

	var sp worker.Spawner
	switch s.WorkerMode {
	case config.WorkerModeInProcess:
		m.inproc = worker.NewInProcessSpawner(o.registry, st, m.log)
		sp = m.inproc
	default:
		sp = &worker.ProcessSpawner{Stdout: o.workerOutput, Stderr: o.workerOutput, Log: m.log}
	}

	m.orc = orchestrator.New(s.Orchestrator, sp, st,
		orchestrator.WithLogger(m.log),
		orchestrator.WithObserver(orchestrator.Observers(o.observers)),
		orchestrator.WithStoreConfig(storeCfg),
		orchestrator.WithRegistry(o.registry),
	)
	m.log.Debug("manager ready",
		logx.String("mode", s.WorkerMode),
		logx.String("store", storeCfg.Driver),
		logx.String("ipc_dir", s.IPCDirectory),
	)
	return m, nil
}

func (m *Manager) RunID() string { return m.runID }

// Settings returns the resolved configuration.
func (m *Manager) Settings() config.Settings { return m.settings }

// Submit queues c with params and returns the task id (0, 1, 2, ...).
func (m *Manager) Submit(c *Callable, params ...any) (int, error) {
	return m.orc.Submit(c, params...)
}

// Run executes every submitted task. See orchestrator.Orchestrator.Run.
func (m *Manager) Run(ctx context.Context) (Results, error) { return m.orc.Run(ctx) }

func (m *Manager) ThreadStatus() map[WorkerID]State { return m.orc.ThreadStatus() }

func (m *Manager) Workers() []WorkerStatus { return m.orc.Workers() }

// RetryCount reports how often a task was re-enqueued.
func (m *Manager) RetryCount(taskID int) (int, bool) { return m.orc.RetryCount(taskID) }

// Cleanup removes this run's stored results and releases the store. Other
// runs sharing the IPC directory are untouched.
func (m *Manager) Cleanup() error {
	if m.cleaned {
		return nil
	}
	m.cleaned = true
	ctx, cancel := context.WithTimeout(context.Background(), storeOpenTimeout)
	defer cancel()

	var errs []error
	if m.inproc != nil {
		if err := m.inproc.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		}
	}
	if m.store != nil {
		if err := m.store.Clear(ctx); err != nil && !errors.Is(err, store.ErrClosed) {
			errs = append(errs, fmt.Errorf("clear results: %w", err))
		}
		if err := m.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	m.closeLog()
	return errors.Join(errs...)
}

func (m *Manager) closeLog() {
	if m.logSvc != nil {
		_ = m.logSvc.Close()
	}
}
