package mtman

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "mtman/pkg/logx"
)

var (
	ident = Define("mtman_test.ident", Func1(func(ctx context.Context, n int) (int, error) { return n, nil }))
	add   = Define("mtman_test.add", Func2(func(ctx context.Context, a, b int) (int, error) { return a + b, nil }))
	nap   = Define("mtman_test.nap", Func1(func(ctx context.Context, ms int) (int, error) {
		select {
		case <-time.After(time.Duration(ms) * time.Millisecond):
			return ms, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}))
	broken = Define("mtman_test.broken", Func0(func(ctx context.Context) (string, error) {
		return "", errors.New("broken")
	}))
)

func TestMain(m *testing.M) {
	Main()
	os.Exit(m.Run())
}

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		ConcurrencyLimit: Ptr(2),
		TimeLimitSeconds: Ptr(20.0),
		RetryDelay:       "5ms",
		IPCDirectory:     t.TempDir(),
		LogLevel:         "error",
	}
}

func newManager(t *testing.T, cfg Config, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithLogger(logx.Nop())}, opts...)
	m, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Cleanup() })
	return m
}

func ints(t *testing.T, res Results) map[int]int {
	t.Helper()
	out := map[int]int{}
	for id, v := range res {
		n, err := v.Int()
		require.NoError(t, err)
		out[id] = n
	}
	return out
}

// lockedBuffer collects output from several worker processes at once.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestProcessRun(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns processes")
	}
	out := &lockedBuffer{}
	m := newManager(t, testConfig(t), WithWorkerOutput(out))
	for i := 0; i < 3; i++ {
		id, err := m.Submit(ident, i)
		require.NoError(t, err)
		assert.Equal(t, i, id)
	}

	res, err := m.Run(context.Background())
	require.NoError(t, err, out.String())
	assert.Equal(t, map[int]int{0: 0, 1: 1, 2: 2}, ints(t, res))

	status := m.ThreadStatus()
	assert.Len(t, status, 3)
	for _, st := range status {
		assert.Equal(t, StateCompleted, st)
	}
}

func TestInProcessRunWithSQLite(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store = StoreConfig{Driver: "sqlite"}
	m := newManager(t, cfg, WithInProcessWorkers())
	assert.Equal(t, filepath.Join(cfg.IPCDirectory, "mtman.db"), m.Settings().Store.Path)

	_, err := m.Submit(add, 2, 3)
	require.NoError(t, err)
	_, err = m.Submit(broken)
	require.NoError(t, err)

	res, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[int]int{0: 5}, ints(t, res))

	n, ok := m.RetryCount(1)
	require.True(t, ok)
	assert.Equal(t, 3, n)
	assert.Len(t, m.Workers(), 5)
}

func TestObserverSeesLifecycle(t *testing.T) {
	var started, completed, permanent int
	cfg := testConfig(t)
	cfg.MaxRetries = Ptr(0)
	m := newManager(t, cfg, WithInProcessWorkers(), WithObserver(Hooks{
		Start:    func(int) { started++ },
		Complete: func(int, Value) { completed++ },
		Error: func(_ int, f Failure) {
			if f.Permanent {
				permanent++
			}
		},
	}))
	_, err := m.Submit(ident, 1)
	require.NoError(t, err)
	_, err = m.Submit(broken)
	require.NoError(t, err)

	_, err = m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, started)
	assert.Equal(t, 1, completed)
	assert.Equal(t, 1, permanent)
}

func TestTimeout(t *testing.T) {
	cfg := testConfig(t)
	cfg.TimeLimitSeconds = Ptr(0.1)
	m := newManager(t, cfg, WithInProcessWorkers())
	_, err := m.Submit(nap, 5000)
	require.NoError(t, err)

	res, err := m.Run(context.Background())
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrTimeout)
	var te *TimeoutError
	assert.ErrorAs(t, err, &te)
}

func TestCleanupRemovesOnlyOwnRun(t *testing.T) {
	cfg := testConfig(t)
	a := newManager(t, cfg, WithInProcessWorkers())
	b := newManager(t, cfg, WithInProcessWorkers())
	assert.NotEqual(t, a.RunID(), b.RunID())

	for _, m := range []*Manager{a, b} {
		_, err := m.Submit(ident, 9)
		require.NoError(t, err)
		_, err = m.Run(context.Background())
		require.NoError(t, err)
	}

	files := func(m *Manager) []string {
		matches, err := filepath.Glob(filepath.Join(cfg.IPCDirectory, "mtman_"+m.RunID()+".*"))
		require.NoError(t, err)
		return matches
	}
	require.Len(t, files(a), 1)
	require.Len(t, files(b), 1)

	require.NoError(t, a.Cleanup())
	require.NoError(t, a.Cleanup())
	assert.Empty(t, files(a))
	assert.Len(t, files(b), 1)
}

func TestNewErrors(t *testing.T) {
	_, err := New(Config{ConcurrencyLimit: Ptr(0)}, WithLogger(logx.Nop()))
	assert.ErrorContains(t, err, "concurrency_limit")

	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))
	_, err = New(Config{IPCDirectory: filepath.Join(blocker, "sub")}, WithLogger(logx.Nop()))
	assert.ErrorIs(t, err, ErrStorageFailure)

	_, err = New(Config{IPCDirectory: t.TempDir()}, WithLogger(logx.Nop()), WithRunID("../escape"))
	assert.ErrorIs(t, err, ErrStorageFailure)
}

func TestSubmitAfterRun(t *testing.T) {
	m := newManager(t, testConfig(t), WithInProcessWorkers())
	res, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res)

	_, err = m.Submit(ident, 1)
	assert.ErrorIs(t, err, ErrAlreadyRun)
	_, err = m.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRun)
}
