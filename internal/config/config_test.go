package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestResolveDefaults(t *testing.T) {
	s, err := Resolve(nil)
	require.NoError(t, err)

	assert.Equal(t, 4, s.Orchestrator.ConcurrencyLimit)
	assert.Equal(t, 60*time.Second, s.Orchestrator.TimeLimit)
	assert.Equal(t, 3, s.Orchestrator.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, s.Orchestrator.RetryDelay)
	assert.Equal(t, time.Millisecond, s.Orchestrator.PollInterval)
	assert.Equal(t, 500*time.Millisecond, s.Orchestrator.KillGrace)
	assert.Zero(t, s.Orchestrator.SpawnRatePerSec)

	assert.Equal(t, DefaultIPCDirectory(), s.IPCDirectory)
	assert.Equal(t, "info", s.LogLevel)
	assert.Equal(t, WorkerModeProcess, s.WorkerMode)
	assert.Equal(t, "file", s.Store.Driver)
	assert.Equal(t, s.IPCDirectory, s.Store.Dir)
	assert.Equal(t, 5*time.Second, s.Store.BusyTimeout)
}

func TestLoadYAML(t *testing.T) {
	p := writeFile(t, "mtman.yaml", `
concurrency_limit: 2
time_limit_seconds: 1.5
max_retries: 0
retry_delay: 20ms
ipc_directory: /tmp/mtman-test
worker_mode: inprocess
log_level: debug
store:
  driver: sqlite
  busy_timeout: 2s
`)
	m := NewConfigManager(p)
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Same(t, cfg, m.Get())

	s, err := Resolve(cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Orchestrator.ConcurrencyLimit)
	assert.Equal(t, 1500*time.Millisecond, s.Orchestrator.TimeLimit)
	assert.Equal(t, 0, s.Orchestrator.MaxRetries, "explicit zero must survive defaults")
	assert.Equal(t, 20*time.Millisecond, s.Orchestrator.RetryDelay)
	assert.Equal(t, "debug", s.Orchestrator.WorkerLogLevel)
	assert.Equal(t, WorkerModeInProcess, s.WorkerMode)
	assert.Equal(t, "sqlite", s.Store.Driver)
	assert.Equal(t, filepath.Join("/tmp/mtman-test", "mtman.db"), s.Store.Path)
	assert.Equal(t, 2*time.Second, s.Store.BusyTimeout)
}

func TestLoadJSON(t *testing.T) {
	p := writeFile(t, "mtman.json", `{"concurrency_limit": 8, "store": {"driver": "postgres", "dsn": "postgres://localhost/mtman"}}`)
	cfg, err := NewConfigManager(p).Load()
	require.NoError(t, err)
	s, err := Resolve(cfg)
	require.NoError(t, err)
	assert.Equal(t, 8, s.Orchestrator.ConcurrencyLimit)
	assert.Equal(t, "postgres", s.Store.Driver)
	assert.Equal(t, "postgres://localhost/mtman", s.Store.DSN)
}

func TestEmptyYAMLIsDefaults(t *testing.T) {
	cfg, err := Decode("empty.yaml", nil)
	require.NoError(t, err)
	s, err := Resolve(cfg)
	require.NoError(t, err)
	assert.Equal(t, 4, s.Orchestrator.ConcurrencyLimit)
}

func TestDecodeIsStrict(t *testing.T) {
	_, err := Decode("c.yaml", []byte("concurency_limit: 2\n"))
	assert.Error(t, err, "unknown key")

	_, err = Decode("c.json", []byte(`{"max_retries": 1} {"max_retries": 2}`))
	assert.ErrorContains(t, err, "trailing data")

	_, err = Decode("c.yaml", []byte("max_retries: [1\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	zero := 0
	neg := -1
	negf := -2.0

	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{"zero concurrency", Config{ConcurrencyLimit: &zero}, "concurrency_limit: must be >= 1"},
		{"negative retries", Config{MaxRetries: &neg}, "max_retries: must be >= 0"},
		{"negative time limit", Config{TimeLimitSeconds: &negf}, "time_limit_seconds: must be > 0"},
		{"bad worker mode", Config{WorkerMode: "thread"}, "worker_mode: must be one of"},
		{"bad driver", Config{Store: StoreConfig{Driver: "redis"}}, "store.driver: must be one of"},
		{"postgres without dsn", Config{Store: StoreConfig{Driver: "postgres"}}, "store.dsn is required"},
		{"bad duration", Config{RetryDelay: "soon"}, "retry_delay: invalid duration"},
		{"negative duration", Config{KillGrace: "-1s"}, "kill_grace: duration must be >= 0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(&tc.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}

	assert.NoError(t, Validate(&Config{MaxRetries: &zero}))
}

func TestParseDurationOrDefault(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", time.Second)
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)

	d, err = ParseDurationOrDefault("x", "0s", time.Second)
	require.NoError(t, err)
	assert.Zero(t, d)
}
