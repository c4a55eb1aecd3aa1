package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "mtman/pkg/logx"
)

func openers(t *testing.T) map[string]func(runID string) Config {
	dir := t.TempDir()
	m := map[string]func(runID string) Config{
		"file": func(runID string) Config {
			return Config{Driver: "file", RunID: runID, Dir: dir}
		},
		"sqlite": func(runID string) Config {
			return Config{Driver: "sqlite", RunID: runID, Path: filepath.Join(dir, "results.db")}
		},
	}
	if dsn := os.Getenv("MTMAN_TEST_POSTGRES_DSN"); dsn != "" {
		m["postgres"] = func(runID string) Config {
			return Config{Driver: "postgres", RunID: runID, DSN: dsn}
		}
	}
	return m
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	for name, cfgFor := range openers(t) {
		cfgFor := cfgFor
		t.Run(name, func(t *testing.T) {
			s, err := Open(ctx, cfgFor("run-a"), logx.Nop())
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			t.Cleanup(func() { _ = s.Clear(ctx) })

			_, ok, err := s.Get(ctx, 0)
			require.NoError(t, err)
			assert.False(t, ok, "nothing stored yet")

			require.NoError(t, s.Put(ctx, 0, []byte(`42`)))
			require.NoError(t, s.Put(ctx, 1, []byte(`null`)))

			v, ok, err := s.Get(ctx, 0)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, `42`, string(v))

			v, ok, err = s.Get(ctx, 1)
			require.NoError(t, err)
			assert.True(t, ok, "a stored null is present, not absent")
			assert.Equal(t, `null`, string(v))

			// Overwrite keeps one value per key.
			require.NoError(t, s.Put(ctx, 0, []byte(`43`)))
			v, _, err = s.Get(ctx, 0)
			require.NoError(t, err)
			assert.Equal(t, `43`, string(v))

			require.NoError(t, s.Clear(ctx))
			_, ok, err = s.Get(ctx, 0)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStoreRunsDoNotCollide(t *testing.T) {
	ctx := context.Background()
	pairs := [][2]string{
		{"run-a", "run-b"},
		{"a", "a_b"},
		{"a", "a-b"},
	}
	for name, cfgFor := range openers(t) {
		for _, ids := range pairs {
			cfgFor, ids := cfgFor, ids
			t.Run(name+"/"+ids[0]+"+"+ids[1], func(t *testing.T) {
				runsDoNotCollide(t, ctx, cfgFor, ids[0], ids[1])
			})
		}
	}
}

func runsDoNotCollide(t *testing.T, ctx context.Context, cfgFor func(string) Config, idA, idB string) {
	t.Helper()
	a, err := Open(ctx, cfgFor(idA), logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	b, err := Open(ctx, cfgFor(idB), logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	t.Cleanup(func() {
		_ = a.Clear(ctx)
		_ = b.Clear(ctx)
	})

	require.NoError(t, a.Put(ctx, 7, []byte(`"a"`)))
	require.NoError(t, b.Put(ctx, 7, []byte(`"b"`)))

	v, _, err := a.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, `"a"`, string(v))

	require.NoError(t, a.Clear(ctx))
	_, ok, err := a.Get(ctx, 7)
	require.NoError(t, err)
	assert.False(t, ok)

	v, ok, err = b.Get(ctx, 7)
	require.NoError(t, err)
	assert.True(t, ok, "clearing %s must not touch %s", idA, idB)
	assert.Equal(t, `"b"`, string(v))
}

func TestOpenValidation(t *testing.T) {
	ctx := context.Background()
	_, err := Open(ctx, Config{RunID: "x"}, logx.Nop())
	assert.ErrorIs(t, err, ErrNoDriver)

	_, err = Open(ctx, Config{Driver: "file", RunID: "../escape", Dir: t.TempDir()}, logx.Nop())
	assert.ErrorIs(t, err, ErrBadRunID)

	_, err = Open(ctx, Config{Driver: "file", RunID: "x"}, logx.Nop())
	assert.Error(t, err)

	_, err = Open(ctx, Config{Driver: "etcd", RunID: "x", Dir: t.TempDir()}, logx.Nop())
	assert.Error(t, err)
}

func TestFileStoreClosed(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Config{Driver: "file", RunID: "x", Dir: t.TempDir()}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Put(ctx, 1, []byte(`1`)), ErrClosed)
}
