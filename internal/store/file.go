package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	logx "mtman/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files (all in Dir):
//   - mtman_<run>.<task>.res   one result per task
//   - .mtman_<run>.<task>.res.tmp-<pid>  transient, renamed into place
//
// Run ids never contain '.', so one run's glob cannot reach another run's files.
//
// A result becomes visible atomically through rename after its data is synced,
// so a reader never observes a partially written value.
type fileStore struct {
	log    logx.Logger
	dir    string
	prefix string

	mu     sync.Mutex
	closed bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		return nil, fmt.Errorf("file driver: %w", errEmptyPath)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{
		log:    log,
		dir:    abs,
		prefix: "mtman_" + cfg.RunID + ".",
	}, nil
}

func (s *fileStore) path(taskID int) string {
	return filepath.Join(s.dir, s.prefix+strconv.Itoa(taskID)+".res")
}

func (s *fileStore) Put(ctx context.Context, taskID int, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.isClosed() {
		return ErrClosed
	}

	final := s.path(taskID)
	tmp := filepath.Join(s.dir, "."+filepath.Base(final)+".tmp-"+strconv.Itoa(os.Getpid()))
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(value); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	// Best-effort: persist the directory entry too.
	if d, err := os.Open(s.dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	s.log.Debug("result stored", logx.Int("task", taskID), logx.Int("bytes", len(value)))
	return nil
}

func (s *fileStore) Get(ctx context.Context, taskID int) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if s.isClosed() {
		return nil, false, ErrClosed
	}
	b, err := os.ReadFile(s.path(taskID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *fileStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var errs []error
	for _, pattern := range []string{s.prefix + "*.res", "." + s.prefix + "*.tmp-*"} {
		matches, err := filepath.Glob(filepath.Join(s.dir, pattern))
		if err != nil {
			return err
		}
		for _, m := range matches {
			if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fileStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
