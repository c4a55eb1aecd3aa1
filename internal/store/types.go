package store

import (
	"context"
	"errors"
	"regexp"
	"time"
)

var (
	ErrClosed    = errors.New("store closed")
	ErrBadRunID  = errors.New("store: run id must match [A-Za-z0-9_-]+")
	ErrNoDriver  = errors.New("store: driver is required")
	errEmptyPath = errors.New("store: path is required")
)

// Store is the key/value boundary keyed by task id within one run.
//
// Put must be durable and visible to other processes before it returns.
// Get reports ok=false (with a nil error) when no value was stored.
// Clear removes every artifact of this run and nothing else.
type Store interface {
	Put(ctx context.Context, taskID int, value []byte) error
	Get(ctx context.Context, taskID int) (value []byte, ok bool, err error)
	Clear(ctx context.Context) error
	Close() error
}

// Config configures a store. It is serialized into every worker invocation,
// so a child process opens exactly the namespace its parent reads from.
//
// Driver values:
//   - "file": Dir holds one file per result
//   - "sqlite": Path is the database file (default <Dir>/mtman.db)
//   - "postgres": DSN is a libpq/pgx connection string
type Config struct {
	Driver      string        `json:"driver"`
	RunID       string        `json:"run_id"`
	Dir         string        `json:"dir,omitempty"`
	Path        string        `json:"path,omitempty"`
	DSN         string        `json:"dsn,omitempty"`
	BusyTimeout time.Duration `json:"busy_timeout,omitempty"` // sqlite only; 0 means default
}

var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func validRunID(id string) bool { return runIDPattern.MatchString(id) }
