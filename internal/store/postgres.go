package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	logx "mtman/pkg/logx"
)

const postgresSchema = `CREATE TABLE IF NOT EXISTS mtman_results (
	run_id    TEXT        NOT NULL,
	task_id   INTEGER     NOT NULL,
	value     BYTEA       NOT NULL,
	stored_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, task_id)
)`

type postgresStore struct {
	pool  *pgxpool.Pool
	log   logx.Logger
	runID string
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres driver: dsn is required")
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres dsn: %w", err)
	}
	// Each worker process holds its own pool; keep it tiny.
	pcfg.MaxConns = 2

	octx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(octx, pcfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(octx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(octx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres schema: %w", err)
	}
	return &postgresStore{pool: pool, log: log, runID: cfg.RunID}, nil
}

func (s *postgresStore) Put(ctx context.Context, taskID int, value []byte) error {
	if s.pool == nil {
		return ErrClosed
	}
	if value == nil {
		value = []byte{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO mtman_results(run_id, task_id, value) VALUES($1,$2,$3)
		 ON CONFLICT (run_id, task_id) DO UPDATE SET value = EXCLUDED.value, stored_at = now()`,
		s.runID, taskID, value,
	)
	if err == nil {
		s.log.Debug("result stored", logx.Int("task", taskID), logx.Int("bytes", len(value)))
	}
	return err
}

func (s *postgresStore) Get(ctx context.Context, taskID int) ([]byte, bool, error) {
	if s.pool == nil {
		return nil, false, ErrClosed
	}
	var v []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM mtman_results WHERE run_id = $1 AND task_id = $2`, s.runID, taskID).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *postgresStore) Clear(ctx context.Context) error {
	if s.pool == nil {
		return ErrClosed
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM mtman_results WHERE run_id = $1`, s.runID)
	return err
}

func (s *postgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	return nil
}
