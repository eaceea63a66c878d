// Package postgres provides a Postgres-backed history.Repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/dockling/internal/history"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for run history.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store implements history.Repository using Postgres.
type Store struct {
	pool  pool
	table string
}

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("history.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "conversion_runs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: p, table: table}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Migrate creates the history table when missing.
func (s *Store) Migrate(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id            uuid PRIMARY KEY,
			started_at    timestamptz NOT NULL,
			finished_at   timestamptz,
			status        text NOT NULL,
			total         integer NOT NULL,
			success       integer NOT NULL DEFAULT 0,
			partial       integer NOT NULL DEFAULT 0,
			failed        integer NOT NULL DEFAULT 0,
			skipped       integer NOT NULL DEFAULT 0,
			error_message text
		);`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to migrate history table: %w", err)
	}
	return nil
}

// StartRun inserts a running row.
func (s *Store) StartRun(ctx context.Context, id uuid.UUID, startedAt time.Time, total int) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, started_at, status, total)
		VALUES ($1, $2, $3, $4);`, s.table)
	if _, err := s.pool.Exec(ctx, query, id, startedAt, string(history.RunRunning), total); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// FinishRun records the terminal status and counters.
func (s *Store) FinishRun(ctx context.Context, id uuid.UUID, outcome history.Outcome) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET finished_at = $1, status = $2, success = $3, partial = $4,
			failed = $5, skipped = $6, error_message = $7
		WHERE id = $8;`, s.table)
	res, err := s.pool.Exec(ctx, query,
		outcome.FinishedAt,
		string(outcome.Status),
		outcome.Stats.Success,
		outcome.Stats.Partial,
		outcome.Stats.Failed,
		outcome.Stats.Skipped,
		outcome.ErrorMessage,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if res.RowsAffected() == 0 {
		return history.ErrNotFound
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (history.Run, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE id = $1;`, selectColumns, s.table)
	run, err := scanRun(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return history.Run{}, history.ErrNotFound
		}
		return history.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs newest first, with optional status filtering.
func (s *Store) ListRuns(ctx context.Context, status *history.RunStatus, limit, offset int) ([]history.Run, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;`, selectColumns, s.table)
	var filter *string
	if status != nil {
		v := string(*status)
		filter = &v
	}
	rows, err := s.pool.Query(ctx, query, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []history.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

const selectColumns = `id::text, started_at, finished_at, status, total,
		success, partial, failed, skipped, error_message`

func scanRun(row pgx.Row) (history.Run, error) {
	var (
		run    history.Run
		id     string
		status string
	)
	err := row.Scan(
		&id,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.Total,
		&run.Stats.Success,
		&run.Stats.Partial,
		&run.Stats.Failed,
		&run.Stats.Skipped,
		&run.ErrorMessage,
	)
	if err != nil {
		return history.Run{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return history.Run{}, fmt.Errorf("parse run id: %w", err)
	}
	run.ID = parsed
	run.Status = history.RunStatus(status)
	return run, nil
}
