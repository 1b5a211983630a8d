// Package postgres provides PostgreSQL database adapters.
//
// It implements the repository ports for queue claims, snapshot and
// signal persistence, aggregates, alerts and retention. Every repo
// works against a minimal pool interface so tests can run on pgxmock.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxPool is a minimal subset of pgxpool used by the repos for easy testing.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// NewPool opens the shared connection pool. Each process is a single
// worker or a one-shot CLI mode, so the pool stays small: queue claims
// hold a connection only for the skip-locked transaction, and the slow
// parts of a job (actor runs, sheet writes) happen off-connection.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("op=postgres.pool: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MinConns = 1
	cfg.MaxConnIdleTime = 10 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("op=postgres.pool: %w", err)
	}
	return pool, nil
}

// truncErr caps persisted error text so queue rows stay small.
func truncErr(msg string) string {
	if len(msg) > 1000 {
		return msg[:1000]
	}
	return msg
}
