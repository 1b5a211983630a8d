package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/feedmehq/feedme-worker/internal/domain"
)

// HandleQueueRepo persists handle scrape jobs in run_queue.
type HandleQueueRepo struct{ Pool PgxPool }

// NewHandleQueueRepo constructs a HandleQueueRepo with the given pool.
func NewHandleQueueRepo(p PgxPool) *HandleQueueRepo { return &HandleQueueRepo{Pool: p} }

// Enqueue inserts a pending job. The partial unique index on
// (subscriber_id, handle) over pending/retry rows makes this a no-op
// when an open job already exists.
func (r *HandleQueueRepo) Enqueue(ctx domain.Context, subscriberID int64, spreadsheetID, handle, runType string) error {
	tracer := otel.Tracer("repo.run_queue")
	ctx, span := tracer.Start(ctx, "run_queue.Enqueue")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "run_queue"),
	)
	q := `INSERT INTO run_queue (subscriber_id, spreadsheet_id, handle, run_type, status)
		VALUES ($1, $2, $3, $4, 'pending')
		ON CONFLICT DO NOTHING`
	_, err := r.Pool.Exec(ctx, q, subscriberID, spreadsheetID, handle, runType)
	if err != nil {
		return fmt.Errorf("op=run_queue.enqueue: %w", err)
	}
	return nil
}

// FetchNext claims the oldest ready job and flips it to running inside
// one transaction. Returns nil when no job is ready.
func (r *HandleQueueRepo) FetchNext(ctx domain.Context) (*domain.HandleJob, error) {
	tracer := otel.Tracer("repo.run_queue")
	ctx, span := tracer.Start(ctx, "run_queue.FetchNext")
	defer span.End()

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("op=run_queue.fetchNext: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := `SELECT id, subscriber_id, spreadsheet_id, handle, run_type, status, attempt, next_run_at, COALESCE(last_error,'')
		FROM run_queue
		WHERE status IN ('pending','retry')
		  AND next_run_at <= NOW()
		ORDER BY next_run_at ASC, id ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1`
	var j domain.HandleJob
	err = tx.QueryRow(ctx, q).Scan(&j.ID, &j.SubscriberID, &j.SpreadsheetID, &j.Handle, &j.RunType, &j.Status, &j.Attempt, &j.NextRunAt, &j.LastError)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("op=run_queue.fetchNext: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE run_queue SET status='running', updated_at=NOW() WHERE id=$1`, j.ID); err != nil {
		return nil, fmt.Errorf("op=run_queue.fetchNext: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("op=run_queue.fetchNext: %w", err)
	}
	j.Status = domain.JobRunning
	return &j, nil
}

// MarkSuccess marks a job done and clears its error.
func (r *HandleQueueRepo) MarkSuccess(ctx domain.Context, id int64) error {
	tracer := otel.Tracer("repo.run_queue")
	ctx, span := tracer.Start(ctx, "run_queue.MarkSuccess")
	defer span.End()
	_, err := r.Pool.Exec(ctx, `UPDATE run_queue SET status='done', last_error=NULL, updated_at=NOW() WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("op=run_queue.markSuccess: %w", err)
	}
	return nil
}

// MarkRetry reschedules a job for a later attempt.
func (r *HandleQueueRepo) MarkRetry(ctx domain.Context, id int64, attempt int, nextRunAt time.Time, errMsg string) error {
	tracer := otel.Tracer("repo.run_queue")
	ctx, span := tracer.Start(ctx, "run_queue.MarkRetry")
	defer span.End()
	q := `UPDATE run_queue
		SET status='retry', attempt=$1, next_run_at=$2, last_error=$3, updated_at=NOW()
		WHERE id=$4`
	_, err := r.Pool.Exec(ctx, q, attempt, nextRunAt, truncErr(errMsg), id)
	if err != nil {
		return fmt.Errorf("op=run_queue.markRetry: %w", err)
	}
	return nil
}

// MarkFailed terminally fails a job.
func (r *HandleQueueRepo) MarkFailed(ctx domain.Context, id int64, errMsg string) error {
	tracer := otel.Tracer("repo.run_queue")
	ctx, span := tracer.Start(ctx, "run_queue.MarkFailed")
	defer span.End()
	_, err := r.Pool.Exec(ctx, `UPDATE run_queue SET status='failed', last_error=$1, updated_at=NOW() WHERE id=$2`, truncErr(errMsg), id)
	if err != nil {
		return fmt.Errorf("op=run_queue.markFailed: %w", err)
	}
	return nil
}
