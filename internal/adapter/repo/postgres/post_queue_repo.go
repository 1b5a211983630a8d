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

// PostQueueRepo persists per-post checkpoint jobs in post_queue.
type PostQueueRepo struct{ Pool PgxPool }

// NewPostQueueRepo constructs a PostQueueRepo with the given pool.
func NewPostQueueRepo(p PgxPool) *PostQueueRepo { return &PostQueueRepo{Pool: p} }

// EnsureCheckpointJobs inserts the d3/d7/d21 jobs for a post. Existing
// rows win; the d21 job carries the gate flag.
func (r *PostQueueRepo) EnsureCheckpointJobs(ctx domain.Context, subscriberID int64, spreadsheetID, handle, postURL string, postedAt time.Time) error {
	tracer := otel.Tracer("repo.post_queue")
	ctx, span := tracer.Start(ctx, "post_queue.EnsureCheckpointJobs")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "post_queue"),
	)
	if postURL == "" || postedAt.IsZero() {
		return nil
	}
	q := `INSERT INTO post_queue (
			subscriber_id, spreadsheet_id, handle, post_url, checkpoint,
			requires_d7_hot, next_run_at, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending')
		ON CONFLICT (subscriber_id, handle, post_url, checkpoint) DO NOTHING`
	for _, sc := range domain.CheckpointSchedule(postedAt) {
		_, err := r.Pool.Exec(ctx, q, subscriberID, spreadsheetID, handle, postURL, string(sc.Checkpoint), sc.RequiresD7Hot, sc.RunAt)
		if err != nil {
			return fmt.Errorf("op=post_queue.ensureCheckpointJobs: %w", err)
		}
	}
	return nil
}

// FetchNextBatch claims the oldest ready job, then up to n-1 more ready
// jobs sharing its (subscriber, handle, checkpoint) key, all in one
// transaction so a single provider run can cover the whole batch.
func (r *PostQueueRepo) FetchNextBatch(ctx domain.Context, n int) ([]domain.PostJob, error) {
	tracer := otel.Tracer("repo.post_queue")
	ctx, span := tracer.Start(ctx, "post_queue.FetchNextBatch")
	defer span.End()
	if n < 1 {
		n = 1
	}

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("op=post_queue.fetchNextBatch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const cols = `id, subscriber_id, spreadsheet_id, handle, post_url, checkpoint, requires_d7_hot, status, attempt, next_run_at, COALESCE(last_error,'')`

	var anchor domain.PostJob
	q := `SELECT ` + cols + `
		FROM post_queue
		WHERE status IN ('pending','retry')
		  AND next_run_at <= NOW()
		ORDER BY next_run_at ASC, id ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1`
	err = tx.QueryRow(ctx, q).Scan(
		&anchor.ID, &anchor.SubscriberID, &anchor.SpreadsheetID, &anchor.Handle, &anchor.PostURL,
		&anchor.Checkpoint, &anchor.RequiresD7Hot, &anchor.Status, &anchor.Attempt, &anchor.NextRunAt, &anchor.LastError,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("op=post_queue.fetchNextBatch: %w", err)
	}

	jobs := []domain.PostJob{anchor}
	if n > 1 {
		q = `SELECT ` + cols + `
			FROM post_queue
			WHERE status IN ('pending','retry')
			  AND next_run_at <= NOW()
			  AND subscriber_id=$1 AND handle=$2 AND checkpoint=$3
			  AND id <> $4
			ORDER BY next_run_at ASC, id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $5`
		rows, err := tx.Query(ctx, q, anchor.SubscriberID, anchor.Handle, string(anchor.Checkpoint), anchor.ID, n-1)
		if err != nil {
			return nil, fmt.Errorf("op=post_queue.fetchNextBatch: %w", err)
		}
		for rows.Next() {
			var j domain.PostJob
			if err := rows.Scan(
				&j.ID, &j.SubscriberID, &j.SpreadsheetID, &j.Handle, &j.PostURL,
				&j.Checkpoint, &j.RequiresD7Hot, &j.Status, &j.Attempt, &j.NextRunAt, &j.LastError,
			); err != nil {
				rows.Close()
				return nil, fmt.Errorf("op=post_queue.fetchNextBatch: %w", err)
			}
			jobs = append(jobs, j)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("op=post_queue.fetchNextBatch: %w", err)
		}
	}

	for i := range jobs {
		if _, err := tx.Exec(ctx, `UPDATE post_queue SET status='running', updated_at=NOW() WHERE id=$1`, jobs[i].ID); err != nil {
			return nil, fmt.Errorf("op=post_queue.fetchNextBatch: %w", err)
		}
		jobs[i].Status = domain.JobRunning
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("op=post_queue.fetchNextBatch: %w", err)
	}
	return jobs, nil
}

// MarkSuccess marks a job done and clears its error.
func (r *PostQueueRepo) MarkSuccess(ctx domain.Context, id int64) error {
	tracer := otel.Tracer("repo.post_queue")
	ctx, span := tracer.Start(ctx, "post_queue.MarkSuccess")
	defer span.End()
	_, err := r.Pool.Exec(ctx, `UPDATE post_queue SET status='done', last_error=NULL, updated_at=NOW() WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("op=post_queue.markSuccess: %w", err)
	}
	return nil
}

// MarkRetry reschedules a job for a later attempt.
func (r *PostQueueRepo) MarkRetry(ctx domain.Context, id int64, attempt int, nextRunAt time.Time, errMsg string) error {
	tracer := otel.Tracer("repo.post_queue")
	ctx, span := tracer.Start(ctx, "post_queue.MarkRetry")
	defer span.End()
	q := `UPDATE post_queue
		SET status='retry', attempt=$1, next_run_at=$2, last_error=$3, updated_at=NOW()
		WHERE id=$4`
	_, err := r.Pool.Exec(ctx, q, attempt, nextRunAt, truncErr(errMsg), id)
	if err != nil {
		return fmt.Errorf("op=post_queue.markRetry: %w", err)
	}
	return nil
}

// MarkFailed terminally fails a job.
func (r *PostQueueRepo) MarkFailed(ctx domain.Context, id int64, errMsg string) error {
	tracer := otel.Tracer("repo.post_queue")
	ctx, span := tracer.Start(ctx, "post_queue.MarkFailed")
	defer span.End()
	_, err := r.Pool.Exec(ctx, `UPDATE post_queue SET status='failed', last_error=$1, updated_at=NOW() WHERE id=$2`, truncErr(errMsg), id)
	if err != nil {
		return fmt.Errorf("op=post_queue.markFailed: %w", err)
	}
	return nil
}

// MarkSkipped records a gate decision without consuming an attempt.
func (r *PostQueueRepo) MarkSkipped(ctx domain.Context, id int64, reason string) error {
	tracer := otel.Tracer("repo.post_queue")
	ctx, span := tracer.Start(ctx, "post_queue.MarkSkipped")
	defer span.End()
	_, err := r.Pool.Exec(ctx, `UPDATE post_queue SET status='skipped', last_error=$1, updated_at=NOW() WHERE id=$2`, truncErr(reason), id)
	if err != nil {
		return fmt.Errorf("op=post_queue.markSkipped: %w", err)
	}
	return nil
}
