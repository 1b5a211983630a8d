package postgres

import (
	"fmt"

	"go.opentelemetry.io/otel"

	"github.com/feedmehq/feedme-worker/internal/domain"
)

// RunLogRepo records run outcomes per handle job in run_log.
type RunLogRepo struct{ Pool PgxPool }

// NewRunLogRepo constructs a RunLogRepo with the given pool.
func NewRunLogRepo(p PgxPool) *RunLogRepo { return &RunLogRepo{Pool: p} }

// Start opens a running log row and returns its id.
func (r *RunLogRepo) Start(ctx domain.Context, subscriberID int64, spreadsheetID, handle, runType string) (int64, error) {
	tracer := otel.Tracer("repo.run_log")
	ctx, span := tracer.Start(ctx, "run_log.Start")
	defer span.End()
	q := `INSERT INTO run_log (subscriber_id, spreadsheet_id, handle, run_type, status)
		VALUES ($1, $2, $3, $4, 'running')
		RETURNING id`
	var id int64
	if err := r.Pool.QueryRow(ctx, q, subscriberID, spreadsheetID, handle, runType).Scan(&id); err != nil {
		return 0, fmt.Errorf("op=run_log.start: %w", err)
	}
	return id, nil
}

// Finish closes a log row with counters and the final status.
func (r *RunLogRepo) Finish(ctx domain.Context, id int64, status string, itemsReturned, inserted, updated int, lastError *string) error {
	tracer := otel.Tracer("repo.run_log")
	ctx, span := tracer.Start(ctx, "run_log.Finish")
	defer span.End()
	var errText *string
	if lastError != nil {
		t := truncErr(*lastError)
		errText = &t
	}
	q := `UPDATE run_log
		SET status=$1,
		    apify_items_returned=$2,
		    posts_upserted_count=$3,
		    posts_updated_count=$4,
		    last_error=$5,
		    finished_at=NOW()
		WHERE id=$6`
	if _, err := r.Pool.Exec(ctx, q, status, itemsReturned, inserted, updated, errText, id); err != nil {
		return fmt.Errorf("op=run_log.finish: %w", err)
	}
	return nil
}
