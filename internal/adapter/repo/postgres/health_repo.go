package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/feedmehq/feedme-worker/internal/domain"
)

// HealthRepo is the DB-persisted circuit breaker for the scraping
// provider. State lives in the singleton apify_health row so every
// worker process shares one breaker.
type HealthRepo struct{ Pool PgxPool }

// NewHealthRepo constructs a HealthRepo with the given pool.
func NewHealthRepo(p PgxPool) *HealthRepo { return &HealthRepo{Pool: p} }

// PauseUntil returns the active cooldown deadline, or nil when the
// breaker is closed.
func (r *HealthRepo) PauseUntil(ctx domain.Context) (*time.Time, error) {
	tracer := otel.Tracer("repo.apify_health")
	ctx, span := tracer.Start(ctx, "apify_health.PauseUntil")
	defer span.End()
	var pause *time.Time
	err := r.Pool.QueryRow(ctx, `SELECT pause_until FROM apify_health WHERE id=1`).Scan(&pause)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("op=apify_health.pauseUntil: %w", err)
	}
	return pause, nil
}

// RecordSuccess closes the breaker and zeroes the failure counter.
func (r *HealthRepo) RecordSuccess(ctx domain.Context) error {
	tracer := otel.Tracer("repo.apify_health")
	ctx, span := tracer.Start(ctx, "apify_health.RecordSuccess")
	defer span.End()
	q := `UPDATE apify_health
		SET consecutive_failures=0,
		    pause_until=NULL,
		    last_error=NULL,
		    updated_at=NOW()
		WHERE id=1`
	if _, err := r.Pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("op=apify_health.recordSuccess: %w", err)
	}
	return nil
}

// RecordFailure increments the failure counter. When the counter
// reaches triggerFailures the cooldown is armed and the counter resets
// to zero so the next window starts clean. Returns the counter value
// after the increment and the pause deadline when armed.
func (r *HealthRepo) RecordFailure(ctx domain.Context, errMsg string, triggerFailures, cooldownHours int) (int, *time.Time, error) {
	tracer := otel.Tracer("repo.apify_health")
	ctx, span := tracer.Start(ctx, "apify_health.RecordFailure")
	defer span.End()

	var failures int
	q := `UPDATE apify_health
		SET consecutive_failures = consecutive_failures + 1,
		    last_error = $1,
		    updated_at = NOW()
		WHERE id=1
		RETURNING consecutive_failures`
	err := r.Pool.QueryRow(ctx, q, truncErr(errMsg)).Scan(&failures)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, fmt.Errorf("op=apify_health.recordFailure: %w", err)
	}

	if triggerFailures < 1 {
		triggerFailures = 1
	}
	if failures < triggerFailures {
		return failures, nil, nil
	}
	if cooldownHours < 1 {
		cooldownHours = 1
	}
	var pause time.Time
	q = `UPDATE apify_health
		SET pause_until = NOW() + ($1 || ' hours')::interval,
		    consecutive_failures = 0,
		    updated_at = NOW()
		WHERE id=1
		RETURNING pause_until`
	if err := r.Pool.QueryRow(ctx, q, fmt.Sprint(cooldownHours)).Scan(&pause); err != nil {
		return failures, nil, fmt.Errorf("op=apify_health.recordFailure: %w", err)
	}
	return failures, &pause, nil
}
