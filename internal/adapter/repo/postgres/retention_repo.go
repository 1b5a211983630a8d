package postgres

import (
	"fmt"

	"go.opentelemetry.io/otel"

	"github.com/feedmehq/feedme-worker/internal/domain"
)

// RetentionRepo prunes aged rows on a fixed policy: run logs after 90
// days, derived post data after 12 months, alert events past their
// expiry (default 7 days after creation).
type RetentionRepo struct{ Pool PgxPool }

// NewRetentionRepo constructs a RetentionRepo with the given pool.
func NewRetentionRepo(p PgxPool) *RetentionRepo { return &RetentionRepo{Pool: p} }

// Cleanup deletes everything past its retention window.
func (r *RetentionRepo) Cleanup(ctx domain.Context) error {
	tracer := otel.Tracer("repo.retention")
	ctx, span := tracer.Start(ctx, "retention.Cleanup")
	defer span.End()

	stmts := []string{
		`DELETE FROM run_log WHERE started_at < NOW() - INTERVAL '90 days'`,
		`DELETE FROM post_signals WHERE updated_at < NOW() - INTERVAL '12 months'`,
		`DELETE FROM post_embeddings WHERE updated_at < NOW() - INTERVAL '12 months'`,
		`DELETE FROM post_snapshots WHERE updated_at < NOW() - INTERVAL '12 months'`,
		`DELETE FROM alert_events WHERE COALESCE(expires_at, created_at + INTERVAL '7 days') < NOW()`,
	}
	for _, q := range stmts {
		if _, err := r.Pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("op=retention.cleanup: %w", err)
		}
	}
	return nil
}
