package postgres

import (
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/feedmehq/feedme-worker/internal/domain"
)

// AggregateRepo rebuilds per-feed signal aggregates from checkpoint
// metrics. Windows are rebuilt delete-then-insert so stale groups
// disappear when the underlying posts age out.
type AggregateRepo struct{ Pool PgxPool }

// NewAggregateRepo constructs an AggregateRepo with the given pool.
func NewAggregateRepo(p PgxPool) *AggregateRepo { return &AggregateRepo{Pool: p} }

var aggregateWindows = []string{"d1", "d2", "d3", "d7", "d21"}

// Rebuild recomputes the media_type and velocity_tag aggregates for
// every window over the lookback period.
func (r *AggregateRepo) Rebuild(ctx domain.Context, feedID int64, lookbackDays int) error {
	tracer := otel.Tracer("repo.signal_aggregates")
	ctx, span := tracer.Start(ctx, "signal_aggregates.Rebuild")
	defer span.End()

	for _, window := range aggregateWindows {
		if err := r.rebuildWindow(ctx, feedID, window, lookbackDays); err != nil {
			return err
		}
	}
	return nil
}

func (r *AggregateRepo) rebuildWindow(ctx domain.Context, feedID int64, window string, lookbackDays int) error {
	days := fmt.Sprint(lookbackDays)

	var totalRows int
	var baseVelocity float64
	var sourceStart, sourceEnd *time.Time
	q := `SELECT
			COUNT(*) AS total_rows,
			` + decayedVelocityExpr + ` AS base_velocity,
			MIN(checkpoint_at) AS source_start_at,
			MAX(checkpoint_at) AS source_end_at
		FROM post_checkpoint_metrics
		WHERE feed_id=$1
		  AND checkpoint=$2
		  AND checkpoint_at >= NOW() - ($3 || ' days')::interval
		  AND velocity_value IS NOT NULL`
	err := r.Pool.QueryRow(ctx, q, feedID, window, days).Scan(&totalRows, &baseVelocity, &sourceStart, &sourceEnd)
	if err != nil {
		return fmt.Errorf("op=signal_aggregates.rebuild: %w", err)
	}

	if _, err := r.Pool.Exec(ctx, `DELETE FROM signal_aggregates WHERE feed_id=$1 AND window_key=$2`, feedID, window); err != nil {
		return fmt.Errorf("op=signal_aggregates.rebuild: %w", err)
	}
	if totalRows == 0 {
		return nil
	}

	// media_type groups lean on posts_core when the metric row carries
	// no media type of its own.
	mediaQuery := `SELECT
			COALESCE(pc.media_type, core.media_type, 'Unknown') AS signal_key,
			COUNT(*) AS n,
			` + decayedVelocityExpr + ` AS avg_velocity
		FROM post_checkpoint_metrics pc
		LEFT JOIN posts_core core
		  ON core.subscriber_id = pc.subscriber_id
		 AND core.handle = pc.handle
		 AND core.post_url = pc.post_url
		WHERE pc.feed_id=$1
		  AND pc.checkpoint=$2
		  AND pc.checkpoint_at >= NOW() - ($3 || ' days')::interval
		  AND pc.velocity_value IS NOT NULL
		GROUP BY COALESCE(pc.media_type, core.media_type, 'Unknown')
		HAVING COUNT(*) >= 2
		ORDER BY n DESC`
	if err := r.insertGroups(ctx, feedID, window, "media_type", mediaQuery, totalRows, baseVelocity, 15.0, sourceStart, sourceEnd, days); err != nil {
		return err
	}

	tagQuery := `SELECT
			COALESCE(velocity_tag, 'none') AS signal_key,
			COUNT(*) AS n,
			` + decayedVelocityExpr + ` AS avg_velocity
		FROM post_checkpoint_metrics
		WHERE feed_id=$1
		  AND checkpoint=$2
		  AND checkpoint_at >= NOW() - ($3 || ' days')::interval
		  AND velocity_value IS NOT NULL
		GROUP BY COALESCE(velocity_tag, 'none')
		HAVING COUNT(*) >= 2
		ORDER BY n DESC`
	return r.insertGroups(ctx, feedID, window, "velocity_tag", tagQuery, totalRows, baseVelocity, 12.0, sourceStart, sourceEnd, days)
}

func (r *AggregateRepo) insertGroups(ctx domain.Context, feedID int64, window, signalType, query string, totalRows int, baseVelocity, confidenceDenom float64, sourceStart, sourceEnd *time.Time, days string) error {
	rows, err := r.Pool.Query(ctx, query, feedID, window, days)
	if err != nil {
		return fmt.Errorf("op=signal_aggregates.groups: %w", err)
	}
	type group struct {
		key         string
		n           int
		avgVelocity float64
	}
	var groups []group
	for rows.Next() {
		var g group
		if err := rows.Scan(&g.key, &g.n, &g.avgVelocity); err != nil {
			rows.Close()
			return fmt.Errorf("op=signal_aggregates.groups: %w", err)
		}
		groups = append(groups, g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("op=signal_aggregates.groups: %w", err)
	}

	for _, g := range groups {
		adoptionRate := 0.0
		if totalRows > 0 {
			adoptionRate = float64(g.n) / float64(totalRows)
		}
		velocityDelta := g.avgVelocity - baseVelocity
		confidence := float64(g.n) / confidenceDenom
		if confidence > 1 {
			confidence = 1
		}
		// Saturation halves when the group still outpaces the feed base.
		factor := 1.0
		if velocityDelta > 0 {
			factor = 0.5
		}
		saturation := adoptionRate * factor
		if saturation < 0 {
			saturation = 0
		}
		if saturation > 1 {
			saturation = 1
		}
		q := `INSERT INTO signal_aggregates (
				feed_id, signal_type, signal_key, window_key,
				adoption_rate, velocity_delta, saturation_score, confidence,
				sample_size, source_start_at, source_end_at, created_at, updated_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
			ON CONFLICT (feed_id, signal_type, signal_key, window_key)
			DO UPDATE SET
				adoption_rate = EXCLUDED.adoption_rate,
				velocity_delta = EXCLUDED.velocity_delta,
				saturation_score = EXCLUDED.saturation_score,
				confidence = EXCLUDED.confidence,
				sample_size = EXCLUDED.sample_size,
				source_start_at = EXCLUDED.source_start_at,
				source_end_at = EXCLUDED.source_end_at,
				updated_at = NOW()`
		_, err := r.Pool.Exec(ctx, q,
			feedID, signalType, strings.TrimSpace(g.key), window,
			adoptionRate, velocityDelta, saturation, confidence,
			g.n, sourceStart, sourceEnd,
		)
		if err != nil {
			return fmt.Errorf("op=signal_aggregates.groups: %w", err)
		}
	}
	return nil
}
