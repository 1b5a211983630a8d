package postgres

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/feedmehq/feedme-worker/internal/domain"
)

// MetricRepo persists idempotent per-(post, checkpoint) metric rows and
// the anchor-relative feeder pair metrics derived from them.
type MetricRepo struct{ Pool PgxPool }

// NewMetricRepo constructs a MetricRepo with the given pool.
func NewMetricRepo(p PgxPool) *MetricRepo { return &MetricRepo{Pool: p} }

// Upsert writes one checkpoint metric row, resolving feed and feeder
// references on the way in.
func (r *MetricRepo) Upsert(ctx domain.Context, m domain.CheckpointMetric) error {
	tracer := otel.Tracer("repo.post_checkpoint_metrics")
	ctx, span := tracer.Start(ctx, "post_checkpoint_metrics.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPSERT"),
		attribute.String("db.sql.table", "post_checkpoint_metrics"),
	)
	feed, err := feedID(ctx, r.Pool, m.SubscriberID)
	if err != nil {
		return fmt.Errorf("op=post_checkpoint_metrics.upsert: %w", err)
	}
	feeder, err := feederID(ctx, r.Pool, feed, m.Handle)
	if err != nil {
		return fmt.Errorf("op=post_checkpoint_metrics.upsert: %w", err)
	}
	q := `INSERT INTO post_checkpoint_metrics (
			subscriber_id, feed_id, feeder_id, handle, post_url, checkpoint, checkpoint_at,
			stage_label, media_type, views, likes, comments, metric_value, velocity_value,
			velocity_tag, velocity_percentile, perf_score, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW())
		ON CONFLICT (subscriber_id, handle, post_url, checkpoint)
		DO UPDATE SET
			feed_id = EXCLUDED.feed_id,
			feeder_id = EXCLUDED.feeder_id,
			checkpoint_at = NOW(),
			stage_label = EXCLUDED.stage_label,
			media_type = EXCLUDED.media_type,
			views = EXCLUDED.views,
			likes = EXCLUDED.likes,
			comments = EXCLUDED.comments,
			metric_value = EXCLUDED.metric_value,
			velocity_value = EXCLUDED.velocity_value,
			velocity_tag = EXCLUDED.velocity_tag,
			velocity_percentile = EXCLUDED.velocity_percentile,
			perf_score = EXCLUDED.perf_score`
	_, err = r.Pool.Exec(ctx, q,
		m.SubscriberID, feed, feeder, m.Handle, m.PostURL, string(m.Checkpoint),
		m.StageLabel, nullStr(m.MediaType), m.Views, m.Likes, m.Comments, m.MetricValue, m.VelocityValue,
		m.VelocityTag, m.VelocityPercentile, m.PerfScore,
	)
	if err != nil {
		return fmt.Errorf("op=post_checkpoint_metrics.upsert: %w", err)
	}
	return nil
}

// Time-decayed velocity average: recent checkpoints weigh more, with
// weight 1/(1+age_days).
const decayedVelocityExpr = `COALESCE(
	SUM(velocity_value * (1.0 / (1.0 + GREATEST(0.0, EXTRACT(EPOCH FROM (NOW() - checkpoint_at)) / 86400.0))))
	/
	NULLIF(SUM(1.0 / (1.0 + GREATEST(0.0, EXTRACT(EPOCH FROM (NOW() - checkpoint_at)) / 86400.0))), 0),
	0
)`

// RefreshFeederPairMetrics recomputes the anchor-relative deltas for
// every active non-anchor feeder of the feed. Without an active anchor
// the feed's pair rows are deleted; relation_score weighs the velocity
// delta 0.7 and the perf delta 0.3.
func (r *MetricRepo) RefreshFeederPairMetrics(ctx domain.Context, feedID int64, windowDays int) error {
	tracer := otel.Tracer("repo.feeder_pair_metrics")
	ctx, span := tracer.Start(ctx, "feeder_pair_metrics.Refresh")
	defer span.End()

	var anchorID int64
	var anchorHandle string
	q := `SELECT id, handle FROM feeders WHERE feed_id=$1 AND role='anchor' AND status='active' LIMIT 1`
	err := r.Pool.QueryRow(ctx, q, feedID).Scan(&anchorID, &anchorHandle)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, err := r.Pool.Exec(ctx, `DELETE FROM feeder_pair_metrics WHERE feed_id=$1`, feedID); err != nil {
			return fmt.Errorf("op=feeder_pair_metrics.refresh: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("op=feeder_pair_metrics.refresh: %w", err)
	}

	q = `SELECT f.id, f.handle FROM feeders f WHERE f.feed_id=$1 AND f.status='active' AND f.id <> $2`
	rows, err := r.Pool.Query(ctx, q, feedID, anchorID)
	if err != nil {
		return fmt.Errorf("op=feeder_pair_metrics.refresh: %w", err)
	}
	type peer struct {
		id     int64
		handle string
	}
	var peers []peer
	for rows.Next() {
		var p peer
		if err := rows.Scan(&p.id, &p.handle); err != nil {
			rows.Close()
			return fmt.Errorf("op=feeder_pair_metrics.refresh: %w", err)
		}
		peers = append(peers, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("op=feeder_pair_metrics.refresh: %w", err)
	}

	anchorMetric, anchorVelocity, anchorN, err := r.feederWindow(ctx, feedID, anchorID, windowDays)
	if err != nil {
		return err
	}

	for _, p := range peers {
		peerMetric, peerVelocity, peerN, err := r.feederWindow(ctx, feedID, p.id, windowDays)
		if err != nil {
			return err
		}
		velocityDelta := peerVelocity - anchorVelocity
		perfDelta := peerMetric - anchorMetric
		relationScore := velocityDelta*0.7 + perfDelta*0.3
		meta, _ := json.Marshal(map[string]string{
			"anchor_handle": anchorHandle,
			"peer_handle":   p.handle,
		})
		q = `INSERT INTO feeder_pair_metrics (
				feed_id, anchor_feeder_id, feeder_id, window_days,
				velocity_delta, perf_delta, percentile_delta, relation_score,
				sample_size, metadata_json, computed_at, created_at, updated_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, NULL, $7, $8, $9::jsonb, NOW(), NOW(), NOW())
			ON CONFLICT (feed_id, anchor_feeder_id, feeder_id, window_days)
			DO UPDATE SET
				velocity_delta = EXCLUDED.velocity_delta,
				perf_delta = EXCLUDED.perf_delta,
				relation_score = EXCLUDED.relation_score,
				sample_size = EXCLUDED.sample_size,
				metadata_json = EXCLUDED.metadata_json,
				computed_at = NOW(),
				updated_at = NOW()`
		_, err = r.Pool.Exec(ctx, q,
			feedID, anchorID, p.id, windowDays,
			velocityDelta, perfDelta, relationScore,
			anchorN+peerN, string(meta),
		)
		if err != nil {
			return fmt.Errorf("op=feeder_pair_metrics.refresh: %w", err)
		}
	}
	return nil
}

func (r *MetricRepo) feederWindow(ctx domain.Context, feedID, feederID int64, windowDays int) (avgMetric, avgVelocity float64, n int, err error) {
	q := `SELECT COALESCE(AVG(metric_value),0) AS avg_metric,
		` + decayedVelocityExpr + ` AS avg_velocity,
		COUNT(*) AS n
		FROM post_checkpoint_metrics
		WHERE feed_id=$1
		  AND feeder_id=$2
		  AND checkpoint_at >= NOW() - ($3 || ' days')::interval`
	err = r.Pool.QueryRow(ctx, q, feedID, feederID, fmt.Sprint(windowDays)).Scan(&avgMetric, &avgVelocity, &n)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("op=feeder_pair_metrics.window: %w", err)
	}
	return avgMetric, avgVelocity, n, nil
}
