package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/feedmehq/feedme-worker/internal/domain"
)

// SignalRepo persists the user-visible velocity classification per post.
type SignalRepo struct{ Pool PgxPool }

// NewSignalRepo constructs a SignalRepo with the given pool.
func NewSignalRepo(p PgxPool) *SignalRepo { return &SignalRepo{Pool: p} }

// Upsert writes the current classification, resolving the feed and
// feeder references on every write so rows are always attributable.
func (r *SignalRepo) Upsert(ctx domain.Context, s domain.PostSignal) error {
	tracer := otel.Tracer("repo.post_signals")
	ctx, span := tracer.Start(ctx, "post_signals.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPSERT"),
		attribute.String("db.sql.table", "post_signals"),
	)
	feed, err := feedID(ctx, r.Pool, s.SubscriberID)
	if err != nil {
		return fmt.Errorf("op=post_signals.upsert: %w", err)
	}
	feeder, err := feederID(ctx, r.Pool, feed, s.Handle)
	if err != nil {
		return fmt.Errorf("op=post_signals.upsert: %w", err)
	}
	q := `INSERT INTO post_signals (
			subscriber_id, feed_id, feeder_id, handle, post_url, media_type, posted_at, caption,
			velocity_tag, velocity_stage, velocity_percentile, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (subscriber_id, handle, post_url)
		DO UPDATE SET
			feed_id = EXCLUDED.feed_id,
			feeder_id = EXCLUDED.feeder_id,
			media_type = EXCLUDED.media_type,
			posted_at = COALESCE(EXCLUDED.posted_at, post_signals.posted_at),
			caption = EXCLUDED.caption,
			velocity_tag = EXCLUDED.velocity_tag,
			velocity_stage = EXCLUDED.velocity_stage,
			velocity_percentile = EXCLUDED.velocity_percentile,
			updated_at = NOW()`
	_, err = r.Pool.Exec(ctx, q,
		s.SubscriberID, feed, feeder, s.Handle, s.PostURL, nullStr(s.MediaType), s.PostedAt, s.Caption,
		s.VelocityTag, s.VelocityStage, s.VelocityPercentile,
	)
	if err != nil {
		return fmt.Errorf("op=post_signals.upsert: %w", err)
	}
	return nil
}

// IsD7Hot reports whether the stored tag for a post marks strong
// traction. Drives the D21 gate; an absent signal reads as not hot.
func (r *SignalRepo) IsD7Hot(ctx domain.Context, subscriberID int64, handle, postURL string) (bool, error) {
	tracer := otel.Tracer("repo.post_signals")
	ctx, span := tracer.Start(ctx, "post_signals.IsD7Hot")
	defer span.End()
	q := `SELECT COALESCE(velocity_tag,'')
		FROM post_signals
		WHERE subscriber_id=$1 AND handle=$2 AND post_url=$3
		LIMIT 1`
	var tag string
	err := r.Pool.QueryRow(ctx, q, subscriberID, handle, postURL).Scan(&tag)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("op=post_signals.isD7Hot: %w", err)
	}
	return domain.IsHotTag(tag), nil
}

// MapByHandle returns the stored signals for a handle keyed by post
// shortcode. Handle comparison ignores the leading @ and case so sheet
// tab names match stored handles.
func (r *SignalRepo) MapByHandle(ctx domain.Context, subscriberID int64, handle string) (map[string]domain.PostSignal, error) {
	tracer := otel.Tracer("repo.post_signals")
	ctx, span := tracer.Start(ctx, "post_signals.MapByHandle")
	defer span.End()
	q := `SELECT post_url, COALESCE(velocity_tag,''), COALESCE(velocity_percentile,''), COALESCE(velocity_stage,'')
		FROM post_signals
		WHERE subscriber_id=$1
		  AND lower(regexp_replace(handle, '^@', '')) = lower(regexp_replace($2, '^@', ''))`
	rows, err := r.Pool.Query(ctx, q, subscriberID, handle)
	if err != nil {
		return nil, fmt.Errorf("op=post_signals.mapByHandle: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.PostSignal)
	for rows.Next() {
		var s domain.PostSignal
		if err := rows.Scan(&s.PostURL, &s.VelocityTag, &s.VelocityPercentile, &s.VelocityStage); err != nil {
			return nil, fmt.Errorf("op=post_signals.mapByHandle: %w", err)
		}
		key := domain.ShortcodeFromURL(s.PostURL)
		if key == "" {
			continue
		}
		out[key] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=post_signals.mapByHandle: %w", err)
	}
	return out, nil
}

// ListForEmbedding selects the freshest signals carrying one of the
// given tags, joined with the latest checkpoint counters per post.
func (r *SignalRepo) ListForEmbedding(ctx domain.Context, subscriberID int64, tags []string, limit int) ([]domain.EmbeddingSource, error) {
	tracer := otel.Tracer("repo.post_signals")
	ctx, span := tracer.Start(ctx, "post_signals.ListForEmbedding")
	defer span.End()
	q := `SELECT ps.subscriber_id, ps.handle, ps.post_url, COALESCE(ps.media_type,''), ps.posted_at, COALESCE(ps.caption,''),
			COALESCE(ps.velocity_tag,''), COALESCE(ps.velocity_stage,''), COALESCE(ps.velocity_percentile,''),
			COALESCE(pc.views, 0) AS views,
			COALESCE(pc.likes, 0) AS likes,
			COALESCE(pc.comments, 0) AS comments
		FROM post_signals ps
		LEFT JOIN LATERAL (
			SELECT views, likes, comments
			FROM post_checkpoint_metrics pcm
			WHERE pcm.subscriber_id = ps.subscriber_id
			  AND pcm.handle = ps.handle
			  AND pcm.post_url = ps.post_url
			ORDER BY pcm.checkpoint_at DESC
			LIMIT 1
		) pc ON TRUE
		WHERE ps.subscriber_id = $1
		  AND ps.velocity_tag = ANY($2)
		ORDER BY ps.updated_at DESC
		LIMIT $3`
	rows, err := r.Pool.Query(ctx, q, subscriberID, tags, limit)
	if err != nil {
		return nil, fmt.Errorf("op=post_signals.listForEmbedding: %w", err)
	}
	defer rows.Close()

	var out []domain.EmbeddingSource
	for rows.Next() {
		var e domain.EmbeddingSource
		if err := rows.Scan(
			&e.SubscriberID, &e.Handle, &e.PostURL, &e.MediaType, &e.PostedAt, &e.Caption,
			&e.VelocityTag, &e.VelocityStage, &e.VelocityPercentile,
			&e.Views, &e.Likes, &e.Comments,
		); err != nil {
			return nil, fmt.Errorf("op=post_signals.listForEmbedding: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=post_signals.listForEmbedding: %w", err)
	}
	return out, nil
}

// RepairStages canonicalizes historical stage labels and re-derives the
// tag from the stored percentile, then enforces the age-based D1/D2
// split. Old installs wrote C-prefixed stages and watch tags; this
// rewrites them into the current vocabulary without any scraping.
func (r *SignalRepo) RepairStages(ctx domain.Context, subscriberID int64) error {
	tracer := otel.Tracer("repo.post_signals")
	ctx, span := tracer.Start(ctx, "post_signals.RepairStages")
	defer span.End()

	q := `UPDATE post_signals
		SET velocity_stage = CASE
			WHEN UPPER(COALESCE(velocity_stage,'')) IN ('D3','C3') THEN 'D3'
			WHEN UPPER(COALESCE(velocity_stage,'')) IN ('D7','C7') THEN 'D7'
			WHEN UPPER(COALESCE(velocity_stage,'')) IN ('D21','C21') THEN 'D21'
			WHEN posted_at >= NOW() - INTERVAL '24 hours' THEN 'D1'
			WHEN posted_at >= NOW() - INTERVAL '72 hours' THEN 'D2'
			ELSE 'D2'
		END,
		velocity_tag = CASE
			WHEN COALESCE(velocity_percentile,'') ~ '^[0-9]+%$' THEN
				CASE
					WHEN replace(velocity_percentile,'%','')::int <= 5 THEN '🚀'
					WHEN replace(velocity_percentile,'%','')::int <= 15 THEN '🔥'
					WHEN replace(velocity_percentile,'%','')::int <= 35 THEN '✅'
					ELSE '😴'
				END
			ELSE ''
		END,
		updated_at = NOW()
		WHERE subscriber_id=$1`
	if _, err := r.Pool.Exec(ctx, q, subscriberID); err != nil {
		return fmt.Errorf("op=post_signals.repairStages: %w", err)
	}

	q = `UPDATE post_signals
		SET velocity_stage = CASE
			WHEN posted_at >= NOW() - INTERVAL '24 hours' THEN 'D1'
			WHEN posted_at >= NOW() - INTERVAL '72 hours' THEN 'D2'
			ELSE velocity_stage
		END,
		updated_at = NOW()
		WHERE subscriber_id=$1`
	if _, err := r.Pool.Exec(ctx, q, subscriberID); err != nil {
		return fmt.Errorf("op=post_signals.repairStages: %w", err)
	}
	return nil
}
