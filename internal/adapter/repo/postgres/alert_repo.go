package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/feedmehq/feedme-worker/internal/domain"
)

// AlertRepo backs the alert candidate engine: the rule queries, the
// per-feed scan watermarks and candidate persistence with 24h dedupe.
type AlertRepo struct{ Pool PgxPool }

// NewAlertRepo constructs an AlertRepo with the given pool.
func NewAlertRepo(p PgxPool) *AlertRepo { return &AlertRepo{Pool: p} }

// RecentTypes returns the alert types emitted for the feed within the
// window, pooling delivered events and stored candidates so a freshly
// generated candidate suppresses its own type immediately.
func (r *AlertRepo) RecentTypes(ctx domain.Context, feedID int64, hours int) (map[string]bool, error) {
	tracer := otel.Tracer("repo.alerts")
	ctx, span := tracer.Start(ctx, "alerts.RecentTypes")
	defer span.End()
	q := `SELECT alert_type
		FROM alert_events
		WHERE subscriber_id = (SELECT subscriber_id FROM feeds WHERE id=$1)
		  AND created_at >= NOW() - ($2 || ' hours')::interval
		UNION ALL
		SELECT alert_type
		FROM alert_candidates
		WHERE feed_id = $1
		  AND created_at >= NOW() - ($2 || ' hours')::interval`
	rows, err := r.Pool.Query(ctx, q, feedID, fmt.Sprint(hours))
	if err != nil {
		return nil, fmt.Errorf("op=alerts.recentTypes: %w", err)
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("op=alerts.recentTypes: %w", err)
		}
		out[t] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=alerts.recentTypes: %w", err)
	}
	return out, nil
}

// EngineState loads the per-feed scan watermarks, creating the row on
// first use.
func (r *AlertRepo) EngineState(ctx domain.Context, feedID int64) (domain.AlertEngineState, error) {
	tracer := otel.Tracer("repo.alerts")
	ctx, span := tracer.Start(ctx, "alerts.EngineState")
	defer span.End()
	q := `INSERT INTO alert_engine_state (feed_id, created_at, updated_at)
		VALUES ($1, NOW(), NOW())
		ON CONFLICT (feed_id) DO UPDATE SET updated_at = NOW()
		RETURNING feed_id, last_hot_scan_at, last_pattern_scan_at`
	var s domain.AlertEngineState
	if err := r.Pool.QueryRow(ctx, q, feedID).Scan(&s.FeedID, &s.LastHotScanAt, &s.LastPatternScanAt); err != nil {
		return domain.AlertEngineState{}, fmt.Errorf("op=alerts.engineState: %w", err)
	}
	return s, nil
}

// MarkScan advances both watermarks to scannedAt, so the next run only
// looks at rows produced after this scan started.
func (r *AlertRepo) MarkScan(ctx domain.Context, feedID int64, scannedAt time.Time) error {
	tracer := otel.Tracer("repo.alerts")
	ctx, span := tracer.Start(ctx, "alerts.MarkScan")
	defer span.End()
	q := `INSERT INTO alert_engine_state (feed_id, last_hot_scan_at, last_pattern_scan_at, created_at, updated_at)
		VALUES ($1, $2, $2, NOW(), NOW())
		ON CONFLICT (feed_id)
		DO UPDATE SET
			last_hot_scan_at = COALESCE(EXCLUDED.last_hot_scan_at, alert_engine_state.last_hot_scan_at),
			last_pattern_scan_at = COALESCE(EXCLUDED.last_pattern_scan_at, alert_engine_state.last_pattern_scan_at),
			updated_at = NOW()`
	if _, err := r.Pool.Exec(ctx, q, feedID, scannedAt); err != nil {
		return fmt.Errorf("op=alerts.markScan: %w", err)
	}
	return nil
}

// Insert persists a candidate. Duplicates within the 24h window, by
// dedupe key or by (feed, feeder, type, title), are silently dropped.
func (r *AlertRepo) Insert(ctx domain.Context, c domain.AlertCandidate) error {
	tracer := otel.Tracer("repo.alerts")
	ctx, span := tracer.Start(ctx, "alerts.Insert")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "alert_candidates"),
	)
	if c.Payload == nil {
		c.Payload = map[string]any{}
	}
	payload, err := json.Marshal(c.Payload)
	if err != nil {
		return fmt.Errorf("op=alerts.insert: %w", err)
	}
	dedupeKey := c.DedupeKey(time.Now())
	q := `INSERT INTO alert_candidates (
			feed_id, feeder_id, ui_tab, alert_category, alert_color, alert_urgency,
			alert_dedupe_key, alert_family, alert_type, priority_score,
			impact_score, confidence_score, freshness_score, novelty_score,
			actionability_score, title, body, payload, status, created_at
		)
		SELECT
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18::jsonb, 'candidate', NOW()
		WHERE NOT EXISTS (
			SELECT 1
			FROM alert_candidates ac
			WHERE ac.feed_id = $1
			  AND COALESCE(ac.feeder_id, 0) = COALESCE($2, 0)
			  AND ac.alert_type = $9
			  AND ac.title = $16
			  AND ac.created_at >= NOW() - INTERVAL '24 hours'
			  AND ac.status IN ('candidate', 'selected', 'sent')
		)
		ON CONFLICT (feed_id, alert_dedupe_key) DO NOTHING`
	_, err = r.Pool.Exec(ctx, q,
		c.FeedID, c.FeederID, c.UITab, c.Category, c.Color, c.Urgency,
		dedupeKey, c.Family, c.Type, c.Priority(),
		c.Impact, c.Confidence, c.Freshness, c.Novelty,
		c.Actionability, c.Title, c.Body, string(payload),
	)
	if err != nil {
		return fmt.Errorf("op=alerts.insert: %w", err)
	}
	return nil
}

// HotPosts returns the latest checkpoint row per (feeder, post) since
// the hot watermark where the post clears its cohort's p80 velocity
// threshold or carries a top-20 percentile.
func (r *AlertRepo) HotPosts(ctx domain.Context, feedID int64, since time.Time) ([]domain.HotPostRow, error) {
	tracer := otel.Tracer("repo.alerts")
	ctx, span := tracer.Start(ctx, "alerts.HotPosts")
	defer span.End()
	q := `WITH thresholds AS (
		  SELECT
		    COALESCE(pcm.media_type, core.media_type, 'Unknown') AS media_type,
		    pcm.checkpoint,
		    percentile_cont(0.80) WITHIN GROUP (ORDER BY pcm.velocity_value) AS p80
		  FROM post_checkpoint_metrics pcm
		  LEFT JOIN posts_core core
		    ON core.subscriber_id = pcm.subscriber_id
		   AND core.handle = pcm.handle
		   AND core.post_url = pcm.post_url
		  WHERE pcm.feed_id=$1
		    AND pcm.checkpoint_at >= NOW() - INTERVAL '30 days'
		    AND pcm.velocity_value IS NOT NULL
		  GROUP BY COALESCE(pcm.media_type, core.media_type, 'Unknown'), pcm.checkpoint
		),
		latest AS (
		  SELECT DISTINCT ON (pcm.feeder_id, pcm.post_url)
		    pcm.feeder_id,
		    pcm.handle,
		    pcm.post_url,
		    pcm.checkpoint,
		    pcm.checkpoint_at,
		    COALESCE(pcm.media_type, core.media_type, 'Unknown') AS media_type,
		    pcm.velocity_value,
		    COALESCE(ps.velocity_tag, pcm.velocity_tag) AS velocity_tag,
		    COALESCE(ps.velocity_stage, UPPER(pcm.checkpoint)) AS velocity_stage,
		    COALESCE(ps.velocity_percentile, pcm.velocity_percentile) AS velocity_percentile
		  FROM post_checkpoint_metrics pcm
		  LEFT JOIN posts_core core
		    ON core.subscriber_id = pcm.subscriber_id
		   AND core.handle = pcm.handle
		   AND core.post_url = pcm.post_url
		  LEFT JOIN post_signals ps
		    ON ps.subscriber_id = pcm.subscriber_id
		   AND ps.handle = pcm.handle
		   AND ps.post_url = pcm.post_url
		  WHERE pcm.feed_id=$1
		    AND pcm.checkpoint_at > $2
		    AND pcm.velocity_value IS NOT NULL
		  ORDER BY pcm.feeder_id, pcm.post_url, pcm.checkpoint_at DESC
		)
		SELECT
		  l.feeder_id,
		  l.handle,
		  l.post_url,
		  COALESCE(l.velocity_tag,''),
		  COALESCE(l.velocity_stage,''),
		  COALESCE(l.velocity_percentile,''),
		  l.velocity_value
		FROM latest l
		LEFT JOIN thresholds t
		  ON t.media_type = l.media_type
		 AND t.checkpoint = l.checkpoint
		WHERE
		  (t.p80 IS NOT NULL AND l.velocity_value >= t.p80)
		  OR (
		    l.velocity_percentile ~ '^[0-9]{1,3}%$'
		    AND regexp_replace(l.velocity_percentile, '[^0-9]', '', 'g')::INT <= 20
		  )
		ORDER BY l.checkpoint_at DESC, l.velocity_value DESC
		LIMIT 10`
	rows, err := r.Pool.Query(ctx, q, feedID, since)
	if err != nil {
		return nil, fmt.Errorf("op=alerts.hotPosts: %w", err)
	}
	defer rows.Close()
	var out []domain.HotPostRow
	for rows.Next() {
		var h domain.HotPostRow
		if err := rows.Scan(&h.FeederID, &h.Handle, &h.PostURL, &h.VelocityTag, &h.VelocityStage, &h.VelocityPercentile, &h.VelocityValue); err != nil {
			return nil, fmt.Errorf("op=alerts.hotPosts: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=alerts.hotPosts: %w", err)
	}
	return out, nil
}

// MomentumDrops finds posts whose d2 velocity fell to 60% of d1 or
// below, worst drops first.
func (r *AlertRepo) MomentumDrops(ctx domain.Context, feedID int64) ([]domain.MomentumRow, error) {
	tracer := otel.Tracer("repo.alerts")
	ctx, span := tracer.Start(ctx, "alerts.MomentumDrops")
	defer span.End()
	q := `WITH d1 AS (
		  SELECT feeder_id, handle, post_url, velocity_value AS v1
		  FROM post_checkpoint_metrics
		  WHERE feed_id=$1 AND checkpoint='d1'
		),
		d2 AS (
		  SELECT feeder_id, post_url, velocity_value AS v2
		  FROM post_checkpoint_metrics
		  WHERE feed_id=$1 AND checkpoint='d2'
		)
		SELECT d1.feeder_id, d1.handle, d1.post_url, d1.v1, d2.v2
		FROM d1 JOIN d2
		ON d1.feeder_id=d2.feeder_id AND d1.post_url=d2.post_url
		WHERE d1.v1 > 0 AND d2.v2 > 0 AND d2.v2 <= d1.v1 * 0.6
		ORDER BY (d1.v1 - d2.v2) DESC
		LIMIT 3`
	rows, err := r.Pool.Query(ctx, q, feedID)
	if err != nil {
		return nil, fmt.Errorf("op=alerts.momentumDrops: %w", err)
	}
	defer rows.Close()
	var out []domain.MomentumRow
	for rows.Next() {
		var m domain.MomentumRow
		if err := rows.Scan(&m.FeederID, &m.Handle, &m.PostURL, &m.V1, &m.V2); err != nil {
			return nil, fmt.Errorf("op=alerts.momentumDrops: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=alerts.momentumDrops: %w", err)
	}
	return out, nil
}

// PersonalRecord returns the overall best top-metric-per-feeder d0 row
// in the last 30 days, or nil.
func (r *AlertRepo) PersonalRecord(ctx domain.Context, feedID int64) (*domain.RecordRow, error) {
	tracer := otel.Tracer("repo.alerts")
	ctx, span := tracer.Start(ctx, "alerts.PersonalRecord")
	defer span.End()
	q := `WITH recent_window AS (
		  SELECT feeder_id, handle, post_url, metric_value, checkpoint_at,
		         ROW_NUMBER() OVER (PARTITION BY feeder_id ORDER BY metric_value DESC) AS rk
		  FROM post_checkpoint_metrics
		  WHERE feed_id=$1
		    AND checkpoint='d0'
		    AND checkpoint_at >= NOW() - INTERVAL '30 days'
		    AND metric_value IS NOT NULL
		)
		SELECT feeder_id, handle, post_url, metric_value
		FROM recent_window
		WHERE rk=1
		ORDER BY metric_value DESC
		LIMIT 1`
	var rec domain.RecordRow
	err := r.Pool.QueryRow(ctx, q, feedID).Scan(&rec.FeederID, &rec.Handle, &rec.PostURL, &rec.MetricValue)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("op=alerts.personalRecord: %w", err)
	}
	return &rec, nil
}

// FormatWin returns the leading (feeder, media_type) pair by average
// early velocity over 14 days, requiring at least 3 posts.
func (r *AlertRepo) FormatWin(ctx domain.Context, feedID int64) (*domain.FormatWinRow, error) {
	tracer := otel.Tracer("repo.alerts")
	ctx, span := tracer.Start(ctx, "alerts.FormatWin")
	defer span.End()
	q := `SELECT pcm.feeder_id, pcm.handle, COALESCE(core.media_type, 'Unknown') AS media_type,
		       AVG(pcm.velocity_value) AS avg_velocity,
		       COUNT(*) AS n
		FROM post_checkpoint_metrics pcm
		LEFT JOIN posts_core core
		  ON core.subscriber_id = pcm.subscriber_id
		 AND core.handle = pcm.handle
		 AND core.post_url = pcm.post_url
		WHERE pcm.feed_id=$1
		  AND pcm.checkpoint IN ('d1','d2','d3')
		  AND pcm.checkpoint_at >= NOW() - INTERVAL '14 days'
		  AND pcm.velocity_value IS NOT NULL
		GROUP BY pcm.feeder_id, pcm.handle, COALESCE(core.media_type, 'Unknown')
		HAVING COUNT(*) >= 3
		ORDER BY avg_velocity DESC
		LIMIT 1`
	var w domain.FormatWinRow
	err := r.Pool.QueryRow(ctx, q, feedID).Scan(&w.FeederID, &w.Handle, &w.MediaType, &w.AvgVelocity, &w.N)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("op=alerts.formatWin: %w", err)
	}
	return &w, nil
}

// SectorFatigue returns the most saturated d3 media_type aggregate
// updated since the pattern watermark, or nil.
func (r *AlertRepo) SectorFatigue(ctx domain.Context, feedID int64, since time.Time) (*domain.FatigueRow, error) {
	tracer := otel.Tracer("repo.alerts")
	ctx, span := tracer.Start(ctx, "alerts.SectorFatigue")
	defer span.End()
	q := `SELECT signal_key, adoption_rate, velocity_delta, saturation_score, confidence
		FROM signal_aggregates
		WHERE feed_id=$1
		  AND signal_type='media_type'
		  AND window_key='d3'
		  AND saturation_score >= 0.5
		  AND confidence >= 0.5
		  AND updated_at > $2
		ORDER BY saturation_score DESC, adoption_rate DESC
		LIMIT 1`
	var f domain.FatigueRow
	err := r.Pool.QueryRow(ctx, q, feedID, since).Scan(&f.SignalKey, &f.AdoptionRate, &f.VelocityDelta, &f.SaturationScore, &f.Confidence)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("op=alerts.sectorFatigue: %w", err)
	}
	return &f, nil
}

// SectorWave returns the media type with the highest share of posts
// clearing their p80 threshold over the last week, or nil. At least 5
// recent posts are required.
func (r *AlertRepo) SectorWave(ctx domain.Context, feedID int64, since time.Time) (*domain.WaveRow, error) {
	tracer := otel.Tracer("repo.alerts")
	ctx, span := tracer.Start(ctx, "alerts.SectorWave")
	defer span.End()
	q := `WITH thresholds AS (
		  SELECT
		    COALESCE(pcm.media_type, core.media_type, 'Unknown') AS media_type,
		    pcm.checkpoint,
		    percentile_cont(0.80) WITHIN GROUP (ORDER BY pcm.velocity_value) AS p80
		  FROM post_checkpoint_metrics pcm
		  LEFT JOIN posts_core core
		    ON core.subscriber_id = pcm.subscriber_id
		   AND core.handle = pcm.handle
		   AND core.post_url = pcm.post_url
		  WHERE pcm.feed_id=$1
		    AND pcm.checkpoint_at >= NOW() - INTERVAL '30 days'
		    AND pcm.velocity_value IS NOT NULL
		  GROUP BY COALESCE(pcm.media_type, core.media_type, 'Unknown'), pcm.checkpoint
		),
		recent AS (
		  SELECT DISTINCT ON (pcm.feeder_id, pcm.post_url)
		    COALESCE(pcm.media_type, core.media_type, 'Unknown') AS media_type,
		    pcm.checkpoint,
		    pcm.velocity_value
		  FROM post_checkpoint_metrics pcm
		  LEFT JOIN posts_core core
		    ON core.subscriber_id = pcm.subscriber_id
		   AND core.handle = pcm.handle
		   AND core.post_url = pcm.post_url
		  WHERE pcm.feed_id=$1
		    AND pcm.checkpoint_at >= NOW() - INTERVAL '7 days'
		    AND pcm.checkpoint_at > $2
		    AND pcm.velocity_value IS NOT NULL
		  ORDER BY pcm.feeder_id, pcm.post_url, pcm.checkpoint_at DESC
		)
		SELECT
		  r.media_type,
		  COUNT(*) AS n,
		  AVG(
		    CASE
		      WHEN t.p80 IS NOT NULL AND r.velocity_value >= t.p80 THEN 1
		      ELSE 0
		    END
		  ) AS hot_rate
		FROM recent r
		LEFT JOIN thresholds t
		  ON t.media_type = r.media_type
		 AND t.checkpoint = r.checkpoint
		GROUP BY r.media_type
		HAVING COUNT(*) >= 5
		ORDER BY hot_rate DESC, n DESC
		LIMIT 1`
	var w domain.WaveRow
	err := r.Pool.QueryRow(ctx, q, feedID, since).Scan(&w.MediaType, &w.N, &w.HotRate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("op=alerts.sectorWave: %w", err)
	}
	return &w, nil
}

// Breakout returns the single highest-velocity row since the pattern
// watermark, or nil.
func (r *AlertRepo) Breakout(ctx domain.Context, feedID int64, since time.Time) (*domain.BreakoutRow, error) {
	tracer := otel.Tracer("repo.alerts")
	ctx, span := tracer.Start(ctx, "alerts.Breakout")
	defer span.End()
	q := `SELECT
		  pcm.feeder_id,
		  pcm.handle,
		  pcm.post_url,
		  COALESCE(ps.velocity_percentile, pcm.velocity_percentile, '') AS velocity_percentile,
		  pcm.velocity_value
		FROM post_checkpoint_metrics pcm
		LEFT JOIN post_signals ps
		  ON ps.subscriber_id = pcm.subscriber_id
		 AND ps.handle = pcm.handle
		 AND ps.post_url = pcm.post_url
		WHERE pcm.feed_id=$1
		  AND pcm.checkpoint_at > $2
		  AND pcm.velocity_value IS NOT NULL
		ORDER BY pcm.velocity_value DESC, pcm.checkpoint_at DESC
		LIMIT 1`
	var b domain.BreakoutRow
	err := r.Pool.QueryRow(ctx, q, feedID, since).Scan(&b.FeederID, &b.Handle, &b.PostURL, &b.VelocityPercentile, &b.VelocityValue)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("op=alerts.breakout: %w", err)
	}
	return &b, nil
}

// RecentEmbeddings loads up to 60 performance vectors from the last 7
// days for the cross-feeder similarity scan.
func (r *AlertRepo) RecentEmbeddings(ctx domain.Context, feedID int64) ([]domain.EmbeddingRow, error) {
	tracer := otel.Tracer("repo.alerts")
	ctx, span := tracer.Start(ctx, "alerts.RecentEmbeddings")
	defer span.End()
	q := `SELECT feeder_id, handle, post_url, embedding_json
		FROM post_embeddings
		WHERE feed_id=$1
		  AND signal_type='performance_semantic'
		  AND updated_at >= NOW() - INTERVAL '7 days'
		ORDER BY updated_at DESC
		LIMIT 60`
	rows, err := r.Pool.Query(ctx, q, feedID)
	if err != nil {
		return nil, fmt.Errorf("op=alerts.recentEmbeddings: %w", err)
	}
	defer rows.Close()
	var out []domain.EmbeddingRow
	for rows.Next() {
		var e domain.EmbeddingRow
		var raw []byte
		if err := rows.Scan(&e.FeederID, &e.Handle, &e.PostURL, &raw); err != nil {
			return nil, fmt.Errorf("op=alerts.recentEmbeddings: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Vector); err != nil {
				continue
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=alerts.recentEmbeddings: %w", err)
	}
	return out, nil
}

// CircleLeaders returns the top 5 pair-metric rows by relation score
// computed since the pattern watermark over the 30-day window.
func (r *AlertRepo) CircleLeaders(ctx domain.Context, feedID int64, since time.Time) ([]domain.PairRow, error) {
	tracer := otel.Tracer("repo.alerts")
	ctx, span := tracer.Start(ctx, "alerts.CircleLeaders")
	defer span.End()
	q := `SELECT m.feeder_id, f.handle, m.velocity_delta, m.perf_delta, m.sample_size
		FROM feeder_pair_metrics m
		JOIN feeders f ON f.id = m.feeder_id
		WHERE m.feed_id=$1
		  AND m.window_days=30
		  AND m.computed_at > $2
		ORDER BY m.relation_score DESC
		LIMIT 5`
	rows, err := r.Pool.Query(ctx, q, feedID, since)
	if err != nil {
		return nil, fmt.Errorf("op=alerts.circleLeaders: %w", err)
	}
	defer rows.Close()
	var out []domain.PairRow
	for rows.Next() {
		var p domain.PairRow
		if err := rows.Scan(&p.FeederID, &p.Handle, &p.VelocityDelta, &p.PerfDelta, &p.SampleSize); err != nil {
			return nil, fmt.Errorf("op=alerts.circleLeaders: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=alerts.circleLeaders: %w", err)
	}
	return out, nil
}

// TimingGap returns the weekday with the lowest posting activity over
// the last 28 days, or nil when the feed has no posts.
func (r *AlertRepo) TimingGap(ctx domain.Context, feedID int64) (*domain.TimingGapRow, error) {
	tracer := otel.Tracer("repo.alerts")
	ctx, span := tracer.Start(ctx, "alerts.TimingGap")
	defer span.End()
	q := `SELECT EXTRACT(DOW FROM posted_at)::INT AS dow, COUNT(*) AS n
		FROM posts_core
		WHERE subscriber_id = (SELECT subscriber_id FROM feeds WHERE id=$1)
		  AND posted_at >= NOW() - INTERVAL '28 days'
		GROUP BY EXTRACT(DOW FROM posted_at)
		ORDER BY n ASC
		LIMIT 1`
	var t domain.TimingGapRow
	err := r.Pool.QueryRow(ctx, q, feedID).Scan(&t.DayOfWeek, &t.N)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("op=alerts.timingGap: %w", err)
	}
	return &t, nil
}
