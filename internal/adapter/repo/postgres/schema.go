package postgres

import (
	"fmt"

	"go.opentelemetry.io/otel"

	"github.com/feedmehq/feedme-worker/internal/domain"
)

// Base schema. Every statement is idempotent; InitSchema runs on every
// process start so a fresh database and a long-lived one converge to
// the same shape.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS subscribers (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		spreadsheet_id TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS feeds (
		id BIGSERIAL PRIMARY KEY,
		subscriber_id BIGINT NOT NULL REFERENCES subscribers(id) ON DELETE CASCADE UNIQUE,
		name TEXT NOT NULL,
		mode TEXT NOT NULL DEFAULT 'market',
		max_feeders INT NOT NULL DEFAULT 15,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS feeders (
		id BIGSERIAL PRIMARY KEY,
		feed_id BIGINT NOT NULL REFERENCES feeds(id) ON DELETE CASCADE,
		handle TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'standard',
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_seen_at TIMESTAMPTZ,
		UNIQUE (feed_id, handle)
	)`,
	`CREATE TABLE IF NOT EXISTS handle_registry (
		id BIGSERIAL PRIMARY KEY,
		subscriber_id BIGINT NOT NULL REFERENCES subscribers(id) ON DELETE CASCADE,
		handle TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		first_seen_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_seen_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (subscriber_id, handle)
	)`,
	`CREATE TABLE IF NOT EXISTS handle_state (
		subscriber_id BIGINT NOT NULL,
		handle TEXT NOT NULL,
		sheet_name TEXT,
		last_success_at TIMESTAMPTZ,
		last_seen_post_id TEXT,
		last_status TEXT,
		last_error TEXT,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (subscriber_id, handle)
	)`,
	`CREATE TABLE IF NOT EXISTS run_queue (
		id BIGSERIAL PRIMARY KEY,
		subscriber_id BIGINT,
		spreadsheet_id TEXT,
		handle TEXT NOT NULL,
		run_type TEXT NOT NULL DEFAULT 'daily',
		status TEXT NOT NULL DEFAULT 'pending',
		attempt INT NOT NULL DEFAULT 0,
		next_run_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_error TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS post_queue (
		id BIGSERIAL PRIMARY KEY,
		subscriber_id BIGINT,
		spreadsheet_id TEXT,
		handle TEXT,
		post_url TEXT,
		checkpoint TEXT,
		requires_d7_hot BOOLEAN DEFAULT FALSE,
		attempt INT DEFAULT 0,
		next_run_at TIMESTAMPTZ,
		status TEXT DEFAULT 'pending',
		last_error TEXT,
		created_at TIMESTAMPTZ DEFAULT NOW(),
		updated_at TIMESTAMPTZ DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS run_log (
		id BIGSERIAL PRIMARY KEY,
		subscriber_id BIGINT,
		spreadsheet_id TEXT,
		handle TEXT NOT NULL,
		run_type TEXT NOT NULL,
		status TEXT NOT NULL,
		apify_items_returned INT NOT NULL DEFAULT 0,
		posts_upserted_count INT NOT NULL DEFAULT 0,
		posts_updated_count INT NOT NULL DEFAULT 0,
		last_error TEXT,
		started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		finished_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS post_snapshots (
		id BIGSERIAL PRIMARY KEY,
		subscriber_id BIGINT NOT NULL,
		handle TEXT NOT NULL,
		post_url TEXT NOT NULL,
		media_type TEXT,
		posted_at TIMESTAMPTZ,
		d1_at TIMESTAMPTZ, d1_views INT, d1_likes INT, d1_comments INT,
		d3_at TIMESTAMPTZ, d3_views INT, d3_likes INT, d3_comments INT,
		d7_at TIMESTAMPTZ, d7_views INT, d7_likes INT, d7_comments INT,
		d21_at TIMESTAMPTZ, d21_views INT, d21_likes INT, d21_comments INT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (subscriber_id, handle, post_url)
	)`,
	`CREATE TABLE IF NOT EXISTS post_signals (
		id BIGSERIAL PRIMARY KEY,
		subscriber_id BIGINT NOT NULL,
		feed_id BIGINT,
		feeder_id BIGINT,
		handle TEXT NOT NULL,
		post_url TEXT NOT NULL,
		media_type TEXT,
		posted_at TIMESTAMPTZ,
		caption TEXT,
		velocity_tag TEXT,
		velocity_stage TEXT,
		velocity_percentile TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (subscriber_id, handle, post_url)
	)`,
	`CREATE TABLE IF NOT EXISTS posts_core (
		id BIGSERIAL PRIMARY KEY,
		subscriber_id BIGINT NOT NULL,
		handle_id BIGINT,
		handle TEXT NOT NULL,
		post_url TEXT NOT NULL,
		media_type TEXT,
		duration_seconds NUMERIC,
		posted_at TIMESTAMPTZ,
		caption TEXT,
		hashtags TEXT,
		caption_mentions TEXT,
		tagged_users TEXT,
		music_info TEXT,
		is_pinned BOOLEAN,
		paid_partnership BOOLEAN,
		sponsors TEXT,
		display_url TEXT,
		video_url TEXT,
		last_scanned_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (subscriber_id, handle, post_url)
	)`,
	`CREATE TABLE IF NOT EXISTS post_checkpoint_metrics (
		id BIGSERIAL PRIMARY KEY,
		subscriber_id BIGINT NOT NULL,
		feed_id BIGINT,
		feeder_id BIGINT,
		handle TEXT NOT NULL,
		post_url TEXT NOT NULL,
		checkpoint TEXT NOT NULL,
		checkpoint_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		stage_label TEXT,
		media_type TEXT,
		views BIGINT,
		likes BIGINT,
		comments BIGINT,
		metric_value DOUBLE PRECISION,
		velocity_value DOUBLE PRECISION,
		velocity_tag TEXT,
		velocity_percentile TEXT,
		perf_score TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (subscriber_id, handle, post_url, checkpoint)
	)`,
	`CREATE TABLE IF NOT EXISTS post_embeddings (
		id BIGSERIAL PRIMARY KEY,
		subscriber_id BIGINT NOT NULL,
		feed_id BIGINT,
		feeder_id BIGINT,
		niche_id TEXT,
		handle TEXT NOT NULL,
		post_url TEXT NOT NULL,
		signal_type TEXT DEFAULT 'caption_semantic',
		signal_version TEXT DEFAULT 'v1',
		embedding_model TEXT NOT NULL,
		embedding_dim INT,
		embedding_json JSONB,
		source_text TEXT,
		metadata_json JSONB DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (subscriber_id, handle, post_url, embedding_model, signal_type)
	)`,
	`CREATE TABLE IF NOT EXISTS handle_profile_metrics (
		id BIGSERIAL PRIMARY KEY,
		subscriber_id BIGINT NOT NULL REFERENCES subscribers(id) ON DELETE CASCADE,
		handle TEXT NOT NULL,
		profile_url TEXT,
		full_name TEXT,
		business_category TEXT,
		biography TEXT,
		followers_count BIGINT,
		follows_count BIGINT,
		posts_count BIGINT,
		verified BOOLEAN,
		profile_pic_url TEXT,
		sampled_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (subscriber_id, handle)
	)`,
	`CREATE TABLE IF NOT EXISTS apify_health (
		id INT PRIMARY KEY,
		consecutive_failures INT NOT NULL DEFAULT 0,
		pause_until TIMESTAMPTZ,
		last_error TEXT,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS feeder_pair_metrics (
		id BIGSERIAL PRIMARY KEY,
		feed_id BIGINT NOT NULL,
		anchor_feeder_id BIGINT NOT NULL,
		feeder_id BIGINT NOT NULL,
		window_days INT NOT NULL,
		velocity_delta DOUBLE PRECISION,
		perf_delta DOUBLE PRECISION,
		percentile_delta DOUBLE PRECISION,
		relation_score DOUBLE PRECISION,
		sample_size INT,
		metadata_json JSONB DEFAULT '{}'::jsonb,
		computed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (feed_id, anchor_feeder_id, feeder_id, window_days)
	)`,
	`CREATE TABLE IF NOT EXISTS signal_aggregates (
		id BIGSERIAL PRIMARY KEY,
		feed_id BIGINT NOT NULL,
		signal_type TEXT NOT NULL,
		signal_key TEXT NOT NULL,
		window_key TEXT NOT NULL,
		adoption_rate DOUBLE PRECISION,
		velocity_delta DOUBLE PRECISION,
		saturation_score DOUBLE PRECISION,
		confidence DOUBLE PRECISION,
		sample_size INT,
		source_start_at TIMESTAMPTZ,
		source_end_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (feed_id, signal_type, signal_key, window_key)
	)`,
	`CREATE TABLE IF NOT EXISTS alert_candidates (
		id BIGSERIAL PRIMARY KEY,
		feed_id BIGINT NOT NULL,
		feeder_id BIGINT,
		ui_tab TEXT DEFAULT 'flags',
		alert_category TEXT DEFAULT 'velocity',
		alert_color TEXT DEFAULT '#CCFF00',
		alert_urgency TEXT DEFAULT 'today',
		alert_dedupe_key TEXT DEFAULT '',
		alert_family TEXT,
		alert_type TEXT NOT NULL,
		priority_score DOUBLE PRECISION,
		impact_score DOUBLE PRECISION,
		confidence_score DOUBLE PRECISION,
		freshness_score DOUBLE PRECISION,
		novelty_score DOUBLE PRECISION,
		actionability_score DOUBLE PRECISION,
		title TEXT,
		body TEXT,
		payload JSONB DEFAULT '{}'::jsonb,
		status TEXT NOT NULL DEFAULT 'candidate',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS alert_events (
		id BIGSERIAL PRIMARY KEY,
		subscriber_id BIGINT,
		feeder_id BIGINT,
		alert_type TEXT NOT NULL,
		title TEXT,
		body TEXT,
		payload JSONB DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS alert_engine_state (
		feed_id BIGINT PRIMARY KEY,
		last_hot_scan_at TIMESTAMPTZ,
		last_pattern_scan_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// Column migrations for databases created before the current shape.
var migrationStatements = []string{
	`ALTER TABLE run_queue ADD COLUMN IF NOT EXISTS subscriber_id BIGINT`,
	`ALTER TABLE run_queue ADD COLUMN IF NOT EXISTS spreadsheet_id TEXT`,
	`ALTER TABLE handle_state ADD COLUMN IF NOT EXISTS subscriber_id BIGINT`,
	`ALTER TABLE post_snapshots ADD COLUMN IF NOT EXISTS media_type TEXT`,
	`ALTER TABLE post_embeddings ADD COLUMN IF NOT EXISTS niche_id TEXT`,
	`ALTER TABLE post_embeddings ADD COLUMN IF NOT EXISTS signal_type TEXT DEFAULT 'caption_semantic'`,
	`ALTER TABLE post_embeddings ADD COLUMN IF NOT EXISTS signal_version TEXT DEFAULT 'v1'`,
	`ALTER TABLE post_embeddings ADD COLUMN IF NOT EXISTS metadata_json JSONB DEFAULT '{}'::jsonb`,
	`ALTER TABLE post_embeddings ADD COLUMN IF NOT EXISTS feed_id BIGINT`,
	`ALTER TABLE post_embeddings ADD COLUMN IF NOT EXISTS feeder_id BIGINT`,
	`ALTER TABLE post_signals ADD COLUMN IF NOT EXISTS feed_id BIGINT`,
	`ALTER TABLE post_signals ADD COLUMN IF NOT EXISTS feeder_id BIGINT`,
	`ALTER TABLE post_checkpoint_metrics ADD COLUMN IF NOT EXISTS feed_id BIGINT`,
	`ALTER TABLE post_checkpoint_metrics ADD COLUMN IF NOT EXISTS feeder_id BIGINT`,
	`ALTER TABLE post_checkpoint_metrics ADD COLUMN IF NOT EXISTS media_type TEXT`,
	`ALTER TABLE post_queue ADD COLUMN IF NOT EXISTS requires_d7_hot BOOLEAN DEFAULT FALSE`,
	`ALTER TABLE posts_core ADD COLUMN IF NOT EXISTS duration_seconds NUMERIC`,
	`ALTER TABLE alert_candidates ADD COLUMN IF NOT EXISTS ui_tab TEXT DEFAULT 'flags'`,
	`ALTER TABLE alert_candidates ADD COLUMN IF NOT EXISTS alert_category TEXT DEFAULT 'velocity'`,
	`ALTER TABLE alert_candidates ADD COLUMN IF NOT EXISTS alert_color TEXT DEFAULT '#CCFF00'`,
	`ALTER TABLE alert_candidates ADD COLUMN IF NOT EXISTS alert_urgency TEXT DEFAULT 'today'`,
	`ALTER TABLE alert_candidates ADD COLUMN IF NOT EXISTS alert_dedupe_key TEXT DEFAULT ''`,
	`UPDATE post_queue SET next_run_at=NOW() WHERE next_run_at IS NULL`,
	`INSERT INTO apify_health (id, consecutive_failures, pause_until, last_error, updated_at)
		VALUES (1, 0, NULL, NULL, NOW())
		ON CONFLICT (id) DO NOTHING`,
	`CREATE UNIQUE INDEX IF NOT EXISTS alert_candidates_dedupe_idx
		ON alert_candidates (feed_id, alert_dedupe_key)
		WHERE alert_dedupe_key <> ''`,
	`CREATE INDEX IF NOT EXISTS post_queue_next_run_idx
		ON post_queue (next_run_at)
		WHERE status IN ('pending','retry')`,
	`CREATE UNIQUE INDEX IF NOT EXISTS post_queue_unique_checkpoint
		ON post_queue (subscriber_id, handle, post_url, checkpoint)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS run_queue_unique_pending
		ON run_queue (subscriber_id, handle)
		WHERE status IN ('pending','retry')`,
}

// SchemaInitializer applies the schema, seeds and historical backfills.
type SchemaInitializer struct {
	Pool PgxPool
	// SpreadsheetID seeds the default subscriber and anchors backfills of
	// rows written before the multi-subscriber shape existed.
	SpreadsheetID string
}

// NewSchemaInitializer constructs a SchemaInitializer.
func NewSchemaInitializer(p PgxPool, spreadsheetID string) *SchemaInitializer {
	return &SchemaInitializer{Pool: p, SpreadsheetID: spreadsheetID}
}

// Init creates the schema, runs migrations, seeds the default
// subscriber and feed, and backfills legacy rows. Safe to run on every
// start of every mode.
func (s *SchemaInitializer) Init(ctx domain.Context) error {
	tracer := otel.Tracer("repo.schema")
	ctx, span := tracer.Start(ctx, "schema.Init")
	defer span.End()

	for _, q := range schemaStatements {
		if _, err := s.Pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("op=schema.create: %w", err)
		}
	}
	for _, q := range migrationStatements {
		if _, err := s.Pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("op=schema.migrate: %w", err)
		}
	}
	if err := s.seedDefaults(ctx); err != nil {
		return err
	}
	return s.backfill(ctx)
}

func (s *SchemaInitializer) seedDefaults(ctx domain.Context) error {
	if s.SpreadsheetID != "" {
		q := `INSERT INTO subscribers (name, spreadsheet_id)
			VALUES ('Default', $1)
			ON CONFLICT (spreadsheet_id) DO NOTHING`
		if _, err := s.Pool.Exec(ctx, q, s.SpreadsheetID); err != nil {
			return fmt.Errorf("op=schema.seedSubscriber: %w", err)
		}
	}
	q := `INSERT INTO feeds (subscriber_id, name, mode, max_feeders, status, created_at, updated_at)
		SELECT s.id, s.name || ' Feed', 'market', 15, 'active', NOW(), NOW()
		FROM subscribers s
		WHERE s.status='active'
		ON CONFLICT (subscriber_id) DO NOTHING`
	if _, err := s.Pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("op=schema.seedFeeds: %w", err)
	}
	return nil
}

// backfill adopts rows written before subscriber and feed references
// existed into the default subscriber's scope.
func (s *SchemaInitializer) backfill(ctx domain.Context) error {
	if s.SpreadsheetID == "" {
		return nil
	}
	var subID int64
	err := s.Pool.QueryRow(ctx, `SELECT id FROM subscribers WHERE spreadsheet_id=$1`, s.SpreadsheetID).Scan(&subID)
	if err != nil {
		// No default subscriber means nothing to adopt.
		return nil
	}

	stmts := []struct {
		q    string
		args []any
	}{
		{`UPDATE handle_state SET subscriber_id=$1 WHERE subscriber_id IS NULL`, []any{subID}},
		{`UPDATE run_queue SET subscriber_id=$1 WHERE subscriber_id IS NULL`, []any{subID}},
		{`UPDATE run_queue SET spreadsheet_id=$1 WHERE spreadsheet_id IS NULL`, []any{s.SpreadsheetID}},
		{`UPDATE run_log SET subscriber_id=$1 WHERE subscriber_id IS NULL`, []any{subID}},
		{`UPDATE run_log SET spreadsheet_id=$1 WHERE spreadsheet_id IS NULL`, []any{s.SpreadsheetID}},
		{`INSERT INTO feeders (feed_id, handle, role, status, created_at, updated_at, last_seen_at)
			SELECT f.id, hs.handle, 'standard', 'active', NOW(), NOW(), NOW()
			FROM handle_state hs
			JOIN feeds f ON f.subscriber_id = hs.subscriber_id
			ON CONFLICT (feed_id, handle) DO NOTHING`, nil},
		{`UPDATE post_signals ps
			SET feed_id = f.id, feeder_id = fd.id
			FROM feeds f
			LEFT JOIN feeders fd ON fd.feed_id = f.id
			WHERE ps.subscriber_id = f.subscriber_id
			  AND (fd.handle = ps.handle OR fd.handle IS NULL)
			  AND (ps.feed_id IS NULL OR ps.feeder_id IS NULL)`, nil},
		{`UPDATE post_embeddings pe
			SET feed_id = f.id, feeder_id = fd.id
			FROM feeds f
			LEFT JOIN feeders fd ON fd.feed_id = f.id
			WHERE pe.subscriber_id = f.subscriber_id
			  AND (fd.handle = pe.handle OR fd.handle IS NULL)
			  AND (pe.feed_id IS NULL OR pe.feeder_id IS NULL)`, nil},
		{`UPDATE post_checkpoint_metrics pcm
			SET feed_id = f.id, feeder_id = fd.id
			FROM feeds f
			LEFT JOIN feeders fd ON fd.feed_id = f.id
			WHERE pcm.subscriber_id = f.subscriber_id
			  AND (fd.handle = pcm.handle OR fd.handle IS NULL)
			  AND (pcm.feed_id IS NULL OR pcm.feeder_id IS NULL)`, nil},
	}
	for _, st := range stmts {
		if _, err := s.Pool.Exec(ctx, st.q, st.args...); err != nil {
			return fmt.Errorf("op=schema.backfill: %w", err)
		}
	}
	return nil
}
