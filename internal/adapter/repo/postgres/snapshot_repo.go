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

// SnapshotRepo persists per-post checkpoint triples in post_snapshots.
type SnapshotRepo struct{ Pool PgxPool }

// NewSnapshotRepo constructs a SnapshotRepo with the given pool.
func NewSnapshotRepo(p PgxPool) *SnapshotRepo { return &SnapshotRepo{Pool: p} }

// Upsert writes one checkpoint's counters. The base row and its
// media_type are first-write-wins; the checkpoint triple is
// last-write-wins so a re-scrape refreshes stale counters.
func (r *SnapshotRepo) Upsert(ctx domain.Context, subscriberID int64, handle, postURL, mediaType string, postedAt *time.Time, c domain.Checkpoint, views, likes, comments *int64) error {
	tracer := otel.Tracer("repo.post_snapshots")
	ctx, span := tracer.Start(ctx, "post_snapshots.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPSERT"),
		attribute.String("db.sql.table", "post_snapshots"),
	)
	if !c.Valid() {
		return fmt.Errorf("op=post_snapshots.upsert: %w: checkpoint %q", domain.ErrInvalidArgument, c)
	}

	var id int64
	q := `INSERT INTO post_snapshots (subscriber_id, handle, post_url, media_type, posted_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (subscriber_id, handle, post_url) DO NOTHING
		RETURNING id`
	err := r.Pool.QueryRow(ctx, q, subscriberID, handle, postURL, nullStr(mediaType), postedAt).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		q = `SELECT id FROM post_snapshots WHERE subscriber_id=$1 AND handle=$2 AND post_url=$3`
		err = r.Pool.QueryRow(ctx, q, subscriberID, handle, postURL).Scan(&id)
	}
	if err != nil {
		return fmt.Errorf("op=post_snapshots.upsert: %w", err)
	}

	// Checkpoint is validated above, so splicing column names is safe.
	cp := string(c)
	q = fmt.Sprintf(`UPDATE post_snapshots
		SET media_type = COALESCE(media_type, $1),
		    %s_at = COALESCE(%s_at, NOW()),
		    %s_views = $2,
		    %s_likes = $3,
		    %s_comments = $4,
		    updated_at = NOW()
		WHERE id=$5`, cp, cp, cp, cp, cp)
	if _, err := r.Pool.Exec(ctx, q, nullStr(mediaType), views, likes, comments, id); err != nil {
		return fmt.Errorf("op=post_snapshots.upsert: %w", err)
	}
	return nil
}

// Get loads the full snapshot row for one post.
func (r *SnapshotRepo) Get(ctx domain.Context, subscriberID int64, handle, postURL string) (domain.PostSnapshot, error) {
	tracer := otel.Tracer("repo.post_snapshots")
	ctx, span := tracer.Start(ctx, "post_snapshots.Get")
	defer span.End()
	q := `SELECT subscriber_id, handle, post_url, COALESCE(media_type,''), posted_at,
			d1_at, d1_views, d1_likes, d1_comments,
			d3_at, d3_views, d3_likes, d3_comments,
			d7_at, d7_views, d7_likes, d7_comments,
			d21_at, d21_views, d21_likes, d21_comments
		FROM post_snapshots
		WHERE subscriber_id=$1 AND handle=$2 AND post_url=$3`
	var s domain.PostSnapshot
	err := r.Pool.QueryRow(ctx, q, subscriberID, handle, postURL).Scan(
		&s.SubscriberID, &s.Handle, &s.PostURL, &s.MediaType, &s.PostedAt,
		&s.D1.At, &s.D1.Views, &s.D1.Likes, &s.D1.Comments,
		&s.D3.At, &s.D3.Views, &s.D3.Likes, &s.D3.Comments,
		&s.D7.At, &s.D7.Views, &s.D7.Likes, &s.D7.Comments,
		&s.D21.At, &s.D21.Views, &s.D21.Likes, &s.D21.Comments,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PostSnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.PostSnapshot{}, fmt.Errorf("op=post_snapshots.get: %w", err)
	}
	return s, nil
}

// CohortRows lists peer snapshot rows for (subscriber, handle) whose
// checkpoint triple has at least one observed counter. The caller
// applies the media-type match and builds the ranking pool.
func (r *SnapshotRepo) CohortRows(ctx domain.Context, subscriberID int64, handle string, c domain.Checkpoint) ([]domain.CohortRow, error) {
	tracer := otel.Tracer("repo.post_snapshots")
	ctx, span := tracer.Start(ctx, "post_snapshots.CohortRows")
	defer span.End()
	if !c.Valid() {
		return nil, fmt.Errorf("op=post_snapshots.cohortRows: %w: checkpoint %q", domain.ErrInvalidArgument, c)
	}
	cp := string(c)
	q := fmt.Sprintf(`SELECT COALESCE(media_type,''), %s_views, %s_likes, %s_comments
		FROM post_snapshots
		WHERE subscriber_id=$1 AND handle=$2
		  AND (%s_views IS NOT NULL OR %s_likes IS NOT NULL OR %s_comments IS NOT NULL)`,
		cp, cp, cp, cp, cp, cp)
	rows, err := r.Pool.Query(ctx, q, subscriberID, handle)
	if err != nil {
		return nil, fmt.Errorf("op=post_snapshots.cohortRows: %w", err)
	}
	defer rows.Close()

	var out []domain.CohortRow
	for rows.Next() {
		var cr domain.CohortRow
		if err := rows.Scan(&cr.MediaType, &cr.Views, &cr.Likes, &cr.Comments); err != nil {
			return nil, fmt.Errorf("op=post_snapshots.cohortRows: %w", err)
		}
		out = append(out, cr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=post_snapshots.cohortRows: %w", err)
	}
	return out, nil
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
