package postgres

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/feedmehq/feedme-worker/internal/domain"
)

// PostRepo persists canonical post provenance in posts_core.
type PostRepo struct{ Pool PgxPool }

// NewPostRepo constructs a PostRepo with the given pool.
func NewPostRepo(p PgxPool) *PostRepo { return &PostRepo{Pool: p} }

// UpsertCore writes the normalized post fields, keeping the feeder and
// handle registry rows warm as a side effect.
func (r *PostRepo) UpsertCore(ctx domain.Context, subscriberID int64, handle string, rec domain.PostRecord) error {
	tracer := otel.Tracer("repo.posts_core")
	ctx, span := tracer.Start(ctx, "posts_core.UpsertCore")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPSERT"),
		attribute.String("db.sql.table", "posts_core"),
	)
	feed, err := feedID(ctx, r.Pool, subscriberID)
	if err != nil {
		return fmt.Errorf("op=posts_core.upsert: %w", err)
	}
	if _, err := feederID(ctx, r.Pool, feed, handle); err != nil {
		return fmt.Errorf("op=posts_core.upsert: %w", err)
	}
	registryID, err := handleRegistryID(ctx, r.Pool, subscriberID, handle)
	if err != nil {
		return fmt.Errorf("op=posts_core.upsert: %w", err)
	}

	q := `INSERT INTO posts_core (
			subscriber_id, handle_id, handle, post_url, media_type, duration_seconds, posted_at,
			caption, hashtags, caption_mentions, tagged_users, music_info, is_pinned,
			paid_partnership, sponsors, display_url, video_url, last_scanned_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, NOW(), NOW(), NOW())
		ON CONFLICT (subscriber_id, handle, post_url)
		DO UPDATE SET
			handle_id = EXCLUDED.handle_id,
			media_type = EXCLUDED.media_type,
			duration_seconds = EXCLUDED.duration_seconds,
			posted_at = COALESCE(EXCLUDED.posted_at, posts_core.posted_at),
			caption = EXCLUDED.caption,
			hashtags = EXCLUDED.hashtags,
			caption_mentions = EXCLUDED.caption_mentions,
			tagged_users = EXCLUDED.tagged_users,
			music_info = EXCLUDED.music_info,
			is_pinned = EXCLUDED.is_pinned,
			paid_partnership = EXCLUDED.paid_partnership,
			sponsors = EXCLUDED.sponsors,
			display_url = EXCLUDED.display_url,
			video_url = EXCLUDED.video_url,
			last_scanned_at = NOW(),
			updated_at = NOW()`
	_, err = r.Pool.Exec(ctx, q,
		subscriberID, registryID, handle, rec.PostURL, nullStr(rec.MediaType), rec.DurationSeconds, rec.PostedAt,
		rec.Caption, rec.Hashtags, rec.CaptionMentions, rec.TaggedUsers, rec.MusicInfo, rec.IsPinned,
		rec.PaidPartnership, rec.Sponsors, rec.DisplayURL, rec.VideoURL,
	)
	if err != nil {
		return fmt.Errorf("op=posts_core.upsert: %w", err)
	}
	return nil
}
