package postgres

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/feedmehq/feedme-worker/internal/domain"
)

// DirectoryRepo resolves subscribers, feeds, feeders and the per-handle
// sync state.
type DirectoryRepo struct{ Pool PgxPool }

// NewDirectoryRepo constructs a DirectoryRepo with the given pool.
func NewDirectoryRepo(p PgxPool) *DirectoryRepo { return &DirectoryRepo{Pool: p} }

// ListSubscribers returns all active subscribers in id order.
func (r *DirectoryRepo) ListSubscribers(ctx domain.Context) ([]domain.Subscriber, error) {
	tracer := otel.Tracer("repo.directory")
	ctx, span := tracer.Start(ctx, "directory.ListSubscribers")
	defer span.End()
	q := `SELECT id, name, spreadsheet_id FROM subscribers WHERE status='active' ORDER BY id ASC`
	rows, err := r.Pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("op=directory.listSubscribers: %w", err)
	}
	defer rows.Close()
	var out []domain.Subscriber
	for rows.Next() {
		var s domain.Subscriber
		if err := rows.Scan(&s.ID, &s.Name, &s.SpreadsheetID); err != nil {
			return nil, fmt.Errorf("op=directory.listSubscribers: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=directory.listSubscribers: %w", err)
	}
	return out, nil
}

// ListFeeds returns every active feed belonging to an active subscriber.
func (r *DirectoryRepo) ListFeeds(ctx domain.Context) ([]domain.Feed, error) {
	tracer := otel.Tracer("repo.directory")
	ctx, span := tracer.Start(ctx, "directory.ListFeeds")
	defer span.End()
	q := `SELECT f.id, f.subscriber_id, f.name, f.mode, f.max_feeders, f.status
		FROM feeds f
		JOIN subscribers s ON s.id = f.subscriber_id
		WHERE f.status='active' AND s.status='active'
		ORDER BY f.id ASC`
	rows, err := r.Pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("op=directory.listFeeds: %w", err)
	}
	defer rows.Close()
	var out []domain.Feed
	for rows.Next() {
		var f domain.Feed
		if err := rows.Scan(&f.ID, &f.SubscriberID, &f.Name, &f.Mode, &f.MaxFeeders, &f.Status); err != nil {
			return nil, fmt.Errorf("op=directory.listFeeds: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=directory.listFeeds: %w", err)
	}
	return out, nil
}

// FeedBySubscriber returns the subscriber's first feed, or nil when the
// subscriber has none.
func (r *DirectoryRepo) FeedBySubscriber(ctx domain.Context, subscriberID int64) (*domain.Feed, error) {
	tracer := otel.Tracer("repo.directory")
	ctx, span := tracer.Start(ctx, "directory.FeedBySubscriber")
	defer span.End()
	q := `SELECT id, subscriber_id, name, mode, max_feeders, status
		FROM feeds
		WHERE subscriber_id=$1
		ORDER BY id ASC
		LIMIT 1`
	var f domain.Feed
	err := r.Pool.QueryRow(ctx, q, subscriberID).Scan(&f.ID, &f.SubscriberID, &f.Name, &f.Mode, &f.MaxFeeders, &f.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("op=directory.feedBySubscriber: %w", err)
	}
	return &f, nil
}

// EnsureFeeders activates one feeder per handle on the subscriber's
// feed and deactivates active feeders whose sheet tab disappeared.
func (r *DirectoryRepo) EnsureFeeders(ctx domain.Context, subscriberID int64, handles []string) error {
	tracer := otel.Tracer("repo.directory")
	ctx, span := tracer.Start(ctx, "directory.EnsureFeeders")
	defer span.End()

	feed, err := feedID(ctx, r.Pool, subscriberID)
	if err != nil {
		return fmt.Errorf("op=directory.ensureFeeders: %w", err)
	}
	clean := make([]string, 0, len(handles))
	for _, h := range handles {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		clean = append(clean, h)
		if _, err := feederID(ctx, r.Pool, feed, h); err != nil {
			return fmt.Errorf("op=directory.ensureFeeders: %w", err)
		}
	}
	if len(clean) == 0 {
		clean = []string{""}
	}
	q := `UPDATE feeders
		SET status='inactive', updated_at=NOW()
		WHERE feed_id=$1
		  AND handle <> ALL($2)
		  AND status='active'`
	if _, err := r.Pool.Exec(ctx, q, feed, clean); err != nil {
		return fmt.Errorf("op=directory.ensureFeeders: %w", err)
	}
	return nil
}

// UpsertHandleState records the latest sync outcome for a handle.
// last_success_at is only set on success rows.
func (r *DirectoryRepo) UpsertHandleState(ctx domain.Context, subscriberID int64, handle, sheetName, status string, lastSeenPostID, lastError *string) error {
	tracer := otel.Tracer("repo.directory")
	ctx, span := tracer.Start(ctx, "directory.UpsertHandleState")
	defer span.End()
	var successAt *time.Time
	if status == "success" {
		now := time.Now().UTC()
		successAt = &now
	}
	var errText *string
	if lastError != nil {
		t := truncErr(*lastError)
		errText = &t
	}
	q := `INSERT INTO handle_state (subscriber_id, handle, sheet_name, last_success_at, last_seen_post_id, last_status, last_error, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (subscriber_id, handle)
		DO UPDATE SET
			sheet_name = EXCLUDED.sheet_name,
			last_success_at = EXCLUDED.last_success_at,
			last_seen_post_id = EXCLUDED.last_seen_post_id,
			last_status = EXCLUDED.last_status,
			last_error = EXCLUDED.last_error,
			updated_at = NOW()`
	if _, err := r.Pool.Exec(ctx, q, subscriberID, handle, sheetName, successAt, lastSeenPostID, status, errText); err != nil {
		return fmt.Errorf("op=directory.upsertHandleState: %w", err)
	}
	return nil
}

// UpsertProfileMetrics stores the weekly profile sample for a handle.
func (r *DirectoryRepo) UpsertProfileMetrics(ctx domain.Context, subscriberID int64, p domain.ProfileDetails) error {
	tracer := otel.Tracer("repo.directory")
	ctx, span := tracer.Start(ctx, "directory.UpsertProfileMetrics")
	defer span.End()
	q := `INSERT INTO handle_profile_metrics (
			subscriber_id, handle, profile_url, full_name, business_category, biography,
			followers_count, follows_count, posts_count, verified, profile_pic_url, sampled_at, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		ON CONFLICT (subscriber_id, handle)
		DO UPDATE SET
			profile_url = EXCLUDED.profile_url,
			full_name = EXCLUDED.full_name,
			business_category = EXCLUDED.business_category,
			biography = EXCLUDED.biography,
			followers_count = EXCLUDED.followers_count,
			follows_count = EXCLUDED.follows_count,
			posts_count = EXCLUDED.posts_count,
			verified = EXCLUDED.verified,
			profile_pic_url = EXCLUDED.profile_pic_url,
			sampled_at = NOW()`
	_, err := r.Pool.Exec(ctx, q,
		subscriberID, p.Handle, p.ProfileURL, p.FullName, p.BusinessCategory, p.Biography,
		p.FollowersCount, p.FollowsCount, p.PostsCount, p.Verified, p.ProfilePicURL,
	)
	if err != nil {
		return fmt.Errorf("op=directory.upsertProfileMetrics: %w", err)
	}
	return nil
}

// LatestFollowers returns the most recent followers sample for a
// handle, trying the bare handle first and the @-prefixed form second.
// Nil means no baseline exists yet.
func (r *DirectoryRepo) LatestFollowers(ctx domain.Context, subscriberID int64, handle string) (*int64, error) {
	tracer := otel.Tracer("repo.directory")
	ctx, span := tracer.Start(ctx, "directory.LatestFollowers")
	defer span.End()
	for _, h := range []string{handle, "@" + strings.TrimPrefix(handle, "@")} {
		var followers *int64
		q := `SELECT followers_count
			FROM handle_profile_metrics
			WHERE subscriber_id=$1 AND handle=$2
			ORDER BY sampled_at DESC
			LIMIT 1`
		err := r.Pool.QueryRow(ctx, q, subscriberID, h).Scan(&followers)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("op=directory.latestFollowers: %w", err)
		}
		if followers != nil {
			return followers, nil
		}
	}
	return nil, nil
}
