package postgres

import (
	"fmt"

	"github.com/feedmehq/feedme-worker/internal/domain"
)

// feedID resolves the subscriber's active feed, creating a default feed
// when none exists yet. Every signal, metric and embedding write goes
// through this so historical rows always carry feed references.
func feedID(ctx domain.Context, pool PgxPool, subscriberID int64) (int64, error) {
	var id int64
	q := `SELECT id FROM feeds WHERE subscriber_id=$1 AND status='active' ORDER BY id ASC LIMIT 1`
	err := pool.QueryRow(ctx, q, subscriberID).Scan(&id)
	if err == nil {
		return id, nil
	}
	q = `INSERT INTO feeds (subscriber_id, name, mode, max_feeders, status, created_at, updated_at)
		VALUES ($1, 'Default Feed', 'market', 15, 'active', NOW(), NOW())
		RETURNING id`
	if err := pool.QueryRow(ctx, q, subscriberID).Scan(&id); err != nil {
		return 0, fmt.Errorf("op=refs.feedID: %w", err)
	}
	return id, nil
}

// feederID upserts the feeder row for (feed, handle) and returns its id.
func feederID(ctx domain.Context, pool PgxPool, feed int64, handle string) (int64, error) {
	var id int64
	q := `INSERT INTO feeders (feed_id, handle, role, status, created_at, updated_at, last_seen_at)
		VALUES ($1, $2, 'standard', 'active', NOW(), NOW(), NOW())
		ON CONFLICT (feed_id, handle)
		DO UPDATE SET updated_at=NOW(), last_seen_at=NOW()
		RETURNING id`
	if err := pool.QueryRow(ctx, q, feed, handle).Scan(&id); err != nil {
		return 0, fmt.Errorf("op=refs.feederID: %w", err)
	}
	return id, nil
}

// handleRegistryID upserts the handle registry row and returns its id.
func handleRegistryID(ctx domain.Context, pool PgxPool, subscriberID int64, handle string) (int64, error) {
	var id int64
	q := `INSERT INTO handle_registry (subscriber_id, handle, status, first_seen_at, last_seen_at)
		VALUES ($1, $2, 'active', NOW(), NOW())
		ON CONFLICT (subscriber_id, handle)
		DO UPDATE SET status='active', last_seen_at=NOW()
		RETURNING id`
	if err := pool.QueryRow(ctx, q, subscriberID, handle).Scan(&id); err != nil {
		return 0, fmt.Errorf("op=refs.handleRegistryID: %w", err)
	}
	return id, nil
}
