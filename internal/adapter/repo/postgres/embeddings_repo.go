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

// EmbeddingRepo persists embedding vectors as JSON rows keyed by
// (subscriber, handle, post_url, model, signal_type).
type EmbeddingRepo struct{ Pool PgxPool }

// NewEmbeddingRepo constructs an EmbeddingRepo with the given pool.
func NewEmbeddingRepo(p PgxPool) *EmbeddingRepo { return &EmbeddingRepo{Pool: p} }

// Exists reports whether a vector is already stored for the key, so
// callers can skip the provider round trip.
func (r *EmbeddingRepo) Exists(ctx domain.Context, subscriberID int64, handle, postURL, model, signalType string) (bool, error) {
	tracer := otel.Tracer("repo.post_embeddings")
	ctx, span := tracer.Start(ctx, "post_embeddings.Exists")
	defer span.End()
	q := `SELECT 1
		FROM post_embeddings
		WHERE subscriber_id=$1
		  AND handle=$2
		  AND post_url=$3
		  AND embedding_model=$4
		  AND signal_type=$5
		LIMIT 1`
	var one int
	err := r.Pool.QueryRow(ctx, q, subscriberID, handle, postURL, model, signalType).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("op=post_embeddings.exists: %w", err)
	}
	return true, nil
}

// Upsert writes a vector with its source text and metadata.
func (r *EmbeddingRepo) Upsert(ctx domain.Context, subscriberID int64, handle, postURL, model, signalType, signalVersion, sourceText string, embedding []float64, metadata map[string]string) error {
	tracer := otel.Tracer("repo.post_embeddings")
	ctx, span := tracer.Start(ctx, "post_embeddings.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPSERT"),
		attribute.String("db.sql.table", "post_embeddings"),
	)
	feed, err := feedID(ctx, r.Pool, subscriberID)
	if err != nil {
		return fmt.Errorf("op=post_embeddings.upsert: %w", err)
	}
	feeder, err := feederID(ctx, r.Pool, feed, handle)
	if err != nil {
		return fmt.Errorf("op=post_embeddings.upsert: %w", err)
	}
	embJSON, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("op=post_embeddings.upsert: %w", err)
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("op=post_embeddings.upsert: %w", err)
	}
	q := `INSERT INTO post_embeddings (
			subscriber_id, feed_id, feeder_id, handle, post_url, signal_type, signal_version,
			embedding_model, embedding_dim, embedding_json, source_text, metadata_json,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11, $12::jsonb, NOW(), NOW())
		ON CONFLICT (subscriber_id, handle, post_url, embedding_model, signal_type)
		DO UPDATE SET
			feed_id = EXCLUDED.feed_id,
			feeder_id = EXCLUDED.feeder_id,
			signal_version = EXCLUDED.signal_version,
			embedding_dim = EXCLUDED.embedding_dim,
			embedding_json = EXCLUDED.embedding_json,
			source_text = EXCLUDED.source_text,
			metadata_json = EXCLUDED.metadata_json,
			updated_at = NOW()`
	_, err = r.Pool.Exec(ctx, q,
		subscriberID, feed, feeder, handle, postURL, signalType, signalVersion,
		model, len(embedding), string(embJSON), sourceText, string(metaJSON),
	)
	if err != nil {
		return fmt.Errorf("op=post_embeddings.upsert: %w", err)
	}
	return nil
}
