package usecase

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/feedmehq/feedme-worker/internal/config"
	"github.com/feedmehq/feedme-worker/internal/domain"
)

// signalVersion tags embedding rows so text-format changes can be
// re-embedded side by side.
const signalVersion = "v1"

// EmbedService embeds the hot posts' signal texts. Each (post, signal
// type, model) pair is embedded once; reruns skip existing rows.
type EmbedService struct {
	Cfg        config.Config
	Dir        domain.Directory
	Signals    domain.SignalStore
	Embeddings domain.EmbeddingStore
	Embedder   domain.Embedder
	Sanitize   func(string) string
	Log        *slog.Logger
}

// NewEmbedService constructs an EmbedService.
func NewEmbedService(cfg config.Config, dir domain.Directory, sig domain.SignalStore, emb domain.EmbeddingStore, e domain.Embedder, sanitize func(string) string, log *slog.Logger) EmbedService {
	return EmbedService{Cfg: cfg, Dir: dir, Signals: sig, Embeddings: emb, Embedder: e, Sanitize: sanitize, Log: log}
}

// Run embeds pending posts for one subscriber, or all subscribers when
// subscriberID is nil. Per-post failures are logged and skipped so a
// flaky upstream never wedges the whole batch.
func (s EmbedService) Run(ctx domain.Context, subscriberID *int64) error {
	subs, err := s.Dir.ListSubscribers(ctx)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if subscriberID != nil && sub.ID != *subscriberID {
			continue
		}
		rows, err := s.Signals.ListForEmbedding(ctx, sub.ID, s.Cfg.EmbedTagList(), s.Cfg.EmbedBatchLimit)
		if err != nil {
			return err
		}
		for _, row := range rows {
			texts := buildSignalTexts(row)
			for _, signalType := range s.Cfg.EmbedSignalTypes {
				text, ok := texts[signalType]
				if !ok {
					continue
				}
				if err := s.embedOne(ctx, sub.ID, row, signalType, text); err != nil {
					s.Log.Warn("embedding skipped",
						slog.String("handle", row.Handle),
						slog.String("post_url", row.PostURL),
						slog.String("signal_type", signalType),
						slog.String("error", s.scrub(err)))
				}
			}
		}
	}
	return nil
}

func (s EmbedService) embedOne(ctx domain.Context, subscriberID int64, row domain.EmbeddingSource, signalType, text string) error {
	exists, err := s.Embeddings.Exists(ctx, subscriberID, row.Handle, row.PostURL, s.Embedder.Model(), signalType)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	vector, err := s.Embedder.Embed(ctx, text)
	if err != nil {
		return err
	}
	return s.Embeddings.Upsert(ctx, subscriberID, row.Handle, row.PostURL, s.Embedder.Model(), signalType, signalVersion, text, vector, map[string]string{
		"velocity_tag":        row.VelocityTag,
		"velocity_stage":      row.VelocityStage,
		"velocity_percentile": row.VelocityPercentile,
	})
}

func (s EmbedService) scrub(err error) string {
	msg := err.Error()
	if s.Sanitize != nil {
		return s.Sanitize(msg)
	}
	return msg
}

// buildSignalTexts renders the two embedding texts for one post. The
// caption text carries the semantic payload; the performance text
// carries the raw counters for similarity across accounts.
func buildSignalTexts(row domain.EmbeddingSource) map[string]string {
	captionText := strings.TrimSpace(fmt.Sprintf(
		"handle: %s\nmedia_type: %s\nvelocity_tag: %s\nvelocity_stage: %s\nvelocity_percentile: %s\ncaption: %s",
		row.Handle, row.MediaType, row.VelocityTag, row.VelocityStage, row.VelocityPercentile, row.Caption))

	performanceText := strings.TrimSpace(fmt.Sprintf(
		"handle: %s\nmedia_type: %s\nviews: %d\nlikes: %d\ncomments: %d\nvelocity_tag: %s\nvelocity_stage: %s\nvelocity_percentile: %s",
		row.Handle, row.MediaType, row.Views, row.Likes, row.Comments, row.VelocityTag, row.VelocityStage, row.VelocityPercentile))

	return map[string]string{
		"caption_semantic":     captionText,
		"performance_semantic": performanceText,
	}
}
