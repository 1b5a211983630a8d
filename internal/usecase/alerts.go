package usecase

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/feedmehq/feedme-worker/internal/adapter/observability"
	"github.com/feedmehq/feedme-worker/internal/domain"
)

// AlertService scans each feed for alert candidates, ranks them and
// persists the top few. Rules come in three families: velocity (own
// traction), intelligence (cross-feed patterns) and competitive
// (anchor-mode feeds only).
type AlertService struct {
	Dir    domain.Directory
	Alerts domain.AlertStore
	Log    *slog.Logger
}

// NewAlertService constructs an AlertService.
func NewAlertService(dir domain.Directory, alerts domain.AlertStore, log *slog.Logger) AlertService {
	return AlertService{Dir: dir, Alerts: alerts, Log: log}
}

// Run generates candidates for one subscriber's feed or all feeds.
// Every scan advances the feed's watermarks, even when no rule fired,
// so a quiet feed never rescans its whole history.
func (s AlertService) Run(ctx domain.Context, subscriberID *int64, maxPerFeed int) error {
	feeds, err := s.Dir.ListFeeds(ctx)
	if err != nil {
		return err
	}
	for _, feed := range feeds {
		if subscriberID != nil && feed.SubscriberID != *subscriberID {
			continue
		}
		if err := s.scanFeed(ctx, feed, maxPerFeed); err != nil {
			return err
		}
	}
	return nil
}

func (s AlertService) scanFeed(ctx domain.Context, feed domain.Feed, maxPerFeed int) error {
	scanStartedAt := time.Now().UTC()
	state, err := s.Alerts.EngineState(ctx, feed.ID)
	if err != nil {
		return err
	}
	hotSince := scanStartedAt.Add(-24 * time.Hour)
	if state.LastHotScanAt != nil {
		hotSince = *state.LastHotScanAt
	}
	patternSince := scanStartedAt.Add(-24 * time.Hour)
	if state.LastPatternScanAt != nil {
		patternSince = *state.LastPatternScanAt
	}

	recent, err := s.Alerts.RecentTypes(ctx, feed.ID, 24)
	if err != nil {
		return err
	}

	candidates, err := s.velocityCandidates(ctx, feed.ID, recent, hotSince)
	if err != nil {
		return err
	}
	intel, err := s.intelligenceCandidates(ctx, feed.ID, recent, patternSince)
	if err != nil {
		return err
	}
	candidates = append(candidates, intel...)
	if feed.Mode == domain.FeedModeAnchor {
		comp, err := s.competitiveCandidates(ctx, feed.ID, recent, patternSince)
		if err != nil {
			return err
		}
		candidates = append(candidates, comp...)
	}

	if len(candidates) > 0 {
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Priority() > candidates[j].Priority()
		})
		if len(candidates) > maxPerFeed {
			candidates = candidates[:maxPerFeed]
		}
		for _, c := range candidates {
			if err := s.Alerts.Insert(ctx, c); err != nil {
				return err
			}
			observability.AlertCandidatesTotal.WithLabelValues(c.Type).Inc()
		}
		s.Log.Info("alert candidates generated",
			slog.Int64("feed_id", feed.ID),
			slog.Int("count", len(candidates)))
	}

	return s.Alerts.MarkScan(ctx, feed.ID, scanStartedAt)
}

func (s AlertService) velocityCandidates(ctx domain.Context, feedID int64, recent map[string]bool, hotSince time.Time) ([]domain.AlertCandidate, error) {
	var out []domain.AlertCandidate

	if !recent["velocity_spike"] {
		rows, err := s.Alerts.HotPosts(ctx, feedID, hotSince)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			tag := row.VelocityTag
			if tag == "" {
				tag = domain.VelocityTag{Band: domain.BandFire}.String()
			}
			out = append(out, domain.AlertCandidate{
				FeedID:        feedID,
				FeederID:      row.FeederID,
				UITab:         "flags",
				Category:      "velocity",
				Color:         domain.AlertColorVelocity,
				Urgency:       "now",
				Family:        "velocity",
				Type:          "velocity_spike",
				Impact:        0.9,
				Confidence:    0.8,
				Freshness:     0.95,
				Novelty:       0.75,
				Actionability: 0.9,
				Title:         fmt.Sprintf("Velocity spike on %s", row.Handle),
				Body:          fmt.Sprintf("%s at %s (%s). Act in next 12h.", tag, orDefault(row.VelocityStage, "latest"), orDefault(row.VelocityPercentile, "n/a")),
				Payload:       map[string]any{"post_url": row.PostURL, "handle": row.Handle},
			})
		}
	}

	if !recent["momentum_drop"] {
		rows, err := s.Alerts.MomentumDrops(ctx, feedID)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			dropPct := int(math.Round((row.V1 - row.V2) / row.V1 * 100))
			out = append(out, domain.AlertCandidate{
				FeedID:        feedID,
				FeederID:      row.FeederID,
				UITab:         "flags",
				Category:      "velocity",
				Color:         domain.AlertColorVelocity,
				Urgency:       "today",
				Family:        "velocity",
				Type:          "momentum_drop",
				Impact:        0.78,
				Confidence:    0.85,
				Freshness:     0.82,
				Novelty:       0.7,
				Actionability: 0.7,
				Title:         fmt.Sprintf("Momentum drop on %s", row.Handle),
				Body:          fmt.Sprintf("Velocity fell %d%% from D1 to D2. Rework format before boosting.", dropPct),
				Payload:       map[string]any{"post_url": row.PostURL, "handle": row.Handle, "drop_pct": dropPct},
			})
		}
	}

	if !recent["personal_record"] {
		row, err := s.Alerts.PersonalRecord(ctx, feedID)
		if err != nil {
			return nil, err
		}
		if row != nil {
			out = append(out, domain.AlertCandidate{
				FeedID:        feedID,
				FeederID:      row.FeederID,
				UITab:         "flags",
				Category:      "velocity",
				Color:         domain.AlertColorVelocity,
				Urgency:       "today",
				Family:        "velocity",
				Type:          "personal_record",
				Impact:        0.86,
				Confidence:    0.8,
				Freshness:     0.75,
				Novelty:       0.8,
				Actionability: 0.65,
				Title:         fmt.Sprintf("Personal record on %s", row.Handle),
				Body:          "Highest D0 metric in 30 days. Replicate this format in next 48h.",
				Payload:       map[string]any{"post_url": row.PostURL, "handle": row.Handle, "metric_value": row.MetricValue},
			})
		}
	}

	if !recent["format_win"] {
		row, err := s.Alerts.FormatWin(ctx, feedID)
		if err != nil {
			return nil, err
		}
		if row != nil {
			out = append(out, domain.AlertCandidate{
				FeedID:        feedID,
				FeederID:      row.FeederID,
				UITab:         "flags",
				Category:      "velocity",
				Color:         domain.AlertColorVelocity,
				Urgency:       "today",
				Family:        "velocity",
				Type:          "format_win",
				Impact:        0.72,
				Confidence:    0.7,
				Freshness:     0.68,
				Novelty:       0.7,
				Actionability: 0.8,
				Title:         fmt.Sprintf("Format win on %s", row.Handle),
				Body:          fmt.Sprintf("%s is leading on recent velocity.", orDefault(row.MediaType, "mixed")),
				Payload:       map[string]any{"handle": row.Handle, "media_type": row.MediaType, "avg_velocity": row.AvgVelocity},
			})
		}
	}

	return out, nil
}

func (s AlertService) competitiveCandidates(ctx domain.Context, feedID int64, recent map[string]bool, patternSince time.Time) ([]domain.AlertCandidate, error) {
	var out []domain.AlertCandidate

	if !recent["circle_leader"] {
		rows, err := s.Alerts.CircleLeaders(ctx, feedID, patternSince)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if row.SampleSize < 4 {
				continue
			}
			feederID := row.FeederID
			out = append(out, domain.AlertCandidate{
				FeedID:        feedID,
				FeederID:      &feederID,
				UITab:         "flags",
				Category:      "competitive",
				Color:         domain.AlertColorCompetitive,
				Urgency:       "today",
				Family:        "competitive",
				Type:          "circle_leader",
				Impact:        0.82,
				Confidence:    0.72,
				Freshness:     0.65,
				Novelty:       0.7,
				Actionability: 0.75,
				Title:         fmt.Sprintf("%s is leading your circle", row.Handle),
				Body:          fmt.Sprintf("7-day velocity delta vs anchor: %.2f.", row.VelocityDelta),
				Payload:       map[string]any{"handle": row.Handle, "velocity_delta": row.VelocityDelta, "perf_delta": row.PerfDelta},
			})
		}
	}

	if !recent["timing_gap"] {
		row, err := s.Alerts.TimingGap(ctx, feedID)
		if err != nil {
			return nil, err
		}
		if row != nil {
			out = append(out, domain.AlertCandidate{
				FeedID:        feedID,
				UITab:         "flags",
				Category:      "competitive",
				Color:         domain.AlertColorCompetitive,
				Urgency:       "today",
				Family:        "competitive",
				Type:          "timing_gap",
				Impact:        0.68,
				Confidence:    0.72,
				Freshness:     0.6,
				Novelty:       0.75,
				Actionability: 0.8,
				Title:         "Posting lane is open",
				Body:          fmt.Sprintf("%s has the lowest activity in your feed. Test a post there.", dayName(row.DayOfWeek)),
				Payload:       map[string]any{"day_of_week": row.DayOfWeek},
			})
		}
	}

	return out, nil
}

func (s AlertService) intelligenceCandidates(ctx domain.Context, feedID int64, recent map[string]bool, patternSince time.Time) ([]domain.AlertCandidate, error) {
	var out []domain.AlertCandidate

	if !recent["sector_fatigue"] {
		row, err := s.Alerts.SectorFatigue(ctx, feedID, patternSince)
		if err != nil {
			return nil, err
		}
		if row != nil {
			confidence := row.Confidence
			if confidence == 0 {
				confidence = 0.6
			}
			out = append(out, domain.AlertCandidate{
				FeedID:        feedID,
				UITab:         "flags",
				Category:      "intelligence",
				Color:         domain.AlertColorIntelligence,
				Urgency:       "today",
				Family:        "intelligence",
				Type:          "sector_fatigue",
				Impact:        0.8,
				Confidence:    confidence,
				Freshness:     0.68,
				Novelty:       0.78,
				Actionability: 0.82,
				Title:         fmt.Sprintf("Format fatigue in %s", row.SignalKey),
				Body:          "Adoption is high but return is flattening. Rotate to a fresher format now.",
				Payload: map[string]any{
					"signal_key":       row.SignalKey,
					"adoption_rate":    row.AdoptionRate,
					"velocity_delta":   row.VelocityDelta,
					"saturation_score": row.SaturationScore,
				},
			})
		}
	}

	if !recent["sector_wave"] {
		row, err := s.Alerts.SectorWave(ctx, feedID, patternSince)
		if err != nil {
			return nil, err
		}
		if row != nil {
			hotRate := int(math.Round(row.HotRate * 100))
			out = append(out, domain.AlertCandidate{
				FeedID:        feedID,
				UITab:         "flags",
				Category:      "intelligence",
				Color:         domain.AlertColorIntelligence,
				Urgency:       "today",
				Family:        "intelligence",
				Type:          "sector_wave",
				Impact:        0.84,
				Confidence:    0.7,
				Freshness:     0.7,
				Novelty:       0.8,
				Actionability: 0.8,
				Title:         fmt.Sprintf("Sector wave in %s", orDefault(row.MediaType, "mixed format")),
				Body:          fmt.Sprintf("%d%% of recent posts are high-velocity in this format. Prioritize this next.", hotRate),
				Payload:       map[string]any{"media_type": row.MediaType, "hot_rate": hotRate},
			})
		}
	}

	if !recent["breakout_post"] {
		row, err := s.Alerts.Breakout(ctx, feedID, patternSince)
		if err != nil {
			return nil, err
		}
		if row != nil {
			out = append(out, domain.AlertCandidate{
				FeedID:        feedID,
				FeederID:      row.FeederID,
				UITab:         "flags",
				Category:      "intelligence",
				Color:         domain.AlertColorIntelligence,
				Urgency:       "now",
				Family:        "intelligence",
				Type:          "breakout_post",
				Impact:        0.88,
				Confidence:    0.75,
				Freshness:     0.92,
				Novelty:       0.78,
				Actionability: 0.86,
				Title:         fmt.Sprintf("Breakout post on %s", row.Handle),
				Body:          fmt.Sprintf("Rocket signal at %s. Reverse engineer and test quickly.", orDefault(row.VelocityPercentile, "n/a")),
				Payload:       map[string]any{"handle": row.Handle, "post_url": row.PostURL},
			})
		}
	}

	if !recent["visual_mimicry"] {
		c, err := s.mimicryCandidate(ctx, feedID)
		if err != nil {
			return nil, err
		}
		if c != nil {
			out = append(out, *c)
		}
	}

	return out, nil
}

// mimicryCandidate pairs recent performance embeddings across feeders
// and flags the closest pair above the similarity bar. The accused
// feeder is the later row of the pair.
func (s AlertService) mimicryCandidate(ctx domain.Context, feedID int64) (*domain.AlertCandidate, error) {
	rows, err := s.Alerts.RecentEmbeddings(ctx, feedID)
	if err != nil {
		return nil, err
	}

	var bestSim float64
	var bestA, bestB *domain.EmbeddingRow
	for i := range rows {
		for j := i + 1; j < len(rows); j++ {
			if sameFeeder(rows[i].FeederID, rows[j].FeederID) {
				continue
			}
			sim := cosine(rows[i].Vector, rows[j].Vector)
			if sim >= 0.93 && sim > bestSim {
				bestSim = sim
				bestA, bestB = &rows[i], &rows[j]
			}
		}
	}
	if bestA == nil {
		return nil, nil
	}

	return &domain.AlertCandidate{
		FeedID:        feedID,
		FeederID:      bestB.FeederID,
		UITab:         "flags",
		Category:      "competitive",
		Color:         domain.AlertColorCompetitive,
		Urgency:       "today",
		Family:        "competitive",
		Type:          "visual_mimicry",
		Impact:        0.77,
		Confidence:    0.7,
		Freshness:     0.72,
		Novelty:       0.8,
		Actionability: 0.82,
		Title:         fmt.Sprintf("Possible mimicry: %s", bestB.Handle),
		Body:          fmt.Sprintf("Pattern similarity with %s is high (%.3f). Differentiate your next creative.", bestA.Handle, bestSim),
		Payload: map[string]any{
			"source_handle": bestA.Handle,
			"mimic_handle":  bestB.Handle,
			"source_post":   bestA.PostURL,
			"mimic_post":    bestB.PostURL,
			"similarity":    math.Round(bestSim*1e4) / 1e4,
		},
	}, nil
}

func cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom <= 0 {
		return 0
	}
	return dot / denom
}

func sameFeeder(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func dayName(dow int) string {
	names := []string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}
	if dow < 0 || dow >= len(names) {
		return "Unknown day"
	}
	return names[dow]
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
