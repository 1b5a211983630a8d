package usecase

import (
	"log/slog"
	"strings"
	"time"

	"github.com/feedmehq/feedme-worker/internal/config"
	"github.com/feedmehq/feedme-worker/internal/domain"
)

// profileTimestampLayout renders the "sampled at" label shown in the
// profile snapshot band.
const profileTimestampLayout = "02-01-06 03:04 PM"

// ScheduleService discovers handle tabs and enqueues scrape jobs. The
// weekly cycle refreshes profile details instead of enqueuing posts.
type ScheduleService struct {
	Cfg     config.Config
	Dir     domain.Directory
	Sheets  domain.SheetClient
	Handles domain.HandleQueue
	Scraper domain.Scraper
	Log     *slog.Logger
}

// NewScheduleService constructs a ScheduleService.
func NewScheduleService(cfg config.Config, dir domain.Directory, sheets domain.SheetClient, handles domain.HandleQueue, scraper domain.Scraper, log *slog.Logger) ScheduleService {
	return ScheduleService{Cfg: cfg, Dir: dir, Sheets: sheets, Handles: handles, Scraper: scraper, Log: log}
}

// Run scans every subscriber's spreadsheet for handle tabs, reconciles
// the feeder roster, then enqueues one job per tab (daily) or refreshes
// profile metrics (weekly).
func (s ScheduleService) Run(ctx domain.Context, runType string) error {
	subs, err := s.Dir.ListSubscribers(ctx)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		titles, err := s.Sheets.ListSheetTitles(ctx, sub.SpreadsheetID)
		if err != nil {
			return err
		}
		handleSheets := s.handleTabs(titles)
		if err := s.Dir.EnsureFeeders(ctx, sub.ID, handleSheets); err != nil {
			return err
		}

		if runType == "weekly" {
			s.refreshFollowers(ctx, sub, handleSheets)
			continue
		}

		for _, sheet := range handleSheets {
			if err := s.Handles.Enqueue(ctx, sub.ID, sub.SpreadsheetID, sheet, runType); err != nil {
				return err
			}
		}
		s.Log.Info("schedule enqueued",
			slog.Int64("subscriber_id", sub.ID),
			slog.Int("handles", len(handleSheets)),
			slog.String("run_type", runType))
	}
	return nil
}

// handleTabs filters spreadsheet tabs down to the per-handle ones.
// Operational tabs and the legacy usage tabs never become feeders.
func (s ScheduleService) handleTabs(titles []string) []string {
	ignore := make(map[string]bool, len(s.Cfg.IgnoreSheets)+2)
	for _, t := range s.Cfg.IgnoreSheets {
		ignore[t] = true
	}
	ignore["Feeder"] = true
	ignore["Billing/Usage"] = true

	out := make([]string, 0, len(titles))
	for _, t := range titles {
		if !ignore[t] {
			out = append(out, t)
		}
	}
	return out
}

// refreshFollowers scrapes profile details for every handle and writes
// the snapshot band above the data columns. A failed profile scrape
// skips that handle; the weekly cycle is best effort.
func (s ScheduleService) refreshFollowers(ctx domain.Context, sub domain.Subscriber, handles []string) {
	timestamp := time.Now().Format(profileTimestampLayout)
	for _, handle := range handles {
		clean := strings.TrimPrefix(handle, "@")
		details, err := s.Scraper.FetchProfile(ctx, clean)
		if err != nil {
			s.Log.Warn("profile refresh skipped",
				slog.String("handle", handle),
				slog.Any("error", err))
			continue
		}
		if err := s.Dir.UpsertProfileMetrics(ctx, sub.ID, details); err != nil {
			s.Log.Warn("profile metrics upsert failed",
				slog.String("handle", handle),
				slog.Any("error", err))
			continue
		}
		if err := s.Sheets.UpsertProfileSnapshot(ctx, sub.SpreadsheetID, handle, details, timestamp); err != nil {
			s.Log.Warn("profile snapshot write failed",
				slog.String("handle", handle),
				slog.Any("error", err))
		}
	}
}
