package usecase

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/feedmehq/feedme-worker/internal/config"
	"github.com/feedmehq/feedme-worker/internal/domain"
)

// RepairService re-derives velocity labels from stored percentiles and
// pushes the canonical tag, percentile and stage columns back into the
// sheets. Used after historical stage labels drifted.
type RepairService struct {
	Cfg     config.Config
	Dir     domain.Directory
	Signals domain.SignalStore
	Sheets  domain.SheetClient
	Log     *slog.Logger
}

// NewRepairService constructs a RepairService.
func NewRepairService(cfg config.Config, dir domain.Directory, sig domain.SignalStore, sheets domain.SheetClient, log *slog.Logger) RepairService {
	return RepairService{Cfg: cfg, Dir: dir, Signals: sig, Sheets: sheets, Log: log}
}

// Run repairs one subscriber or all subscribers. Database rows are
// normalized first, then sheet cells that differ get a targeted write;
// untouched rows cost no API quota.
func (s RepairService) Run(ctx domain.Context, subscriberID *int64) error {
	subs, err := s.Dir.ListSubscribers(ctx)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if subscriberID != nil && sub.ID != *subscriberID {
			continue
		}
		if err := s.Signals.RepairStages(ctx, sub.ID); err != nil {
			return err
		}
		if err := s.repairSheets(ctx, sub); err != nil {
			return err
		}
	}
	return nil
}

func (s RepairService) repairSheets(ctx domain.Context, sub domain.Subscriber) error {
	titles, err := s.Sheets.ListSheetTitles(ctx, sub.SpreadsheetID)
	if err != nil {
		return err
	}
	ignore := make(map[string]bool, len(s.Cfg.IgnoreSheets)+2)
	for _, t := range s.Cfg.IgnoreSheets {
		ignore[t] = true
	}
	ignore["Feeder"] = true
	ignore["Billing/Usage"] = true

	for _, handle := range titles {
		if ignore[handle] {
			continue
		}
		signalMap, err := s.Signals.MapByHandle(ctx, sub.ID, handle)
		if err != nil {
			return err
		}
		if len(signalMap) == 0 {
			continue
		}
		rows, err := s.Sheets.GetRows(ctx, sub.SpreadsheetID, handle+"!A3:M10000")
		if err != nil {
			return err
		}

		var updates []domain.RangeUpdate
		for i, row := range rows {
			rowNum := i + 3
			postURL := strings.TrimSpace(rowCell(row, 0))
			if postURL == "" {
				continue
			}
			sig, ok := signalMap[domain.ShortcodeFromURL(postURL)]
			if !ok {
				continue
			}

			tag, percentile := sig.VelocityTag, sig.VelocityPercentile
			if strings.EqualFold(strings.TrimSpace(tag), domain.InsufficientData) {
				tag, percentile = "", ""
			}
			stage := canonicalStage(sig.VelocityStage, tag)

			existingTag := strings.TrimSpace(rowCell(row, 10))
			existingPct := strings.TrimSpace(rowCell(row, 11))
			existingStage := strings.TrimSpace(rowCell(row, 12))
			if existingTag == tag && existingPct == percentile && existingStage == stage {
				continue
			}
			updates = append(updates, domain.RangeUpdate{
				Range:  fmt.Sprintf("%s!K%d:M%d", handle, rowNum, rowNum),
				Values: [][]string{{tag, percentile, stage}},
			})
		}
		if len(updates) > 0 {
			if err := s.Sheets.BatchUpdate(ctx, sub.SpreadsheetID, updates); err != nil {
				return err
			}
			s.Log.Info("velocity columns repaired",
				slog.String("handle", handle),
				slog.Int("rows", len(updates)))
		}
	}
	return nil
}

// canonicalStage folds historical stage spellings into the current
// D1/D2/D3/D7/D21 set. A watching tag always means D2.
func canonicalStage(stage, tag string) string {
	if strings.Contains(tag, "\U0001F440") {
		return "D2"
	}
	switch strings.ToUpper(strings.TrimSpace(stage)) {
	case "WATCH", "C1", "C1R", "D2":
		return "D2"
	case "D1":
		return "D1"
	case "D3", "C3":
		return "D3"
	case "D7", "C7":
		return "D7"
	case "D21", "C21":
		return "D21"
	}
	return strings.ToUpper(strings.TrimSpace(stage))
}

func rowCell(row []string, i int) string {
	if i >= 0 && i < len(row) {
		return row[i]
	}
	return ""
}
