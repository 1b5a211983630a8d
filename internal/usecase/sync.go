// Package usecase contains application business logic services.
package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/feedmehq/feedme-worker/internal/adapter/observability"
	"github.com/feedmehq/feedme-worker/internal/config"
	"github.com/feedmehq/feedme-worker/internal/domain"
)

// SyncService scrapes posts, persists snapshots, signals and metrics,
// and projects the resulting rows into the subscriber's spreadsheet.
type SyncService struct {
	Cfg       config.Config
	Scraper   domain.Scraper
	Sheets    domain.SheetClient
	Snapshots domain.SnapshotStore
	Signals   domain.SignalStore
	Metrics   domain.MetricStore
	Posts     domain.PostStore
	PostJobs  domain.PostQueue
	Dir       domain.Directory
	Log       *slog.Logger

	loc *time.Location
}

// NewSyncService constructs a SyncService with its dependencies.
func NewSyncService(cfg config.Config, sc domain.Scraper, sh domain.SheetClient, snap domain.SnapshotStore, sig domain.SignalStore, met domain.MetricStore, posts domain.PostStore, pq domain.PostQueue, dir domain.Directory, log *slog.Logger) SyncService {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.UTC
	}
	return SyncService{Cfg: cfg, Scraper: sc, Sheets: sh, Snapshots: snap, Signals: sig, Metrics: met, Posts: posts, PostJobs: pq, Dir: dir, Log: log, loc: loc}
}

// SyncResult summarizes one handle sync for the run log.
type SyncResult struct {
	LastSeenPostURL *string
	ItemsReturned   int
	Inserted        int
	Updated         int
}

// SyncHandle scrapes a handle's recent posts and upserts one sheet row
// per post. Every ingested post also gets its future checkpoint jobs.
func (s SyncService) SyncHandle(ctx domain.Context, subscriberID int64, spreadsheetID, handle, sheetName, runType string) (SyncResult, error) {
	var res SyncResult

	recs, err := s.Scraper.FetchPosts(ctx, handle, runType)
	if err != nil {
		return res, err
	}
	res.ItemsReturned = len(recs)

	header, err := s.Sheets.EnsureHeader(ctx, spreadsheetID, sheetName)
	if err != nil {
		return res, err
	}
	existing, err := s.existingRowIndex(ctx, spreadsheetID, sheetName, header)
	if err != nil {
		return res, err
	}

	baseline := s.followerBaseline(ctx, subscriberID, handle)

	var updates []domain.RangeUpdate
	var appends [][]string
	for _, rec := range recs {
		if rec.PostURL == "" {
			continue
		}
		// The provider sometimes omits the owner username; fall back to
		// the tab we were asked to sync.
		if rec.Handle == "" {
			rec.Handle = strings.TrimPrefix(handle, "@")
		}
		if err := s.Posts.UpsertCore(ctx, subscriberID, handle, rec); err != nil {
			return res, err
		}
		sig, err := s.applyVelocity(ctx, subscriberID, handle, rec, domain.CheckpointD1)
		if err != nil {
			return res, err
		}
		if rec.PostedAt != nil {
			if err := s.PostJobs.EnsureCheckpointJobs(ctx, subscriberID, spreadsheetID, handle, rec.PostURL, *rec.PostedAt); err != nil {
				return res, err
			}
		}
		row := s.rowFor(header, rec, domain.PerfScore(rec.MediaType, rec.Views, rec.Likes, rec.Comments, baseline), sig)
		if num, ok := existing[rec.PostURL]; ok {
			updates = append(updates, rowUpdate(sheetName, num, len(header), row))
			res.Updated++
		} else {
			appends = append(appends, row)
			res.Inserted++
		}
	}

	if err := s.flushRows(ctx, spreadsheetID, sheetName, updates, appends); err != nil {
		return res, err
	}

	if len(recs) > 0 && recs[0].PostURL != "" {
		u := recs[0].PostURL
		res.LastSeenPostURL = &u
	}
	return res, nil
}

// SyncPostBatch refreshes a batch of posts at a forced checkpoint in one
// provider run. The returned set holds the post URLs that came back;
// callers retry the rest.
func (s SyncService) SyncPostBatch(ctx domain.Context, subscriberID int64, spreadsheetID, handle, sheetName string, checkpoint domain.Checkpoint, postURLs []string) (map[string]bool, error) {
	results, err := s.Scraper.FetchPostBatch(ctx, handle, postURLs)
	if err != nil {
		return nil, err
	}
	found := make(map[string]bool, len(results))
	if len(results) == 0 {
		return found, nil
	}

	header, err := s.Sheets.EnsureHeader(ctx, spreadsheetID, sheetName)
	if err != nil {
		return nil, err
	}
	existing, err := s.existingRowIndex(ctx, spreadsheetID, sheetName, header)
	if err != nil {
		return nil, err
	}

	baseline := s.followerBaseline(ctx, subscriberID, handle)

	var updates []domain.RangeUpdate
	var appends [][]string
	for _, url := range postURLs {
		key := domain.ShortcodeFromURL(url)
		if key == "" {
			key = url
		}
		rec, ok := results[key]
		if !ok {
			continue
		}
		if rec.PostURL == "" {
			rec.PostURL = url
		}
		if rec.Handle == "" {
			rec.Handle = strings.TrimPrefix(handle, "@")
		}
		if err := s.Posts.UpsertCore(ctx, subscriberID, handle, rec); err != nil {
			return nil, err
		}
		sig, err := s.applyVelocity(ctx, subscriberID, handle, rec, checkpoint)
		if err != nil {
			return nil, err
		}
		row := s.rowFor(header, rec, domain.PerfScore(rec.MediaType, rec.Views, rec.Likes, rec.Comments, baseline), sig)
		if num, ok := existing[rec.PostURL]; ok {
			updates = append(updates, rowUpdate(sheetName, num, len(header), row))
		} else {
			appends = append(appends, row)
		}
		found[url] = true
	}

	if err := s.flushRows(ctx, spreadsheetID, sheetName, updates, appends); err != nil {
		return nil, err
	}
	return found, nil
}

func (s SyncService) existingRowIndex(ctx domain.Context, spreadsheetID, sheetName string, header []string) (map[string]int, error) {
	values, err := s.Sheets.GetRows(ctx, spreadsheetID, sheetName+"!A3:AZ10000")
	if err != nil {
		return nil, err
	}
	urlIdx := indexOf(header, "post_url")
	if urlIdx < 0 {
		urlIdx = 0
	}
	existing := make(map[string]int, len(values))
	for i, row := range values {
		if len(row) > urlIdx && row[urlIdx] != "" {
			existing[row[urlIdx]] = i + 3
		}
	}
	return existing, nil
}

func (s SyncService) flushRows(ctx domain.Context, spreadsheetID, sheetName string, updates []domain.RangeUpdate, appends [][]string) error {
	if len(updates) > 0 {
		if err := s.Sheets.BatchUpdate(ctx, spreadsheetID, updates); err != nil {
			return err
		}
	}
	if len(appends) > 0 {
		if err := s.Sheets.Append(ctx, spreadsheetID, sheetName+"!A3", appends); err != nil {
			return err
		}
	}
	observability.PostsUpsertedTotal.WithLabelValues("update").Add(float64(len(updates)))
	observability.PostsUpsertedTotal.WithLabelValues("insert").Add(float64(len(appends)))
	return s.Sheets.SortByPostedAt(ctx, spreadsheetID, sheetName)
}

// followerBaseline looks up the weekly followers count used by the
// image engagement-rate formula. Missing baselines are not an error.
func (s SyncService) followerBaseline(ctx domain.Context, subscriberID int64, handle string) *int64 {
	if n, err := s.Dir.LatestFollowers(ctx, subscriberID, handle); err == nil && n != nil {
		return n
	}
	n, err := s.Dir.LatestFollowers(ctx, subscriberID, "@"+strings.TrimPrefix(handle, "@"))
	if err != nil {
		return nil
	}
	return n
}

// rowSignal carries the velocity cells as they render in the sheet.
// The insufficient-data sentinel is already blanked out here.
type rowSignal struct {
	Tag        string
	Percentile string
	Stage      string
}

// applyVelocity records the checkpoint snapshot, ranks the post against
// its cohort and persists the signal and metric rows. The d21 checkpoint
// is gated on a hot d7: a post that never caught fire keeps its D7
// classification instead of getting a final-day ranking.
func (s SyncService) applyVelocity(ctx domain.Context, subscriberID int64, handle string, rec domain.PostRecord, forced domain.Checkpoint) (rowSignal, error) {
	if rec.PostedAt == nil {
		return rowSignal{}, nil
	}
	now := time.Now().UTC()
	age := now.Sub(*rec.PostedAt)

	checkpoint := forced
	if !checkpoint.Valid() {
		checkpoint = domain.CheckpointFromAge(age)
	}
	stage := domain.StageLabel(checkpoint, age)

	metricNow := domain.MetricValue(rec.MediaType, rec.Views, rec.Likes, rec.Comments)
	velocityNow := metricNow / float64(checkpoint.Days())

	if checkpoint == domain.CheckpointD21 {
		gated, sig, err := s.maybeKeepD7Signal(ctx, subscriberID, handle, rec, age)
		if err != nil {
			return rowSignal{}, err
		}
		if gated {
			return sig, nil
		}
	}

	if err := s.Snapshots.Upsert(ctx, subscriberID, handle, rec.PostURL, rec.MediaType, rec.PostedAt, checkpoint, rec.Views, rec.Likes, rec.Comments); err != nil {
		return rowSignal{}, err
	}
	snap, err := s.Snapshots.Get(ctx, subscriberID, handle, rec.PostURL)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return rowSignal{Stage: stage}, nil
		}
		return rowSignal{}, err
	}

	tag, percentile, err := s.classifyFromSnapshot(ctx, subscriberID, handle, snap, rec, checkpoint)
	if err != nil {
		return rowSignal{}, err
	}
	signalTag := tag
	if signalTag == "" {
		signalTag = domain.VelocityTag{Band: domain.BandSteady}.String()
	}

	sig := displaySignal(signalTag, percentile, stage)
	if err := s.Signals.Upsert(ctx, domain.PostSignal{
		SubscriberID:       subscriberID,
		Handle:             handle,
		PostURL:            rec.PostURL,
		MediaType:          rec.MediaType,
		PostedAt:           rec.PostedAt,
		Caption:            rec.Caption,
		VelocityTag:        signalTag,
		VelocityStage:      stage,
		VelocityPercentile: percentile,
	}); err != nil {
		return rowSignal{}, err
	}
	if err := s.Metrics.Upsert(ctx, domain.CheckpointMetric{
		SubscriberID:       subscriberID,
		Handle:             handle,
		PostURL:            rec.PostURL,
		Checkpoint:         checkpoint,
		StageLabel:         stage,
		Views:              rec.Views,
		Likes:              rec.Likes,
		Comments:           rec.Comments,
		MetricValue:        &metricNow,
		VelocityValue:      &velocityNow,
		VelocityTag:        signalTag,
		VelocityPercentile: percentile,
	}); err != nil {
		return rowSignal{}, err
	}
	return sig, nil
}

// maybeKeepD7Signal implements the d21 gate. When the stored d7 signal
// never went hot, the d7 classification is re-asserted and the d21
// refresh is not recorded.
func (s SyncService) maybeKeepD7Signal(ctx domain.Context, subscriberID int64, handle string, rec domain.PostRecord, age time.Duration) (bool, rowSignal, error) {
	snap, err := s.Snapshots.Get(ctx, subscriberID, handle, rec.PostURL)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, rowSignal{}, nil
		}
		return false, rowSignal{}, err
	}

	mediaType := snap.MediaType
	if mediaType == "" {
		mediaType = rec.MediaType
	}
	d7Tag, err := s.tagForCheckpoint(ctx, subscriberID, handle, mediaType, snap, rec, domain.CheckpointD7)
	if err != nil {
		return false, rowSignal{}, err
	}
	if domain.IsHotTag(d7Tag) {
		return false, rowSignal{}, nil
	}

	tag, percentile, err := s.classifyFromSnapshot(ctx, subscriberID, handle, snap, rec, domain.CheckpointD7)
	if err != nil {
		return false, rowSignal{}, err
	}
	signalTag := tag
	if signalTag == "" {
		signalTag = d7Tag
	}
	if signalTag == "" {
		signalTag = domain.VelocityTag{Band: domain.BandSteady}.String()
	}
	stage := domain.StageLabel(domain.CheckpointD7, age)
	sig := displaySignal(signalTag, percentile, stage)

	if err := s.Signals.Upsert(ctx, domain.PostSignal{
		SubscriberID:       subscriberID,
		Handle:             handle,
		PostURL:            rec.PostURL,
		MediaType:          rec.MediaType,
		PostedAt:           rec.PostedAt,
		Caption:            rec.Caption,
		VelocityTag:        signalTag,
		VelocityStage:      stage,
		VelocityPercentile: percentile,
	}); err != nil {
		return false, rowSignal{}, err
	}

	triple := snap.Triple(domain.CheckpointD7)
	var metricVal, velocityVal *float64
	if !triple.Empty() {
		m := domain.MetricValue(rec.MediaType, triple.Views, triple.Likes, triple.Comments)
		v := m / 7
		metricVal, velocityVal = &m, &v
	}
	if err := s.Metrics.Upsert(ctx, domain.CheckpointMetric{
		SubscriberID:       subscriberID,
		Handle:             handle,
		PostURL:            rec.PostURL,
		Checkpoint:         domain.CheckpointD7,
		StageLabel:         stage,
		Views:              triple.Views,
		Likes:              triple.Likes,
		Comments:           triple.Comments,
		MetricValue:        metricVal,
		VelocityValue:      velocityVal,
		VelocityTag:        signalTag,
		VelocityPercentile: percentile,
	}); err != nil {
		return false, rowSignal{}, err
	}
	return true, sig, nil
}

// classifyFromSnapshot ranks the post's stored checkpoint counters
// against its cohort. Returns ("", "") when the post has no counters at
// the checkpoint or the cohort is empty.
func (s SyncService) classifyFromSnapshot(ctx domain.Context, subscriberID int64, handle string, snap domain.PostSnapshot, rec domain.PostRecord, c domain.Checkpoint) (tag, percentile string, err error) {
	triple := snap.Triple(c)
	if triple.Empty() {
		return "", "", nil
	}
	perDay := domain.MetricValue(rec.MediaType, triple.Views, triple.Likes, triple.Comments) / float64(c.Days())

	mediaType := snap.MediaType
	if mediaType == "" {
		mediaType = rec.MediaType
	}
	pool, err := s.velocityPool(ctx, subscriberID, handle, mediaType, c)
	if err != nil {
		return "", "", err
	}
	cls := domain.Classify(c, pool, perDay)
	vt := cls.Tag

	// Late bloomer: low on day one, hot by day seven.
	if c == domain.CheckpointD7 && vt.Hot() {
		prev, perr := s.tagForCheckpoint(ctx, subscriberID, handle, mediaType, snap, rec, domain.CheckpointD1)
		if perr != nil {
			return "", "", perr
		}
		if !domain.IsHotTag(prev) {
			vt.LateBloomer = true
		}
	}
	return vt.String(), cls.Percentile, nil
}

// tagForCheckpoint is the tag-only classification used by gates.
func (s SyncService) tagForCheckpoint(ctx domain.Context, subscriberID int64, handle, mediaType string, snap domain.PostSnapshot, rec domain.PostRecord, c domain.Checkpoint) (string, error) {
	triple := snap.Triple(c)
	if triple.Empty() {
		return "", nil
	}
	perDay := domain.MetricValue(rec.MediaType, triple.Views, triple.Likes, triple.Comments) / float64(c.Days())
	pool, err := s.velocityPool(ctx, subscriberID, handle, mediaType, c)
	if err != nil {
		return "", err
	}
	return domain.Classify(c, pool, perDay).Tag.String(), nil
}

// velocityPool builds the per-day metric pool from all peer snapshots of
// the same handle, keeping only loose media-type matches.
func (s SyncService) velocityPool(ctx domain.Context, subscriberID int64, handle, mediaType string, c domain.Checkpoint) ([]float64, error) {
	rows, err := s.Snapshots.CohortRows(ctx, subscriberID, handle, c)
	if err != nil {
		return nil, err
	}
	days := float64(c.Days())
	pool := make([]float64, 0, len(rows))
	for _, row := range rows {
		if !domain.MediaTypeMatches(mediaType, row.MediaType) {
			continue
		}
		pool = append(pool, domain.MetricValue(row.MediaType, row.Views, row.Likes, row.Comments)/days)
	}
	return pool, nil
}

func displaySignal(signalTag, percentile, stage string) rowSignal {
	if signalTag == domain.InsufficientData {
		return rowSignal{Stage: stage}
	}
	return rowSignal{Tag: signalTag, Percentile: percentile, Stage: stage}
}

// rowFor renders one sheet row in header order. Unknown header columns
// come out blank so subscriber-customized headers never shift data.
func (s SyncService) rowFor(header []string, rec domain.PostRecord, perfScore string, sig rowSignal) []string {
	scanned := s.sheetTime(time.Now().UTC())
	cells := map[string]string{
		"post_url":            rec.PostURL,
		"posted_at":           s.sheetTimePtr(rec.PostedAt),
		"handle":              rec.Handle,
		"display_name":        rec.DisplayName,
		"followers_at_scan":   i64Cell(rec.FollowersAtScan),
		"media_type":          rec.MediaType,
		"is_pinned":           boolCell(rec.IsPinned),
		"views":               i64Cell(rec.Views),
		"likes":               i64Cell(rec.Likes),
		"comments":            i64Cell(rec.Comments),
		"perf_score":          perfScore,
		"velocity":            sig.Tag,
		"velocity_percentile": sig.Percentile,
		"velocity_stage":      sig.Stage,
		"caption":             rec.Caption,
		"hashtags":            rec.Hashtags,
		"caption_mentions":    rec.CaptionMentions,
		"tagged_users":        rec.TaggedUsers,
		"music_info":          rec.MusicInfo,
		"duration_seconds":    f64Cell(rec.DurationSeconds),
		"paid_partnership":    boolCell(rec.PaidPartnership),
		"sponsors":            rec.Sponsors,
		"display_url":         rec.DisplayURL,
		"video_url":           rec.VideoURL,
		"scanned_at":          scanned,
		"last_updated_at":     scanned,
	}
	row := make([]string, len(header))
	for i, col := range header {
		row[i] = cells[col]
	}
	return row
}

// sheetTime renders a timestamp as a locale-independent Sheets formula
// in the configured timezone.
func (s SyncService) sheetTime(t time.Time) string {
	loc := s.loc
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	return fmt.Sprintf("=DATE(%d,%d,%d)+TIME(%d,%d,%d)",
		lt.Year(), int(lt.Month()), lt.Day(), lt.Hour(), lt.Minute(), lt.Second())
}

func (s SyncService) sheetTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return s.sheetTime(*t)
}

func rowUpdate(sheetName string, rowNum, width int, row []string) domain.RangeUpdate {
	return domain.RangeUpdate{
		Range:  fmt.Sprintf("%s!A%d:%s%d", sheetName, rowNum, columnLetter(width), rowNum),
		Values: [][]string{row},
	}
}

func columnLetter(n int) string {
	out := ""
	for n > 0 {
		n--
		out = string(rune('A'+n%26)) + out
		n /= 26
	}
	return out
}

func indexOf(list []string, name string) int {
	for i, v := range list {
		if v == name {
			return i
		}
	}
	return -1
}

func i64Cell(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func f64Cell(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func boolCell(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
