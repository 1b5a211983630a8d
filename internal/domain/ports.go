package domain

import "time"

// Repositories (ports)

// HandleQueue is the durable run_queue.
type HandleQueue interface {
	Enqueue(ctx Context, subscriberID int64, spreadsheetID, handle, runType string) error
	// FetchNext claims the oldest ready job, or returns nil when the queue
	// is empty. The claim is serialized with skip-locked semantics.
	FetchNext(ctx Context) (*HandleJob, error)
	MarkSuccess(ctx Context, id int64) error
	MarkRetry(ctx Context, id int64, attempt int, nextRunAt time.Time, errMsg string) error
	MarkFailed(ctx Context, id int64, errMsg string) error
}

// PostQueue is the durable post_queue of per-post checkpoint refreshes.
type PostQueue interface {
	// EnsureCheckpointJobs inserts the d3/d7/d21 jobs for a post; conflicts
	// on (subscriber, handle, post_url, checkpoint) are no-ops.
	EnsureCheckpointJobs(ctx Context, subscriberID int64, spreadsheetID, handle, postURL string, postedAt time.Time) error
	// FetchNextBatch claims up to n ready jobs sharing the anchor job's
	// (subscriber, handle, checkpoint) key.
	FetchNextBatch(ctx Context, n int) ([]PostJob, error)
	MarkSuccess(ctx Context, id int64) error
	MarkRetry(ctx Context, id int64, attempt int, nextRunAt time.Time, errMsg string) error
	MarkFailed(ctx Context, id int64, errMsg string) error
	MarkSkipped(ctx Context, id int64, reason string) error
}

// HealthStore is the DB-persisted circuit breaker shared by all workers.
type HealthStore interface {
	PauseUntil(ctx Context) (*time.Time, error)
	RecordSuccess(ctx Context) error
	// RecordFailure increments the failure counter; reaching triggerFailures
	// arms the cooldown and resets the counter. Returns the counter value
	// before reset and the pause deadline when armed.
	RecordFailure(ctx Context, errMsg string, triggerFailures, cooldownHours int) (int, *time.Time, error)
}

// SnapshotStore persists the per-post checkpoint triples.
type SnapshotStore interface {
	Upsert(ctx Context, subscriberID int64, handle, postURL, mediaType string, postedAt *time.Time, c Checkpoint, views, likes, comments *int64) error
	Get(ctx Context, subscriberID int64, handle, postURL string) (PostSnapshot, error)
	// CohortRows lists all peer snapshot rows for (subscriber, handle) whose
	// c-triple has any observed value.
	CohortRows(ctx Context, subscriberID int64, handle string, c Checkpoint) ([]CohortRow, error)
}

// SignalStore persists the user-visible classification per post.
type SignalStore interface {
	Upsert(ctx Context, s PostSignal) error
	IsD7Hot(ctx Context, subscriberID int64, handle, postURL string) (bool, error)
	// MapByHandle returns signals keyed by post shortcode for sheet repair.
	MapByHandle(ctx Context, subscriberID int64, handle string) (map[string]PostSignal, error)
	ListForEmbedding(ctx Context, subscriberID int64, tags []string, limit int) ([]EmbeddingSource, error)
	// RepairStages canonicalizes historical stage labels and re-derives tags
	// from stored percentiles.
	RepairStages(ctx Context, subscriberID int64) error
}

// MetricStore persists per-(post, checkpoint) metric rows.
type MetricStore interface {
	Upsert(ctx Context, m CheckpointMetric) error
	// RefreshFeederPairMetrics recomputes anchor-relative deltas for every
	// non-anchor feeder of the feed over the window.
	RefreshFeederPairMetrics(ctx Context, feedID int64, windowDays int) error
}

// AggregateStore rebuilds signal aggregates per feed and window.
type AggregateStore interface {
	Rebuild(ctx Context, feedID int64, lookbackDays int) error
}

// PostStore persists canonical post provenance.
type PostStore interface {
	UpsertCore(ctx Context, subscriberID int64, handle string, rec PostRecord) error
}

// Directory resolves subscribers, feeds and feeders.
type Directory interface {
	ListSubscribers(ctx Context) ([]Subscriber, error)
	ListFeeds(ctx Context) ([]Feed, error)
	FeedBySubscriber(ctx Context, subscriberID int64) (*Feed, error)
	// EnsureFeeders activates one feeder per handle and deactivates feeders
	// whose sheet tab disappeared.
	EnsureFeeders(ctx Context, subscriberID int64, handles []string) error
	UpsertHandleState(ctx Context, subscriberID int64, handle, sheetName, status string, lastSeenPostID, lastError *string) error
	UpsertProfileMetrics(ctx Context, subscriberID int64, p ProfileDetails) error
	LatestFollowers(ctx Context, subscriberID int64, handle string) (*int64, error)
}

// RunLogStore records per-handle-job run outcomes.
type RunLogStore interface {
	Start(ctx Context, subscriberID int64, spreadsheetID, handle, runType string) (int64, error)
	Finish(ctx Context, id int64, status string, itemsReturned, inserted, updated int, lastError *string) error
}

// EmbeddingStore persists embedding vectors keyed by
// (subscriber, handle, post_url, model, signal_type).
type EmbeddingStore interface {
	Exists(ctx Context, subscriberID int64, handle, postURL, model, signalType string) (bool, error)
	Upsert(ctx Context, subscriberID int64, handle, postURL, model, signalType, signalVersion, sourceText string, embedding []float64, metadata map[string]string) error
}

// Alert rule query rows.

type HotPostRow struct {
	FeederID           *int64
	Handle             string
	PostURL            string
	VelocityTag        string
	VelocityStage      string
	VelocityPercentile string
	VelocityValue      float64
}

type MomentumRow struct {
	FeederID *int64
	Handle   string
	PostURL  string
	V1       float64
	V2       float64
}

type RecordRow struct {
	FeederID    *int64
	Handle      string
	PostURL     string
	MetricValue float64
}

type FormatWinRow struct {
	FeederID    *int64
	Handle      string
	MediaType   string
	AvgVelocity float64
	N           int
}

type FatigueRow struct {
	SignalKey       string
	AdoptionRate    float64
	VelocityDelta   float64
	SaturationScore float64
	Confidence      float64
}

type WaveRow struct {
	MediaType string
	N         int
	HotRate   float64
}

type BreakoutRow struct {
	FeederID           *int64
	Handle             string
	PostURL            string
	VelocityPercentile string
	VelocityValue      float64
}

type EmbeddingRow struct {
	FeederID *int64
	Handle   string
	PostURL  string
	Vector   []float64
}

type PairRow struct {
	FeederID      int64
	Handle        string
	VelocityDelta float64
	PerfDelta     float64
	SampleSize    int
}

type TimingGapRow struct {
	DayOfWeek int
	N         int
}

// AlertStore backs the alert candidate engine.
type AlertStore interface {
	// RecentTypes returns alert types emitted for the feed within the window.
	RecentTypes(ctx Context, feedID int64, hours int) (map[string]bool, error)
	EngineState(ctx Context, feedID int64) (AlertEngineState, error)
	MarkScan(ctx Context, feedID int64, scannedAt time.Time) error
	// Insert persists a candidate; duplicates within the dedupe window are
	// silently dropped.
	Insert(ctx Context, c AlertCandidate) error

	HotPosts(ctx Context, feedID int64, since time.Time) ([]HotPostRow, error)
	MomentumDrops(ctx Context, feedID int64) ([]MomentumRow, error)
	PersonalRecord(ctx Context, feedID int64) (*RecordRow, error)
	FormatWin(ctx Context, feedID int64) (*FormatWinRow, error)
	SectorFatigue(ctx Context, feedID int64, since time.Time) (*FatigueRow, error)
	SectorWave(ctx Context, feedID int64, since time.Time) (*WaveRow, error)
	Breakout(ctx Context, feedID int64, since time.Time) (*BreakoutRow, error)
	RecentEmbeddings(ctx Context, feedID int64) ([]EmbeddingRow, error)
	CircleLeaders(ctx Context, feedID int64, since time.Time) ([]PairRow, error)
	TimingGap(ctx Context, feedID int64) (*TimingGapRow, error)
}

// RetentionStore prunes aged rows.
type RetentionStore interface {
	Cleanup(ctx Context) error
}

// Scraper is the fire-and-poll client for the external scraping provider.
type Scraper interface {
	FetchPosts(ctx Context, handle, runType string) ([]PostRecord, error)
	// FetchPostBatch scrapes up to len(postURLs) posts in one provider run;
	// results are keyed by shortcode (or URL when no shortcode parses).
	FetchPostBatch(ctx Context, handle string, postURLs []string) (map[string]PostRecord, error)
	FetchProfile(ctx Context, handle string) (ProfileDetails, error)
}

// Embedder turns one text into a vector.
type Embedder interface {
	Embed(ctx Context, text string) ([]float64, error)
	Model() string
}

// RangeUpdate is one spreadsheet write.
type RangeUpdate struct {
	Range  string
	Values [][]string
}

// SheetClient is the spreadsheet projection surface.
type SheetClient interface {
	ListSheetTitles(ctx Context, spreadsheetID string) ([]string, error)
	// EnsureHeader enforces the two header rows, migrating or repairing
	// misaligned data rows, and returns the effective header.
	EnsureHeader(ctx Context, spreadsheetID, sheetName string) ([]string, error)
	GetRows(ctx Context, spreadsheetID, rangeA1 string) ([][]string, error)
	BatchUpdate(ctx Context, spreadsheetID string, updates []RangeUpdate) error
	Append(ctx Context, spreadsheetID, rangeA1 string, rows [][]string) error
	SortByPostedAt(ctx Context, spreadsheetID, sheetName string) error
	UpsertProfileSnapshot(ctx Context, spreadsheetID, sheetName string, p ProfileDetails, sampledAtLabel string) error
}
