package usecase

import (
	"time"

	"github.com/feedmehq/feedme-worker/internal/domain"
)

// Hand-rolled recording fakes for the ports the services consume.

type fakeDirectory struct {
	subscribers []domain.Subscriber
	feeds       []domain.Feed
	feed        *domain.Feed
	followers   map[string]int64

	ensuredHandles  [][]string
	handleStates    []string
	profileMetrics  []domain.ProfileDetails
	listSubsErr     error
	ensureErr       error
	profileErr      error
	handleStatesErr error
}

func (f *fakeDirectory) ListSubscribers(domain.Context) ([]domain.Subscriber, error) {
	return f.subscribers, f.listSubsErr
}

func (f *fakeDirectory) ListFeeds(domain.Context) ([]domain.Feed, error) { return f.feeds, nil }

func (f *fakeDirectory) FeedBySubscriber(domain.Context, int64) (*domain.Feed, error) {
	return f.feed, nil
}

func (f *fakeDirectory) EnsureFeeders(_ domain.Context, _ int64, handles []string) error {
	f.ensuredHandles = append(f.ensuredHandles, handles)
	return f.ensureErr
}

func (f *fakeDirectory) UpsertHandleState(_ domain.Context, _ int64, handle, _, status string, _, _ *string) error {
	f.handleStates = append(f.handleStates, handle+":"+status)
	return f.handleStatesErr
}

func (f *fakeDirectory) UpsertProfileMetrics(_ domain.Context, _ int64, p domain.ProfileDetails) error {
	f.profileMetrics = append(f.profileMetrics, p)
	return f.profileErr
}

func (f *fakeDirectory) LatestFollowers(_ domain.Context, _ int64, handle string) (*int64, error) {
	if n, ok := f.followers[handle]; ok {
		v := n
		return &v, nil
	}
	return nil, nil
}

type fakeSheetClient struct {
	titles  []string
	header  []string
	rows    [][]string
	rowsErr error

	updates   []domain.RangeUpdate
	appends   [][]string
	sorted    int
	snapshots []string
}

func (f *fakeSheetClient) ListSheetTitles(domain.Context, string) ([]string, error) {
	return f.titles, nil
}

func (f *fakeSheetClient) EnsureHeader(domain.Context, string, string) ([]string, error) {
	return f.header, nil
}

func (f *fakeSheetClient) GetRows(domain.Context, string, string) ([][]string, error) {
	return f.rows, f.rowsErr
}

func (f *fakeSheetClient) BatchUpdate(_ domain.Context, _ string, updates []domain.RangeUpdate) error {
	f.updates = append(f.updates, updates...)
	return nil
}

func (f *fakeSheetClient) Append(_ domain.Context, _, _ string, rows [][]string) error {
	f.appends = append(f.appends, rows...)
	return nil
}

func (f *fakeSheetClient) SortByPostedAt(domain.Context, string, string) error {
	f.sorted++
	return nil
}

func (f *fakeSheetClient) UpsertProfileSnapshot(_ domain.Context, _, sheetName string, _ domain.ProfileDetails, _ string) error {
	f.snapshots = append(f.snapshots, sheetName)
	return nil
}

type fakeScraper struct {
	posts    []domain.PostRecord
	postsErr error
	batch    map[string]domain.PostRecord
	batchErr error
	profile  domain.ProfileDetails
	profErr  error

	fetchedHandles []string
	batchURLs      [][]string
}

func (f *fakeScraper) FetchPosts(_ domain.Context, handle, _ string) ([]domain.PostRecord, error) {
	f.fetchedHandles = append(f.fetchedHandles, handle)
	return f.posts, f.postsErr
}

func (f *fakeScraper) FetchPostBatch(_ domain.Context, _ string, postURLs []string) (map[string]domain.PostRecord, error) {
	f.batchURLs = append(f.batchURLs, postURLs)
	return f.batch, f.batchErr
}

func (f *fakeScraper) FetchProfile(_ domain.Context, handle string) (domain.ProfileDetails, error) {
	f.fetchedHandles = append(f.fetchedHandles, handle)
	return f.profile, f.profErr
}

type fakeHandleQueue struct {
	enqueued []string
	job      *domain.HandleJob

	successes []int64
	retries   []retryCall
	failures  []int64
}

type retryCall struct {
	ID      int64
	Attempt int
	NextRun time.Time
	Msg     string
}

func (f *fakeHandleQueue) Enqueue(_ domain.Context, _ int64, _, handle, _ string) error {
	f.enqueued = append(f.enqueued, handle)
	return nil
}

func (f *fakeHandleQueue) FetchNext(domain.Context) (*domain.HandleJob, error) { return f.job, nil }

func (f *fakeHandleQueue) MarkSuccess(_ domain.Context, id int64) error {
	f.successes = append(f.successes, id)
	return nil
}

func (f *fakeHandleQueue) MarkRetry(_ domain.Context, id int64, attempt int, nextRunAt time.Time, errMsg string) error {
	f.retries = append(f.retries, retryCall{ID: id, Attempt: attempt, NextRun: nextRunAt, Msg: errMsg})
	return nil
}

func (f *fakeHandleQueue) MarkFailed(_ domain.Context, id int64, _ string) error {
	f.failures = append(f.failures, id)
	return nil
}

type fakePostQueue struct {
	ensured []string
	batch   []domain.PostJob

	successes []int64
	retries   []retryCall
	failures  []int64
	skips     map[int64]string
}

func (f *fakePostQueue) EnsureCheckpointJobs(_ domain.Context, _ int64, _, _, postURL string, _ time.Time) error {
	f.ensured = append(f.ensured, postURL)
	return nil
}

func (f *fakePostQueue) FetchNextBatch(domain.Context, int) ([]domain.PostJob, error) {
	return f.batch, nil
}

func (f *fakePostQueue) MarkSuccess(_ domain.Context, id int64) error {
	f.successes = append(f.successes, id)
	return nil
}

func (f *fakePostQueue) MarkRetry(_ domain.Context, id int64, attempt int, nextRunAt time.Time, errMsg string) error {
	f.retries = append(f.retries, retryCall{ID: id, Attempt: attempt, NextRun: nextRunAt, Msg: errMsg})
	return nil
}

func (f *fakePostQueue) MarkFailed(_ domain.Context, id int64, _ string) error {
	f.failures = append(f.failures, id)
	return nil
}

func (f *fakePostQueue) MarkSkipped(_ domain.Context, id int64, reason string) error {
	if f.skips == nil {
		f.skips = map[int64]string{}
	}
	f.skips[id] = reason
	return nil
}

type fakeHealth struct {
	pauseUntil *time.Time
	armAt      *time.Time

	successes int
	failures  []string
}

func (f *fakeHealth) PauseUntil(domain.Context) (*time.Time, error) { return f.pauseUntil, nil }

func (f *fakeHealth) RecordSuccess(domain.Context) error {
	f.successes++
	return nil
}

func (f *fakeHealth) RecordFailure(_ domain.Context, errMsg string, _, _ int) (int, *time.Time, error) {
	f.failures = append(f.failures, errMsg)
	return len(f.failures), f.armAt, nil
}

type fakeSnapshotStore struct {
	snapshot domain.PostSnapshot
	getErr   error
	cohort   []domain.CohortRow

	upserts []domain.Checkpoint
}

func (f *fakeSnapshotStore) Upsert(_ domain.Context, _ int64, _, _, _ string, _ *time.Time, c domain.Checkpoint, _, _, _ *int64) error {
	f.upserts = append(f.upserts, c)
	return nil
}

func (f *fakeSnapshotStore) Get(domain.Context, int64, string, string) (domain.PostSnapshot, error) {
	return f.snapshot, f.getErr
}

func (f *fakeSnapshotStore) CohortRows(domain.Context, int64, string, domain.Checkpoint) ([]domain.CohortRow, error) {
	return f.cohort, nil
}

type fakeSignalStore struct {
	d7Hot     bool
	signalMap map[string]domain.PostSignal
	sources   []domain.EmbeddingSource

	upserts   []domain.PostSignal
	repaired  []int64
	mapErr    error
	repairErr error
}

func (f *fakeSignalStore) Upsert(_ domain.Context, s domain.PostSignal) error {
	f.upserts = append(f.upserts, s)
	return nil
}

func (f *fakeSignalStore) IsD7Hot(domain.Context, int64, string, string) (bool, error) {
	return f.d7Hot, nil
}

func (f *fakeSignalStore) MapByHandle(domain.Context, int64, string) (map[string]domain.PostSignal, error) {
	return f.signalMap, f.mapErr
}

func (f *fakeSignalStore) ListForEmbedding(domain.Context, int64, []string, int) ([]domain.EmbeddingSource, error) {
	return f.sources, nil
}

func (f *fakeSignalStore) RepairStages(_ domain.Context, subscriberID int64) error {
	f.repaired = append(f.repaired, subscriberID)
	return f.repairErr
}

type fakeMetricStore struct {
	upserts   []domain.CheckpointMetric
	refreshed []int64
}

func (f *fakeMetricStore) Upsert(_ domain.Context, m domain.CheckpointMetric) error {
	f.upserts = append(f.upserts, m)
	return nil
}

func (f *fakeMetricStore) RefreshFeederPairMetrics(_ domain.Context, feedID int64, _ int) error {
	f.refreshed = append(f.refreshed, feedID)
	return nil
}

type fakePostStore struct {
	cores []domain.PostRecord
}

func (f *fakePostStore) UpsertCore(_ domain.Context, _ int64, _ string, rec domain.PostRecord) error {
	f.cores = append(f.cores, rec)
	return nil
}

type fakeRunLog struct {
	starts   int
	finishes []string
}

func (f *fakeRunLog) Start(domain.Context, int64, string, string, string) (int64, error) {
	f.starts++
	return int64(f.starts), nil
}

func (f *fakeRunLog) Finish(_ domain.Context, _ int64, status string, _, _, _ int, _ *string) error {
	f.finishes = append(f.finishes, status)
	return nil
}

type fakeEmbeddingStore struct {
	existing map[string]bool

	upserts []string
}

func (f *fakeEmbeddingStore) Exists(_ domain.Context, _ int64, _, postURL, _, signalType string) (bool, error) {
	return f.existing[postURL+"|"+signalType], nil
}

func (f *fakeEmbeddingStore) Upsert(_ domain.Context, _ int64, _, postURL, _, signalType, _, _ string, _ []float64, _ map[string]string) error {
	f.upserts = append(f.upserts, postURL+"|"+signalType)
	return nil
}

type fakeEmbedder struct {
	vector []float64
	err    error

	texts []string
}

func (f *fakeEmbedder) Embed(_ domain.Context, text string) ([]float64, error) {
	f.texts = append(f.texts, text)
	return f.vector, f.err
}

func (f *fakeEmbedder) Model() string { return "test-embed-model" }

type fakeAlertStore struct {
	recent     map[string]bool
	state      domain.AlertEngineState
	hot        []domain.HotPostRow
	drops      []domain.MomentumRow
	record     *domain.RecordRow
	formatWin  *domain.FormatWinRow
	fatigue    *domain.FatigueRow
	wave       *domain.WaveRow
	breakout   *domain.BreakoutRow
	embeddings []domain.EmbeddingRow
	leaders    []domain.PairRow
	timing     *domain.TimingGapRow

	inserted []domain.AlertCandidate
	scans    []time.Time
}

func (f *fakeAlertStore) RecentTypes(domain.Context, int64, int) (map[string]bool, error) {
	if f.recent == nil {
		return map[string]bool{}, nil
	}
	return f.recent, nil
}

func (f *fakeAlertStore) EngineState(_ domain.Context, feedID int64) (domain.AlertEngineState, error) {
	st := f.state
	st.FeedID = feedID
	return st, nil
}

func (f *fakeAlertStore) MarkScan(_ domain.Context, _ int64, scannedAt time.Time) error {
	f.scans = append(f.scans, scannedAt)
	return nil
}

func (f *fakeAlertStore) Insert(_ domain.Context, c domain.AlertCandidate) error {
	f.inserted = append(f.inserted, c)
	return nil
}

func (f *fakeAlertStore) HotPosts(domain.Context, int64, time.Time) ([]domain.HotPostRow, error) {
	return f.hot, nil
}

func (f *fakeAlertStore) MomentumDrops(domain.Context, int64) ([]domain.MomentumRow, error) {
	return f.drops, nil
}

func (f *fakeAlertStore) PersonalRecord(domain.Context, int64) (*domain.RecordRow, error) {
	return f.record, nil
}

func (f *fakeAlertStore) FormatWin(domain.Context, int64) (*domain.FormatWinRow, error) {
	return f.formatWin, nil
}

func (f *fakeAlertStore) SectorFatigue(domain.Context, int64, time.Time) (*domain.FatigueRow, error) {
	return f.fatigue, nil
}

func (f *fakeAlertStore) SectorWave(domain.Context, int64, time.Time) (*domain.WaveRow, error) {
	return f.wave, nil
}

func (f *fakeAlertStore) Breakout(domain.Context, int64, time.Time) (*domain.BreakoutRow, error) {
	return f.breakout, nil
}

func (f *fakeAlertStore) RecentEmbeddings(domain.Context, int64) ([]domain.EmbeddingRow, error) {
	return f.embeddings, nil
}

func (f *fakeAlertStore) CircleLeaders(domain.Context, int64, time.Time) ([]domain.PairRow, error) {
	return f.leaders, nil
}

func (f *fakeAlertStore) TimingGap(domain.Context, int64) (*domain.TimingGapRow, error) {
	return f.timing, nil
}

type fakeAggregateStore struct {
	rebuilt []int64
}

func (f *fakeAggregateStore) Rebuild(_ domain.Context, feedID int64, _ int) error {
	f.rebuilt = append(f.rebuilt, feedID)
	return nil
}

type fakeRetentionStore struct {
	cleanups int
}

func (f *fakeRetentionStore) Cleanup(domain.Context) error {
	f.cleanups++
	return nil
}

func i64p(v int64) *int64 { return &v }
