package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// JobStatus enumerates queue row states. A job is claimable while
// pending or retry, owned by exactly one worker while running, and
// terminal in done, failed or skipped.
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
	JobRetry   JobStatus = "retry"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
	JobSkipped JobStatus = "skipped"
)

// Subscriber is one external account scope; it owns a spreadsheet and a feed.
type Subscriber struct {
	ID            int64
	Name          string
	SpreadsheetID string
}

// Feed groups the feeders a subscriber tracks. Mode is "market" or
// "anchor"; anchor mode requires exactly one feeder with role=anchor.
type Feed struct {
	ID           int64
	SubscriberID int64
	Name         string
	Mode         string
	MaxFeeders   int
	Status       string
}

// FeedModeAnchor enables the competitive alert stream.
const FeedModeAnchor = "anchor"

// HandleJob is one run_queue row: a scheduled scrape of a handle's recent posts.
type HandleJob struct {
	ID            int64
	SubscriberID  int64
	SpreadsheetID string
	Handle        string
	RunType       string
	Status        JobStatus
	Attempt       int
	NextRunAt     time.Time
	LastError     string
}

// PostJob is one post_queue row: a checkpoint refresh for a single post.
type PostJob struct {
	ID            int64
	SubscriberID  int64
	SpreadsheetID string
	Handle        string
	PostURL       string
	Checkpoint    Checkpoint
	RequiresD7Hot bool
	Status        JobStatus
	Attempt       int
	NextRunAt     time.Time
	LastError     string
}

// ApifyHealth is the singleton circuit-breaker row for the scraping provider.
type ApifyHealth struct {
	ConsecutiveFailures int
	PauseUntil          *time.Time
	LastError           string
}

// SnapshotTriple is one checkpoint's observed counters.
type SnapshotTriple struct {
	At       *time.Time
	Views    *int64
	Likes    *int64
	Comments *int64
}

// Empty reports whether no counter was ever observed.
func (t SnapshotTriple) Empty() bool {
	return t.Views == nil && t.Likes == nil && t.Comments == nil
}

// PostSnapshot holds the four checkpoint triples for one post.
// media_type is first-write-wins; triples are last-write-wins.
type PostSnapshot struct {
	SubscriberID int64
	Handle       string
	PostURL      string
	MediaType    string
	PostedAt     *time.Time
	D1           SnapshotTriple
	D3           SnapshotTriple
	D7           SnapshotTriple
	D21          SnapshotTriple
}

// Triple returns the stored counters for a checkpoint.
func (s PostSnapshot) Triple(c Checkpoint) SnapshotTriple {
	switch c {
	case CheckpointD1:
		return s.D1
	case CheckpointD3:
		return s.D3
	case CheckpointD7:
		return s.D7
	case CheckpointD21:
		return s.D21
	}
	return SnapshotTriple{}
}

// CohortRow is one peer post's stored counters at a checkpoint, used to
// build the ranking pool.
type CohortRow struct {
	MediaType string
	Views     *int64
	Likes     *int64
	Comments  *int64
}

// PostSignal is the current user-visible classification for one post.
type PostSignal struct {
	SubscriberID       int64
	Handle             string
	PostURL            string
	MediaType          string
	PostedAt           *time.Time
	Caption            string
	VelocityTag        string
	VelocityStage      string
	VelocityPercentile string
}

// CheckpointMetric is the idempotent per-(post, checkpoint) metric row.
type CheckpointMetric struct {
	SubscriberID       int64
	Handle             string
	PostURL            string
	Checkpoint         Checkpoint
	StageLabel         string
	MediaType          string
	Views              *int64
	Likes              *int64
	Comments           *int64
	MetricValue        *float64
	VelocityValue      *float64
	VelocityTag        string
	VelocityPercentile string
	PerfScore          *string
}

// PostRecord is the normalized shape of one scraped post. The normalizer
// collapses the provider's alternative field names; downstream code never
// sees raw items.
type PostRecord struct {
	PostURL         string
	PostedAt        *time.Time
	Handle          string
	DisplayName     string
	FollowersAtScan *int64
	MediaType       string
	IsPinned        bool
	Views           *int64
	Likes           *int64
	Comments        *int64
	Caption         string
	Hashtags        string
	CaptionMentions string
	TaggedUsers     string
	MusicInfo       string
	PaidPartnership bool
	Sponsors        string
	DisplayURL      string
	VideoURL        string
	DurationSeconds *float64
}

// ProfileDetails is the normalized shape of one profile-details scrape.
type ProfileDetails struct {
	Handle           string
	ProfileURL       string
	FullName         string
	BusinessCategory string
	Biography        string
	FollowersCount   *int64
	FollowsCount     *int64
	PostsCount       *int64
	Verified         bool
	ProfilePicURL    string
}

// EmbeddingSource is one hot post selected for embedding upserts.
type EmbeddingSource struct {
	SubscriberID       int64
	Handle             string
	PostURL            string
	MediaType          string
	PostedAt           *time.Time
	Caption            string
	VelocityTag        string
	VelocityStage      string
	VelocityPercentile string
	Views              int64
	Likes              int64
	Comments           int64
}

// AlertCandidate is a generated alert event before persistence.
type AlertCandidate struct {
	FeedID        int64
	FeederID      *int64
	UITab         string
	Category      string
	Color         string
	Urgency       string
	Family        string
	Type          string
	Impact        float64
	Confidence    float64
	Freshness     float64
	Novelty       float64
	Actionability float64
	Title         string
	Body          string
	Payload       map[string]any
}

// Priority is the weighted ranking score used to truncate per-feed output.
func (c AlertCandidate) Priority() float64 {
	return c.Impact*0.35 + c.Confidence*0.25 + c.Freshness*0.20 + c.Novelty*0.10 + c.Actionability*0.10
}

// DedupeKey hashes the candidate's identity within a UTC day bucket.
func (c AlertCandidate) DedupeKey(now time.Time) string {
	var feeder int64
	if c.FeederID != nil {
		feeder = *c.FeederID
	}
	base := fmt.Sprintf("%d|%d|%s|%s|%s",
		c.FeedID, feeder, c.Type,
		strings.ToLower(strings.TrimSpace(c.Title)),
		now.UTC().Format("2006-01-02"))
	sum := sha256.Sum256([]byte(base))
	return hex.EncodeToString(sum[:])
}

// Alert UI colors per category.
const (
	AlertColorVelocity     = "#CCFF00"
	AlertColorCompetitive  = "#FF2D8A"
	AlertColorIntelligence = "#39A8FF"
)

// AlertEngineState holds the per-feed scan watermarks.
type AlertEngineState struct {
	FeedID            int64
	LastHotScanAt     *time.Time
	LastPatternScanAt *time.Time
}

// SignalAggregate is one rebuilt row per (feed, signal_type, key, window).
type SignalAggregate struct {
	FeedID          int64
	SignalType      string
	SignalKey       string
	WindowKey       string
	AdoptionRate    float64
	VelocityDelta   float64
	SaturationScore float64
	Confidence      float64
	SampleSize      int
}

var shortcodeRe = regexp.MustCompile(`(?i)/(?:p|reel|tv)/([A-Za-z0-9_-]+)`)

// ShortcodeFromURL extracts the lowercase post shortcode from a post URL,
// or "" when the URL has no recognizable path.
func ShortcodeFromURL(url string) string {
	m := shortcodeRe.FindStringSubmatch(strings.TrimSpace(url))
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}
