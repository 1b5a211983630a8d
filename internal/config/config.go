// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"dev"`
	PostgresDSN string `env:"POSTGRES_DSN,required"`
	// SpreadsheetID is the default (legacy single-tenant) spreadsheet. New
	// subscribers carry their own spreadsheet id; this one seeds the default
	// subscriber on boot.
	SpreadsheetID string `env:"SPREADSHEET_ID,required"`
	Timezone      string `env:"TZ" envDefault:"UTC"`

	ApifyToken        string        `env:"APIFY_TOKEN,required"`
	ApifyActorID      string        `env:"APIFY_ACTOR_ID,required"`
	ApifyBaseURL      string        `env:"APIFY_BASE_URL" envDefault:"https://api.apify.com/v2"`
	ApifyMaxItems     int           `env:"APIFY_MAX_ITEMS" envDefault:"100"`
	ApifyRunTimeout   time.Duration `env:"APIFY_RUN_TIMEOUT" envDefault:"15m"`
	ApifyPollInterval time.Duration `env:"APIFY_POLL_INTERVAL" envDefault:"10s"`

	ApifyInputTemplateDaily   string `env:"APIFY_INPUT_TEMPLATE_DAILY" envDefault:"{\"addParentData\":false,\"directUrls\":[\"https://www.instagram.com/{handle}/\"],\"onlyPostsNewerThan\":\"3 days\",\"resultsLimit\":100,\"resultsType\":\"posts\",\"searchType\":\"user\"}"`
	ApifyInputTemplateWeekly  string `env:"APIFY_INPUT_TEMPLATE_WEEKLY"`
	ApifyInputTemplateDetails string `env:"APIFY_INPUT_TEMPLATE_DETAILS" envDefault:"{\"addParentData\":false,\"directUrls\":[\"https://www.instagram.com/{handle}/\"],\"resultsLimit\":1,\"resultsType\":\"details\",\"searchType\":\"user\"}"`
	ApifyInputTemplatePostURL string `env:"APIFY_INPUT_TEMPLATE_POST_URL" envDefault:"{\"addParentData\":false,\"directUrls\":[\"{post_url}\"],\"resultsLimit\":1,\"resultsType\":\"posts\"}"`

	// RetryBackoffMinutes is the per-attempt backoff schedule; a job whose
	// attempt count exceeds the schedule length fails terminally.
	RetryBackoffMinutes     []int `env:"RETRY_BACKOFF_MINUTES" envSeparator:"," envDefault:"15,15,15,15,15,15"`
	CooldownTriggerFailures int   `env:"APIFY_COOLDOWN_TRIGGER_FAILURES" envDefault:"5"`
	CooldownHours           int   `env:"APIFY_COOLDOWN_HOURS" envDefault:"3"`

	PostBatchSize int `env:"POST_BATCH_SIZE" envDefault:"10"`

	SheetHeader       string   `env:"SHEET_HEADER" envDefault:"post_url|posted_at|handle|display_name|media_type|is_pinned|views|likes|comments|perf_score|velocity|velocity_percentile|velocity_stage|caption|hashtags|caption_mentions|tagged_users|music_info|paid_partnership|sponsors|display_url|video_url|scanned_at|last_updated_at"`
	SheetDescriptions string   `env:"SHEET_DESCRIPTIONS" envDefault:"Unique link to post (do not edit)|Post date/time from Instagram (DD-MM-YY hh:mm AM/PM)|Instagram handle|Display name|Format: Video / Image / Sidecar (carousel)|Whether pinned by creator|Total views (Reels)|Total likes|Total comments|Engagement rate percent (backend computed: video by views, image/sidecar by weekly followers baseline)|Velocity emoji from percentile bands (rocket/fire/check/sleeping; clover for late bloomer)|Velocity percentile rank at same checkpoint cohort using metric_per_day (1% = top performer)|Velocity stage (D1 post added, D2 next-day update, D3 checkpoint, D7 gate, D21 final)|Post caption text|Hashtags comma separated|Mentions found in caption|Users tagged in post|Music used short|Whether post is a paid partnership|Brands involved or sponsors|Thumbnail preview link|Video file link (Reels)|When system scanned this post|When this row was last updated"`
	IgnoreSheets      []string `env:"IGNORE_SHEETS" envSeparator:"," envDefault:"Config,Logs,README"`

	GoogleCredentialsFile string `env:"GOOGLE_CREDENTIALS_FILE" envDefault:"/app/credentials/service_account.json"`

	EmbeddingAPIKey   string   `env:"EMBEDDING_API_KEY"`
	EmbeddingBaseURL  string   `env:"EMBEDDING_BASE_URL" envDefault:"https://api.openai.com/v1"`
	EmbeddingModel    string   `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	OpenRouterSiteURL string   `env:"OPENROUTER_SITE_URL"`
	OpenRouterAppName string   `env:"OPENROUTER_APP_NAME" envDefault:"feedme-worker"`
	EmbedOnlyTags     string   `env:"EMBED_ONLY_TAGS" envDefault:"🔥,🚀"`
	EmbedBatchLimit   int      `env:"EMBED_BATCH_LIMIT" envDefault:"100"`
	EmbedSignalTypes  []string `env:"EMBED_SIGNAL_TYPES" envSeparator:"," envDefault:"caption_semantic,performance_semantic"`

	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	if cfg.ApifyInputTemplateWeekly == "" {
		cfg.ApifyInputTemplateWeekly = cfg.ApifyInputTemplateDaily
	}
	if len(cfg.RetryBackoffMinutes) == 0 {
		cfg.RetryBackoffMinutes = []int{15}
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// HeaderList returns the sheet header columns.
func (c Config) HeaderList() []string { return ParseList(c.SheetHeader) }

// DescriptionList returns the sheet description row, length-aligned to the
// header (padded with blanks or truncated).
func (c Config) DescriptionList() []string {
	header := c.HeaderList()
	descs := ParseList(c.SheetDescriptions)
	return alignSchema(header, descs)
}

// EmbedTagList returns the tags that qualify a post for embedding.
func (c Config) EmbedTagList() []string { return ParseList(c.EmbedOnlyTags) }

// BackoffSchedule converts the configured minute slots to durations.
func (c Config) BackoffSchedule() []time.Duration {
	out := make([]time.Duration, 0, len(c.RetryBackoffMinutes))
	for _, m := range c.RetryBackoffMinutes {
		out = append(out, time.Duration(m)*time.Minute)
	}
	return out
}

// ParseList splits a pipe- or comma-delimited setting into trimmed non-empty
// entries. Pipe wins when both separators appear so commas can live inside
// description text.
func ParseList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	sep := ","
	if strings.Contains(raw, "|") {
		sep = "|"
	}
	var out []string
	for _, part := range strings.Split(raw, sep) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func alignSchema(header, descs []string) []string {
	if len(descs) == len(header) {
		return descs
	}
	if len(descs) < len(header) {
		aligned := make([]string, len(header))
		copy(aligned, descs)
		return aligned
	}
	return descs[:len(header)]
}
