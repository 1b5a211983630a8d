package domain

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// VelocityBand is the closed set of percentile bands a post can land in.
type VelocityBand int

const (
	BandNone VelocityBand = iota
	BandRocket
	BandFire
	BandSteady
	BandSleeping
	BandWatching
	BandInsufficient
)

const (
	emojiRocket   = "\U0001F680" // 🚀
	emojiFire     = "\U0001F525" // 🔥
	emojiSteady   = "✅"     // ✅
	emojiSleeping = "\U0001F634" // 😴
	emojiWatching = "\U0001F440" // 👀
	emojiClover   = "☘️" // ☘️

	// InsufficientData is the sentinel persisted when the cohort is too
	// small to rank; it renders as an empty cell in the spreadsheet.
	InsufficientData = "insufficient_data"
)

// VelocityTag pairs a band with the late-bloomer marker. The stored and
// displayed form is the emoji projection from String.
type VelocityTag struct {
	Band        VelocityBand
	LateBloomer bool
}

// String renders the tag in its storage form.
func (t VelocityTag) String() string {
	var inner string
	switch t.Band {
	case BandRocket:
		inner = emojiRocket
	case BandFire:
		inner = emojiFire
	case BandSteady:
		inner = emojiSteady
	case BandSleeping:
		inner = emojiSleeping
	case BandWatching:
		inner = emojiWatching
	case BandInsufficient:
		return InsufficientData
	default:
		return ""
	}
	if t.LateBloomer {
		return emojiClover + inner
	}
	return inner
}

// Hot reports whether the tag marks strong early traction.
func (t VelocityTag) Hot() bool { return t.Band == BandRocket || t.Band == BandFire }

// ParseVelocityTag reads a stored tag back into its structured form.
// Unknown content maps to BandNone.
func ParseVelocityTag(s string) VelocityTag {
	s = strings.TrimSpace(s)
	if s == "" {
		return VelocityTag{}
	}
	if s == InsufficientData {
		return VelocityTag{Band: BandInsufficient}
	}
	t := VelocityTag{LateBloomer: strings.Contains(s, emojiClover)}
	switch {
	case strings.Contains(s, emojiRocket):
		t.Band = BandRocket
	case strings.Contains(s, emojiFire):
		t.Band = BandFire
	case strings.Contains(s, emojiSleeping):
		t.Band = BandSleeping
	case strings.Contains(s, emojiWatching):
		t.Band = BandWatching
	case strings.Contains(s, emojiSteady):
		t.Band = BandSteady
	}
	return t
}

// IsHotTag reports whether a stored tag string contains a hot band.
func IsHotTag(s string) bool {
	return strings.Contains(s, emojiFire) || strings.Contains(s, emojiRocket)
}

// BandForPercentile maps a percentile to its band. 1% is the top performer.
func BandForPercentile(p int) VelocityBand {
	switch {
	case p <= 5:
		return BandRocket
	case p <= 15:
		return BandFire
	case p <= 35:
		return BandSteady
	}
	return BandSleeping
}

// IsVideo reports whether a media type counts as video for metric selection.
func IsVideo(mediaType string) bool {
	m := strings.ToLower(mediaType)
	return strings.Contains(m, "video") || strings.Contains(m, "reel")
}

// MetricValue selects the traction metric for a media type:
// views for video/reel, likes + 2*comments for sidecar/carousel,
// likes otherwise. Nil counts read as zero.
func MetricValue(mediaType string, views, likes, comments *int64) float64 {
	m := strings.ToLower(mediaType)
	if strings.Contains(m, "video") || strings.Contains(m, "reel") {
		return float64(i64(views))
	}
	if strings.Contains(m, "sidecar") || strings.Contains(m, "carousel") {
		return float64(i64(likes)) + 2*float64(i64(comments))
	}
	return float64(i64(likes))
}

func i64(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

// MediaTypeMatches applies the loose cohort match: substring in either
// direction, with empty values matching everything.
func MediaTypeMatches(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return true
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// DenseRankPercentile ranks value against the pool using dense ranking:
// unique values sorted descending, ties share a rank, result in [1,100]
// with 1% meaning top performer. A single-value pool yields 50%.
// ok is false for an empty pool.
func DenseRankPercentile(pool []float64, value float64) (p int, ok bool) {
	if len(pool) == 0 {
		return 0, false
	}
	uniq := make([]float64, 0, len(pool))
	seen := make(map[float64]struct{}, len(pool))
	for _, v := range pool {
		if _, dup := seen[v]; !dup {
			seen[v] = struct{}{}
			uniq = append(uniq, v)
		}
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(uniq)))
	if len(uniq) == 1 {
		return 50, true
	}
	rank := len(uniq)
	for i, v := range uniq {
		if value >= v {
			rank = i + 1
			break
		}
	}
	p = int(math.Round(1 + float64(rank-1)*99/float64(len(uniq)-1)))
	if p < 1 {
		p = 1
	}
	if p > 100 {
		p = 100
	}
	return p, true
}

// FormatPercentile renders a percentile for storage ("11%").
func FormatPercentile(p int) string { return strconv.Itoa(p) + "%" }

// ParsePercentile reads a stored "N%" value; ok is false for anything else.
func ParsePercentile(s string) (int, bool) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Classification is the outcome of ranking one post against its cohort.
type Classification struct {
	Tag        VelocityTag
	Percentile string // "N%" or empty
}

// Classify ranks metricPerDay against the cohort pool for a checkpoint.
// Pools below the checkpoint minimum yield the insufficient-data sentinel.
func Classify(c Checkpoint, pool []float64, metricPerDay float64) Classification {
	if len(pool) == 0 {
		return Classification{}
	}
	if len(pool) < MinCohortSize(c) {
		return Classification{Tag: VelocityTag{Band: BandInsufficient}}
	}
	p, ok := DenseRankPercentile(pool, metricPerDay)
	if !ok {
		return Classification{}
	}
	return Classification{
		Tag:        VelocityTag{Band: BandForPercentile(p)},
		Percentile: FormatPercentile(p),
	}
}

// PerfScore computes the engagement-rate column. Video and reels divide by
// views; images and carousels divide by the weekly followers baseline.
// Returns "" when the denominator is missing.
func PerfScore(mediaType string, views, likes, comments *int64, followersBaseline *int64) string {
	v := i64(views)
	engagement := float64(i64(likes) + i64(comments))
	if IsVideo(mediaType) {
		if v <= 0 {
			return ""
		}
		return fmt.Sprintf("%.2f%%", engagement/float64(v)*100)
	}
	if followersBaseline != nil && *followersBaseline > 0 {
		return fmt.Sprintf("%.2f%%", engagement/float64(*followersBaseline)*100)
	}
	return ""
}
