package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedmehq/feedme-worker/internal/domain"
)

func i64p(v int64) *int64 { return &v }

func TestMetricValue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mediaType string
		views     *int64
		likes     *int64
		comments  *int64
		want      float64
	}{
		{"video uses views", "Video", i64p(1200), i64p(100), i64p(10), 1200},
		{"reel uses views", "reel", i64p(500), i64p(999), nil, 500},
		{"sidecar weights comments", "Sidecar", i64p(500), i64p(100), i64p(25), 150},
		{"carousel weights comments", "carousel_album", nil, i64p(40), i64p(5), 50},
		{"image uses likes", "Image", i64p(900), i64p(70), i64p(30), 70},
		{"unknown uses likes", "", nil, i64p(12), nil, 12},
		{"all nil is zero", "Video", nil, nil, nil, 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := domain.MetricValue(tt.mediaType, tt.views, tt.likes, tt.comments)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDenseRankPercentile(t *testing.T) {
	t.Parallel()

	t.Run("empty pool", func(t *testing.T) {
		t.Parallel()
		_, ok := domain.DenseRankPercentile(nil, 10)
		assert.False(t, ok)
	})

	t.Run("single unique value is 50", func(t *testing.T) {
		t.Parallel()
		p, ok := domain.DenseRankPercentile([]float64{7, 7, 7}, 7)
		require.True(t, ok)
		assert.Equal(t, 50, p)
	})

	t.Run("ties share rank", func(t *testing.T) {
		t.Parallel()
		// 11 unique values descending; mpd=80 ranks 2nd.
		pool := []float64{100, 80, 80, 60, 40, 30, 25, 20, 15, 10, 5, 1}
		p, ok := domain.DenseRankPercentile(pool, 80)
		require.True(t, ok)
		assert.Equal(t, 11, p)
	})

	t.Run("top performer is 1", func(t *testing.T) {
		t.Parallel()
		pool := []float64{100, 80, 60, 40, 20}
		p, ok := domain.DenseRankPercentile(pool, 150)
		require.True(t, ok)
		assert.Equal(t, 1, p)
	})

	t.Run("below all values is 100", func(t *testing.T) {
		t.Parallel()
		pool := []float64{100, 80, 60, 40, 20}
		p, ok := domain.DenseRankPercentile(pool, 1)
		require.True(t, ok)
		assert.Equal(t, 100, p)
	})
}

func TestClassify(t *testing.T) {
	t.Parallel()

	t.Run("small cohort yields sentinel", func(t *testing.T) {
		t.Parallel()
		pool := make([]float64, 11)
		for i := range pool {
			pool[i] = float64(i + 1)
		}
		got := domain.Classify(domain.CheckpointD1, pool, 6)
		assert.Equal(t, domain.BandInsufficient, got.Tag.Band)
		assert.Equal(t, "insufficient_data", got.Tag.String())
		assert.Empty(t, got.Percentile)
	})

	t.Run("dense rank maps to fire band", func(t *testing.T) {
		t.Parallel()
		pool := []float64{100, 80, 80, 60, 40, 30, 25, 20, 15, 10, 5, 1}
		got := domain.Classify(domain.CheckpointD1, pool, 80)
		assert.Equal(t, "11%", got.Percentile)
		assert.Equal(t, domain.BandFire, got.Tag.Band)
		assert.Equal(t, "\U0001F525", got.Tag.String())
	})

	t.Run("empty pool yields no tag", func(t *testing.T) {
		t.Parallel()
		got := domain.Classify(domain.CheckpointD7, nil, 10)
		assert.Equal(t, domain.BandNone, got.Tag.Band)
		assert.Empty(t, got.Tag.String())
	})
}

func TestVelocityTagString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "\U0001F680", domain.VelocityTag{Band: domain.BandRocket}.String())
	assert.Equal(t, "☘️\U0001F680", domain.VelocityTag{Band: domain.BandRocket, LateBloomer: true}.String())
	assert.Equal(t, "", domain.VelocityTag{}.String())
	assert.Equal(t, "insufficient_data", domain.VelocityTag{Band: domain.BandInsufficient}.String())
}

func TestParseVelocityTag(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		band domain.VelocityBand
		late bool
	}{
		{"\U0001F680", domain.BandRocket, false},
		{"\U0001F525", domain.BandFire, false},
		{"✅", domain.BandSteady, false},
		{"\U0001F634", domain.BandSleeping, false},
		{"\U0001F440", domain.BandWatching, false},
		{"☘️\U0001F525", domain.BandFire, true},
		{"insufficient_data", domain.BandInsufficient, false},
		{"", domain.BandNone, false},
	}
	for _, tt := range tests {
		got := domain.ParseVelocityTag(tt.in)
		assert.Equal(t, tt.band, got.Band, "input %q", tt.in)
		assert.Equal(t, tt.late, got.LateBloomer, "input %q", tt.in)
	}
}

func TestIsHotTag(t *testing.T) {
	t.Parallel()

	assert.True(t, domain.IsHotTag("\U0001F525"))
	assert.True(t, domain.IsHotTag("☘️\U0001F680"))
	assert.False(t, domain.IsHotTag("✅"))
	assert.False(t, domain.IsHotTag(""))
}

func TestPerfScore(t *testing.T) {
	t.Parallel()

	t.Run("video divides by views", func(t *testing.T) {
		t.Parallel()
		got := domain.PerfScore("Video", i64p(1000), i64p(80), i64p(20), nil)
		assert.Equal(t, "10.00%", got)
	})

	t.Run("video without views is empty", func(t *testing.T) {
		t.Parallel()
		got := domain.PerfScore("Video", nil, i64p(80), i64p(20), i64p(5000))
		assert.Equal(t, "", got)
	})

	t.Run("image divides by followers baseline", func(t *testing.T) {
		t.Parallel()
		got := domain.PerfScore("Image", nil, i64p(40), i64p(10), i64p(1000))
		assert.Equal(t, "5.00%", got)
	})

	t.Run("image without baseline is empty", func(t *testing.T) {
		t.Parallel()
		got := domain.PerfScore("Image", nil, i64p(40), i64p(10), nil)
		assert.Equal(t, "", got)
	})
}

func TestMediaTypeMatches(t *testing.T) {
	t.Parallel()

	assert.True(t, domain.MediaTypeMatches("video", "Video"))
	assert.True(t, domain.MediaTypeMatches("reel", "video_reel"))
	assert.True(t, domain.MediaTypeMatches("", "image"))
	assert.True(t, domain.MediaTypeMatches("sidecar", ""))
	assert.False(t, domain.MediaTypeMatches("image", "video"))
}

func TestParsePercentile(t *testing.T) {
	t.Parallel()

	p, ok := domain.ParsePercentile("11%")
	require.True(t, ok)
	assert.Equal(t, 11, p)

	_, ok = domain.ParsePercentile("")
	assert.False(t, ok)
	_, ok = domain.ParsePercentile("n/a")
	assert.False(t, ok)
}
