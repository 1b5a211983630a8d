package usecase

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/feedmehq/feedme-worker/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestColumnLetter(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "A", columnLetter(1))
	assert.Equal(t, "Z", columnLetter(26))
	assert.Equal(t, "AA", columnLetter(27))
	assert.Equal(t, "X", columnLetter(24))
}

func TestSheetTimeFormula(t *testing.T) {
	t.Parallel()

	s := SyncService{loc: time.UTC}
	got := s.sheetTime(time.Date(2026, 8, 3, 9, 5, 30, 0, time.UTC))
	assert.Equal(t, "=DATE(2026,8,3)+TIME(9,5,30)", got)
}

func TestCanonicalStage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		stage, tag, want string
	}{
		{"C3", "", "D3"},
		{"d7", "", "D7"},
		{"C21", "", "D21"},
		{"WATCH", "", "D2"},
		{"C1R", "", "D2"},
		{"D1", "", "D1"},
		{"anything", "\U0001F440", "D2"},
		{"X9", "", "X9"},
		{"", "", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, canonicalStage(tt.stage, tt.tag), "stage=%q tag=%q", tt.stage, tt.tag)
	}
}

func TestBuildSignalTexts(t *testing.T) {
	t.Parallel()

	texts := buildSignalTexts(domain.EmbeddingSource{
		Handle:             "@acme",
		MediaType:          "Video",
		Caption:            "launch day",
		VelocityTag:        "\U0001F525",
		VelocityStage:      "D3",
		VelocityPercentile: "9%",
		Views:              1200,
		Likes:              80,
		Comments:           6,
	})

	assert.Equal(t,
		"handle: @acme\nmedia_type: Video\nvelocity_tag: \U0001F525\nvelocity_stage: D3\nvelocity_percentile: 9%\ncaption: launch day",
		texts["caption_semantic"])
	assert.Equal(t,
		"handle: @acme\nmedia_type: Video\nviews: 1200\nlikes: 80\ncomments: 6\nvelocity_tag: \U0001F525\nvelocity_stage: D3\nvelocity_percentile: 9%",
		texts["performance_semantic"])
}

func TestCosine(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1.0, cosine([]float64{1, 0}, []float64{1, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosine([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.Zero(t, cosine([]float64{1, 0}, []float64{1}))
	assert.Zero(t, cosine(nil, nil))
}

func TestDayName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Sunday", dayName(0))
	assert.Equal(t, "Saturday", dayName(6))
	assert.Equal(t, "Unknown day", dayName(7))
}

func TestDisplaySignal(t *testing.T) {
	t.Parallel()

	sig := displaySignal(domain.InsufficientData, "40%", "D3")
	assert.Empty(t, sig.Tag)
	assert.Empty(t, sig.Percentile)
	assert.Equal(t, "D3", sig.Stage)

	sig = displaySignal("\U0001F680", "3%", "D1")
	assert.Equal(t, "\U0001F680", sig.Tag)
	assert.Equal(t, "3%", sig.Percentile)
}
