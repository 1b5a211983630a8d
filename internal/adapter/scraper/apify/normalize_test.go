package apify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeItem(t *testing.T) {
	t.Parallel()

	item := map[string]any{
		"shortCode":       "AbC123",
		"takenAtTimestamp": float64(1754042400),
		"ownerUsername":   "acme",
		"ownerFullName":   "Acme Inc",
		"type":            "Video",
		"videoPlayCount":  float64(15000),
		"likesCount":      float64(320),
		"commentsCount":   float64(41),
		"caption":         "launch day #rocket #rocket @partner",
		"isPinned":        true,
		"isPaidPartnership": true,
		"sponsors":        []any{"brand-a", "brand-b"},
		"taggedUsers":     []any{map[string]any{"username": "partner"}, "other"},
		"videoDuration":   float64(12.5),
		"owner": map[string]any{
			"edge_followed_by": map[string]any{"count": float64(88000)},
		},
	}

	rec := normalizeItem(item)
	assert.Equal(t, "https://www.instagram.com/p/AbC123/", rec.PostURL)
	require.NotNil(t, rec.PostedAt)
	assert.Equal(t, time.Unix(1754042400, 0).UTC(), *rec.PostedAt)
	assert.Equal(t, "acme", rec.Handle)
	assert.Equal(t, "Acme Inc", rec.DisplayName)
	require.NotNil(t, rec.FollowersAtScan)
	assert.Equal(t, int64(88000), *rec.FollowersAtScan)
	require.NotNil(t, rec.Views)
	assert.Equal(t, int64(15000), *rec.Views)
	assert.Equal(t, "rocket", rec.Hashtags)
	assert.Equal(t, "partner", rec.CaptionMentions)
	assert.Equal(t, "@partner\n@other", rec.TaggedUsers)
	assert.Equal(t, "brand-a,brand-b", rec.Sponsors)
	assert.True(t, rec.IsPinned)
	assert.True(t, rec.PaidPartnership)
	require.NotNil(t, rec.DurationSeconds)
	assert.Equal(t, 12.5, *rec.DurationSeconds)
}

func TestNormalizeItem_ZeroCountersAreAbsent(t *testing.T) {
	t.Parallel()

	rec := normalizeItem(map[string]any{
		"url":        "https://www.instagram.com/reel/xyz/",
		"likesCount": float64(0),
		"views":      float64(0),
	})
	assert.Nil(t, rec.Likes)
	assert.Nil(t, rec.Views)
	assert.Nil(t, rec.Comments)
	assert.Nil(t, rec.PostedAt)
}

func TestNormalizeItem_MillisecondTimestamp(t *testing.T) {
	t.Parallel()

	rec := normalizeItem(map[string]any{
		"url":       "https://www.instagram.com/p/abc/",
		"timestamp": float64(1754042400000),
	})
	require.NotNil(t, rec.PostedAt)
	assert.Equal(t, time.Unix(1754042400, 0).UTC(), *rec.PostedAt)
}

func TestNormalizeProfile(t *testing.T) {
	t.Parallel()

	details := map[string]any{
		"fullName":             "Acme Inc",
		"businessCategoryName": "Retail",
		"biography":            "we sell things",
		"followersCount":       float64(90000),
		"followingCount":       float64(150),
		"postsCount":           float64(412),
		"isVerified":           true,
		"profilePicUrlHD":      "https://cdn.example.com/pic.jpg",
	}

	p := normalizeProfile(details, "acme")
	assert.Equal(t, "@acme", p.Handle)
	assert.Equal(t, "https://www.instagram.com/acme/", p.ProfileURL)
	assert.Equal(t, "Retail", p.BusinessCategory)
	require.NotNil(t, p.FollowersCount)
	assert.Equal(t, int64(90000), *p.FollowersCount)
	require.NotNil(t, p.FollowsCount)
	assert.Equal(t, int64(150), *p.FollowsCount)
	assert.True(t, p.Verified)
}

func TestSanitizeMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		msg   string
		token string
		want  string
	}{
		{name: "empty message", msg: "", want: "Unknown error"},
		{name: "token literal masked", msg: "401 from apify_api_secret", token: "apify_api_secret", want: "401 from ***"},
		{
			name: "token query param masked",
			msg:  "GET https://api.apify.com/v2/actor-runs/1?token=abc123 failed",
			want: "GET https://api.apify.com/v2/actor-runs/1?token=*** failed",
		},
		{
			name: "case insensitive param",
			msg:  "Token=abc123&x=1",
			want: "Token=***&x=1",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, SanitizeMessage(tt.msg, tt.token))
		})
	}
}
