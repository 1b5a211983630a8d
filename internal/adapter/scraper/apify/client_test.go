package apify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedmehq/feedme-worker/internal/config"
	"github.com/feedmehq/feedme-worker/internal/domain"
)

func testConfig(baseURL string) config.Config {
	return config.Config{
		ApifyToken:                "test-token",
		ApifyActorID:              "actor-1",
		ApifyBaseURL:              baseURL,
		ApifyRunTimeout:           5 * time.Second,
		ApifyPollInterval:         time.Millisecond,
		ApifyInputTemplateDaily:   `{"directUrls":["https://www.instagram.com/{handle}/"],"resultsLimit":100,"resultsType":"posts"}`,
		ApifyInputTemplateWeekly:  `{"directUrls":["https://www.instagram.com/{handle}/"],"resultsLimit":200,"resultsType":"posts"}`,
		ApifyInputTemplateDetails: `{"directUrls":["https://www.instagram.com/{handle}/"],"resultsLimit":1,"resultsType":"details"}`,
		ApifyInputTemplatePostURL: `{"directUrls":["{post_url}"],"resultsLimit":1,"resultsType":"posts"}`,
	}
}

func newActorServer(t *testing.T, finalStatus string, items []map[string]any) (*httptest.Server, *map[string]any) {
	t.Helper()
	var polls int32
	var lastInput map[string]any

	mux := http.NewServeMux()
	mux.HandleFunc("/acts/actor-1/runs", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "test-token", r.URL.Query().Get("token"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&lastInput))
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"id": "run-1"}})
	})
	mux.HandleFunc("/actor-runs/run-1", func(w http.ResponseWriter, r *http.Request) {
		status := "RUNNING"
		if atomic.AddInt32(&polls, 1) >= 2 {
			status = finalStatus
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{
			"id": "run-1", "status": status, "defaultDatasetId": "ds-1",
		}})
	})
	mux.HandleFunc("/datasets/ds-1/items", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "true", r.URL.Query().Get("clean"))
		_ = json.NewEncoder(w).Encode(items)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &lastInput
}

func TestClient_FetchPosts(t *testing.T) {
	t.Parallel()

	items := []map[string]any{
		{"url": "https://www.instagram.com/p/aaa/", "likesCount": float64(10), "ownerUsername": "acme"},
		{"url": "https://www.instagram.com/p/bbb/", "likesCount": float64(20), "ownerUsername": "acme"},
	}
	srv, lastInput := newActorServer(t, "SUCCEEDED", items)

	c := New(testConfig(srv.URL))
	posts, err := c.FetchPosts(context.Background(), "@acme", "daily")
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, "https://www.instagram.com/p/aaa/", posts[0].PostURL)

	urls, ok := (*lastInput)["directUrls"].([]any)
	require.True(t, ok)
	assert.Equal(t, "https://www.instagram.com/acme/", urls[0])
}

func TestClient_FetchPosts_FailedRun(t *testing.T) {
	t.Parallel()

	srv, _ := newActorServer(t, "ABORTED", nil)
	c := New(testConfig(srv.URL))
	_, err := c.FetchPosts(context.Background(), "@acme", "daily")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProtocol)
	assert.Contains(t, err.Error(), "ABORTED")
}

func TestClient_FetchPosts_Timeout(t *testing.T) {
	t.Parallel()

	srv, _ := newActorServer(t, "RUNNING", nil)
	cfg := testConfig(srv.URL)
	cfg.ApifyRunTimeout = 20 * time.Millisecond
	c := New(cfg)

	_, err := c.FetchPosts(context.Background(), "@acme", "daily")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamTimeout)
}

func TestClient_FetchPosts_MissingRunID(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{}})
	}))
	t.Cleanup(srv.Close)

	c := New(testConfig(srv.URL))
	_, err := c.FetchPosts(context.Background(), "@acme", "daily")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProtocol)
}

func TestClient_FetchPostBatch(t *testing.T) {
	t.Parallel()

	items := []map[string]any{
		{"url": "https://www.instagram.com/p/AbC123/", "likesCount": float64(10)},
		{"url": "https://www.instagram.com/reel/XyZ789/", "likesCount": float64(20)},
	}
	srv, lastInput := newActorServer(t, "SUCCEEDED", items)
	c := New(testConfig(srv.URL))

	batch := []string{
		"https://www.instagram.com/p/AbC123/",
		" https://www.instagram.com/reel/XyZ789/ ",
		"",
	}
	got, err := c.FetchPostBatch(context.Background(), "@acme", batch)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Contains(t, got, "abc123")
	assert.Contains(t, got, "xyz789")

	urls, ok := (*lastInput)["directUrls"].([]any)
	require.True(t, ok)
	assert.Len(t, urls, 2)
	assert.Equal(t, float64(2), (*lastInput)["resultsLimit"])
}

func TestClient_FetchPostBatch_Empty(t *testing.T) {
	t.Parallel()

	c := New(testConfig("http://unused.invalid"))
	got, err := c.FetchPostBatch(context.Background(), "@acme", []string{"", "  "})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestClient_FetchProfile(t *testing.T) {
	t.Parallel()

	items := []map[string]any{
		{"fullName": "Acme Inc", "followersCount": float64(90000), "verified": true},
	}
	srv, lastInput := newActorServer(t, "SUCCEEDED", items)
	c := New(testConfig(srv.URL))

	p, err := c.FetchProfile(context.Background(), "@acme")
	require.NoError(t, err)
	assert.Equal(t, "@acme", p.Handle)
	require.NotNil(t, p.FollowersCount)
	assert.Equal(t, int64(90000), *p.FollowersCount)

	assert.Equal(t, "details", fmt.Sprint((*lastInput)["resultsType"]))
}

func TestClient_FetchProfile_NoItems(t *testing.T) {
	t.Parallel()

	srv, _ := newActorServer(t, "SUCCEEDED", []map[string]any{})
	c := New(testConfig(srv.URL))

	p, err := c.FetchProfile(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "@acme", p.Handle)
	assert.Nil(t, p.FollowersCount)
}
