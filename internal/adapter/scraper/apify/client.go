// Package apify implements the scraping provider client. Runs are
// fire-and-poll: start an actor run, poll its status until it leaves the
// RUNNING/READY states, then read the default dataset.
package apify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/feedmehq/feedme-worker/internal/adapter/observability"
	"github.com/feedmehq/feedme-worker/internal/config"
	"github.com/feedmehq/feedme-worker/internal/domain"
)

// Client implements domain.Scraper against the Apify actor-runs API.
type Client struct {
	cfg config.Config
	hc  *http.Client
}

// New constructs a Client with a request timeout that covers the start,
// poll and dataset calls individually; the overall run deadline comes
// from cfg.ApifyRunTimeout.
func New(cfg config.Config) *Client {
	return &Client{
		cfg: cfg,
		hc:  &http.Client{Timeout: 60 * time.Second},
	}
}

var tokenQueryRe = regexp.MustCompile(`(?i)(token=)[^&\s]+`)

// SanitizeMessage strips the provider token from an error message before
// it is persisted or logged. Empty messages become "Unknown error".
func SanitizeMessage(msg, token string) string {
	if strings.TrimSpace(msg) == "" {
		return "Unknown error"
	}
	if token != "" {
		msg = strings.ReplaceAll(msg, token, "***")
	}
	return tokenQueryRe.ReplaceAllString(msg, "${1}***")
}

// buildInput renders the run-type's input template. Templates carry
// {handle} and {post_url} placeholders.
func (c *Client) buildInput(handle, runType, postURL string) (map[string]any, error) {
	template := c.cfg.ApifyInputTemplateDaily
	switch runType {
	case "weekly":
		template = c.cfg.ApifyInputTemplateWeekly
	case "details":
		template = c.cfg.ApifyInputTemplateDetails
	case "post_url":
		template = c.cfg.ApifyInputTemplatePostURL
	}
	payload := strings.ReplaceAll(template, "{handle}", handle)
	payload = strings.ReplaceAll(payload, "{post_url}", postURL)
	var input map[string]any
	if err := json.Unmarshal([]byte(payload), &input); err != nil {
		return nil, fmt.Errorf("apify: input template for %s: %w", runType, err)
	}
	return input, nil
}

type runData struct {
	Data struct {
		ID               string `json:"id"`
		Status           string `json:"status"`
		DefaultDatasetID string `json:"defaultDatasetId"`
	} `json:"data"`
}

func (c *Client) getJSON(ctx domain.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("apify: status %d: %s", resp.StatusCode, string(snippet))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// runPayload starts an actor run and blocks until its dataset is ready.
func (c *Client) runPayload(ctx domain.Context, input map[string]any) ([]map[string]any, error) {
	start := time.Now()
	items, err := c.doRun(ctx, input)
	observability.ScrapeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		observability.ScrapeFailuresTotal.Inc()
	}
	return items, err
}

func (c *Client) doRun(ctx domain.Context, input map[string]any) ([]map[string]any, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("apify: marshal input: %w", err)
	}
	startURL := fmt.Sprintf("%s/acts/%s/runs?token=%s", c.cfg.ApifyBaseURL, c.cfg.ApifyActorID, c.cfg.ApifyToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, startURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("apify: start run: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("apify: start run: %w", err)
	}
	var started runData
	err = json.NewDecoder(resp.Body).Decode(&started)
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("apify: start run: status %d", resp.StatusCode)
	}
	if err != nil {
		return nil, fmt.Errorf("apify: start run: %w", err)
	}
	runID := started.Data.ID
	if runID == "" {
		return nil, fmt.Errorf("%w: run did not return a run id", domain.ErrProtocol)
	}
	slog.Debug("apify run started", slog.String("run_id", runID))

	deadline := time.Now().Add(c.cfg.ApifyRunTimeout)
	status := "RUNNING"
	var check runData
	for status == "RUNNING" || status == "READY" {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: apify run timed out", domain.ErrUpstreamTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.cfg.ApifyPollInterval):
		}
		checkURL := fmt.Sprintf("%s/actor-runs/%s?token=%s", c.cfg.ApifyBaseURL, runID, c.cfg.ApifyToken)
		if err := c.getJSON(ctx, checkURL, &check); err != nil {
			return nil, fmt.Errorf("apify: poll run: %w", err)
		}
		status = check.Data.Status
	}
	if status != "SUCCEEDED" {
		return nil, fmt.Errorf("%w: run finished with status %s", domain.ErrProtocol, status)
	}
	datasetID := check.Data.DefaultDatasetID
	if datasetID == "" {
		return nil, fmt.Errorf("%w: run missing dataset id", domain.ErrProtocol)
	}

	itemsURL := fmt.Sprintf("%s/datasets/%s/items?clean=true&format=json", c.cfg.ApifyBaseURL, datasetID)
	var items []map[string]any
	if err := c.getJSON(ctx, itemsURL, &items); err != nil {
		return nil, fmt.Errorf("apify: dataset items: %w", err)
	}
	slog.Debug("apify run finished",
		slog.String("run_id", runID),
		slog.Int("items", len(items)))
	return items, nil
}

// FetchPosts scrapes a handle's recent posts for the run type.
func (c *Client) FetchPosts(ctx domain.Context, handle, runType string) ([]domain.PostRecord, error) {
	input, err := c.buildInput(strings.TrimPrefix(handle, "@"), runType, "")
	if err != nil {
		return nil, err
	}
	items, err := c.runPayload(ctx, input)
	if err != nil {
		return nil, err
	}
	out := make([]domain.PostRecord, 0, len(items))
	for _, item := range items {
		out = append(out, normalizeItem(item))
	}
	return out, nil
}

// FetchPostBatch scrapes the given post URLs in one run. Results are
// keyed by shortcode, falling back to the raw URL when none parses.
func (c *Client) FetchPostBatch(ctx domain.Context, handle string, postURLs []string) (map[string]domain.PostRecord, error) {
	urls := make([]string, 0, len(postURLs))
	for _, u := range postURLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return map[string]domain.PostRecord{}, nil
	}
	input, err := c.buildInput(strings.TrimPrefix(handle, "@"), "post_url", urls[0])
	if err != nil {
		return nil, err
	}
	input["directUrls"] = urls
	limit := 0
	if v, ok := input["resultsLimit"].(float64); ok {
		limit = int(v)
	}
	if len(urls) > limit {
		limit = len(urls)
	}
	input["resultsLimit"] = limit

	items, err := c.runPayload(ctx, input)
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.PostRecord, len(items))
	for _, item := range items {
		rec := normalizeItem(item)
		key := domain.ShortcodeFromURL(rec.PostURL)
		if key == "" {
			key = rec.PostURL
		}
		if key != "" {
			out[key] = rec
		}
	}
	return out, nil
}

// FetchProfile scrapes a handle's profile details. A run that returns
// no items yields an empty ProfileDetails with only the handle set.
func (c *Client) FetchProfile(ctx domain.Context, handle string) (domain.ProfileDetails, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(handle), "@")
	input, err := c.buildInput(clean, "details", "")
	if err != nil {
		return domain.ProfileDetails{}, err
	}
	items, err := c.runPayload(ctx, input)
	if err != nil {
		return domain.ProfileDetails{}, err
	}
	if len(items) == 0 {
		return domain.ProfileDetails{Handle: "@" + clean}, nil
	}
	return normalizeProfile(items[0], clean), nil
}
