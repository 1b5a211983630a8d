// Package openai implements the embedding provider client against any
// OpenAI-compatible embeddings endpoint, including OpenRouter.
package openai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/feedmehq/feedme-worker/internal/config"
	"github.com/feedmehq/feedme-worker/internal/domain"
)

// Client implements domain.Embedder.
type Client struct {
	cfg config.Config
	hc  *http.Client
}

// New constructs an embedding client.
func New(cfg config.Config) *Client {
	return &Client{
		cfg: cfg,
		hc:  &http.Client{Timeout: 60 * time.Second},
	}
}

// Model returns the configured embedding model id.
func (c *Client) Model() string { return c.cfg.EmbeddingModel }

type embedResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed turns one text into a vector. Transient HTTP failures retry
// with exponential backoff; 4xx responses fail immediately.
func (c *Client) Embed(ctx domain.Context, text string) ([]float64, error) {
	if c.cfg.EmbeddingAPIKey == "" {
		return nil, fmt.Errorf("%w: EMBEDDING_API_KEY missing", domain.ErrInvalidArgument)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: embedding text is empty", domain.ErrInvalidArgument)
	}

	body, err := json.Marshal(map[string]any{
		"model": c.cfg.EmbeddingModel,
		"input": text,
	})
	if err != nil {
		return nil, fmt.Errorf("embed: marshal request: %w", err)
	}
	url := strings.TrimRight(c.cfg.EmbeddingBaseURL, "/") + "/embeddings"

	operation := func() ([]float64, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.EmbeddingAPIKey)
		req.Header.Set("Content-Type", "application/json")
		if strings.Contains(c.cfg.EmbeddingBaseURL, "openrouter.ai") {
			if c.cfg.OpenRouterSiteURL != "" {
				req.Header.Set("HTTP-Referer", c.cfg.OpenRouterSiteURL)
			}
			if c.cfg.OpenRouterAppName != "" {
				req.Header.Set("X-Title", c.cfg.OpenRouterAppName)
			}
		}

		resp, err := c.hc.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, backoff.Permanent(fmt.Errorf("embed: status %d: %s", resp.StatusCode, string(snippet)))
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("embed: status %d", resp.StatusCode)
		}
		var out embedResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("embed: decode response: %w", err)
		}
		if len(out.Data) == 0 {
			return nil, backoff.Permanent(fmt.Errorf("%w: empty embedding response", domain.ErrProtocol))
		}
		if len(out.Data[0].Embedding) == 0 {
			return nil, backoff.Permanent(fmt.Errorf("%w: missing embedding vector", domain.ErrProtocol))
		}
		return out.Data[0].Embedding, nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 500 * time.Millisecond
	expo.MaxInterval = 10 * time.Second
	expo.MaxElapsedTime = 2 * time.Minute
	return backoff.RetryWithData(operation, backoff.WithContext(expo, ctx))
}
