// Package search queries the knowledge-base search backend for articles
// similar to a candidate title. The KB machine uses it for duplicate
// detection before publishing.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const defaultLimit = 5

// Client queries the article search endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// New creates a search client for the given endpoint.
func New(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type searchResponse struct {
	Results []struct {
		Number string  `json:"number"`
		Title  string  `json:"title"`
		Score  float64 `json:"score"`
	} `json:"results"`
}

// FindSimilar returns "number: title" strings for existing articles
// similar to the query, best match first.
func (c *Client) FindSimilar(ctx context.Context, query string) ([]string, error) {
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	u.Path = "/api/v1/articles/search"

	q := u.Query()
	q.Set("q", query)
	q.Set("limit", fmt.Sprintf("%d", defaultLimit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("article search failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("article search returned %d: %s", resp.StatusCode, string(body))
	}

	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	out := make([]string, 0, len(sr.Results))
	for _, r := range sr.Results {
		out = append(out, fmt.Sprintf("%s: %s", r.Number, r.Title))
	}
	return out, nil
}
