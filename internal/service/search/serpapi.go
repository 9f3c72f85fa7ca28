// Package search adapts an external web search backend (SerpApi) for the
// chat pipeline. The adapter performs one bounded query per call and never
// retries; callers decide how to treat failures.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/lumenchat/backend/internal/model/chat"
)

// DefaultResultCount bounds how many results one search returns.
const DefaultResultCount = 5

const defaultTimeout = 15 * time.Second

// DefaultBaseURL is the SerpApi endpoint.
const DefaultBaseURL = "https://serpapi.com/search.json"

var (
	// ErrNotConfigured indicates the search credential is missing. Distinct
	// from ErrUnavailable so callers can fail a turn that explicitly
	// requested search against a misconfigured deployment.
	ErrNotConfigured = errors.New("search api key not configured")
	// ErrUnavailable indicates the search backend could not be reached or
	// answered with an error.
	ErrUnavailable = errors.New("search backend unavailable")
)

// Options tune one search call.
type Options struct {
	ResultCount int
	Language    string
	Region      string
}

func (o Options) withDefaults() Options {
	if o.ResultCount <= 0 {
		o.ResultCount = DefaultResultCount
	}
	if o.Language == "" {
		o.Language = "en"
	}
	if o.Region == "" {
		o.Region = "us"
	}
	return o
}

// Config carries the adapter settings resolved from the environment.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// SerpClient queries SerpApi's Google engine.
type SerpClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewSerpClient builds a client from config, applying defaults.
func NewSerpClient(cfg Config) *SerpClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &SerpClient{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}
}

type serpResponse struct {
	Error          string `json:"error"`
	OrganicResults []struct {
		Title   string `json:"title"`
		Snippet string `json:"snippet"`
		Link    string `json:"link"`
	} `json:"organic_results"`
}

// Search runs one query and returns results in backend order, without
// deduplication or re-ranking. An empty result list with a nil error is a
// successful search that found nothing.
func (c *SerpClient) Search(ctx context.Context, query string, opts Options) ([]chat.SearchResult, error) {
	if c.cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}

	opts = opts.withDefaults()
	params := url.Values{}
	params.Set("engine", "google")
	params.Set("q", query)
	params.Set("num", strconv.Itoa(opts.ResultCount))
	params.Set("hl", opts.Language)
	params.Set("gl", opts.Region)
	params.Set("api_key", c.cfg.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("search: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var parsed serpResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, parsed.Error)
	}

	results := make([]chat.SearchResult, 0, len(parsed.OrganicResults))
	for _, item := range parsed.OrganicResults {
		if len(results) == opts.ResultCount {
			break
		}
		results = append(results, chat.SearchResult{
			Title:   item.Title,
			Snippet: item.Snippet,
			URL:     item.Link,
		})
	}
	return results, nil
}
