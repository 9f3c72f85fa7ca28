package openrouter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Defaults and bounds for completion options. Option values are clamped
// rather than rejected because they are operator-supplied, not user-supplied.
const (
	DefaultBaseURL     = "https://openrouter.ai/api/v1"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 4096
	MaxTemperature     = 2.0
	MaxTokensCeiling   = 32768

	defaultCallTimeout = 60 * time.Second
	defaultIdleWindow  = 90 * time.Second

	// maxErrorBody bounds how much of an upstream error response is read.
	maxErrorBody = 64 * 1024
)

// ErrNotConfigured indicates the API key is not set.
var ErrNotConfigured = errors.New("openrouter api key not configured")

// APIError is an upstream-unavailable failure: transport succeeded but the
// backend answered with a non-2xx status.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("openrouter: upstream returned status %d", e.Status)
	}
	return fmt.Sprintf("openrouter: upstream returned status %d: %s", e.Status, e.Message)
}

// Options tune a single completion call.
type Options struct {
	Temperature float64
	MaxTokens   int
}

func (o Options) clamped() Options {
	if o.Temperature <= 0 {
		o.Temperature = DefaultTemperature
	} else if o.Temperature > MaxTemperature {
		o.Temperature = MaxTemperature
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	} else if o.MaxTokens > MaxTokensCeiling {
		o.MaxTokens = MaxTokensCeiling
	}
	return o
}

// Config carries the client settings resolved from the environment.
type Config struct {
	APIKey      string
	BaseURL     string
	SiteURL     string
	SiteName    string
	CallTimeout time.Duration
	IdleWindow  time.Duration
}

// Client talks to an OpenRouter-compatible chat completion backend. Complete
// performs blocking calls (reasoning, vision); StreamComplete opens a
// token-streaming call and hands back the raw wire frames.
type Client struct {
	cfg        Config
	httpClient *http.Client
	// streamClient has no overall timeout; stream lifetime is governed by
	// the request context and the per-read idle window.
	streamClient *http.Client
}

// NewClient builds a client from config, applying defaults.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.IdleWindow <= 0 {
		cfg.IdleWindow = defaultIdleWindow
	}
	return &Client{
		cfg:          cfg,
		httpClient:   &http.Client{Timeout: cfg.CallTimeout},
		streamClient: &http.Client{},
	}
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return strings.TrimSpace(c.cfg.APIKey) != ""
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Stream      bool      `json:"stream,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete performs one blocking chat completion and returns the full text.
func (c *Client) Complete(ctx context.Context, model string, messages []Message, opts Options) (string, error) {
	resp, err := c.post(ctx, c.httpClient, model, messages, opts, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("openrouter: decode completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("openrouter: completion response has no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// StreamComplete opens a streaming completion call. The returned Stream
// yields raw wire frames without buffering the response; it is finite and
// not restartable. The caller must Close it.
func (c *Client) StreamComplete(ctx context.Context, model string, messages []Message, opts Options) (*Stream, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	resp, err := c.post(streamCtx, c.streamClient, model, messages, opts, true)
	if err != nil {
		cancel()
		return nil, err
	}
	return newStream(resp.Body, cancel, c.cfg.IdleWindow), nil
}

func (c *Client) post(ctx context.Context, client *http.Client, model string, messages []Message, opts Options, stream bool) (*http.Response, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	opts = opts.clamped()
	payload, err := json.Marshal(completionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Stream:      stream,
	})
	if err != nil {
		return nil, fmt.Errorf("openrouter: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("openrouter: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.SiteURL != "" {
		req.Header.Set("HTTP-Referer", c.cfg.SiteURL)
	}
	if c.cfg.SiteName != "" {
		req.Header.Set("X-Title", c.cfg.SiteName)
	}
	if stream {
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Cache-Control", "no-cache")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openrouter: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{Status: resp.StatusCode}
		var parsed errorResponse
		if json.Unmarshal(body, &parsed) == nil {
			apiErr.Message = parsed.Error.Message
		}
		return nil, apiErr
	}
	return resp, nil
}

// Stream is the lazy sequence of raw frames from one streaming call.
// Each Next call returns one line of the backend's event framing; the
// per-read idle window aborts the underlying request when the backend
// goes silent.
type Stream struct {
	body     io.ReadCloser
	reader   *bufio.Reader
	cancel   context.CancelFunc
	watchdog *time.Timer
	idle     time.Duration
}

func newStream(body io.ReadCloser, cancel context.CancelFunc, idle time.Duration) *Stream {
	return &Stream{
		body:     body,
		reader:   bufio.NewReader(body),
		cancel:   cancel,
		watchdog: time.AfterFunc(idle, cancel),
		idle:     idle,
	}
}

// Next returns the next raw frame line, without its trailing newline.
// It returns io.EOF when the transport closes the stream.
func (s *Stream) Next() (string, error) {
	line, err := s.reader.ReadString('\n')
	s.watchdog.Reset(s.idle)
	if err != nil {
		if err == io.EOF && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Close aborts the call and releases the connection. Safe to call after EOF.
func (s *Stream) Close() error {
	s.watchdog.Stop()
	s.cancel()
	return s.body.Close()
}
