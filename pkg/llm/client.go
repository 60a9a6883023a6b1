package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultBaseURL     = "https://api.openai.com/v1"
	defaultModel       = "gpt-4o-mini"
	defaultTimeout     = 2 * time.Minute
	defaultMaxRetries  = 3
	defaultBackoffBase = 1 * time.Second
	defaultBackoffMax  = 30 * time.Second

	// maxResponseBody caps how much of a completion response we buffer
	maxResponseBody = 10 << 20
)

// ErrMissingAPIKey indicates the client was constructed without credentials
var ErrMissingAPIKey = errors.New("llm api key is required")

// Config holds connection settings for an OpenAI-compatible chat completion API
type Config struct {
	APIKey      string
	BaseURL     string  // API root, e.g. https://api.openai.com/v1
	Model       string
	Temperature float64 // used by Complete; CompleteJSON always runs at zero
	Timeout     time.Duration
	MaxRetries  int // retries after the first attempt
	RateLimit   int // requests per second, 0 disables client-side limiting
}

// Client calls a chat completion endpoint with retries, exponential backoff
// and client-side rate limiting
type Client struct {
	cfg         Config
	endpoint    string
	httpClient  *http.Client
	limiter     *rate.Limiter
	backoffBase time.Duration
	backoffMax  time.Duration
	sleeper     func(time.Duration)
}

// Option customizes client construction
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRetryBackoff adjusts the exponential backoff window between retries
func WithRetryBackoff(base, max time.Duration) Option {
	return func(c *Client) {
		if base > 0 {
			c.backoffBase = base
		}
		if max > 0 {
			c.backoffMax = max
		}
	}
}

// WithSleeper replaces the retry sleep function. Tests use this to observe
// delays without waiting for them.
func WithSleeper(fn func(time.Duration)) Option {
	return func(c *Client) {
		if fn != nil {
			c.sleeper = fn
		}
	}
}

// New creates a chat completion client
func New(cfg Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	// Apply defaults
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	endpoint, err := url.JoinPath(cfg.BaseURL, "chat", "completions")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", cfg.BaseURL, err)
	}

	client := &Client{
		cfg:      cfg,
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		backoffBase: defaultBackoffBase,
		backoffMax:  defaultBackoffMax,
	}

	if cfg.RateLimit > 0 {
		client.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit)
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// Model returns the configured model name, for logging
func (c *Client) Model() string {
	return c.cfg.Model
}

// Complete sends a system and user prompt and returns the raw assistant text
// at the configured temperature
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.complete(ctx, systemPrompt, userPrompt, c.cfg.Temperature, nil)
}

// CompleteJSON requests a JSON object response at temperature zero. Callers
// should pass the result through DecodeJSON, which tolerates markdown-wrapped
// payloads.
func (c *Client) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.complete(ctx, systemPrompt, userPrompt, 0, &responseFormat{Type: "json_object"})
}

func (c *Client) complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64, format *responseFormat) (string, error) {
	request := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature:    temperature,
		ResponseFormat: format,
	}

	maxAttempts := c.cfg.MaxRetries + 1
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		content, err := c.sendOnce(ctx, request)
		if err == nil {
			return content, nil
		}
		lastErr = err

		if attempt == maxAttempts {
			break
		}
		delay, retry := c.retryDelay(ctx, err, attempt)
		if !retry {
			return "", err
		}
		if err := c.sleep(ctx, delay); err != nil {
			return "", err
		}
	}

	if maxAttempts > 1 {
		return "", fmt.Errorf("chat completion failed after %d attempts: %w", maxAttempts, lastErr)
	}
	return "", lastErr
}

// sendOnce performs a single chat completion request
func (c *Client) sendOnce(ctx context.Context, request chatRequest) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	payload, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("encoding chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("creating chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending chat request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", fmt.Errorf("reading chat response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return "", &httpStatusError{
			StatusCode: resp.StatusCode,
			Body:       summarizeSnippet(string(body)),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decoding chat response: %w", err)
	}

	// Some providers report failures inside a 200 body
	if parsed.Error != nil && parsed.Error.Message != "" {
		return "", fmt.Errorf("chat completion error: %s", parsed.Error.Message)
	}

	content, finishReason, refusal := parsed.firstContent()
	if strings.TrimSpace(content) == "" {
		return "", &emptyContentError{
			FinishReason: finishReason,
			Refusal:      refusal,
			Snippet:      summarizeSnippet(string(body)),
		}
	}

	return content, nil
}

// retryDelay decides whether err is worth retrying and how long to wait.
// The parent context is checked directly so that per-request timeouts from
// the HTTP client stay retryable while caller cancellation does not.
func (c *Client) retryDelay(ctx context.Context, err error, attempt int) (time.Duration, bool) {
	if ctx.Err() != nil {
		return 0, false
	}

	var empty *emptyContentError
	if errors.As(err, &empty) {
		return c.backoffDelay(attempt), true
	}

	var status *httpStatusError
	if errors.As(err, &status) {
		switch {
		case status.StatusCode == http.StatusRequestTimeout,
			status.StatusCode == http.StatusTooManyRequests,
			status.StatusCode >= 500:
			if status.RetryAfter > 0 {
				return status.RetryAfter, true
			}
			return c.backoffDelay(attempt), true
		default:
			return 0, false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return c.backoffDelay(attempt), true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return c.backoffDelay(attempt), true
	}

	return 0, false
}

// backoffDelay doubles the base delay per attempt, capped at backoffMax
func (c *Client) backoffDelay(attempt int) time.Duration {
	delay := c.backoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.backoffMax {
			return c.backoffMax
		}
	}
	if delay > c.backoffMax {
		return c.backoffMax
	}
	return delay
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if c.sleeper != nil {
		c.sleeper(d)
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// parseRetryAfter reads a Retry-After header as either delta-seconds or an
// HTTP date
func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}

	if secs, err := strconv.Atoi(header); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}

	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}

	return 0
}

// httpStatusError is a non-2xx response from the completion endpoint
type httpStatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *httpStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("chat completion returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("chat completion returned status %d: %s", e.StatusCode, e.Body)
}

// emptyContentError is a well-formed response that carried no assistant text
type emptyContentError struct {
	FinishReason string
	Refusal      string
	Snippet      string
}

func (e *emptyContentError) Error() string {
	msg := "chat completion returned no content"
	if e.FinishReason != "" {
		msg += " finish_reason=" + e.FinishReason
	}
	if e.Refusal != "" {
		msg += " refusal=" + e.Refusal
	}
	if e.Snippet != "" {
		msg += " body=" + e.Snippet
	}
	return msg
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Refusal string `json:"refusal,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatChoice struct {
	FinishReason string      `json:"finish_reason"`
	Message      chatMessage `json:"message"`
	Delta        chatMessage `json:"delta"`
	Text         string      `json:"text"`
}

type chatCompletionResponse struct {
	Choices []chatChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// firstContent extracts assistant text from the first non-empty choice.
// Completion-style and streaming-style shapes are both tolerated because
// OpenAI-compatible gateways differ here.
func (r *chatCompletionResponse) firstContent() (content, finishReason, refusal string) {
	for _, choice := range r.Choices {
		candidate := firstNonEmpty(choice.Message.Content, choice.Text, choice.Delta.Content)
		if finishReason == "" {
			finishReason = choice.FinishReason
		}
		if refusal == "" {
			refusal = choice.Message.Refusal
		}
		if strings.TrimSpace(candidate) != "" {
			return candidate, choice.FinishReason, choice.Message.Refusal
		}
	}
	return "", finishReason, refusal
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
