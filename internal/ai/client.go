// Package ai wraps the text-generation provider behind a narrow contract:
// build a prompt, get back a structured result or nil. The provider response
// is an untrusted boundary and is parsed into strict optional fields.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pharmacy-finder/internal/models"
)

// Result is the structured output expected from the provider. Every field is
// optional; presence is validated by callers, not full schema.
type Result struct {
	Summary       *string           `json:"summary"`
	Bullets       []string          `json:"bullets"`
	FAQ           []models.FAQEntry `json:"faq"`
	CTA           *string           `json:"cta"`
	ExtraSections []models.Section  `json:"extra_sections"`
}

// Empty reports whether the provider returned nothing usable.
func (r *Result) Empty() bool {
	return r == nil || (r.Summary == nil && len(r.Bullets) == 0 && len(r.FAQ) == 0 && r.CTA == nil && len(r.ExtraSections) == 0)
}

// Options tunes a single generation call.
type Options struct {
	SystemPrompt string
	// AvoidText is prior phrasing the model is told to steer away from,
	// set when a first attempt tripped the dedup filter.
	AvoidText string
}

// Config wires a client; constructed once at process start from the
// application config, never read from the environment here.
type Config struct {
	Endpoint       string
	Model          string
	APIKey         string
	Timeout        time.Duration
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Client calls an OpenAI-compatible chat-completions endpoint with bounded
// retries. Exhausted retries and non-retryable failures both surface as
// (nil, error); callers treat nil as "generation failed" and move on.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.BackoffInitial == 0 {
		cfg.BackoffInitial = 2 * time.Second
	}
	if cfg.BackoffMax == 0 {
		cfg.BackoffMax = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With("component", "ai"),
	}
}

// Generate runs the prompt through the provider. Retryable failures (429 and
// 5xx) are retried with capped exponential backoff, honoring Retry-After
// when the server suggests a longer wait.
func (c *Client) Generate(ctx context.Context, prompt string, opts Options) (*Result, error) {
	if c.cfg.APIKey == "" || c.cfg.Endpoint == "" || c.cfg.Model == "" {
		return nil, errors.New("provider client misconfigured")
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		result, retryAfter, err := c.call(ctx, prompt, opts)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var rerr *retryableError
		if !errors.As(err, &rerr) {
			return nil, err
		}
		if attempt == c.cfg.MaxAttempts {
			break
		}

		wait := backoffWait(c.cfg.BackoffInitial, c.cfg.BackoffMax, attempt, retryAfter)
		c.logger.Warn("provider call failed, retrying",
			"attempt", attempt, "wait", wait.String(), "err", err.Error())
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, fmt.Errorf("provider retries exhausted: %w", lastErr)
}

// retryableError marks rate-limit and server-error responses.
type retryableError struct {
	status int
	body   string
}

func (e *retryableError) Error() string {
	return fmt.Sprintf("provider status %d: %s", e.status, e.body)
}

func (c *Client) call(ctx context.Context, prompt string, opts Options) (*Result, time.Duration, error) {
	system := opts.SystemPrompt
	if system == "" {
		system = defaultSystemPrompt
	}
	user := prompt
	if opts.AvoidText != "" {
		user += "\n\n이전에 생성된 아래 문구와 겹치지 않게 다른 표현으로 작성하세요:\n" + opts.AvoidText
	}

	body, err := json.Marshal(map[string]any{
		"model": c.cfg.Model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
		"response_format": map[string]string{"type": "json_object"},
	})
	if err != nil {
		return nil, 0, fmt.Errorf("marshal provider payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport errors (timeouts, resets) are worth one more try.
		return nil, 0, &retryableError{status: 0, body: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		sample, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, parseRetryAfter(resp.Header.Get("Retry-After")), &retryableError{
			status: resp.StatusCode,
			body:   strings.TrimSpace(string(sample)),
		}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		sample, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, 0, fmt.Errorf("provider error %s: %s", resp.Status, strings.TrimSpace(string(sample)))
	}

	return parseResponse(resp.Body)
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func parseResponse(body io.Reader) (*Result, time.Duration, error) {
	var outer chatResponse
	if err := json.NewDecoder(body).Decode(&outer); err != nil {
		return nil, 0, fmt.Errorf("decode provider response: %w", err)
	}
	if len(outer.Choices) == 0 {
		return nil, 0, errors.New("provider response has no choices")
	}

	var result Result
	if err := json.Unmarshal([]byte(outer.Choices[0].Message.Content), &result); err != nil {
		return nil, 0, fmt.Errorf("decode structured content: %w", err)
	}
	if result.Empty() {
		return nil, 0, errors.New("provider returned empty structured content")
	}
	return &result, 0, nil
}

// backoffWait computes min(cap, max(exponential+jitter, serverSuggested)).
func backoffWait(base, max time.Duration, attempt int, serverSuggested time.Duration) time.Duration {
	exp := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if exp > max {
		exp = max
	}
	wait := exp/2 + time.Duration(rand.Int63n(int64(exp/2)+1))
	if serverSuggested > wait {
		wait = serverSuggested
	}
	if wait > max {
		wait = max
	}
	return wait
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

const defaultSystemPrompt = "당신은 약국 안내 페이지의 콘텐츠를 작성하는 어시스턴트입니다. " +
	`반드시 {"summary","bullets","faq","cta","extra_sections"} 필드를 가진 JSON으로만 답하세요.`
