// Package llm performs chat completions against an OpenAI-compatible model
// API, rotating credentials on rate limits and substituting a fallback model
// when the requested one has been retired.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/splax/pagesmith/internal/apperr"
	"github.com/splax/pagesmith/internal/domain"
	"github.com/splax/pagesmith/internal/keypool"
	"github.com/splax/pagesmith/pkg/telemetry"
)

const (
	defaultBaseURL     = "https://api.groq.com/openai/v1"
	defaultModel       = "llama-3.3-70b-versatile"
	defaultTimeout     = 120 * time.Second
	minTimeout         = 60 * time.Second
	defaultCooldown    = 60 * time.Second
	defaultMinCooldown = time.Second
	defaultMaxCooldown = 15 * time.Minute
	maxErrorBody       = 2048

	DefaultTemperature = 0.7
	DefaultMaxTokens   = 8192
	DefaultTopP        = 1.0
)

var deprecationPattern = regexp.MustCompile(`(?i)(decommissioned|deprecated|no longer supported|model_not_found|does not exist|model .*not found)`)

// KeyPool is the credential source used by Client.
type KeyPool interface {
	Acquire(ctx context.Context) (domain.Credential, error)
	Quarantine(ctx context.Context, id int, cooldown time.Duration) error
	Size() int
}

// Client issues chat completions through a KeyPool.
type Client struct {
	baseURL         string
	httpClient      *http.Client
	pool            KeyPool
	model           string
	fallbackModel   string
	defaultCooldown time.Duration
	minCooldown     time.Duration
	maxCooldown     time.Duration
	logger          *slog.Logger
	metrics         *clientMetrics
}

// Option customises a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API root.
func WithBaseURL(base string) Option {
	return func(c *Client) {
		if base = strings.TrimSpace(base); base != "" {
			c.baseURL = strings.TrimRight(base, "/")
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithTimeout sets the per-attempt HTTP timeout; values under a minute are raised to one minute.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d < minTimeout {
			d = minTimeout
		}
		c.httpClient.Timeout = d
	}
}

// WithModels sets the default and fallback model identifiers.
func WithModels(model, fallback string) Option {
	return func(c *Client) {
		if model = strings.TrimSpace(model); model != "" {
			c.model = model
		}
		c.fallbackModel = strings.TrimSpace(fallback)
	}
}

// WithCooldown configures the rate-limit cooldown default and clamp range.
func WithCooldown(def, lo, hi time.Duration) Option {
	return func(c *Client) {
		if def > 0 {
			c.defaultCooldown = def
		}
		if lo > 0 {
			c.minCooldown = lo
		}
		if hi > 0 {
			c.maxCooldown = hi
		}
	}
}

// New constructs a Client.
func New(pool KeyPool, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:         defaultBaseURL,
		httpClient:      &http.Client{Timeout: defaultTimeout},
		pool:            pool,
		model:           defaultModel,
		defaultCooldown: defaultCooldown,
		minCooldown:     defaultMinCooldown,
		maxCooldown:     defaultMaxCooldown,
		logger:          logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.maxCooldown < c.minCooldown {
		c.maxCooldown = c.minCooldown
	}
	c.metrics = newClientMetrics()
	return c
}

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes one logical completion.
type Request struct {
	Model       string
	Messages    []Message
	Temperature *float64
	MaxTokens   int
	TopP        *float64
}

// Float returns a pointer to v, for optional Request fields.
func Float(v float64) *float64 {
	return &v
}

type wireRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	TopP        float64   `json:"top_p"`
	Stream      bool      `json:"stream"`
}

// Completion is the response envelope returned unmodified to callers.
type Completion struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice is one completion alternative.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage reports token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Content returns the first choice's message text.
func (c *Completion) Content() string {
	if c == nil || len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].Message.Content
}

// Complete runs the request, rotating credentials on HTTP 429 and switching
// to the fallback model once on a deprecation response.
func (c *Client) Complete(ctx context.Context, req Request) (*Completion, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.model
	}
	ctx, span := telemetry.StartSpan(ctx, "llm.complete", trace.WithAttributes(attribute.String("llm.model", model)))
	defer span.End()

	completion, err := c.complete(ctx, req, model, span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("llm.response_model", completion.Model),
		attribute.Int("llm.total_tokens", completion.Usage.TotalTokens),
	)
	return completion, nil
}

func (c *Client) complete(ctx context.Context, req Request, model string, span trace.Span) (*Completion, error) {
	maxAttempts := c.pool.Size() + 1
	if maxAttempts < 2 {
		maxAttempts = 2
	}
	rateLimited := make(map[int]struct{})
	substituted := false

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		cred, err := c.pool.Acquire(ctx)
		if err != nil {
			c.metrics.observe(outcomeExhausted)
			return nil, err
		}
		if _, seen := rateLimited[cred.ID]; seen {
			c.metrics.observe(outcomeExhausted)
			return nil, keypool.ErrAllCoolingDown
		}
		span.SetAttributes(attribute.Int("llm.attempts", attempt))

		resp, err := c.send(ctx, cred, req, model)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				c.metrics.observe(outcomeCanceled)
				return nil, ctxErr
			}
			c.metrics.observe(outcomeError)
			return nil, apperr.Wrap(apperr.KindUpstream, err, "model request failed: "+err.Error())
		}

		switch {
		case resp.status == http.StatusTooManyRequests:
			cooldown := c.cooldownFor(resp.retryAfter)
			rateLimited[cred.ID] = struct{}{}
			c.metrics.observe(outcomeRateLimited)
			c.logger.Warn("model credential rate limited", "credential_id", cred.ID, "cooldown_seconds", int(cooldown.Seconds()), "attempt", attempt)
			if qErr := c.pool.Quarantine(ctx, cred.ID, cooldown); qErr != nil {
				c.logger.Warn("quarantine not persisted", "credential_id", cred.ID, "error", qErr)
			}
			continue
		case isDeprecation(resp.status, resp.message):
			if substituted || c.fallbackModel == "" || strings.EqualFold(model, c.fallbackModel) {
				c.metrics.observe(outcomeError)
				return nil, apperr.Upstream(resp.status, resp.message)
			}
			c.metrics.observe(outcomeFallback)
			c.logger.Warn("model unavailable, using fallback", "model", model, "fallback", c.fallbackModel, "status", resp.status)
			model = c.fallbackModel
			substituted = true
			continue
		case resp.status < 200 || resp.status > 299:
			c.metrics.observe(outcomeError)
			return nil, apperr.Upstream(resp.status, resp.message)
		}

		var completion Completion
		if err := json.Unmarshal(resp.body, &completion); err != nil {
			c.metrics.observe(outcomeError)
			return nil, apperr.Wrap(apperr.KindUpstream, err, "decode model response: "+err.Error())
		}
		c.metrics.observe(outcomeSuccess)
		return &completion, nil
	}
	c.metrics.observe(outcomeExhausted)
	return nil, keypool.ErrAllCoolingDown
}

type rawResponse struct {
	status     int
	retryAfter string
	message    string
	body       []byte
}

func (c *Client) send(ctx context.Context, cred domain.Credential, req Request, model string) (*rawResponse, error) {
	body := wireRequest{
		Model:       model,
		Messages:    req.Messages,
		Temperature: DefaultTemperature,
		MaxTokens:   req.MaxTokens,
		TopP:        DefaultTopP,
		Stream:      false,
	}
	if req.Temperature != nil {
		body.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		body.TopP = *req.TopP
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = DefaultMaxTokens
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+cred.Secret)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	out := &rawResponse{
		status:     resp.StatusCode,
		retryAfter: resp.Header.Get("Retry-After"),
		body:       raw,
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		out.message = errorMessage(raw, resp.Status)
	}
	return out, nil
}

// cooldownFor interprets a Retry-After value and clamps it.
func (c *Client) cooldownFor(header string) time.Duration {
	d := parseRetryAfter(header, time.Now())
	if d <= 0 {
		d = c.defaultCooldown
	}
	if d < c.minCooldown {
		d = c.minCooldown
	}
	if d > c.maxCooldown {
		d = c.maxCooldown
	}
	return d
}

const maxRetryAfterSeconds = float64(math.MaxInt64 / int64(time.Second))

// parseRetryAfter accepts delta-seconds or an HTTP date. Zero means absent or invalid.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil || errors.Is(err, strconv.ErrRange) {
		if math.IsNaN(secs) || secs <= 0 {
			return 0
		}
		// Values past the Duration range saturate so the caller clamps them to the maximum.
		if secs >= maxRetryAfterSeconds {
			return time.Duration(math.MaxInt64)
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func isDeprecation(status int, message string) bool {
	if status != http.StatusBadRequest && status != http.StatusNotFound {
		return false
	}
	return deprecationPattern.MatchString(message)
}

func errorMessage(raw []byte, fallback string) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
		if envelope.Error.Code != "" && !strings.Contains(envelope.Error.Message, envelope.Error.Code) {
			return envelope.Error.Message + " (" + envelope.Error.Code + ")"
		}
		return envelope.Error.Message
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return fallback
	}
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}
	return text
}

// IsRateLimited reports whether err means the whole pool is cooling down.
func IsRateLimited(err error) bool {
	return errors.Is(err, keypool.ErrAllCoolingDown)
}
