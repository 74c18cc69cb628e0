// Package hosting is a typed client for the Cloudflare Pages API.
package hosting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/splax/pagesmith/internal/apperr"
	"github.com/splax/pagesmith/pkg/telemetry"
)

// DefaultBaseURL is the public Cloudflare API root.
const DefaultBaseURL = "https://api.cloudflare.com/client/v4"

// codeProjectNotFound is returned with a non-404 status by some project lookups.
const codeProjectNotFound = 8000007

// codeDomainExists is returned when a hostname is already attached to the project.
const codeDomainExists = 8000018

const maxResponseBytes = 10 << 20

var (
	// ErrNotFound matches any APIError describing a missing resource.
	ErrNotFound = errors.New("hosting: resource not found")
	// ErrDomainExists matches responses for a hostname that is already attached.
	ErrDomainExists = errors.New("hosting: domain already attached")
	// ErrNotConfigured is returned before any request when credentials are missing.
	ErrNotConfigured = apperr.New(apperr.KindConfiguration, "hosting api token or account id is not configured")
)

// APIError is a failed provider call.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("hosting api error %d (code %d): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("hosting api error %d: %s", e.Status, e.Message)
}

func (e *APIError) wrap() error {
	return &apperr.Error{Kind: apperr.KindUpstream, Status: e.Status, Message: e.Message, Err: e}
}

// Is lets errors.Is match ErrNotFound and ErrDomainExists against provider responses.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound || e.Code == codeProjectNotFound
	case ErrDomainExists:
		return e.Status == http.StatusConflict || e.Code == codeDomainExists
	}
	return false
}

type apiMessage struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type envelope struct {
	Success  bool            `json:"success"`
	Errors   []apiMessage    `json:"errors"`
	Messages []apiMessage    `json:"messages"`
	Result   json.RawMessage `json:"result"`
}

// Option customises a Client.
type Option func(*Client)

// WithBaseURL overrides the API root.
func WithBaseURL(base string) Option {
	return func(c *Client) {
		if strings.TrimSpace(base) != "" {
			c.baseURL = strings.TrimRight(strings.TrimSpace(base), "/")
		}
	}
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithBreaker overrides the circuit breaker.
func WithBreaker(b *Breaker) Option {
	return func(c *Client) {
		if b != nil {
			c.breaker = b
		}
	}
}

// Client talks to one provider account.
type Client struct {
	baseURL    string
	token      string
	accountID  string
	httpClient *http.Client
	breaker    *Breaker
	logger     *slog.Logger
}

// New constructs a Client. Missing credentials are reported per call.
func New(token, accountID string, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL:    DefaultBaseURL,
		token:      strings.TrimSpace(token),
		accountID:  strings.TrimSpace(accountID),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = NewBreaker("hosting", logger)
	}
	return c
}

// Configured reports whether a token and account id are set.
func (c *Client) Configured() bool {
	return c.token != "" && c.accountID != ""
}

func (c *Client) projectsPath(parts ...string) string {
	return c.accountPath(append([]string{"pages", "projects"}, parts...)...)
}

func (c *Client) accountPath(parts ...string) string {
	p := "/accounts/" + url.PathEscape(c.accountID)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	contentType := ""
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, contentType, reader, out)
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	return c.send(ctx, method, path, contentType, body, func(status int, data []byte) error {
		return c.decodeEnvelope(method, path, status, data, out)
	})
}

// send runs one request through the breaker and hands the raw response to decode.
func (c *Client) send(ctx context.Context, method, path, contentType string, body io.Reader, decode func(status int, data []byte) error) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	ctx, span := telemetry.TraceHTTP(ctx, method, path)
	defer span.End()

	err := c.breaker.Execute(func() error {
		return c.roundTrip(ctx, method, path, contentType, body, decode)
	})
	switch {
	case err == nil:
		return nil
	case isOpenCircuit(err):
		return apperr.Wrap(apperr.KindUpstream, err, "hosting api unavailable: circuit open")
	default:
		span.RecordError(err)
		return err
	}
}

func (c *Client) roundTrip(ctx context.Context, method, path, contentType string, body io.Reader, decode func(status int, data []byte) error) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return apperr.Wrap(apperr.KindUpstream, err, "hosting request failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return apperr.Wrap(apperr.KindUpstream, err, "read hosting response")
	}
	return decode(resp.StatusCode, data)
}

func (c *Client) decodeEnvelope(method, path string, status int, data []byte, out any) error {
	var env envelope
	decodeErr := json.Unmarshal(data, &env)
	if status >= http.StatusBadRequest || decodeErr != nil || !env.Success {
		apiErr := &APIError{Status: status, Message: strings.TrimSpace(string(data))}
		if decodeErr == nil && len(env.Errors) > 0 {
			apiErr.Code = env.Errors[0].Code
			apiErr.Message = env.Errors[0].Message
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(status)
		}
		c.logger.Debug("hosting api error", "method", method, "path", path, "status", apiErr.Status, "code", apiErr.Code)
		return apiErr.wrap()
	}

	if out == nil || len(env.Result) == 0 || string(env.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("decode hosting result: %w", err)
	}
	return nil
}

// TokenStatus is the result of a token verification.
type TokenStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// VerifyToken checks that the configured token is valid.
func (c *Client) VerifyToken(ctx context.Context) (*TokenStatus, error) {
	var out TokenStatus
	if err := c.doJSON(ctx, http.MethodGet, "/user/tokens/verify", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
