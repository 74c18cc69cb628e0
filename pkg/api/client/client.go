// Package client is a typed HTTP client for the pagesmith API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/splax/pagesmith/internal/domain"
	"github.com/splax/pagesmith/internal/keypool"
	"github.com/splax/pagesmith/internal/service/analytics"
	"github.com/splax/pagesmith/internal/service/deploy"
	"github.com/splax/pagesmith/internal/service/generate"
)

// DefaultBaseURL is used when no API address is configured.
const DefaultBaseURL = "http://localhost:4000"

// Client provides typed access to the pagesmith API for interactive tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL. The default
// timeout covers a full generation and deploy.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = DefaultBaseURL
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status         int    `json:"-"`
	Message        string `json:"error"`
	Kind           string `json:"kind"`
	Step           string `json:"step"`
	UpstreamStatus int    `json:"upstream_status"`
}

func (e APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	switch {
	case e.Step != "":
		return fmt.Sprintf("api request failed (%d, %s step): %s", e.Status, e.Step, msg)
	case e.Kind != "":
		return fmt.Sprintf("api request failed (%d, %s): %s", e.Status, e.Kind, msg)
	default:
		return fmt.Sprintf("api request failed (%d): %s", e.Status, msg)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, token string, v any) error {
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t := strings.TrimSpace(token); t != "" {
		req.Header.Set("Authorization", "Bearer "+t)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := APIError{Status: resp.StatusCode}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil || len(data) == 0 {
		return apiErr
	}
	if err := json.Unmarshal(data, &apiErr); err != nil {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	apiErr.Status = resp.StatusCode
	return apiErr
}

// User reflects API user payloads.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Token is an issued access token.
type Token struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// AuthResponse is returned by signup and login.
type AuthResponse struct {
	User  User  `json:"user"`
	Token Token `json:"token"`
}

// Signup registers an operator account.
func (c *Client) Signup(ctx context.Context, email, password string) (*AuthResponse, error) {
	var out AuthResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/signup", body, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Login exchanges credentials for a token.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	var out AuthResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GenerateRequest is the body of POST /generate.
type GenerateRequest struct {
	Prompt  string `json:"prompt"`
	Preview bool   `json:"preview,omitempty"`
	generate.Options
}

// Generate produces a site, or previews one when req.Preview is set.
func (c *Client) Generate(ctx context.Context, token string, req GenerateRequest) (*generate.Result, error) {
	var out generate.Result
	if err := c.do(ctx, http.MethodPost, "/generate", req, token, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Projects lists stored projects.
func (c *Client) Projects(ctx context.Context, token string, limit, offset int) ([]domain.Project, error) {
	var out []domain.Project
	if err := c.do(ctx, http.MethodGet, "/projects"+pageQuery(limit, offset), nil, token, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Project fetches one project.
func (c *Client) Project(ctx context.Context, token, projectID string) (*domain.Project, error) {
	var out domain.Project
	if err := c.do(ctx, http.MethodGet, projectPath(projectID, ""), nil, token, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteProject removes an undeployed project.
func (c *Client) DeleteProject(ctx context.Context, token, projectID string) error {
	return c.do(ctx, http.MethodDelete, projectPath(projectID, ""), nil, token, nil)
}

// ProjectStats reports project and generation totals.
func (c *Client) ProjectStats(ctx context.Context, token string) (*domain.ProjectStats, error) {
	var out domain.ProjectStats
	if err := c.do(ctx, http.MethodGet, "/projects/stats", nil, token, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Deploy publishes the project.
func (c *Client) Deploy(ctx context.Context, token, projectID string) (*deploy.Result, error) {
	var out deploy.Result
	if err := c.do(ctx, http.MethodPost, projectPath(projectID, "deploy"), nil, token, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Rollback restores deploymentID, or the previous deployment when empty.
func (c *Client) Rollback(ctx context.Context, token, projectID, deploymentID string) (*deploy.Result, error) {
	var out deploy.Result
	body := map[string]string{"deployment_id": deploymentID}
	if err := c.do(ctx, http.MethodPost, projectPath(projectID, "rollback"), body, token, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Deployments lists the project's deployment history, newest first.
func (c *Client) Deployments(ctx context.Context, token, projectID string) ([]domain.Deployment, error) {
	var out []domain.Deployment
	if err := c.do(ctx, http.MethodGet, projectPath(projectID, "deployments"), nil, token, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Status reports the project's deploy state.
func (c *Client) Status(ctx context.Context, token, projectID string) (*deploy.Status, error) {
	var out deploy.Status
	if err := c.do(ctx, http.MethodGet, projectPath(projectID, "status"), nil, token, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetupDomain attaches a custom hostname.
func (c *Client) SetupDomain(ctx context.Context, token, projectID, hostname string) (*domain.DomainBinding, error) {
	var out domain.DomainBinding
	body := map[string]string{"hostname": hostname}
	if err := c.do(ctx, http.MethodPost, projectPath(projectID, "domain"), body, token, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Undeploy tears down the remote project.
func (c *Client) Undeploy(ctx context.Context, token, projectID string) error {
	return c.do(ctx, http.MethodDelete, projectPath(projectID, "deployment"), nil, token, nil)
}

// Logs lists persisted project logs, newest first.
func (c *Client) Logs(ctx context.Context, token, projectID string, limit, offset int) ([]domain.ProjectLog, error) {
	var out []domain.ProjectLog
	if err := c.do(ctx, http.MethodGet, projectPath(projectID, "logs")+pageQuery(limit, offset), nil, token, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// EnableAnalytics registers a web analytics site for a deployed project.
func (c *Client) EnableAnalytics(ctx context.Context, token, projectID string) (*analytics.Site, error) {
	var out analytics.Site
	if err := c.do(ctx, http.MethodPost, projectPath(projectID, "analytics"), nil, token, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DisableAnalytics removes the project's analytics site.
func (c *Client) DisableAnalytics(ctx context.Context, token, projectID string) error {
	return c.do(ctx, http.MethodDelete, projectPath(projectID, "analytics"), nil, token, nil)
}

// Analytics reads a project's traffic for the last days days. Zero uses the server default.
func (c *Client) Analytics(ctx context.Context, token, projectID string, days int) (*domain.AnalyticsSummary, error) {
	var out domain.AnalyticsSummary
	if err := c.do(ctx, http.MethodGet, projectPath(projectID, "analytics")+daysQuery(days), nil, token, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AnalyticsTotals sums traffic across every tracked project.
func (c *Client) AnalyticsTotals(ctx context.Context, token string, days int) (*domain.AnalyticsTotals, error) {
	var out domain.AnalyticsTotals
	if err := c.do(ctx, http.MethodGet, "/analytics"+daysQuery(days), nil, token, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// KeysResponse is the key pool report.
type KeysResponse struct {
	Keys  []keypool.KeyStatus `json:"keys"`
	Stats keypool.Stats       `json:"stats"`
}

// Keys reports model credential status.
func (c *Client) Keys(ctx context.Context, token string) (*KeysResponse, error) {
	var out KeysResponse
	if err := c.do(ctx, http.MethodGet, "/keys", nil, token, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResetKey clears a credential's cooldown.
func (c *Client) ResetKey(ctx context.Context, token string, id int) error {
	return c.do(ctx, http.MethodPost, "/keys/"+strconv.Itoa(id)+"/reset", nil, token, nil)
}

func projectPath(projectID, sub string) string {
	p := "/projects/" + url.PathEscape(strings.TrimSpace(projectID))
	if sub != "" {
		p += "/" + sub
	}
	return p
}

func daysQuery(days int) string {
	if days <= 0 {
		return ""
	}
	return "?days=" + strconv.Itoa(days)
}

func pageQuery(limit, offset int) string {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}
