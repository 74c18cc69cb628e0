package httpx

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/splax/pagesmith/internal/apperr"
	"github.com/splax/pagesmith/internal/domain"
	"github.com/splax/pagesmith/internal/keypool"
	"github.com/splax/pagesmith/internal/repository"
	"github.com/splax/pagesmith/internal/service/analytics"
	"github.com/splax/pagesmith/internal/service/auth"
	"github.com/splax/pagesmith/internal/service/deploy"
	"github.com/splax/pagesmith/internal/service/generate"
	"github.com/splax/pagesmith/internal/service/project"
	"github.com/splax/pagesmith/internal/ws"
	jwtpkg "github.com/splax/pagesmith/pkg/jwt"
)

const testSecret = "router-test-secret"

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type memoryUsers struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func (m *memoryUsers) CreateUser(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return repository.ErrConflict
		}
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memoryUsers) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memoryUsers) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

type fakeGenerator struct {
	mu       sync.Mutex
	err      error
	previews int
	last     generate.Options
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string, opts generate.Options) (*generate.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = opts
	if f.err != nil {
		return nil, f.err
	}
	return &generate.Result{Project: &domain.Project{ID: "p1", Name: generate.ProjectName(prompt)}, Model: "m"}, nil
}

func (f *fakeGenerator) Preview(_ context.Context, _ string, opts generate.Options) (*generate.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.previews++
	f.last = opts
	return &generate.Result{Preview: true}, f.err
}

type fakeDeployer struct {
	mu             sync.Mutex
	err            error
	rollbackTarget string
	domainHost     string
}

func (f *fakeDeployer) Deploy(_ context.Context, projectID string) (*deploy.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &deploy.Result{ProjectID: projectID, URL: "https://ps-acme.pages.dev"}, nil
}

func (f *fakeDeployer) Rollback(_ context.Context, projectID, deploymentID string) (*deploy.Result, error) {
	f.mu.Lock()
	f.rollbackTarget = deploymentID
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &deploy.Result{ProjectID: projectID, Source: "rollback"}, nil
}

func (f *fakeDeployer) History(context.Context, string) ([]domain.Deployment, error) {
	return []domain.Deployment{}, f.err
}

func (f *fakeDeployer) Undeploy(context.Context, string) error {
	return f.err
}

func (f *fakeDeployer) SetupDomain(_ context.Context, projectID, hostname string) (*domain.DomainBinding, error) {
	f.mu.Lock()
	f.domainHost = hostname
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &domain.DomainBinding{ProjectID: projectID, Hostname: hostname}, nil
}

func (f *fakeDeployer) Status(_ context.Context, projectID string) (*deploy.Status, error) {
	return &deploy.Status{ProjectID: projectID, State: deploy.StateNotDeployed}, f.err
}

type fakeProjects struct {
	updated *project.UpdateInput
	deleted string
}

func (f *fakeProjects) Get(_ context.Context, id string) (*domain.Project, error) {
	if id != "p1" {
		return nil, repository.ErrNotFound
	}
	return &domain.Project{ID: "p1", Name: "Acme"}, nil
}

func (f *fakeProjects) List(context.Context, int, int) ([]domain.Project, error) {
	return []domain.Project{}, nil
}

func (f *fakeProjects) Generations(context.Context, string, int) ([]domain.GenerationHistory, error) {
	return []domain.GenerationHistory{}, nil
}

func (f *fakeProjects) Update(ctx context.Context, id string, input project.UpdateInput) (*domain.Project, error) {
	p, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	f.updated = &input
	if input.Name != nil {
		p.Name = *input.Name
	}
	return p, nil
}

func (f *fakeProjects) Delete(_ context.Context, id string) error {
	if id == "live" {
		return project.ErrStillDeployed
	}
	f.deleted = id
	return nil
}

func (f *fakeProjects) Stats(context.Context) (domain.ProjectStats, error) {
	return domain.ProjectStats{TotalProjects: 3, Deployed: 1, Drafts: 2, TotalGenerations: 7}, nil
}

type fakeAnalytics struct {
	enabled  map[string]bool
	disabled []string
	days     []int
}

func (f *fakeAnalytics) Enable(_ context.Context, id string) (*analytics.Site, error) {
	if id != "p1" {
		return nil, repository.ErrNotFound
	}
	created := !f.enabled[id]
	f.enabled[id] = true
	return &analytics.Site{ProjectID: id, SiteTag: "tag-1", Host: "acme.pages.dev", Created: created}, nil
}

func (f *fakeAnalytics) Disable(_ context.Context, id string) error {
	f.disabled = append(f.disabled, id)
	delete(f.enabled, id)
	return nil
}

func (f *fakeAnalytics) Summary(_ context.Context, id string, days int) (*domain.AnalyticsSummary, error) {
	f.days = append(f.days, days)
	if !f.enabled[id] {
		return nil, analytics.ErrNotEnabled
	}
	return &domain.AnalyticsSummary{ProjectID: id, SiteTag: "tag-1", TotalVisits: 12}, nil
}

func (f *fakeAnalytics) Totals(_ context.Context, days int) (*domain.AnalyticsTotals, error) {
	f.days = append(f.days, days)
	return &domain.AnalyticsTotals{Projects: len(f.enabled), TotalVisits: 12}, nil
}

type fakeLogs struct {
	hub *ws.Hub
}

func (f fakeLogs) List(_ context.Context, projectID string, _, _ int) ([]domain.ProjectLog, error) {
	return []domain.ProjectLog{{ProjectID: projectID, Message: "hello"}}, nil
}

func (f fakeLogs) Hub() *ws.Hub {
	return f.hub
}

type fakeKeys struct {
	released []int
}

func (f *fakeKeys) Status() []keypool.KeyStatus {
	return []keypool.KeyStatus{{ID: 1, Preview: "gsk_...abcd", Usable: true}}
}

func (f *fakeKeys) Stats() keypool.Stats {
	return keypool.Stats{Keys: 1, Usable: 1}
}

func (f *fakeKeys) Release(_ context.Context, id int) error {
	if id != 1 {
		return keypool.ErrUnknownCredential
	}
	f.released = append(f.released, id)
	return nil
}

type rateLimiterStub struct {
	mu      sync.Mutex
	calls   []string
	allowFn func(key string, limit int, window time.Duration) rateDecision
}

func (s *rateLimiterStub) Allow(key string, limit int, window time.Duration) rateDecision {
	s.mu.Lock()
	s.calls = append(s.calls, key)
	fn := s.allowFn
	s.mu.Unlock()
	if fn != nil {
		return fn(key, limit, window)
	}
	return rateDecision{allowed: true, count: 1}
}

func (s *rateLimiterStub) Close() {}

type harness struct {
	router    *Router
	token     string
	generator *fakeGenerator
	deployer  *fakeDeployer
	projects  *fakeProjects
	analytics *fakeAnalytics
	keys      *fakeKeys
	limiter   *rateLimiterStub
	hub       *ws.Hub
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	users := &memoryUsers{users: map[string]*domain.User{
		"user-1": {ID: "user-1", Email: "ops@example.com"},
	}}
	token, err := jwtpkg.GenerateToken("user-1", "ops@example.com", testSecret, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	h := &harness{
		token:     token,
		generator: &fakeGenerator{},
		deployer:  &fakeDeployer{},
		projects:  &fakeProjects{},
		analytics: &fakeAnalytics{enabled: map[string]bool{}},
		keys:      &fakeKeys{},
		limiter:   &rateLimiterStub{},
		hub:       ws.NewHub(10),
	}
	t.Cleanup(h.hub.Close)
	h.router = NewRouter(testLogger, Deps{
		Auth:              auth.New(users, testLogger, testSecret, time.Hour),
		Generate:          h.generator,
		Deploy:            h.deployer,
		Projects:          h.projects,
		Analytics:         h.analytics,
		Logs:              fakeLogs{hub: h.hub},
		Keys:              h.keys,
		Limiter:           h.limiter,
		GeneratePerMinute: 10,
	})
	return h
}

func (h *harness) do(method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+h.token)
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return out
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	h := newHarness(t)
	for _, path := range []string{"/projects/p1", "/keys", "/projects/p1/status"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		h.router.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, rr.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/projects/p1", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token, got %d", rr.Code)
	}
}

func TestSignupAndLogin(t *testing.T) {
	h := newHarness(t)
	post := func(path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		rr := httptest.NewRecorder()
		h.router.ServeHTTP(rr, req)
		return rr
	}

	rr := post("/auth/signup", `{"email":"new@example.com","password":"correct horse"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("signup: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	token, _ := decodeBody(t, rr)["token"].(map[string]any)
	if token["access_token"] == "" {
		t.Fatalf("expected access token, got %v", token)
	}

	if rr := post("/auth/signup", `{"email":"new@example.com","password":"correct horse"}`); rr.Code != http.StatusConflict {
		t.Fatalf("duplicate signup: expected 409, got %d", rr.Code)
	}
	if rr := post("/auth/signup", `{"email":"other@example.com","password":"short"}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("weak password: expected 400, got %d", rr.Code)
	}
	if rr := post("/auth/login", `{"email":"new@example.com","password":"correct horse"}`); rr.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", rr.Code)
	}
	if rr := post("/auth/login", `{"email":"new@example.com","password":"wrong password"}`); rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad login: expected 401, got %d", rr.Code)
	}
	if rr := post("/auth/login", `{not json`); rr.Code != http.StatusBadRequest {
		t.Fatalf("malformed body: expected 400, got %d", rr.Code)
	}
}

func TestGenerateRoutesPreviewAndPersist(t *testing.T) {
	h := newHarness(t)

	rr := h.do(http.MethodPost, "/generate", `{"prompt":"Acme bakery","framework":"bootstrap","language":"en"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if h.generator.last.Framework != "bootstrap" || h.generator.last.Language != "en" {
		t.Fatalf("options not forwarded: %+v", h.generator.last)
	}

	rr = h.do(http.MethodPost, "/generate", `{"prompt":"Acme bakery","preview":true}`)
	if rr.Code != http.StatusOK || h.generator.previews != 1 {
		t.Fatalf("expected preview 200, got %d (previews %d)", rr.Code, h.generator.previews)
	}

	rr = h.do(http.MethodPost, "/generate", `{"prompt":"   "}`)
	if rr.Code != http.StatusBadRequest || decodeBody(t, rr)["kind"] != "invalid_argument" {
		t.Fatalf("expected invalid_argument 400, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestErrorKindMapping(t *testing.T) {
	upstream := apperr.Upstream(500, "provider exploded")
	cases := []struct {
		name       string
		err        error
		status     int
		kind       string
		step       string
		upstreamSt float64
	}{
		{"configuration", apperr.New(apperr.KindConfiguration, "no keys"), http.StatusServiceUnavailable, "configuration", "", 0},
		{"rate limited", apperr.New(apperr.KindRateLimited, "cooling down"), http.StatusTooManyRequests, "rate_limited", "", 0},
		{"upstream", apperr.Upstream(400, "bad request"), http.StatusBadGateway, "upstream", "", 400},
		{"step", apperr.StepError(apperr.StepUpload, upstream), http.StatusBadGateway, "deployment_step", "upload", 500},
		{"not found", apperr.Wrap(apperr.KindNotFound, repository.ErrNotFound, "project not found"), http.StatusNotFound, "not_found", "", 0},
		{"invalid", apperr.New(apperr.KindInvalid, "no previous deployment"), http.StatusBadRequest, "invalid_argument", "", 0},
		{"plain not found", repository.ErrNotFound, http.StatusNotFound, "not_found", "", 0},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "", "", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.deployer.err = tc.err
			rr := h.do(http.MethodPost, "/projects/p1/deploy", "")
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			body := decodeBody(t, rr)
			if kind, _ := body["kind"].(string); kind != tc.kind {
				t.Fatalf("expected kind %q, got %q", tc.kind, kind)
			}
			if step, _ := body["step"].(string); step != tc.step {
				t.Fatalf("expected step %q, got %q", tc.step, step)
			}
			if st, _ := body["upstream_status"].(float64); st != tc.upstreamSt {
				t.Fatalf("expected upstream_status %v, got %v", tc.upstreamSt, st)
			}
			if body["error"] == "" {
				t.Fatal("error message missing")
			}
		})
	}
}

func TestProjectLifecycleRoutes(t *testing.T) {
	h := newHarness(t)

	if rr := h.do(http.MethodGet, "/projects/p1", ""); rr.Code != http.StatusOK {
		t.Fatalf("get project: %d", rr.Code)
	}
	if rr := h.do(http.MethodGet, "/projects/missing", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("missing project: expected 404, got %d", rr.Code)
	}
	if rr := h.do(http.MethodGet, "/projects", ""); rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Fatalf("list projects: %d %s", rr.Code, rr.Body.String())
	}

	if rr := h.do(http.MethodPost, "/projects/p1/rollback", ""); rr.Code != http.StatusOK || h.deployer.rollbackTarget != "" {
		t.Fatalf("rollback without body: %d target %q", rr.Code, h.deployer.rollbackTarget)
	}
	if rr := h.do(http.MethodPost, "/projects/p1/rollback", `{"deployment_id":" dep-1 "}`); rr.Code != http.StatusOK || h.deployer.rollbackTarget != "dep-1" {
		t.Fatalf("rollback with id: %d target %q", rr.Code, h.deployer.rollbackTarget)
	}
	if rr := h.do(http.MethodPost, "/projects/p1/domain", `{"hostname":"www.acme.com"}`); rr.Code != http.StatusOK || h.deployer.domainHost != "www.acme.com" {
		t.Fatalf("domain: %d host %q", rr.Code, h.deployer.domainHost)
	}
	if rr := h.do(http.MethodGet, "/projects/p1/deployments", ""); rr.Code != http.StatusOK {
		t.Fatalf("history: %d", rr.Code)
	}
	if rr := h.do(http.MethodGet, "/projects/p1/status", ""); rr.Code != http.StatusOK || decodeBody(t, rr)["state"] != deploy.StateNotDeployed {
		t.Fatalf("status: %d %s", rr.Code, rr.Body.String())
	}
	if rr := h.do(http.MethodDelete, "/projects/p1/deployment", ""); rr.Code != http.StatusOK {
		t.Fatalf("undeploy: %d", rr.Code)
	}
	if rr := h.do(http.MethodGet, "/projects/p1/logs?limit=5", ""); rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "hello") {
		t.Fatalf("logs: %d %s", rr.Code, rr.Body.String())
	}
	if rr := h.do(http.MethodGet, "/projects/p1/deploy", ""); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("wrong method: expected 405, got %d", rr.Code)
	}
}

func TestProjectManagementRoutes(t *testing.T) {
	h := newHarness(t)

	rr := h.do(http.MethodPatch, "/projects/p1", `{"name":"Acme Bakery","pwa_enabled":true}`)
	if rr.Code != http.StatusOK || decodeBody(t, rr)["name"] != "Acme Bakery" {
		t.Fatalf("update: %d %s", rr.Code, rr.Body.String())
	}
	if h.projects.updated == nil || h.projects.updated.PWAEnabled == nil || !*h.projects.updated.PWAEnabled || h.projects.updated.CSS != nil {
		t.Fatalf("unexpected update input %+v", h.projects.updated)
	}

	if rr := h.do(http.MethodDelete, "/projects/p1", ""); rr.Code != http.StatusNoContent || h.projects.deleted != "p1" {
		t.Fatalf("delete: %d deleted %q", rr.Code, h.projects.deleted)
	}
	rr = h.do(http.MethodDelete, "/projects/live", "")
	if rr.Code != http.StatusBadRequest || decodeBody(t, rr)["kind"] != string(apperr.KindInvalid) {
		t.Fatalf("delete live: %d %s", rr.Code, rr.Body.String())
	}

	rr = h.do(http.MethodGet, "/projects/stats", "")
	if rr.Code != http.StatusOK || decodeBody(t, rr)["total_generations"] != float64(7) {
		t.Fatalf("stats: %d %s", rr.Code, rr.Body.String())
	}
	if rr := h.do(http.MethodGet, "/projects/p1/generations", ""); rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Fatalf("generations: %d %s", rr.Code, rr.Body.String())
	}
}

func TestAnalyticsRoutes(t *testing.T) {
	h := newHarness(t)

	rr := h.do(http.MethodGet, "/projects/p1/analytics", "")
	if rr.Code != http.StatusBadRequest || decodeBody(t, rr)["kind"] != string(apperr.KindInvalid) {
		t.Fatalf("summary before enable: %d %s", rr.Code, rr.Body.String())
	}

	if rr := h.do(http.MethodPost, "/projects/p1/analytics", ""); rr.Code != http.StatusCreated {
		t.Fatalf("enable: %d %s", rr.Code, rr.Body.String())
	}
	if rr := h.do(http.MethodPost, "/projects/p1/analytics", ""); rr.Code != http.StatusOK {
		t.Fatalf("enable again: expected 200, got %d", rr.Code)
	}
	if rr := h.do(http.MethodPost, "/projects/nope/analytics", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("enable unknown: expected 404, got %d", rr.Code)
	}

	rr = h.do(http.MethodGet, "/projects/p1/analytics?days=30", "")
	if rr.Code != http.StatusOK || decodeBody(t, rr)["total_visits"] != float64(12) {
		t.Fatalf("summary: %d %s", rr.Code, rr.Body.String())
	}
	if rr := h.do(http.MethodGet, "/projects/p1/analytics?days=week", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad days: expected 400, got %d", rr.Code)
	}

	rr = h.do(http.MethodGet, "/analytics", "")
	if rr.Code != http.StatusOK || decodeBody(t, rr)["projects"] != float64(1) {
		t.Fatalf("totals: %d %s", rr.Code, rr.Body.String())
	}
	if got := h.analytics.days; len(got) != 3 || got[0] != 0 || got[1] != 30 || got[2] != 0 {
		t.Fatalf("unexpected days passed through %v", got)
	}

	if rr := h.do(http.MethodDelete, "/projects/p1/analytics", ""); rr.Code != http.StatusNoContent || len(h.analytics.disabled) != 1 {
		t.Fatalf("disable: %d %v", rr.Code, h.analytics.disabled)
	}
}

func TestKeyRoutes(t *testing.T) {
	h := newHarness(t)

	rr := h.do(http.MethodGet, "/keys", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("keys: %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if keys, _ := body["keys"].([]any); len(keys) != 1 {
		t.Fatalf("expected one key, got %v", body["keys"])
	}

	if rr := h.do(http.MethodPost, "/keys/1/reset", ""); rr.Code != http.StatusOK || len(h.keys.released) != 1 {
		t.Fatalf("reset: %d released %v", rr.Code, h.keys.released)
	}
	if rr := h.do(http.MethodPost, "/keys/9/reset", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown key: expected 404, got %d", rr.Code)
	}
	if rr := h.do(http.MethodPost, "/keys/abc/reset", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad id: expected 400, got %d", rr.Code)
	}
}

func TestGenerateRateLimited(t *testing.T) {
	h := newHarness(t)
	reset := time.Unix(1_950_000_000, 0)
	h.limiter.allowFn = func(key string, limit int, window time.Duration) rateDecision {
		if strings.HasPrefix(key, "generate|") {
			return rateDecision{allowed: false, count: limit, windowEnd: reset}
		}
		return rateDecision{allowed: true, count: 1}
	}

	rr := h.do(http.MethodPost, "/generate", `{"prompt":"Acme"}`)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("X-RateLimit-Limit") != "10" || rr.Header().Get("X-RateLimit-Remaining") != "0" || rr.Header().Get("X-RateLimit-Reset") != "1950000000" {
		t.Fatalf("unexpected headers %v", rr.Header())
	}

	h.limiter.mu.Lock()
	last := h.limiter.calls[len(h.limiter.calls)-1]
	h.limiter.mu.Unlock()
	if last != "generate|user:user-1" {
		t.Fatalf("expected per-user key, got %q", last)
	}
}

func TestHealthzReportsDegradedComponents(t *testing.T) {
	h := newHarness(t)
	h.router.health = map[string]HealthCheck{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	components := body["components"].(map[string]any)
	if components["redis"].(map[string]any)["status"] != "down" || components["database"].(map[string]any)["status"] != "up" {
		t.Fatalf("unexpected components %v", components)
	}
}

func TestLogsWebSocketReplaysBacklog(t *testing.T) {
	h := newHarness(t)
	h.hub.Broadcast("p1", []byte(`{"message":"export complete"}`))

	srv := httptest.NewServer(h.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/logs?project_id=p1&access_token=" + h.token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(msg) != `{"message":"export complete"}` {
		t.Fatalf("unexpected message %s", msg)
	}
}

func TestLogsWebSocketRequiresProject(t *testing.T) {
	h := newHarness(t)
	if rr := h.do(http.MethodGet, "/ws/logs", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestLogsSSEStreamsBacklog(t *testing.T) {
	h := newHarness(t)
	h.hub.Broadcast("p1", []byte(`{"message":"upload complete"}`))

	srv := httptest.NewServer(h.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/projects/p1/logs/stream", nil)
	req.Header.Set("Authorization", "Bearer "+h.token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Fatalf("unexpected content type %q", resp.Header.Get("Content-Type"))
	}

	reader := bufio.NewReader(resp.Body)
	var frame bytes.Buffer
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if line == "\n" {
			break
		}
		frame.WriteString(line)
	}
	if frame.String() != "event: log\ndata: {\"message\":\"upload complete\"}\n" {
		t.Fatalf("unexpected frame %q", frame.String())
	}
}

func TestMemoryRateLimiterWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := newMemoryRateLimiter(func() time.Time { return now })

	for i := 1; i <= 2; i++ {
		if d := rl.Allow("k", 2, time.Minute); !d.allowed || d.count != i {
			t.Fatalf("request %d: unexpected decision %+v", i, d)
		}
	}
	if d := rl.Allow("k", 2, time.Minute); d.allowed {
		t.Fatal("third request should be rejected")
	}
	if d := rl.Allow("other", 2, time.Minute); !d.allowed {
		t.Fatal("keys must be independent")
	}

	now = now.Add(time.Minute)
	if d := rl.Allow("k", 2, time.Minute); !d.allowed || d.count != 1 {
		t.Fatalf("window should reset, got %+v", d)
	}

	now = now.Add(2 * time.Minute)
	rl.cleanup(now)
	if len(rl.entries) != 0 {
		t.Fatalf("expected expired entries swept, got %d", len(rl.entries))
	}
}
