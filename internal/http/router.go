package httpx

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/pagesmith/internal/domain"
	"github.com/splax/pagesmith/internal/keypool"
	"github.com/splax/pagesmith/internal/service/analytics"
	"github.com/splax/pagesmith/internal/service/auth"
	"github.com/splax/pagesmith/internal/service/deploy"
	"github.com/splax/pagesmith/internal/service/generate"
	"github.com/splax/pagesmith/internal/service/project"
	"github.com/splax/pagesmith/internal/ws"
)

// Generator produces sites from prompts.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts generate.Options) (*generate.Result, error)
	Preview(ctx context.Context, prompt string, opts generate.Options) (*generate.Result, error)
}

// Deployer drives the deployment lifecycle of a project.
type Deployer interface {
	Deploy(ctx context.Context, projectID string) (*deploy.Result, error)
	Rollback(ctx context.Context, projectID, deploymentID string) (*deploy.Result, error)
	History(ctx context.Context, projectID string) ([]domain.Deployment, error)
	Undeploy(ctx context.Context, projectID string) error
	SetupDomain(ctx context.Context, projectID, hostname string) (*domain.DomainBinding, error)
	Status(ctx context.Context, projectID string) (*deploy.Status, error)
}

// Projects manages stored projects and reads their generation history.
type Projects interface {
	Get(ctx context.Context, projectID string) (*domain.Project, error)
	List(ctx context.Context, limit, offset int) ([]domain.Project, error)
	Generations(ctx context.Context, projectID string, limit int) ([]domain.GenerationHistory, error)
	Update(ctx context.Context, projectID string, input project.UpdateInput) (*domain.Project, error)
	Delete(ctx context.Context, projectID string) error
	Stats(ctx context.Context) (domain.ProjectStats, error)
}

// Analytics binds web analytics sites and reads traffic.
type Analytics interface {
	Enable(ctx context.Context, projectID string) (*analytics.Site, error)
	Disable(ctx context.Context, projectID string) error
	Summary(ctx context.Context, projectID string, days int) (*domain.AnalyticsSummary, error)
	Totals(ctx context.Context, days int) (*domain.AnalyticsTotals, error)
}

// Logs lists persisted project logs and exposes the live stream hub.
type Logs interface {
	List(ctx context.Context, projectID string, limit, offset int) ([]domain.ProjectLog, error)
	Hub() *ws.Hub
}

// Keys reports and resets model credentials.
type Keys interface {
	Status() []keypool.KeyStatus
	Stats() keypool.Stats
	Release(ctx context.Context, id int) error
}

// HealthCheck checks one dependency.
type HealthCheck func(context.Context) error

// Deps bundles the router's collaborators.
type Deps struct {
	Auth     auth.Service
	Generate Generator
	Deploy   Deployer
	Projects  Projects
	Analytics Analytics
	Logs      Logs
	Keys      Keys
	Limiter   RateLimiter
	Health    map[string]HealthCheck
	// GeneratePerMinute caps generations per operator. Zero disables the cap.
	GeneratePerMinute int
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	auth     auth.Service
	generate Generator
	deploy   Deployer
	projects Projects
	stats    Analytics
	logs     Logs
	keys     Keys
	limiter  RateLimiter
	health   map[string]HealthCheck
	upgrader websocket.Upgrader
	rules    routeRules

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

type routeRules struct {
	signup   rateRule
	login    rateRule
	generate rateRule
	write    rateRule
	read     rateRule
	stream   rateRule
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitSignup    = 5
	rateLimitLogin     = 12
	rateLimitUserWrite = 30
	rateLimitUserRead  = 120
	rateLimitStream    = 30
	healthCheckTimeout = 2 * time.Second
	sseHeartbeat       = 15 * time.Second
	defaultListLimit   = 100
	maxListLimit       = 500
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, deps Deps) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		mux:      http.NewServeMux(),
		logger:   logger,
		auth:     deps.Auth,
		generate: deps.Generate,
		deploy:   deps.Deploy,
		projects: deps.Projects,
		stats:    deps.Analytics,
		logs:     deps.Logs,
		keys:     deps.Keys,
		limiter:  deps.Limiter,
		health:   deps.Health,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		rules: routeRules{
			signup:   rateRule{route: "signup", limit: rateLimitSignup, window: rateWindowDefault},
			login:    rateRule{route: "login", limit: rateLimitLogin, window: rateWindowDefault},
			generate: rateRule{route: "generate", limit: deps.GeneratePerMinute, window: rateWindowDefault},
			write:    rateRule{route: "write", limit: rateLimitUserWrite, window: rateWindowDefault},
			read:     rateRule{route: "read", limit: rateLimitUserRead, window: rateWindowDefault},
			stream:   rateRule{route: "stream", limit: rateLimitStream, window: rateWindowRealtime},
		},
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	rules := r.rules
	r.mux.HandleFunc("GET /healthz", r.audit(r.handleHealthz))
	r.mux.Handle("GET /metrics", promhttp.Handler())

	r.mux.HandleFunc("POST /auth/signup", r.audit(r.withRateLimit(rules.signup, rateLimitKeyIP, r.handleSignup)))
	r.mux.HandleFunc("POST /auth/login", r.audit(r.withRateLimit(rules.login, rateLimitKeyIP, r.handleLogin)))

	r.mux.HandleFunc("POST /generate", r.audit(r.authed(rules.generate, r.handleGenerate)))

	r.mux.HandleFunc("GET /projects", r.audit(r.authed(rules.read, r.handleListProjects)))
	r.mux.HandleFunc("GET /projects/stats", r.audit(r.authed(rules.read, r.handleProjectStats)))
	r.mux.HandleFunc("GET /projects/{id}", r.audit(r.authed(rules.read, r.handleGetProject)))
	r.mux.HandleFunc("PATCH /projects/{id}", r.audit(r.authed(rules.write, r.handleUpdateProject)))
	r.mux.HandleFunc("DELETE /projects/{id}", r.audit(r.authed(rules.write, r.handleDeleteProject)))
	r.mux.HandleFunc("GET /projects/{id}/generations", r.audit(r.authed(rules.read, r.handleGenerations)))
	r.mux.HandleFunc("POST /projects/{id}/deploy", r.audit(r.authed(rules.write, r.handleDeploy)))
	r.mux.HandleFunc("POST /projects/{id}/rollback", r.audit(r.authed(rules.write, r.handleRollback)))
	r.mux.HandleFunc("GET /projects/{id}/deployments", r.audit(r.authed(rules.read, r.handleHistory)))
	r.mux.HandleFunc("GET /projects/{id}/status", r.audit(r.authed(rules.read, r.handleStatus)))
	r.mux.HandleFunc("POST /projects/{id}/domain", r.audit(r.authed(rules.write, r.handleDomain)))
	r.mux.HandleFunc("DELETE /projects/{id}/deployment", r.audit(r.authed(rules.write, r.handleUndeploy)))
	r.mux.HandleFunc("GET /projects/{id}/logs", r.audit(r.authed(rules.read, r.handleLogs)))
	r.mux.HandleFunc("GET /projects/{id}/logs/stream", r.audit(r.authed(rules.stream, r.handleLogsSSE)))
	r.mux.HandleFunc("GET /ws/logs", r.audit(r.authed(rules.stream, r.handleLogsWS)))

	r.mux.HandleFunc("GET /analytics", r.audit(r.authed(rules.read, r.handleAnalyticsTotals)))
	r.mux.HandleFunc("GET /projects/{id}/analytics", r.audit(r.authed(rules.read, r.handleAnalyticsSummary)))
	r.mux.HandleFunc("POST /projects/{id}/analytics", r.audit(r.authed(rules.write, r.handleEnableAnalytics)))
	r.mux.HandleFunc("DELETE /projects/{id}/analytics", r.audit(r.authed(rules.write, r.handleDisableAnalytics)))

	r.mux.HandleFunc("GET /keys", r.audit(r.authed(rules.read, r.handleKeys)))
	r.mux.HandleFunc("POST /keys/{id}/reset", r.audit(r.authed(rules.write, r.handleKeyReset)))
}

func (r *Router) handleSignup(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, req, &payload, false) {
		return
	}
	user, token, err := r.auth.Signup(req.Context(), payload.Email, payload.Password)
	if err != nil {
		r.logger.Warn("signup rejected", "error", err)
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"user":  map[string]any{"id": user.ID, "email": user.Email},
		"token": token,
	})
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, req, &payload, false) {
		return
	}
	user, token, err := r.auth.Login(req.Context(), payload.Email, payload.Password)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":  map[string]any{"id": user.ID, "email": user.Email},
		"token": token,
	})
}

func (r *Router) handleKeys(w http.ResponseWriter, req *http.Request) {
	if r.keys == nil {
		writeError(w, http.StatusServiceUnavailable, "key pool unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"keys":  r.keys.Status(),
		"stats": r.keys.Stats(),
	})
}

func (r *Router) handleKeyReset(w http.ResponseWriter, req *http.Request) {
	if r.keys == nil {
		writeError(w, http.StatusServiceUnavailable, "key pool unavailable")
		return
	}
	id, err := strconv.Atoi(req.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "key id must be an integer")
		return
	}
	if err := r.keys.Release(req.Context(), id); err != nil {
		writeAppError(w, err)
		return
	}
	r.logger.Info("model key reset", "credential_id", id)
	writeJSON(w, http.StatusOK, map[string]any{"status": "reset", "id": id})
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	components := make(map[string]any, len(r.health))
	status := "ok"
	for name, check := range r.health {
		if check == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		err := check(ctx)
		cancel()
		if err != nil {
			status = "degraded"
			components[name] = map[string]any{"status": "down", "error": err.Error()}
			continue
		}
		components[name] = map[string]any{"status": "up"}
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		route := req.Pattern
		if route == "" {
			route = "unmatched"
		}
		r.recordRequestMetrics(req.Method, route, status, duration)

		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"route", route,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			fields = append(fields, "user_id", info.UserID)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status == 0 {
		sr.status = code
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		sr.status = http.StatusSwitchingProtocols
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

// pagination reads limit and offset query parameters.
func pagination(req *http.Request) (int, int) {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset, _ := strconv.Atoi(req.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
