package deploy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/splax/pagesmith/internal/apperr"
	"github.com/splax/pagesmith/internal/domain"
	"github.com/splax/pagesmith/internal/export"
	"github.com/splax/pagesmith/internal/hosting"
	"github.com/splax/pagesmith/internal/repository"
	"github.com/splax/pagesmith/internal/service/logs"
	"github.com/splax/pagesmith/pkg/telemetry"
)

// Defaults applied by New.
const (
	DefaultPrefix         = "ps-"
	DefaultHistoryLimit   = 10
	DefaultBindAttempts   = 3
	DefaultBindMaxElapsed = 30 * time.Second
	defaultBindInterval   = time.Second
	productionEnvironment = "production"
)

// Hosting is the subset of the provider client the orchestrator drives.
type Hosting interface {
	Configured() bool
	GetProject(ctx context.Context, name string) (*hosting.Project, error)
	EnsureProject(ctx context.Context, name string) (*hosting.Project, bool, error)
	DeleteProject(ctx context.Context, name string) error
	CreateDeployment(ctx context.Context, name string, archive io.Reader) (*hosting.Deployment, error)
	RollbackDeployment(ctx context.Context, name, id string) (*hosting.Deployment, error)
	AddDomain(ctx context.Context, name, hostname string) (*hosting.Domain, error)
}

// Exporter materializes a project as a static file tree.
type Exporter interface {
	Export(p domain.Project, baseURL string) (*export.Bundle, error)
	Remove(slug string) error
}

// EventSink receives pipeline progress for a project.
type EventSink interface {
	Emit(ctx context.Context, projectID, source, level, message string, metadata map[string]any)
}

// Options tunes the orchestrator.
type Options struct {
	Prefix          string
	SiteDomain      string
	HistoryLimit    int
	BindAttempts    int
	BindMaxElapsed  time.Duration
	BindInterval    time.Duration
	ArchiveSizeHint int
}

// Result describes a finished deploy or rollback.
type Result struct {
	ProjectID          string        `json:"project_id"`
	RemoteProjectName  string        `json:"remote_project_name"`
	DeploymentID       string        `json:"deployment_id"`
	RemoteDeploymentID string        `json:"remote_deployment_id"`
	URL                string        `json:"url"`
	Source             string        `json:"source"`
	ProjectCreated     bool          `json:"project_created,omitempty"`
	Hostname           string        `json:"hostname,omitempty"`
	Warnings           []string      `json:"warnings,omitempty"`
	Duration           time.Duration `json:"duration"`
}

// Service orchestrates export, upload and bookkeeping of static deployments.
type Service struct {
	projects    repository.ProjectRepository
	deployments repository.DeploymentRepository
	hosting     Hosting
	exporter    Exporter
	events      EventSink
	logger      *slog.Logger
	opts        Options
	locks       *projectLocks
	metrics     *deployMetrics
	now         func() time.Time
}

// New returns a deployment service.
func New(projects repository.ProjectRepository, deployments repository.DeploymentRepository, host Hosting, exporter Exporter, events EventSink, logger *slog.Logger, opts Options) Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.BindAttempts <= 0 {
		opts.BindAttempts = DefaultBindAttempts
	}
	if opts.BindMaxElapsed <= 0 {
		opts.BindMaxElapsed = DefaultBindMaxElapsed
	}
	if opts.BindInterval <= 0 {
		opts.BindInterval = defaultBindInterval
	}
	return Service{
		projects:    projects,
		deployments: deployments,
		hosting:     host,
		exporter:    exporter,
		events:      events,
		logger:      logger,
		opts:        opts,
		locks:       newProjectLocks(),
		metrics:     newDeployMetrics(),
		now:         time.Now,
	}
}

// Deploy exports the project, uploads it as a new production deployment,
// binds its hostname and records the deployment as current.
func (s Service) Deploy(ctx context.Context, projectID string) (*Result, error) {
	unlock := s.locks.lock(projectID)
	defer unlock()

	start := s.now()
	project, err := s.loadProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !s.hosting.Configured() {
		return nil, hosting.ErrNotConfigured
	}

	remote := project.RemoteProjectName
	if remote == "" {
		remote = RemoteName(s.opts.Prefix, firstNonEmpty(project.Slug, project.Name, project.ID))
	}
	result := &Result{ProjectID: project.ID, RemoteProjectName: remote, Source: domain.DeploymentSourceDeploy}
	s.emit(ctx, project.ID, logs.LevelInfo, "deployment started", map[string]any{"remote_project": remote})

	var bundle *export.Bundle
	err = s.step(ctx, project.ID, apperr.StepExport, func(context.Context) error {
		var err error
		bundle, err = s.exporter.Export(*project, export.SiteURL(*project, remote, s.opts.SiteDomain))
		return err
	})
	if err != nil {
		return nil, s.fail(ctx, project.ID, err)
	}

	err = s.step(ctx, project.ID, apperr.StepEnsure, func(ctx context.Context) error {
		var err error
		_, result.ProjectCreated, err = s.hosting.EnsureProject(ctx, remote)
		return err
	})
	if err != nil {
		return nil, s.fail(ctx, project.ID, err)
	}
	if result.ProjectCreated {
		s.emit(ctx, project.ID, logs.LevelInfo, "remote project created", map[string]any{"remote_project": remote})
	}

	var remoteDeployment *hosting.Deployment
	err = s.step(ctx, project.ID, apperr.StepUpload, func(ctx context.Context) error {
		var buf bytes.Buffer
		buf.Grow(s.opts.ArchiveSizeHint)
		if err := export.Archive(bundle.Dir, &buf); err != nil {
			return err
		}
		var err error
		remoteDeployment, err = s.hosting.CreateDeployment(ctx, remote, &buf)
		return err
	})
	if err != nil {
		return nil, s.fail(ctx, project.ID, err)
	}
	result.RemoteDeploymentID = remoteDeployment.ID
	result.URL = remoteDeployment.URL
	if result.URL == "" {
		result.URL = "https://" + hosting.CNAMETarget(remote)
	}

	if host := project.Hostname(s.opts.SiteDomain); host != "" {
		err := s.step(ctx, project.ID, apperr.StepBind, func(ctx context.Context) error {
			return s.bindDomain(ctx, project.ID, remote, host)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, s.fail(ctx, project.ID, err)
			}
			warning := fmt.Sprintf("domain %s was not bound: %v", host, err)
			result.Warnings = append(result.Warnings, warning)
			s.logger.Warn("domain bind failed", "project_id", project.ID, "hostname", host, "error", err)
			s.emit(ctx, project.ID, logs.LevelWarn, warning, map[string]any{"step": apperr.StepBind, "hostname": host})
		} else {
			result.Hostname = host
			result.URL = "https://" + host
		}
	}

	now := s.now().UTC()
	record := &domain.Deployment{
		ID:                 uuid.NewString(),
		ProjectID:          project.ID,
		RemoteProjectName:  remote,
		RemoteDeploymentID: remoteDeployment.ID,
		URL:                result.URL,
		Environment:        firstNonEmpty(remoteDeployment.Environment, productionEnvironment),
		Source:             domain.DeploymentSourceDeploy,
		CreatedAt:          now,
	}
	update := domain.ProjectDeployUpdate{
		ProjectID:         project.ID,
		RemoteProjectName: remote,
		DeploymentURL:     result.URL,
		LastDeploymentID:  remoteDeployment.ID,
		LastDeployedAt:    &now,
		Status:            domain.ProjectStatusPublished,
	}
	err = s.step(ctx, project.ID, apperr.StepRecord, func(ctx context.Context) error {
		return s.deployments.RecordDeployment(ctx, record, update)
	})
	if err != nil {
		return nil, s.fail(ctx, project.ID, err)
	}

	result.DeploymentID = record.ID
	result.Duration = s.now().Sub(start)
	s.metrics.operation("deploy", outcomeSuccess)
	s.logger.Info("deployment complete", "project_id", project.ID, "remote_project", remote, "deployment_id", remoteDeployment.ID, "url", result.URL, "duration", result.Duration)
	s.emit(ctx, project.ID, logs.LevelInfo, "deployment complete", map[string]any{"url": result.URL, "deployment_id": remoteDeployment.ID})
	return result, nil
}

// step runs fn as one traced, timed pipeline step and tags its error.
func (s Service) step(ctx context.Context, projectID, name string, fn func(context.Context) error) error {
	ctx, span := telemetry.TraceDeployStep(ctx, projectID, name)
	defer span.End()

	started := s.now()
	err := fn(ctx)
	s.metrics.observeStep(name, s.now().Sub(started), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return apperr.StepError(name, err)
	}
	s.emit(ctx, projectID, logs.LevelInfo, name+" complete", map[string]any{"step": name})
	return nil
}

func (s Service) fail(ctx context.Context, projectID string, err error) error {
	s.metrics.operation("deploy", outcomeFailure)
	s.logger.Error("deployment failed", "project_id", projectID, "step", apperr.StepOf(err), "error", err)
	s.emit(ctx, projectID, logs.LevelError, err.Error(), map[string]any{"step": apperr.StepOf(err)})
	return err
}

// bindDomain attaches host to the remote project, retrying transient
// failures with exponential backoff. An already attached host is success.
func (s Service) bindDomain(ctx context.Context, projectID, remote, host string) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.opts.BindInterval
	policy.MaxElapsedTime = s.opts.BindMaxElapsed

	attempt := 0
	op := func() error {
		attempt++
		_, err := s.hosting.AddDomain(ctx, remote, host)
		switch {
		case err == nil, errors.Is(err, hosting.ErrDomainExists):
			return nil
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		case permanentBindError(err):
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Warn("domain bind attempt failed", "project_id", projectID, "hostname", host, "attempt", attempt, "retry_in", wait, "error", err)
	}
	retries := backoff.WithMaxRetries(policy, uint64(s.opts.BindAttempts-1))
	return backoff.RetryNotify(op, backoff.WithContext(retries, ctx), notify)
}

// permanentBindError reports provider rejections that a retry cannot fix.
func permanentBindError(err error) bool {
	status := apperr.StatusOf(err)
	return status >= 400 && status < 500 && status != 429
}

func (s Service) loadProject(ctx context.Context, projectID string) (*domain.Project, error) {
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.Wrap(apperr.KindNotFound, err, "project not found")
		}
		return nil, err
	}
	return project, nil
}

func (s Service) emit(ctx context.Context, projectID, level, message string, metadata map[string]any) {
	if s.events == nil {
		return
	}
	s.events.Emit(ctx, projectID, logs.SourceDeploy, level, message, metadata)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
