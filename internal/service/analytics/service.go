// Package analytics binds web analytics sites to deployed projects and reads
// their traffic summaries.
package analytics

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/splax/pagesmith/internal/apperr"
	"github.com/splax/pagesmith/internal/domain"
	"github.com/splax/pagesmith/internal/hosting"
)

const (
	// DefaultDays is the summary window when none is given.
	DefaultDays = 7
	// MaxDays bounds the summary window.
	MaxDays = 90

	listPageSize = 100
)

// Store is the persistence the service needs.
type Store interface {
	GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error)
	ListProjects(ctx context.Context, limit, offset int) ([]domain.Project, error)
	SetProjectAnalytics(ctx context.Context, projectID, siteTag, token string) error
}

// Provider registers analytics sites and queries their traffic.
type Provider interface {
	CreateAnalyticsSite(ctx context.Context, host string) (*hosting.AnalyticsSite, error)
	DeleteAnalyticsSite(ctx context.Context, siteTag string) error
	AnalyticsSummary(ctx context.Context, siteTag string, since, until time.Time) (*domain.AnalyticsSummary, error)
}

// Site describes the analytics binding of a project.
type Site struct {
	ProjectID string `json:"project_id"`
	SiteTag   string `json:"site_tag"`
	Host      string `json:"host"`
	Created   bool   `json:"created"`
}

// Service orchestrates project analytics.
type Service struct {
	store      Store
	provider   Provider
	logger     *slog.Logger
	siteDomain string
	now        func() time.Time
}

// New returns an analytics service. siteDomain is the parent domain of
// project subdomains.
func New(store Store, provider Provider, logger *slog.Logger, siteDomain string) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return Service{store: store, provider: provider, logger: logger, siteDomain: siteDomain, now: time.Now}
}

var (
	errMissingProjectID = apperr.New(apperr.KindInvalid, "project id required")
	errNotDeployed      = apperr.New(apperr.KindInvalid, "project has not been deployed")
	// ErrNotEnabled is returned when reading analytics of a project without a site.
	ErrNotEnabled = apperr.New(apperr.KindInvalid, "analytics is not enabled for this project")
)

// Enable registers a site for the project's public hostname unless one is
// already bound. The beacon is embedded on the next deploy.
func (s Service) Enable(ctx context.Context, projectID string) (*Site, error) {
	project, err := s.load(ctx, projectID)
	if err != nil {
		return nil, err
	}
	host := s.host(*project)
	if project.AnalyticsEnabled() {
		return &Site{ProjectID: project.ID, SiteTag: project.AnalyticsSiteTag, Host: host}, nil
	}
	if host == "" {
		return nil, errNotDeployed
	}

	site, err := s.provider.CreateAnalyticsSite(ctx, host)
	if err != nil {
		s.logger.Error("create analytics site failed", "project_id", project.ID, "host", host, "error", err)
		return nil, err
	}
	if err := s.store.SetProjectAnalytics(ctx, project.ID, site.SiteTag, site.SiteToken); err != nil {
		return nil, err
	}
	s.logger.Info("analytics enabled", "project_id", project.ID, "host", host, "site_tag", site.SiteTag)
	return &Site{ProjectID: project.ID, SiteTag: site.SiteTag, Host: host, Created: true}, nil
}

// Disable removes the project's site. A site already gone upstream is
// treated as removed.
func (s Service) Disable(ctx context.Context, projectID string) error {
	project, err := s.load(ctx, projectID)
	if err != nil {
		return err
	}
	if !project.AnalyticsEnabled() {
		return nil
	}
	if err := s.provider.DeleteAnalyticsSite(ctx, project.AnalyticsSiteTag); err != nil && !errors.Is(err, hosting.ErrNotFound) {
		return err
	}
	if err := s.store.SetProjectAnalytics(ctx, project.ID, "", ""); err != nil {
		return err
	}
	s.logger.Info("analytics disabled", "project_id", project.ID, "site_tag", project.AnalyticsSiteTag)
	return nil
}

// Summary reads the project's traffic over the last days days.
func (s Service) Summary(ctx context.Context, projectID string, days int) (*domain.AnalyticsSummary, error) {
	project, err := s.load(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !project.AnalyticsEnabled() {
		return nil, ErrNotEnabled
	}
	since, until := s.window(days)
	summary, err := s.provider.AnalyticsSummary(ctx, project.AnalyticsSiteTag, since, until)
	if err != nil {
		return nil, err
	}
	summary.ProjectID = project.ID
	return summary, nil
}

// Totals sums traffic across every project with analytics enabled.
// Projects whose summary fails are counted as unavailable.
func (s Service) Totals(ctx context.Context, days int) (*domain.AnalyticsTotals, error) {
	since, until := s.window(days)
	totals := &domain.AnalyticsTotals{Since: since, Until: until}
	for offset := 0; ; offset += listPageSize {
		projects, err := s.store.ListProjects(ctx, listPageSize, offset)
		if err != nil {
			return nil, err
		}
		for _, p := range projects {
			if !p.AnalyticsEnabled() {
				continue
			}
			summary, err := s.provider.AnalyticsSummary(ctx, p.AnalyticsSiteTag, since, until)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				s.logger.Warn("analytics summary unavailable", "project_id", p.ID, "error", err)
				totals.Unavailable++
				continue
			}
			totals.Projects++
			totals.TotalVisits += summary.TotalVisits
			totals.TotalPageViews += summary.TotalPageViews
		}
		if len(projects) < listPageSize {
			return totals, nil
		}
	}
}

func (s Service) load(ctx context.Context, projectID string) (*domain.Project, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errMissingProjectID
	}
	return s.store.GetProjectByID(ctx, projectID)
}

// host is the hostname visitors reach the project on.
func (s Service) host(p domain.Project) string {
	if !p.Deployed() {
		return ""
	}
	if h := p.Hostname(s.siteDomain); h != "" {
		return h
	}
	return hosting.CNAMETarget(p.RemoteProjectName)
}

func (s Service) window(days int) (time.Time, time.Time) {
	switch {
	case days <= 0:
		days = DefaultDays
	case days > MaxDays:
		days = MaxDays
	}
	until := s.now().UTC()
	return until.AddDate(0, 0, -(days - 1)), until
}
