// Package project manages stored projects outside the generate and deploy
// pipelines: listing, edits, deletion and totals.
package project

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/splax/pagesmith/internal/apperr"
	"github.com/splax/pagesmith/internal/domain"
)

const (
	maxNameLength      = 120
	maxSubdomainLength = 63
	defaultHistory     = 4
)

// Store is the persistence the service needs.
type Store interface {
	GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error)
	ListProjects(ctx context.Context, limit, offset int) ([]domain.Project, error)
	ListHistory(ctx context.Context, projectID string, limit int) ([]domain.GenerationHistory, error)
	UpdateProjectSettings(ctx context.Context, project *domain.Project) error
	DeleteProject(ctx context.Context, projectID string) error
	ProjectStats(ctx context.Context) (domain.ProjectStats, error)
}

// UpdateInput holds optional edits. Nil fields are left unchanged.
type UpdateInput struct {
	Name       *string `json:"name"`
	Subdomain  *string `json:"subdomain"`
	CSS        *string `json:"css"`
	JS         *string `json:"js"`
	PWAEnabled *bool   `json:"pwa_enabled"`
}

// Service orchestrates project management.
type Service struct {
	store  Store
	logger *slog.Logger
}

// New returns a project service.
func New(store Store, logger *slog.Logger) Service {
	return Service{store: store, logger: logger}
}

var (
	errMissingProjectID   = apperr.New(apperr.KindInvalid, "project id required")
	errInvalidProjectName = apperr.New(apperr.KindInvalid, "project name must not be empty")
	errInvalidSubdomain   = apperr.New(apperr.KindInvalid, "subdomain may contain only a-z, 0-9 and dashes")
	errNothingToUpdate    = apperr.New(apperr.KindInvalid, "no fields to update")
	// ErrStillDeployed is returned when deleting a project that is live.
	ErrStillDeployed = apperr.New(apperr.KindInvalid, "project is deployed; undeploy it first")
)

// Get returns project details by identifier.
func (s Service) Get(ctx context.Context, projectID string) (*domain.Project, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errMissingProjectID
	}
	return s.store.GetProjectByID(ctx, projectID)
}

// List returns projects, most recently updated first.
func (s Service) List(ctx context.Context, limit, offset int) ([]domain.Project, error) {
	projects, err := s.store.ListProjects(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	if projects == nil {
		projects = []domain.Project{}
	}
	return projects, nil
}

// Generations returns the project's retained generation history.
func (s Service) Generations(ctx context.Context, projectID string, limit int) ([]domain.GenerationHistory, error) {
	if _, err := s.Get(ctx, projectID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistory
	}
	entries, err := s.store.ListHistory(ctx, strings.TrimSpace(projectID), limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []domain.GenerationHistory{}
	}
	return entries, nil
}

// Update applies operator edits. Changes take effect on the next deploy.
func (s Service) Update(ctx context.Context, projectID string, input UpdateInput) (*domain.Project, error) {
	if input.Name == nil && input.Subdomain == nil && input.CSS == nil && input.JS == nil && input.PWAEnabled == nil {
		return nil, errNothingToUpdate
	}
	project, err := s.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if input.Name != nil {
		name := strings.Join(strings.Fields(*input.Name), " ")
		if name == "" {
			return nil, errInvalidProjectName
		}
		project.Name = truncateRunes(name, maxNameLength)
	}
	if input.Subdomain != nil {
		sub, err := normalizeSubdomain(*input.Subdomain)
		if err != nil {
			return nil, err
		}
		project.Subdomain = sub
	}
	if input.CSS != nil {
		project.CSS = *input.CSS
	}
	if input.JS != nil {
		project.JS = *input.JS
	}
	if input.PWAEnabled != nil {
		project.PWAEnabled = *input.PWAEnabled
	}
	if err := s.store.UpdateProjectSettings(ctx, project); err != nil {
		return nil, err
	}
	s.logger.Info("project updated", "project_id", project.ID)
	return project, nil
}

// Delete removes a project and everything recorded for it. Live projects
// must be undeployed first so no remote site is orphaned.
func (s Service) Delete(ctx context.Context, projectID string) error {
	project, err := s.Get(ctx, projectID)
	if err != nil {
		return err
	}
	if project.Deployed() || project.Status == domain.ProjectStatusPublished {
		return ErrStillDeployed
	}
	if err := s.store.DeleteProject(ctx, project.ID); err != nil {
		return err
	}
	s.logger.Info("project deleted", "project_id", project.ID, "slug", project.Slug)
	return nil
}

// Stats reports project and generation totals.
func (s Service) Stats(ctx context.Context) (domain.ProjectStats, error) {
	return s.store.ProjectStats(ctx)
}

func normalizeSubdomain(raw string) (string, error) {
	sub := strings.ToLower(strings.TrimSpace(raw))
	if sub == "" {
		return "", nil
	}
	if len(sub) > maxSubdomainLength || strings.HasPrefix(sub, "-") || strings.HasSuffix(sub, "-") {
		return "", errInvalidSubdomain
	}
	for _, r := range sub {
		if !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && r != '-' {
			return "", errInvalidSubdomain
		}
	}
	return sub, nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:n]))
}
