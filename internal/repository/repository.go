package repository

import (
	"context"

	"github.com/splax/pagesmith/internal/domain"
)

// UserRepository persists operator accounts.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
}

// ProjectRepository persists generated projects.
type ProjectRepository interface {
	CreateProject(ctx context.Context, project *domain.Project) error
	UpdateProjectContent(ctx context.Context, project *domain.Project) error
	GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error)
	ListProjects(ctx context.Context, limit, offset int) ([]domain.Project, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	UpdateProjectDeploy(ctx context.Context, update domain.ProjectDeployUpdate) error
	SetProjectDomain(ctx context.Context, projectID, hostname string) error
}

// ProjectAdminRepository covers operator edits made outside generation and deploys.
type ProjectAdminRepository interface {
	// UpdateProjectSettings writes name, subdomain, css, js and the PWA flag.
	UpdateProjectSettings(ctx context.Context, project *domain.Project) error
	// DeleteProject removes the project with its history, deployments and logs.
	DeleteProject(ctx context.Context, projectID string) error
	ProjectStats(ctx context.Context) (domain.ProjectStats, error)
}

// AnalyticsRepository records the web analytics site bound to a project.
type AnalyticsRepository interface {
	// SetProjectAnalytics stores the site tag and beacon token. Empty values unbind the site.
	SetProjectAnalytics(ctx context.Context, projectID, siteTag, token string) error
}

// HistoryRepository stores generation history.
type HistoryRepository interface {
	// AddHistory inserts entry and prunes the project's history to the newest keep entries.
	AddHistory(ctx context.Context, entry *domain.GenerationHistory, keep int) error
	ListHistory(ctx context.Context, projectID string, limit int) ([]domain.GenerationHistory, error)
}

// DeploymentRepository stores deployment records. At most one record per
// project is current.
type DeploymentRepository interface {
	// RecordDeployment inserts deployment as current, clears the previous
	// current flag and applies update to the project in one transaction.
	RecordDeployment(ctx context.Context, deployment *domain.Deployment, update domain.ProjectDeployUpdate) error
	// SetCurrentDeployment moves the current flag to deploymentID and applies
	// update to the project in one transaction.
	SetCurrentDeployment(ctx context.Context, projectID, deploymentID string, update domain.ProjectDeployUpdate) error
	ListDeploymentsByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error)
	// GetDeployment matches deploymentID against the local or the remote id.
	GetDeployment(ctx context.Context, projectID, deploymentID string) (*domain.Deployment, error)
	DeleteDeploymentsByProject(ctx context.Context, projectID string) error
}

// LogRepository handles log persistence and retrieval.
type LogRepository interface {
	AppendLog(ctx context.Context, log domain.ProjectLog) error
	ListLogsByProject(ctx context.Context, projectID string, limit, offset int) ([]domain.ProjectLog, error)
}

// KeyPoolStateRepository persists the advisory key pool state.
type KeyPoolStateRepository interface {
	LoadPoolState(ctx context.Context) (*domain.KeyPoolState, error)
	SavePoolState(ctx context.Context, state domain.KeyPoolState) error
}
