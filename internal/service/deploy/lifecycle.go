package deploy

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/splax/pagesmith/internal/apperr"
	"github.com/splax/pagesmith/internal/domain"
	"github.com/splax/pagesmith/internal/hosting"
	"github.com/splax/pagesmith/internal/repository"
	"github.com/splax/pagesmith/internal/service/logs"
)

// Deployment states reported by Status.
const (
	StateNotDeployed = "not_deployed"
	StateDeployed    = "deployed"
	StateError       = "error"
)

var (
	errNotDeployed     = apperr.New(apperr.KindInvalid, "project is not deployed")
	errNoPrevious      = apperr.New(apperr.KindInvalid, "no previous deployment available")
	errAlreadyCurrent  = apperr.New(apperr.KindInvalid, "deployment is already current")
	errInvalidHostname = apperr.New(apperr.KindInvalid, "hostname is not a valid domain name")

	hostnamePattern = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,63}$`)
)

// Status summarizes a project's deployment.
type Status struct {
	ProjectID         string     `json:"project_id"`
	State             string     `json:"state"`
	CanDeploy         bool       `json:"can_deploy"`
	URL               string     `json:"url,omitempty"`
	RemoteProjectName string     `json:"remote_project_name,omitempty"`
	LastDeploymentID  string     `json:"last_deployment_id,omitempty"`
	LastDeployedAt    *time.Time `json:"last_deployed_at,omitempty"`
	Stage             string     `json:"stage,omitempty"`
	StageStatus       string     `json:"stage_status,omitempty"`
	Message           string     `json:"message,omitempty"`
}

// rollbackWindow bounds how many records a default rollback scans for the
// current deployment.
const rollbackWindow = 50

// Rollback makes an earlier deployment current. An empty deploymentID
// targets the deployment just older than the current one.
func (s Service) Rollback(ctx context.Context, projectID, deploymentID string) (*Result, error) {
	unlock := s.locks.lock(projectID)
	defer unlock()

	start := s.now()
	project, err := s.loadProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.RemoteProjectName == "" {
		return nil, errNotDeployed
	}

	target, err := s.rollbackTarget(ctx, project.ID, strings.TrimSpace(deploymentID))
	if err != nil {
		return nil, err
	}
	if target.IsCurrent {
		return nil, errAlreadyCurrent
	}

	if _, err := s.hosting.RollbackDeployment(ctx, project.RemoteProjectName, target.RemoteDeploymentID); err != nil {
		s.metrics.operation("rollback", outcomeFailure)
		s.logger.Error("rollback failed", "project_id", project.ID, "deployment_id", target.RemoteDeploymentID, "error", err)
		s.emit(ctx, project.ID, logs.LevelError, "rollback failed: "+err.Error(), map[string]any{"deployment_id": target.RemoteDeploymentID})
		return nil, err
	}

	now := s.now().UTC()
	update := domain.ProjectDeployUpdate{
		ProjectID:         project.ID,
		RemoteProjectName: project.RemoteProjectName,
		DeploymentURL:     firstNonEmpty(target.URL, project.DeploymentURL),
		LastDeploymentID:  target.RemoteDeploymentID,
		LastDeployedAt:    &now,
		Status:            domain.ProjectStatusPublished,
	}
	if err := s.deployments.SetCurrentDeployment(ctx, project.ID, target.ID, update); err != nil {
		s.metrics.operation("rollback", outcomeFailure)
		return nil, err
	}

	s.metrics.operation("rollback", outcomeSuccess)
	s.logger.Info("rollback complete", "project_id", project.ID, "deployment_id", target.RemoteDeploymentID)
	s.emit(ctx, project.ID, logs.LevelInfo, "rolled back", map[string]any{"deployment_id": target.RemoteDeploymentID})
	return &Result{
		ProjectID:          project.ID,
		RemoteProjectName:  project.RemoteProjectName,
		DeploymentID:       target.ID,
		RemoteDeploymentID: target.RemoteDeploymentID,
		URL:                update.DeploymentURL,
		Source:             domain.DeploymentSourceRollback,
		Duration:           s.now().Sub(start),
	}, nil
}

func (s Service) rollbackTarget(ctx context.Context, projectID, deploymentID string) (*domain.Deployment, error) {
	if deploymentID != "" {
		target, err := s.deployments.GetDeployment(ctx, projectID, deploymentID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, apperr.Wrap(apperr.KindNotFound, err, "deployment not found")
			}
			return nil, err
		}
		return target, nil
	}
	records, err := s.deployments.ListDeploymentsByProject(ctx, projectID, rollbackWindow)
	if err != nil {
		return nil, err
	}
	// Step back from the current record so repeated rollbacks walk down the history.
	current := 0
	for i, record := range records {
		if record.IsCurrent {
			current = i
			break
		}
	}
	if current+1 >= len(records) {
		return nil, errNoPrevious
	}
	return &records[current+1], nil
}

// History lists the newest deployment records of a project.
func (s Service) History(ctx context.Context, projectID string) ([]domain.Deployment, error) {
	if _, err := s.loadProject(ctx, projectID); err != nil {
		return nil, err
	}
	records, err := s.deployments.ListDeploymentsByProject(ctx, projectID, s.opts.HistoryLimit)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []domain.Deployment{}
	}
	return records, nil
}

// Undeploy deletes the remote project, resets the project to a never
// deployed state, drops its deployment records and removes the local export.
func (s Service) Undeploy(ctx context.Context, projectID string) error {
	unlock := s.locks.lock(projectID)
	defer unlock()

	project, err := s.loadProject(ctx, projectID)
	if err != nil {
		return err
	}
	if project.RemoteProjectName == "" {
		return errNotDeployed
	}
	if !s.hosting.Configured() {
		return hosting.ErrNotConfigured
	}

	if err := s.hosting.DeleteProject(ctx, project.RemoteProjectName); err != nil {
		if !errors.Is(err, hosting.ErrNotFound) {
			s.metrics.operation("undeploy", outcomeFailure)
			return err
		}
		s.logger.Warn("remote project already gone", "project_id", project.ID, "remote_project", project.RemoteProjectName)
	}
	if err := s.projects.UpdateProjectDeploy(ctx, domain.ProjectDeployUpdate{
		ProjectID: project.ID,
		Status:    domain.ProjectStatusDraft,
	}); err != nil {
		return err
	}
	if err := s.deployments.DeleteDeploymentsByProject(ctx, project.ID); err != nil {
		return err
	}
	if err := s.exporter.Remove(project.Slug); err != nil {
		s.logger.Warn("failed to remove local export", "project_id", project.ID, "slug", project.Slug, "error", err)
	}

	s.metrics.operation("undeploy", outcomeSuccess)
	s.logger.Info("project undeployed", "project_id", project.ID, "remote_project", project.RemoteProjectName)
	s.emit(ctx, project.ID, logs.LevelInfo, "project undeployed", nil)
	return nil
}

// SetupDomain attaches a custom hostname to a deployed project and returns
// the CNAME target the operator must point it at.
func (s Service) SetupDomain(ctx context.Context, projectID, hostname string) (*domain.DomainBinding, error) {
	host := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(hostname)), ".")
	if !hostnamePattern.MatchString(host) {
		return nil, errInvalidHostname
	}

	unlock := s.locks.lock(projectID)
	defer unlock()

	project, err := s.loadProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.RemoteProjectName == "" {
		return nil, apperr.New(apperr.KindInvalid, "deploy the project before adding a domain")
	}

	status := domain.DomainStatusPending
	attached, err := s.hosting.AddDomain(ctx, project.RemoteProjectName, host)
	switch {
	case err == nil:
		if attached != nil && attached.Status == domain.DomainStatusActive {
			status = domain.DomainStatusActive
		}
	case errors.Is(err, hosting.ErrDomainExists):
	default:
		return nil, err
	}

	if err := s.projects.SetProjectDomain(ctx, project.ID, host); err != nil {
		return nil, err
	}
	if err := s.projects.UpdateProjectDeploy(ctx, domain.ProjectDeployUpdate{
		ProjectID:         project.ID,
		RemoteProjectName: project.RemoteProjectName,
		DeploymentURL:     "https://" + host,
		LastDeploymentID:  project.LastDeploymentID,
		LastDeployedAt:    project.LastDeployedAt,
		Status:            firstNonEmpty(project.Status, domain.ProjectStatusPublished),
	}); err != nil {
		return nil, err
	}

	binding := &domain.DomainBinding{
		ProjectID:   project.ID,
		Hostname:    host,
		CNAMETarget: hosting.CNAMETarget(project.RemoteProjectName),
		Status:      status,
	}
	s.logger.Info("custom domain attached", "project_id", project.ID, "hostname", host, "cname_target", binding.CNAMETarget)
	s.emit(ctx, project.ID, logs.LevelInfo, "custom domain attached", map[string]any{"hostname": host, "cname_target": binding.CNAMETarget})
	return binding, nil
}

// Status reports the project's deploy fields and the provider's view of
// its latest deployment.
func (s Service) Status(ctx context.Context, projectID string) (*Status, error) {
	project, err := s.loadProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := &Status{ProjectID: project.ID, CanDeploy: s.hosting.Configured()}
	if project.RemoteProjectName == "" {
		out.State = StateNotDeployed
		return out, nil
	}

	out.URL = project.DeploymentURL
	out.RemoteProjectName = project.RemoteProjectName
	out.LastDeploymentID = project.LastDeploymentID
	out.LastDeployedAt = project.LastDeployedAt

	remote, err := s.hosting.GetProject(ctx, project.RemoteProjectName)
	if err != nil {
		out.State = StateError
		out.Message = err.Error()
		return out, nil
	}
	out.State = StateDeployed
	if remote.LatestDeployment != nil {
		out.Stage = remote.LatestDeployment.LatestStage.Name
		out.StageStatus = remote.LatestDeployment.LatestStage.Status
	}
	return out, nil
}
