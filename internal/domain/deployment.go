package domain

import "time"

// Deployment sources.
const (
	DeploymentSourceDeploy   = "deploy"
	DeploymentSourceRollback = "rollback"
)

// Deployment is the bookkeeping entry for one successful remote deployment.
type Deployment struct {
	ID                 string    `json:"id"`
	ProjectID          string    `json:"project_id"`
	RemoteProjectName  string    `json:"remote_project_name"`
	RemoteDeploymentID string    `json:"remote_deployment_id"`
	URL                string    `json:"url"`
	Environment        string    `json:"environment"`
	Source             string    `json:"source"`
	IsCurrent          bool      `json:"is_current"`
	CreatedAt          time.Time `json:"created_at"`
}

// Domain binding states.
const (
	DomainStatusPending = "pending"
	DomainStatusActive  = "active"
)

// DomainBinding maps a hostname onto a project's remote deployment.
type DomainBinding struct {
	ProjectID   string `json:"project_id"`
	Hostname    string `json:"hostname"`
	CNAMETarget string `json:"cname_target"`
	Status      string `json:"status"`
}
