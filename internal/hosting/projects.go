package hosting

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// ProductionBranch is the branch every project deploys to.
const ProductionBranch = "main"

// Project is a provider-side Pages project.
type Project struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	Subdomain        string      `json:"subdomain"`
	Domains          []string    `json:"domains"`
	ProductionBranch string      `json:"production_branch"`
	CreatedOn        time.Time   `json:"created_on"`
	LatestDeployment *Deployment `json:"latest_deployment,omitempty"`
}

type createProjectRequest struct {
	Name             string `json:"name"`
	ProductionBranch string `json:"production_branch"`
}

// ListProjects returns every project in the account.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var out []Project
	if err := c.doJSON(ctx, http.MethodGet, c.projectsPath(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetProject fetches a project by name. A missing project matches ErrNotFound.
func (c *Client) GetProject(ctx context.Context, name string) (*Project, error) {
	var out Project
	if err := c.doJSON(ctx, http.MethodGet, c.projectsPath(name), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateProject creates a project on the production branch.
func (c *Client) CreateProject(ctx context.Context, name string) (*Project, error) {
	var out Project
	body := createProjectRequest{Name: name, ProductionBranch: ProductionBranch}
	if err := c.doJSON(ctx, http.MethodPost, c.projectsPath(), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteProject removes a project and all of its deployments.
func (c *Client) DeleteProject(ctx context.Context, name string) error {
	return c.doJSON(ctx, http.MethodDelete, c.projectsPath(name), nil, nil)
}

// EnsureProject returns the named project, creating it only when the lookup
// reports it missing. created is true when this call created it.
func (c *Client) EnsureProject(ctx context.Context, name string) (project *Project, created bool, err error) {
	project, err = c.GetProject(ctx, name)
	if err == nil {
		return project, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	project, err = c.CreateProject(ctx, name)
	if err != nil {
		return nil, false, err
	}
	c.logger.Info("hosting project created", "remote_project", name)
	return project, true, nil
}
