package hosting

import (
	"context"
	"net/http"
	"time"
)

// Domain is a hostname attached to a project.
type Domain struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedOn time.Time `json:"created_on"`
}

type addDomainRequest struct {
	Name string `json:"name"`
}

// AddDomain attaches hostname to a project.
func (c *Client) AddDomain(ctx context.Context, name, hostname string) (*Domain, error) {
	var out Domain
	if err := c.doJSON(ctx, http.MethodPost, c.projectsPath(name, "domains"), addDomainRequest{Name: hostname}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListDomains returns the hostnames attached to a project.
func (c *Client) ListDomains(ctx context.Context, name string) ([]Domain, error) {
	var out []Domain
	if err := c.doJSON(ctx, http.MethodGet, c.projectsPath(name, "domains"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteDomain detaches hostname from a project.
func (c *Client) DeleteDomain(ctx context.Context, name, hostname string) error {
	return c.doJSON(ctx, http.MethodDelete, c.projectsPath(name, "domains", hostname), nil, nil)
}

// CNAMETarget is the record target a custom hostname must point at.
func CNAMETarget(remoteProject string) string {
	return remoteProject + ".pages.dev"
}
