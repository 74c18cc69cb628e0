package hosting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"
)

// Stage is a deployment pipeline stage.
type Stage struct {
	Name      string     `json:"name"`
	Status    string     `json:"status"`
	StartedOn *time.Time `json:"started_on,omitempty"`
	EndedOn   *time.Time `json:"ended_on,omitempty"`
}

// Deployment is a provider-side deployment.
type Deployment struct {
	ID          string    `json:"id"`
	ShortID     string    `json:"short_id"`
	ProjectName string    `json:"project_name"`
	Environment string    `json:"environment"`
	URL         string    `json:"url"`
	Aliases     []string  `json:"aliases"`
	CreatedOn   time.Time `json:"created_on"`
	LatestStage Stage     `json:"latest_stage"`
}

type deploymentManifest struct {
	Branch string `json:"branch"`
}

// CreateDeployment uploads a zip archive of the site as a new production
// deployment.
func (c *Client) CreateDeployment(ctx context.Context, name string, archive io.Reader) (*Deployment, error) {
	body, contentType, err := deploymentForm(archive)
	if err != nil {
		return nil, err
	}
	var out Deployment
	if err := c.do(ctx, http.MethodPost, c.projectsPath(name, "deployments"), contentType, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// deploymentForm builds the multipart body: a JSON manifest part followed by
// the archive as _worker.bundle.
func deploymentForm(archive io.Reader) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	manifestHeader := textproto.MIMEHeader{}
	manifestHeader.Set("Content-Disposition", `form-data; name="manifest"`)
	manifestHeader.Set("Content-Type", "application/json")
	part, err := mw.CreatePart(manifestHeader)
	if err != nil {
		return nil, "", fmt.Errorf("create manifest part: %w", err)
	}
	if err := json.NewEncoder(part).Encode(deploymentManifest{Branch: ProductionBranch}); err != nil {
		return nil, "", fmt.Errorf("encode manifest: %w", err)
	}

	bundleHeader := textproto.MIMEHeader{}
	bundleHeader.Set("Content-Disposition", `form-data; name="_worker.bundle"; filename="files.zip"`)
	bundleHeader.Set("Content-Type", "application/zip")
	part, err = mw.CreatePart(bundleHeader)
	if err != nil {
		return nil, "", fmt.Errorf("create bundle part: %w", err)
	}
	if _, err := io.Copy(part, archive); err != nil {
		return nil, "", fmt.Errorf("write bundle: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("finalize form: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

// ListDeployments returns the newest deployments of a project.
func (c *Client) ListDeployments(ctx context.Context, name string, perPage int) ([]Deployment, error) {
	if perPage <= 0 {
		perPage = 10
	}
	path := fmt.Sprintf("%s?per_page=%d", c.projectsPath(name, "deployments"), perPage)
	var out []Deployment
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetDeployment fetches one deployment.
func (c *Client) GetDeployment(ctx context.Context, name, id string) (*Deployment, error) {
	var out Deployment
	if err := c.doJSON(ctx, http.MethodGet, c.projectsPath(name, "deployments", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RollbackDeployment makes an earlier deployment the live one.
func (c *Client) RollbackDeployment(ctx context.Context, name, id string) (*Deployment, error) {
	var out Deployment
	if err := c.doJSON(ctx, http.MethodPost, c.projectsPath(name, "deployments", id, "rollback"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
