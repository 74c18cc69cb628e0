package domain

import (
	"strings"
	"time"
)

// Project status values.
const (
	ProjectStatusDraft     = "draft"
	ProjectStatusPublished = "published"
)

// Project is a generated site and its deployment bookkeeping.
type Project struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Slug           string            `json:"slug"`
	Prompt         string            `json:"prompt"`
	Markup         string            `json:"markup"`
	CSS            string            `json:"css"`
	JS             string            `json:"js"`
	Images         map[string]string `json:"images,omitempty"`
	SEOTitle       string            `json:"seo_title"`
	SEODescription string            `json:"seo_description"`
	SEOKeywords    string            `json:"seo_keywords"`
	Framework      string            `json:"framework"`
	Language       string            `json:"language"`
	PWAEnabled     bool              `json:"pwa_enabled"`
	Subdomain      string            `json:"subdomain,omitempty"`
	CustomDomain   string            `json:"custom_domain,omitempty"`

	RemoteProjectName string     `json:"remote_project_name,omitempty"`
	DeploymentURL     string     `json:"deployment_url,omitempty"`
	LastDeploymentID  string     `json:"last_deployment_id,omitempty"`
	LastDeployedAt    *time.Time `json:"last_deployed_at,omitempty"`
	Status            string     `json:"status"`

	AnalyticsSiteTag string `json:"analytics_site_tag,omitempty"`
	AnalyticsToken   string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Deployed reports whether the project has a live remote deployment.
func (p Project) Deployed() bool {
	return p.RemoteProjectName != "" && p.LastDeploymentID != ""
}

// ProjectStats summarises stored projects.
type ProjectStats struct {
	TotalProjects    int `json:"total_projects"`
	Deployed         int `json:"deployed"`
	Drafts           int `json:"drafts"`
	TotalGenerations int `json:"total_generations"`
}

// ProjectDeployUpdate carries the fields written after a deploy, rollback or teardown.
type ProjectDeployUpdate struct {
	ProjectID         string
	RemoteProjectName string
	DeploymentURL     string
	LastDeploymentID  string
	LastDeployedAt    *time.Time
	Status            string
}

// GenerationHistory records one model generation for a project.
type GenerationHistory struct {
	ID           int64             `json:"id"`
	ProjectID    string            `json:"project_id"`
	Prompt       string            `json:"prompt"`
	Markup       string            `json:"markup"`
	CSS          string            `json:"css"`
	JS           string            `json:"js"`
	ImagePrompts map[string]string `json:"image_prompts,omitempty"`
	Model        string            `json:"model"`
	DurationMS   int64             `json:"duration_ms"`
	TokensUsed   int               `json:"tokens_used"`
	CreatedAt    time.Time         `json:"created_at"`
}

// AnalyticsEnabled reports whether a web analytics site is bound to the project.
func (p Project) AnalyticsEnabled() bool { return p.AnalyticsSiteTag != "" }

// BeaconToken is the token embedded in the analytics beacon, falling back to
// the site tag when the upstream returned no separate token.
func (p Project) BeaconToken() string {
	if p.AnalyticsToken != "" {
		return p.AnalyticsToken
	}
	return p.AnalyticsSiteTag
}

// Hostname returns the hostname the project should be served from: the
// custom domain, else the subdomain under siteDomain. A subdomain that
// already contains a dot is used as is.
func (p Project) Hostname(siteDomain string) string {
	if p.CustomDomain != "" {
		return p.CustomDomain
	}
	if p.Subdomain == "" {
		return ""
	}
	if strings.Contains(p.Subdomain, ".") {
		return p.Subdomain
	}
	if siteDomain == "" {
		return ""
	}
	return p.Subdomain + "." + siteDomain
}
