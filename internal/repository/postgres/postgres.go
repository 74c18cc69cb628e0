package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/pagesmith/internal/domain"
	"github.com/splax/pagesmith/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.UserRepository         = (*Repository)(nil)
	_ repository.ProjectRepository      = (*Repository)(nil)
	_ repository.ProjectAdminRepository = (*Repository)(nil)
	_ repository.AnalyticsRepository    = (*Repository)(nil)
	_ repository.HistoryRepository      = (*Repository)(nil)
	_ repository.DeploymentRepository   = (*Repository)(nil)
	_ repository.LogRepository          = (*Repository)(nil)
	_ repository.KeyPoolStateRepository = (*Repository)(nil)
)

// Ping checks connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// CreateUser inserts a user.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO users (id, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, query, user.ID, strings.ToLower(user.Email), user.PasswordHash, user.CreatedAt)
	return mapError(err)
}

// GetUserByEmail fetches a user by email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	const query = `SELECT id, email, password_hash, created_at FROM users WHERE email = $1`
	return r.scanUser(r.pool.QueryRow(ctx, query, strings.ToLower(email)))
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	const query = `SELECT id, email, password_hash, created_at FROM users WHERE id = $1`
	return r.scanUser(r.pool.QueryRow(ctx, query, id))
}

func (r *Repository) scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, mapError(err)
	}
	return &u, nil
}

const projectColumns = `id, name, slug, prompt, markup, css, js, images, seo_title, seo_description, seo_keywords,
	framework, language, pwa_enabled, subdomain, custom_domain,
	remote_project_name, deployment_url, last_deployment_id, last_deployed_at, status, created_at, updated_at,
	analytics_site_tag, analytics_site_token`

// CreateProject inserts a project.
func (r *Repository) CreateProject(ctx context.Context, project *domain.Project) error {
	images, err := encodeMap(project.Images)
	if err != nil {
		return err
	}
	status := project.Status
	if status == "" {
		status = domain.ProjectStatusDraft
	}
	const query = `INSERT INTO projects (id, name, slug, prompt, markup, css, js, images, seo_title, seo_description, seo_keywords,
			framework, language, pwa_enabled, subdomain, custom_domain, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $18)`
	_, err = r.pool.Exec(ctx, query,
		project.ID,
		project.Name,
		project.Slug,
		project.Prompt,
		project.Markup,
		project.CSS,
		project.JS,
		images,
		project.SEOTitle,
		project.SEODescription,
		project.SEOKeywords,
		project.Framework,
		project.Language,
		project.PWAEnabled,
		project.Subdomain,
		project.CustomDomain,
		status,
		project.CreatedAt,
	)
	if err != nil {
		return mapError(err)
	}
	project.Status = status
	project.UpdatedAt = project.CreatedAt
	return nil
}

// UpdateProjectContent stores regenerated content and SEO fields.
func (r *Repository) UpdateProjectContent(ctx context.Context, project *domain.Project) error {
	images, err := encodeMap(project.Images)
	if err != nil {
		return err
	}
	const query = `UPDATE projects
		SET prompt = $2, markup = $3, css = $4, js = $5, images = $6,
			seo_title = $7, seo_description = $8, seo_keywords = $9,
			framework = $10, language = $11, pwa_enabled = $12, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`
	err = r.pool.QueryRow(ctx, query,
		project.ID,
		project.Prompt,
		project.Markup,
		project.CSS,
		project.JS,
		images,
		project.SEOTitle,
		project.SEODescription,
		project.SEOKeywords,
		project.Framework,
		project.Language,
		project.PWAEnabled,
	).Scan(&project.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.ErrNotFound
		}
		return mapError(err)
	}
	return nil
}

// GetProjectByID fetches a project.
func (r *Repository) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1`
	p, err := scanProject(r.pool.QueryRow(ctx, query, projectID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, mapError(err)
	}
	return p, nil
}

// ListProjects returns projects, most recently updated first.
func (r *Repository) ListProjects(ctx context.Context, limit, offset int) ([]domain.Project, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + projectColumns + ` FROM projects ORDER BY updated_at DESC LIMIT $1 OFFSET $2`
	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

// SlugExists reports whether a project already uses slug.
func (r *Repository) SlugExists(ctx context.Context, slug string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM projects WHERE slug = $1)`
	var exists bool
	if err := r.pool.QueryRow(ctx, query, slug).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// UpdateProjectDeploy writes the deploy bookkeeping fields.
func (r *Repository) UpdateProjectDeploy(ctx context.Context, update domain.ProjectDeployUpdate) error {
	return updateProjectDeploy(ctx, r.pool, update)
}

// SetProjectDomain stores a custom domain on the project.
func (r *Repository) SetProjectDomain(ctx context.Context, projectID, hostname string) error {
	const query = `UPDATE projects SET custom_domain = $2, updated_at = NOW() WHERE id = $1`
	cmdTag, err := r.pool.Exec(ctx, query, projectID, hostname)
	if err != nil {
		return mapError(err)
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// UpdateProjectSettings stores operator edits to a project.
func (r *Repository) UpdateProjectSettings(ctx context.Context, project *domain.Project) error {
	const query = `UPDATE projects
		SET name = $2, subdomain = $3, css = $4, js = $5, pwa_enabled = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`
	err := r.pool.QueryRow(ctx, query,
		project.ID,
		project.Name,
		project.Subdomain,
		project.CSS,
		project.JS,
		project.PWAEnabled,
	).Scan(&project.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.ErrNotFound
		}
		return mapError(err)
	}
	return nil
}

// DeleteProject removes a project. History, deployments and logs cascade.
func (r *Repository) DeleteProject(ctx context.Context, projectID string) error {
	cmdTag, err := r.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, projectID)
	if err != nil {
		return mapError(err)
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// SetProjectAnalytics binds or clears the project's web analytics site.
func (r *Repository) SetProjectAnalytics(ctx context.Context, projectID, siteTag, token string) error {
	const query = `UPDATE projects SET analytics_site_tag = $2, analytics_site_token = $3, updated_at = NOW() WHERE id = $1`
	cmdTag, err := r.pool.Exec(ctx, query, projectID, siteTag, token)
	if err != nil {
		return mapError(err)
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ProjectStats counts projects by status and all stored generations.
func (r *Repository) ProjectStats(ctx context.Context) (domain.ProjectStats, error) {
	const query = `SELECT
		(SELECT COUNT(*) FROM projects),
		(SELECT COUNT(*) FROM projects WHERE status = 'published'),
		(SELECT COUNT(*) FROM generation_history)`
	var stats domain.ProjectStats
	if err := r.pool.QueryRow(ctx, query).Scan(&stats.TotalProjects, &stats.Deployed, &stats.TotalGenerations); err != nil {
		return domain.ProjectStats{}, err
	}
	stats.Drafts = stats.TotalProjects - stats.Deployed
	return stats, nil
}

// AddHistory inserts a generation history entry and keeps only the newest keep entries.
func (r *Repository) AddHistory(ctx context.Context, entry *domain.GenerationHistory, keep int) error {
	prompts, err := encodeMap(entry.ImagePrompts)
	if err != nil {
		return err
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const insert = `INSERT INTO generation_history (project_id, prompt, markup, css, js, image_prompts, model, duration_ms, tokens_used, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`
	if err := tx.QueryRow(ctx, insert,
		entry.ProjectID,
		entry.Prompt,
		entry.Markup,
		entry.CSS,
		entry.JS,
		prompts,
		entry.Model,
		entry.DurationMS,
		entry.TokensUsed,
		entry.CreatedAt,
	).Scan(&entry.ID); err != nil {
		return mapError(err)
	}

	if keep > 0 {
		const prune = `DELETE FROM generation_history
			WHERE project_id = $1 AND id NOT IN (
				SELECT id FROM generation_history WHERE project_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2
			)`
		if _, err := tx.Exec(ctx, prune, entry.ProjectID, keep); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// ListHistory returns a project's generation history, newest first.
func (r *Repository) ListHistory(ctx context.Context, projectID string, limit int) ([]domain.GenerationHistory, error) {
	if limit <= 0 {
		limit = 10
	}
	const query = `SELECT id, project_id, prompt, markup, css, js, image_prompts, model, duration_ms, tokens_used, created_at
		FROM generation_history WHERE project_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.GenerationHistory
	for rows.Next() {
		var h domain.GenerationHistory
		var prompts []byte
		if err := rows.Scan(&h.ID, &h.ProjectID, &h.Prompt, &h.Markup, &h.CSS, &h.JS, &prompts, &h.Model, &h.DurationMS, &h.TokensUsed, &h.CreatedAt); err != nil {
			return nil, err
		}
		if h.ImagePrompts, err = decodeMap(prompts); err != nil {
			return nil, err
		}
		entries = append(entries, h)
	}
	return entries, rows.Err()
}

// AppendLog inserts a log entry.
func (r *Repository) AppendLog(ctx context.Context, log domain.ProjectLog) error {
	const query = `INSERT INTO project_logs (project_id, source, level, message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query, log.ProjectID, log.Source, log.Level, log.Message, log.Metadata, log.CreatedAt)
	return mapError(err)
}

// ListLogsByProject fetches logs for a project, newest first.
func (r *Repository) ListLogsByProject(ctx context.Context, projectID string, limit, offset int) ([]domain.ProjectLog, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	const query = `SELECT id, project_id, source, level, message, metadata, created_at FROM project_logs
		WHERE project_id = $1 ORDER BY id DESC LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, projectID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []domain.ProjectLog
	for rows.Next() {
		var l domain.ProjectLog
		if err := rows.Scan(&l.ID, &l.ProjectID, &l.Source, &l.Level, &l.Message, &l.Metadata, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func updateProjectDeploy(ctx context.Context, db execer, update domain.ProjectDeployUpdate) error {
	status := update.Status
	if status == "" {
		status = domain.ProjectStatusDraft
	}
	const query = `UPDATE projects
		SET remote_project_name = $2,
			deployment_url = $3,
			last_deployment_id = $4,
			last_deployed_at = $5,
			status = $6,
			updated_at = NOW()
		WHERE id = $1`
	cmdTag, err := db.Exec(ctx, query,
		update.ProjectID,
		update.RemoteProjectName,
		update.DeploymentURL,
		update.LastDeploymentID,
		update.LastDeployedAt,
		status,
	)
	if err != nil {
		return mapError(err)
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanProject(row pgx.Row) (*domain.Project, error) {
	var p domain.Project
	var images []byte
	var deployedAt *time.Time
	if err := row.Scan(
		&p.ID, &p.Name, &p.Slug, &p.Prompt, &p.Markup, &p.CSS, &p.JS, &images,
		&p.SEOTitle, &p.SEODescription, &p.SEOKeywords,
		&p.Framework, &p.Language, &p.PWAEnabled, &p.Subdomain, &p.CustomDomain,
		&p.RemoteProjectName, &p.DeploymentURL, &p.LastDeploymentID, &deployedAt, &p.Status,
		&p.CreatedAt, &p.UpdatedAt,
		&p.AnalyticsSiteTag, &p.AnalyticsToken,
	); err != nil {
		return nil, err
	}
	if deployedAt != nil {
		value := deployedAt.UTC()
		p.LastDeployedAt = &value
	}
	var err error
	if p.Images, err = decodeMap(images); err != nil {
		return nil, err
	}
	return &p, nil
}

func encodeMap(m map[string]string) ([]byte, error) {
	if m == nil {
		m = map[string]string{}
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode map: %w", err)
	}
	return raw, nil
}

func decodeMap(raw []byte) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode map: %w", err)
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

// mapError translates constraint violations into repository sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503":
			return repository.ErrNotFound
		case "23505":
			return repository.ErrConflict
		case "23514", "22P02":
			return repository.ErrInvalidArgument
		}
	}
	return err
}
