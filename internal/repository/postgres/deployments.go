package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/splax/pagesmith/internal/domain"
	"github.com/splax/pagesmith/internal/repository"
)

const deploymentColumns = `id, project_id, remote_project_name, remote_deployment_id, url, environment, source, is_current, created_at`

// RecordDeployment inserts a deployment as the project's current one and
// applies the project update in the same transaction.
func (r *Repository) RecordDeployment(ctx context.Context, deployment *domain.Deployment, update domain.ProjectDeployUpdate) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `UPDATE deployments SET is_current = FALSE WHERE project_id = $1 AND is_current`, deployment.ProjectID); err != nil {
		return err
	}

	const insert = `INSERT INTO deployments (` + deploymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8)`
	if _, err := tx.Exec(ctx, insert,
		deployment.ID,
		deployment.ProjectID,
		deployment.RemoteProjectName,
		deployment.RemoteDeploymentID,
		deployment.URL,
		deployment.Environment,
		deployment.Source,
		deployment.CreatedAt,
	); err != nil {
		return mapError(err)
	}
	if err := updateProjectDeploy(ctx, tx, update); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	deployment.IsCurrent = true
	return nil
}

// SetCurrentDeployment moves the current flag to deploymentID.
func (r *Repository) SetCurrentDeployment(ctx context.Context, projectID, deploymentID string, update domain.ProjectDeployUpdate) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `UPDATE deployments SET is_current = FALSE WHERE project_id = $1 AND is_current`, projectID); err != nil {
		return err
	}
	cmdTag, err := tx.Exec(ctx, `UPDATE deployments SET is_current = TRUE WHERE project_id = $1 AND id = $2`, projectID, deploymentID)
	if err != nil {
		return mapError(err)
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	if err := updateProjectDeploy(ctx, tx, update); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ListDeploymentsByProject fetches recent deployments for a project, newest first.
func (r *Repository) ListDeploymentsByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error) {
	if limit <= 0 {
		limit = 10
	}
	const query = `SELECT ` + deploymentColumns + `
		FROM deployments WHERE project_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deployments []domain.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, *d)
	}
	return deployments, rows.Err()
}

// GetDeployment fetches a deployment by local or remote identifier.
func (r *Repository) GetDeployment(ctx context.Context, projectID, deploymentID string) (*domain.Deployment, error) {
	const query = `SELECT ` + deploymentColumns + `
		FROM deployments WHERE project_id = $1 AND (id::text = $2 OR remote_deployment_id = $2)
		ORDER BY created_at DESC LIMIT 1`
	d, err := scanDeployment(r.pool.QueryRow(ctx, query, projectID, deploymentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, mapError(err)
	}
	return d, nil
}

// DeleteDeploymentsByProject removes every deployment record of a project.
func (r *Repository) DeleteDeploymentsByProject(ctx context.Context, projectID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM deployments WHERE project_id = $1`, projectID)
	return err
}

func scanDeployment(row pgx.Row) (*domain.Deployment, error) {
	var d domain.Deployment
	if err := row.Scan(&d.ID, &d.ProjectID, &d.RemoteProjectName, &d.RemoteDeploymentID, &d.URL, &d.Environment, &d.Source, &d.IsCurrent, &d.CreatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}
