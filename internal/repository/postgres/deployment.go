package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/pier-run/pier/internal/domain"
	"github.com/pier-run/pier/internal/repository"
)

// CreateDeployment inserts a deployment attempt.
func (r *Repository) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	const query = `INSERT INTO deployments (id, project_id, version, status, mode, storage_prefix, container_id, host_port, url, error, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)`
	_, err := r.pool.Exec(ctx, query,
		deployment.ID, deployment.ProjectID, deployment.Version, deployment.Status,
		string(deployment.Mode), deployment.Artifact.StoragePrefix, deployment.Artifact.ContainerID,
		deployment.Artifact.HostPort, deployment.URL, deployment.Error, deployment.StartedAt)
	return err
}

// UpdateDeploymentStatus applies a status transition to a deployment row.
func (r *Repository) UpdateDeploymentStatus(ctx context.Context, update domain.DeploymentStatusUpdate) error {
	const query = `UPDATE deployments
		SET status = $2,
			url = COALESCE(NULLIF($3, ''), url),
			error = COALESCE(NULLIF($4, ''), error),
			storage_prefix = COALESCE(NULLIF($5, ''), storage_prefix),
			container_id = COALESCE(NULLIF($6, ''), container_id),
			host_port = CASE WHEN $7 > 0 THEN $7 ELSE host_port END,
			completed_at = COALESCE($8, completed_at),
			updated_at = NOW()
		WHERE id = $1`
	var prefix, containerID string
	var hostPort int
	if update.Artifact != nil {
		prefix = update.Artifact.StoragePrefix
		containerID = update.Artifact.ContainerID
		hostPort = update.Artifact.HostPort
	}
	tag, err := r.pool.Exec(ctx, query, update.DeploymentID, update.Status, update.URL,
		update.Error, prefix, containerID, hostPort, update.CompletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

const deploymentColumns = `id, project_id, version, status, mode, storage_prefix, container_id, host_port, url, error, started_at, completed_at, updated_at`

func scanDeployment(row pgx.Row) (*domain.Deployment, error) {
	var d domain.Deployment
	var mode string
	if err := row.Scan(&d.ID, &d.ProjectID, &d.Version, &d.Status, &mode,
		&d.Artifact.StoragePrefix, &d.Artifact.ContainerID, &d.Artifact.HostPort,
		&d.URL, &d.Error, &d.StartedAt, &d.CompletedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	d.Mode = domain.BuildMode(mode)
	d.Artifact.Mode = d.Mode
	return &d, nil
}

// GetDeploymentByID returns a deployment by identifier.
func (r *Repository) GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+deploymentColumns+` FROM deployments WHERE id = $1`, deploymentID)
	return scanDeployment(row)
}

// ListDeploymentsByProject returns recent deployments, newest first.
func (r *Repository) ListDeploymentsByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `SELECT `+deploymentColumns+` FROM deployments WHERE project_id = $1 ORDER BY started_at DESC LIMIT $2`, projectID, limit)
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
