package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pier-run/pier/internal/domain"
	"github.com/pier-run/pier/internal/repository"
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
	_ repository.ProjectRepository    = (*Repository)(nil)
	_ repository.DeploymentRepository = (*Repository)(nil)
	_ repository.LogRepository        = (*Repository)(nil)
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// CreateProject inserts a project row. A duplicate subdomain maps to ErrConflict.
func (r *Repository) CreateProject(ctx context.Context, project *domain.Project) error {
	const query = `INSERT INTO projects (id, owner_id, name, repo_url, subdomain, mode, root_dir, build_command, publish_dir, status, storage_prefix, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)`
	_, err := r.pool.Exec(ctx, query,
		project.ID, project.OwnerID, project.Name, project.RepoURL, project.Subdomain,
		string(project.Mode), project.RootDir, project.BuildCommand, project.PublishDir,
		project.Status, project.StoragePrefix, project.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return err
	}
	return nil
}

const projectColumns = `id, owner_id, name, repo_url, subdomain, mode, root_dir, build_command, publish_dir, status, current_deployment_id, storage_prefix, container_id, created_at, updated_at`

func scanProject(row pgx.Row) (*domain.Project, error) {
	var p domain.Project
	var mode string
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.RepoURL, &p.Subdomain, &mode,
		&p.RootDir, &p.BuildCommand, &p.PublishDir, &p.Status, &p.CurrentDeploymentID,
		&p.StoragePrefix, &p.ContainerID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	p.Mode = domain.BuildMode(mode)
	return &p, nil
}

// GetProjectByID retrieves a project by identifier.
func (r *Repository) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, projectID)
	return scanProject(row)
}

// GetProjectBySubdomain retrieves a project by its normalized subdomain.
func (r *Repository) GetProjectBySubdomain(ctx context.Context, subdomain string) (*domain.Project, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE subdomain = $1`, subdomain)
	return scanProject(row)
}

// ListProjectsByOwner returns projects registered by the owner.
func (r *Repository) ListProjectsByOwner(ctx context.Context, ownerID string) ([]domain.Project, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+projectColumns+` FROM projects WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
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

// UpdateProjectStatus sets the project status in a single-field update.
func (r *Repository) UpdateProjectStatus(ctx context.Context, projectID, status string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE projects SET status = $2, updated_at = NOW() WHERE id = $1`, projectID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// SetCurrentDeployment promotes a completed deployment to the project's current
// one, recording the mode-specific artifact fields alongside.
func (r *Repository) SetCurrentDeployment(ctx context.Context, projectID string, deployment *domain.Deployment) error {
	const query = `UPDATE projects
		SET current_deployment_id = $2,
			storage_prefix = $3,
			container_id = $4,
			status = $5,
			updated_at = NOW()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, projectID, deployment.ID,
		deployment.Artifact.StoragePrefix, deployment.Artifact.ContainerID, deployment.Status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// UpsertEnvVar stores an encrypted environment variable.
func (r *Repository) UpsertEnvVar(ctx context.Context, envVar *domain.ProjectEnvVar) error {
	const query = `INSERT INTO project_env_vars (project_id, key, value, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id, key) DO UPDATE SET value = EXCLUDED.value`
	_, err := r.pool.Exec(ctx, query, envVar.ProjectID, envVar.Key, envVar.Value, envVar.CreatedAt)
	return err
}

// ListProjectEnvVars returns stored environment variables for a project.
func (r *Repository) ListProjectEnvVars(ctx context.Context, projectID string) ([]domain.ProjectEnvVar, error) {
	rows, err := r.pool.Query(ctx, `SELECT project_id, key, value, created_at FROM project_env_vars WHERE project_id = $1 ORDER BY key`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var vars []domain.ProjectEnvVar
	for rows.Next() {
		var v domain.ProjectEnvVar
		if err := rows.Scan(&v.ProjectID, &v.Key, &v.Value, &v.CreatedAt); err != nil {
			return nil, err
		}
		vars = append(vars, v)
	}
	return vars, rows.Err()
}

// DeleteProject removes a project and its dependents.
func (r *Repository) DeleteProject(ctx context.Context, projectID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, projectID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
