package postgres

import (
	"context"

	"github.com/pier-run/pier/internal/domain"
)

// AppendLog inserts a single log entry. Appends are row inserts, so concurrent
// runs never race on a shared document.
func (r *Repository) AppendLog(ctx context.Context, entry domain.LogEntry) error {
	const query = `INSERT INTO project_logs (project_id, deployment_id, level, message, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := r.pool.Exec(ctx, query, entry.ProjectID, entry.DeploymentID, entry.Level, entry.Message, entry.CreatedAt)
	return err
}

// ListLogsByProject returns log entries for a project, oldest first.
func (r *Repository) ListLogsByProject(ctx context.Context, projectID string, limit, offset int) ([]domain.LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	const query = `SELECT id, project_id, deployment_id, level, message, created_at
		FROM project_logs WHERE project_id = $1 ORDER BY id LIMIT $2 OFFSET $3`
	return r.queryLogs(ctx, query, projectID, limit, offset)
}

// ListLogsByDeployment returns the full ordered log of one deployment.
func (r *Repository) ListLogsByDeployment(ctx context.Context, deploymentID string) ([]domain.LogEntry, error) {
	const query = `SELECT id, project_id, deployment_id, level, message, created_at
		FROM project_logs WHERE deployment_id = $1 ORDER BY id`
	return r.queryLogs(ctx, query, deploymentID)
}

func (r *Repository) queryLogs(ctx context.Context, query string, args ...any) ([]domain.LogEntry, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []domain.LogEntry
	for rows.Next() {
		var e domain.LogEntry
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.DeploymentID, &e.Level, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
