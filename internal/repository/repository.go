package repository

import (
	"context"

	"github.com/pier-run/pier/internal/domain"
)

// ProjectRepository persists project configuration and runtime state.
type ProjectRepository interface {
	CreateProject(ctx context.Context, project *domain.Project) error
	GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error)
	GetProjectBySubdomain(ctx context.Context, subdomain string) (*domain.Project, error)
	ListProjectsByOwner(ctx context.Context, ownerID string) ([]domain.Project, error)
	UpdateProjectStatus(ctx context.Context, projectID, status string) error
	SetCurrentDeployment(ctx context.Context, projectID string, deployment *domain.Deployment) error
	UpsertEnvVar(ctx context.Context, envVar *domain.ProjectEnvVar) error
	ListProjectEnvVars(ctx context.Context, projectID string) ([]domain.ProjectEnvVar, error)
	DeleteProject(ctx context.Context, projectID string) error
}

// DeploymentRepository stores deployment history.
type DeploymentRepository interface {
	CreateDeployment(ctx context.Context, deployment *domain.Deployment) error
	UpdateDeploymentStatus(ctx context.Context, update domain.DeploymentStatusUpdate) error
	GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error)
	ListDeploymentsByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error)
}

// LogRepository handles log persistence and retrieval.
type LogRepository interface {
	AppendLog(ctx context.Context, entry domain.LogEntry) error
	ListLogsByProject(ctx context.Context, projectID string, limit, offset int) ([]domain.LogEntry, error)
	ListLogsByDeployment(ctx context.Context, deploymentID string) ([]domain.LogEntry, error)
}
