package domain

import "time"

// Deployment statuses.
const (
	DeployStatusDeploying = "deploying"
	DeployStatusRunning   = "running"
	DeployStatusFailed    = "failed"
	DeployStatusStopped   = "stopped"
)

// Artifact is the mode-specific outcome of a deployment: a storage prefix for
// static sites, a container binding for server apps. Exactly one side is set.
type Artifact struct {
	Mode          BuildMode
	StoragePrefix string
	ContainerID   string
	HostPort      int
}

// Deployment captures a single execution attempt for a project.
type Deployment struct {
	ID          string
	ProjectID   string
	Version     string
	Status      string
	Mode        BuildMode
	Artifact    Artifact
	URL         string
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time
}

// DeploymentStatusUpdate captures mutable fields for a deployment.
type DeploymentStatusUpdate struct {
	DeploymentID string
	Status       string
	URL          string
	Error        string
	Artifact     *Artifact
	CompletedAt  *time.Time
}
