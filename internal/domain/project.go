package domain

import (
	"fmt"
	"strings"
	"time"
)

// BuildMode selects how a project is built and published.
type BuildMode string

const (
	ModeStatic BuildMode = "static"
	ModeServer BuildMode = "server"
)

// ParseBuildMode validates a user-supplied mode string.
func ParseBuildMode(raw string) (BuildMode, error) {
	switch BuildMode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeStatic:
		return ModeStatic, nil
	case ModeServer:
		return ModeServer, nil
	default:
		return "", fmt.Errorf("build mode must be static or server")
	}
}

// Project statuses.
const (
	StatusIdle      = "idle"
	StatusDeploying = "deploying"
	StatusRunning   = "running"
	StatusFailed    = "failed"
	StatusStopped   = "stopped"
)

// Project describes a deployable unit bound to one repository and one subdomain.
type Project struct {
	ID                  string
	OwnerID             string
	Name                string
	RepoURL             string
	Subdomain           string
	Mode                BuildMode
	RootDir             string
	BuildCommand        string
	PublishDir          string
	Status              string
	CurrentDeploymentID *string
	StoragePrefix       string
	ContainerID         string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ProjectEnvVar stores an encrypted environment variable for server-mode projects.
type ProjectEnvVar struct {
	ProjectID string
	Key       string
	Value     []byte
	CreatedAt time.Time
}

// URL derives the externally reachable address for the project.
func (p Project) URL(baseDomain string) string {
	return fmt.Sprintf("https://%s.%s", p.Subdomain, baseDomain)
}

// NormalizeSubdomain lowercases the input and strips every character outside
// [a-z0-9-]. Uniqueness checks must run against the normalized form.
func NormalizeSubdomain(raw string) string {
	lowered := strings.ToLower(strings.TrimSpace(raw))
	var b strings.Builder
	for _, r := range lowered {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "-")
}
