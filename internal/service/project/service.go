package project

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/pier-run/pier/internal/domain"
	"github.com/pier-run/pier/internal/repository"
	"github.com/pier-run/pier/pkg/crypto"
)

// CreateInput encapsulates project creation attributes.
type CreateInput struct {
	OwnerID      string
	Name         string
	RepoURL      string
	Subdomain    string
	Mode         string
	RootDir      string
	BuildCommand string
	PublishDir   string
}

// EnvVarInput holds environment variable data.
type EnvVarInput struct {
	ProjectID string
	Key       string
	Value     string
}

// EnvVar is a decrypted environment variable for API responses.
type EnvVar struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

var (
	errInvalidProjectName = errors.New("project name is required")
	errInvalidRepoURL     = errors.New("repository URL is required")
	errInvalidEnvKey      = errors.New("environment variable key is required")
	errMissingOwnerID     = errors.New("owner id required")
	errMissingProjectID   = errors.New("project id required")

	// ErrSubdomainTaken signals a uniqueness conflict on the normalized
	// subdomain.
	ErrSubdomainTaken = errors.New("subdomain already taken")
	// ErrInvalidSubdomain signals a subdomain with no usable characters.
	ErrInvalidSubdomain = errors.New("subdomain must contain letters, digits or hyphens")
)

// Teardown releases the external resources a project holds: its published
// objects, its container and its routing rule.
type Teardown interface {
	TeardownStatic(ctx context.Context, storagePrefix string) error
	TeardownServer(ctx context.Context, containerID string) error
	RemoveRoute(ctx context.Context, subdomain string) error
}

// Service manages project configuration and lifecycle.
type Service struct {
	projects repository.ProjectRepository
	teardown Teardown
	logger   *slog.Logger
	cryptKey string
}

// New returns a project service. teardown may be nil; Delete then only
// removes the database rows.
func New(projects repository.ProjectRepository, teardown Teardown, cryptKey string, logger *slog.Logger) Service {
	return Service{projects: projects, teardown: teardown, cryptKey: cryptKey, logger: logger}
}

// Create registers a new project. The subdomain is normalized before the
// uniqueness check so "MyApp!" and "myapp" contend for the same name.
func (s Service) Create(ctx context.Context, input CreateInput) (*domain.Project, error) {
	if strings.TrimSpace(input.OwnerID) == "" {
		return nil, errMissingOwnerID
	}
	if strings.TrimSpace(input.Name) == "" {
		return nil, errInvalidProjectName
	}
	if strings.TrimSpace(input.RepoURL) == "" {
		return nil, errInvalidRepoURL
	}
	mode, err := domain.ParseBuildMode(input.Mode)
	if err != nil {
		return nil, err
	}
	subdomain := domain.NormalizeSubdomain(input.Subdomain)
	if subdomain == "" {
		subdomain = domain.NormalizeSubdomain(input.Name)
	}
	if subdomain == "" {
		return nil, ErrInvalidSubdomain
	}
	publishDir := strings.TrimSpace(input.PublishDir)
	if publishDir == "" && mode == domain.ModeStatic {
		publishDir = "dist"
	}

	now := time.Now().UTC()
	project := &domain.Project{
		ID:            uuid.NewString(),
		OwnerID:       input.OwnerID,
		Name:          strings.TrimSpace(input.Name),
		RepoURL:       strings.TrimSpace(input.RepoURL),
		Subdomain:     subdomain,
		Mode:          mode,
		RootDir:       strings.TrimSpace(input.RootDir),
		BuildCommand:  strings.TrimSpace(input.BuildCommand),
		PublishDir:    publishDir,
		Status:        domain.StatusIdle,
		StoragePrefix: "projects/" + subdomain,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.projects.CreateProject(ctx, project); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrSubdomainTaken
		}
		return nil, err
	}
	s.logger.Info("project created", "project_id", project.ID, "subdomain", project.Subdomain, "mode", project.Mode)
	return project, nil
}

// Get returns project details by identifier.
func (s Service) Get(ctx context.Context, projectID string) (*domain.Project, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errMissingProjectID
	}
	return s.projects.GetProjectByID(ctx, projectID)
}

// ListByOwner returns the owner's projects.
func (s Service) ListByOwner(ctx context.Context, ownerID string) ([]domain.Project, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, errMissingOwnerID
	}
	return s.projects.ListProjectsByOwner(ctx, ownerID)
}

// AddEnvVar encrypts and stores an environment variable for server-mode runs.
func (s Service) AddEnvVar(ctx context.Context, input EnvVarInput) error {
	if strings.TrimSpace(input.Key) == "" {
		return errInvalidEnvKey
	}
	ciphertext, err := crypto.EncryptString(s.cryptKey, input.Value)
	if err != nil {
		return err
	}
	envVar := &domain.ProjectEnvVar{
		ProjectID: input.ProjectID,
		Key:       strings.TrimSpace(input.Key),
		Value:     ciphertext,
		CreatedAt: time.Now().UTC(),
	}
	return s.projects.UpsertEnvVar(ctx, envVar)
}

// ListEnvVars decrypts stored environment variables for a project.
func (s Service) ListEnvVars(ctx context.Context, projectID string) ([]EnvVar, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errMissingProjectID
	}
	stored, err := s.projects.ListProjectEnvVars(ctx, projectID)
	if err != nil {
		return nil, err
	}
	vars := make([]EnvVar, 0, len(stored))
	for _, item := range stored {
		value, err := crypto.DecryptToString(s.cryptKey, item.Value)
		if err != nil {
			s.logger.Warn("decrypt env var failed", "project_id", projectID, "key", item.Key, "error", err)
			continue
		}
		vars = append(vars, EnvVar{Key: item.Key, Value: value})
	}
	return vars, nil
}

// DecryptedEnv returns the project environment as a map for container runs.
func (s Service) DecryptedEnv(ctx context.Context, projectID string) (map[string]string, error) {
	vars, err := s.ListEnvVars(ctx, projectID)
	if err != nil {
		return nil, err
	}
	env := make(map[string]string, len(vars))
	for _, v := range vars {
		env[v.Key] = v.Value
	}
	return env, nil
}

// Delete tears down the project's external resources, then removes its rows.
// Teardown is best-effort and idempotent: resources that are already gone do
// not block removal.
func (s Service) Delete(ctx context.Context, projectID string) error {
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		return err
	}
	if s.teardown != nil {
		switch project.Mode {
		case domain.ModeStatic:
			if err := s.teardown.TeardownStatic(ctx, project.StoragePrefix); err != nil {
				s.logger.Warn("static teardown failed", "project_id", projectID, "error", err)
			}
		case domain.ModeServer:
			if project.ContainerID != "" {
				if err := s.teardown.TeardownServer(ctx, project.ContainerID); err != nil {
					s.logger.Warn("container teardown failed", "project_id", projectID, "error", err)
				}
			}
		}
		if err := s.teardown.RemoveRoute(ctx, project.Subdomain); err != nil {
			s.logger.Warn("route teardown failed", "project_id", projectID, "error", err)
		}
	}
	if err := s.projects.DeleteProject(ctx, projectID); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	s.logger.Info("project deleted", "project_id", projectID, "subdomain", project.Subdomain)
	return nil
}
