package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/pier-run/pier/internal/buildexec"
	"github.com/pier-run/pier/internal/docker"
	"github.com/pier-run/pier/internal/domain"
	"github.com/pier-run/pier/internal/repository"
	"github.com/pier-run/pier/internal/service/logs"
)

// ErrDeployInProgress signals a rejected concurrent deploy for a project that
// already has one running.
var ErrDeployInProgress = errors.New("deployment already in progress for project")

// recordTimeout bounds the terminal bookkeeping writes that must land even
// after the pipeline context has expired.
const recordTimeout = 30 * time.Second

// Fetcher retrieves repository sources into an empty directory.
type Fetcher interface {
	Clone(ctx context.Context, repoURL, dest string) error
}

// CommandRunner executes install and build commands in a workspace.
type CommandRunner interface {
	Run(ctx context.Context, command, dir string, onLine buildexec.LineFunc) (string, error)
}

// Publisher mirrors built static assets into the object store.
type Publisher interface {
	UploadDir(ctx context.Context, dir, prefix string) (int, error)
	DeleteAll(ctx context.Context, prefix string) error
}

// Runtime containerizes and runs server-mode workspaces.
type Runtime interface {
	BuildAndDeploy(ctx context.Context, req docker.DeployRequest, onLog docker.LogFunc) (docker.DeployResult, error)
	StopContainer(ctx context.Context, containerID string) error
}

// Router maintains reverse proxy rules.
type Router interface {
	Configure(ctx context.Context, subdomain string, upstreamPort int) error
	Remove(ctx context.Context, subdomain string) error
}

// Workspaces provisions and removes per-deployment directories.
type Workspaces interface {
	Prepare(identifier string) (string, error)
	Cleanup(path string) error
}

// EnvSource yields the decrypted environment for a project.
type EnvSource interface {
	DecryptedEnv(ctx context.Context, projectID string) (map[string]string, error)
}

// Metrics records deployment outcomes. Implementations must be safe for
// concurrent use.
type Metrics interface {
	ObserveDeploy(mode, outcome string, duration time.Duration)
}

// Options tunes the pipeline.
type Options struct {
	BaseDomain      string
	InstallCommand  string
	GitTimeout      time.Duration
	BuildTimeout    time.Duration
	PipelineTimeout time.Duration
}

// Service runs the deployment pipeline: fetch, build, publish, route, record.
// At most one deployment per project is in flight at a time; concurrent
// requests are rejected, not queued.
type Service struct {
	projects    repository.ProjectRepository
	deployments repository.DeploymentRepository
	workspaces  Workspaces
	fetcher     Fetcher
	runner      CommandRunner
	publisher   Publisher
	runtime     Runtime
	router      Router
	envs        EnvSource
	logSvc      logs.Service
	metrics     Metrics
	logger      *slog.Logger
	opts        Options

	inflight sync.Map
}

// New wires a deploy service.
func New(
	projects repository.ProjectRepository,
	deployments repository.DeploymentRepository,
	workspaces Workspaces,
	fetcher Fetcher,
	runner CommandRunner,
	publisher Publisher,
	runtime Runtime,
	router Router,
	envs EnvSource,
	logSvc logs.Service,
	metrics Metrics,
	logger *slog.Logger,
	opts Options,
) *Service {
	if opts.InstallCommand == "" {
		opts.InstallCommand = "npm install"
	}
	if opts.GitTimeout <= 0 {
		opts.GitTimeout = 60 * time.Second
	}
	if opts.BuildTimeout <= 0 {
		opts.BuildTimeout = 10 * time.Minute
	}
	if opts.PipelineTimeout <= 0 {
		opts.PipelineTimeout = opts.GitTimeout + 2*opts.BuildTimeout + 5*time.Minute
	}
	return &Service{
		projects:    projects,
		deployments: deployments,
		workspaces:  workspaces,
		fetcher:     fetcher,
		runner:      runner,
		publisher:   publisher,
		runtime:     runtime,
		router:      router,
		envs:        envs,
		logSvc:      logSvc,
		metrics:     metrics,
		logger:      logger,
		opts:        opts,
	}
}

// Deploy records a new deployment attempt and starts the pipeline in the
// background. The returned deployment is the acknowledgment payload; progress
// flows through the log stream and status updates.
func (s *Service) Deploy(ctx context.Context, projectID string) (*domain.Deployment, error) {
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if _, loaded := s.inflight.LoadOrStore(project.ID, struct{}{}); loaded {
		return nil, ErrDeployInProgress
	}

	now := time.Now().UTC()
	deployment := &domain.Deployment{
		ID:        uuid.NewString(),
		ProjectID: project.ID,
		Version:   now.Format("20060102-150405"),
		Status:    domain.DeployStatusDeploying,
		Mode:      project.Mode,
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := s.deployments.CreateDeployment(ctx, deployment); err != nil {
		s.inflight.Delete(project.ID)
		return nil, err
	}
	if err := s.projects.UpdateProjectStatus(ctx, project.ID, domain.StatusDeploying); err != nil {
		s.logger.Warn("project status update failed", "project_id", project.ID, "error", err)
	}
	s.appendLog(ctx, project.ID, deployment.ID, "info", fmt.Sprintf("deployment %s started", deployment.Version))
	s.logSvc.PublishStatus(ctx, project.ID, deployment.ID, domain.DeployStatusDeploying, "deployment started")

	go s.run(*project, *deployment)
	return deployment, nil
}

// run executes the pipeline for one deployment. It owns its own context so a
// cancelled trigger request does not abort a deployment already underway.
func (s *Service) run(project domain.Project, deployment domain.Deployment) {
	defer s.inflight.Delete(project.ID)

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.PipelineTimeout)
	defer cancel()

	started := time.Now()
	artifact, err := s.execute(ctx, &project, &deployment)

	// A pipeline timeout is a normal failed outcome for the run, so the
	// status and log writes below must not inherit the expired context.
	recordCtx, recordCancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer recordCancel()
	if err != nil {
		s.fail(recordCtx, project, deployment, err)
		s.observe(project.Mode, "failed", time.Since(started))
		return
	}
	s.succeed(recordCtx, project, deployment, artifact)
	s.observe(project.Mode, "success", time.Since(started))
}

// execute performs fetch, build and publish. The workspace is removed
// unconditionally on the way out, success or failure.
func (s *Service) execute(ctx context.Context, project *domain.Project, deployment *domain.Deployment) (domain.Artifact, error) {
	workdir, err := s.workspaces.Prepare(deployment.ID)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("prepare workspace: %w", err)
	}
	defer func() {
		if err := s.workspaces.Cleanup(workdir); err != nil {
			s.logger.Warn("workspace cleanup failed", "deployment_id", deployment.ID, "error", err)
		}
	}()

	s.appendLog(ctx, project.ID, deployment.ID, "info", "fetching repository")
	cloneCtx, cancel := context.WithTimeout(ctx, s.opts.GitTimeout)
	err = s.fetcher.Clone(cloneCtx, project.RepoURL, workdir)
	cancel()
	if err != nil {
		return domain.Artifact{}, err
	}

	buildDir := workdir
	if root := strings.TrimSpace(project.RootDir); root != "" && root != "." {
		buildDir = workdir + "/" + strings.Trim(root, "/")
	}

	switch project.Mode {
	case domain.ModeStatic:
		return s.executeStatic(ctx, project, deployment, buildDir)
	case domain.ModeServer:
		return s.executeServer(ctx, project, deployment, buildDir)
	default:
		return domain.Artifact{}, fmt.Errorf("unsupported build mode %q", project.Mode)
	}
}

func (s *Service) executeStatic(ctx context.Context, project *domain.Project, deployment *domain.Deployment, buildDir string) (domain.Artifact, error) {
	onLine := func(line string) {
		s.appendLog(ctx, project.ID, deployment.ID, "info", line)
	}

	buildCtx, cancel := context.WithTimeout(ctx, s.opts.BuildTimeout)
	defer cancel()

	s.appendLog(ctx, project.ID, deployment.ID, "info", "installing dependencies")
	if _, err := s.runner.Run(buildCtx, s.opts.InstallCommand, buildDir, onLine); err != nil {
		return domain.Artifact{}, err
	}
	if cmd := strings.TrimSpace(project.BuildCommand); cmd != "" {
		s.appendLog(ctx, project.ID, deployment.ID, "info", "running build command")
		if _, err := s.runner.Run(buildCtx, cmd, buildDir, onLine); err != nil {
			return domain.Artifact{}, err
		}
	}

	publishDir := buildDir + "/" + strings.Trim(project.PublishDir, "/")
	prefix := project.StoragePrefix
	if prefix == "" {
		prefix = "projects/" + project.Subdomain
	}

	s.appendLog(ctx, project.ID, deployment.ID, "info", "publishing static assets")
	count, err := s.publisher.UploadDir(ctx, publishDir, prefix)
	if err != nil {
		return domain.Artifact{}, err
	}
	s.appendLog(ctx, project.ID, deployment.ID, "info", fmt.Sprintf("published %d files", count))

	return domain.Artifact{Mode: domain.ModeStatic, StoragePrefix: prefix}, nil
}

func (s *Service) executeServer(ctx context.Context, project *domain.Project, deployment *domain.Deployment, buildDir string) (domain.Artifact, error) {
	env, err := s.envs.DecryptedEnv(ctx, project.ID)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("load project environment: %w", err)
	}

	result, err := s.runtime.BuildAndDeploy(ctx, docker.DeployRequest{
		ProjectID:    project.ID,
		Workspace:    buildDir,
		StartCommand: project.BuildCommand,
		EnvVars:      env,
	}, func(level, message string) {
		s.appendLog(ctx, project.ID, deployment.ID, level, message)
	})
	if err != nil {
		return domain.Artifact{}, err
	}

	s.appendLog(ctx, project.ID, deployment.ID, "info", "configuring route")
	if err := s.router.Configure(ctx, project.Subdomain, result.HostPort); err != nil {
		// The container is up but unreachable; retire it so the failed
		// deployment leaves nothing running. The rollback must survive an
		// expired pipeline context.
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
		defer cancel()
		if stopErr := s.runtime.StopContainer(stopCtx, result.ContainerID); stopErr != nil {
			s.logger.Warn("stop unroutable container failed", "container_id", result.ContainerID, "error", stopErr)
		}
		return domain.Artifact{}, err
	}

	return domain.Artifact{
		Mode:        domain.ModeServer,
		ContainerID: result.ContainerID,
		HostPort:    result.HostPort,
	}, nil
}

func (s *Service) succeed(ctx context.Context, project domain.Project, deployment domain.Deployment, artifact domain.Artifact) {
	completed := time.Now().UTC()
	url := project.URL(s.opts.BaseDomain)
	update := domain.DeploymentStatusUpdate{
		DeploymentID: deployment.ID,
		Status:       domain.DeployStatusRunning,
		URL:          url,
		Artifact:     &artifact,
		CompletedAt:  &completed,
	}
	if err := s.deployments.UpdateDeploymentStatus(ctx, update); err != nil {
		s.logger.Error("record deployment success failed", "deployment_id", deployment.ID, "error", err)
	}

	deployment.Status = domain.DeployStatusRunning
	deployment.Artifact = artifact
	deployment.URL = url
	if err := s.projects.SetCurrentDeployment(ctx, project.ID, &deployment); err != nil {
		s.logger.Error("set current deployment failed", "project_id", project.ID, "error", err)
	}
	if err := s.projects.UpdateProjectStatus(ctx, project.ID, domain.StatusRunning); err != nil {
		s.logger.Warn("project status update failed", "project_id", project.ID, "error", err)
	}

	s.appendLog(ctx, project.ID, deployment.ID, "success", fmt.Sprintf("deployment live at %s", url))
	s.logSvc.PublishStatus(ctx, project.ID, deployment.ID, domain.DeployStatusRunning, "deployment live")
	s.logger.Info("deployment succeeded", "project_id", project.ID, "deployment_id", deployment.ID, "mode", project.Mode, "url", url)
}

// fail records the failure and surfaces the reason through the log stream.
// Pipeline errors terminate the deployment, never the daemon.
func (s *Service) fail(ctx context.Context, project domain.Project, deployment domain.Deployment, cause error) {
	completed := time.Now().UTC()
	update := domain.DeploymentStatusUpdate{
		DeploymentID: deployment.ID,
		Status:       domain.DeployStatusFailed,
		Error:        cause.Error(),
		CompletedAt:  &completed,
	}
	if err := s.deployments.UpdateDeploymentStatus(ctx, update); err != nil {
		s.logger.Error("record deployment failure failed", "deployment_id", deployment.ID, "error", err)
	}
	if err := s.projects.UpdateProjectStatus(ctx, project.ID, domain.StatusFailed); err != nil {
		s.logger.Warn("project status update failed", "project_id", project.ID, "error", err)
	}

	s.appendLog(ctx, project.ID, deployment.ID, "error", failureMessage(cause))
	s.logSvc.PublishStatus(ctx, project.ID, deployment.ID, domain.DeployStatusFailed, cause.Error())
	s.logger.Error("deployment failed", "project_id", project.ID, "deployment_id", deployment.ID, "error", cause)
}

// failureMessage renders a cause for the user-facing log, including build
// output when the failure carries it.
func failureMessage(cause error) string {
	var buildErr *buildexec.BuildError
	if errors.As(cause, &buildErr) {
		msg := fmt.Sprintf("build failed: %s (exit code %d)", buildErr.Command, buildErr.ExitCode)
		if tail := lastLines(buildErr.Output, 20); tail != "" {
			msg += "\n" + tail
		}
		return msg
	}
	return "deployment failed: " + cause.Error()
}

func lastLines(output string, n int) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func (s *Service) appendLog(ctx context.Context, projectID, deploymentID, level, message string) {
	entry := domain.LogEntry{
		ProjectID:    projectID,
		DeploymentID: deploymentID,
		Level:        level,
		Message:      message,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.logSvc.Append(ctx, entry); err != nil {
		s.logger.Warn("append deployment log failed", "deployment_id", deploymentID, "error", err)
	}
}

func (s *Service) observe(mode domain.BuildMode, outcome string, duration time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveDeploy(string(mode), outcome, duration)
}

// Stop retires a project's running artifact without deleting the record: the
// container goes away, the route is removed, and both the project and its
// current deployment move to stopped. It claims the project's single-flight
// slot so a stop cannot interleave with an active run.
func (s *Service) Stop(ctx context.Context, projectID string) error {
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		return err
	}
	if _, loaded := s.inflight.LoadOrStore(project.ID, struct{}{}); loaded {
		return ErrDeployInProgress
	}
	defer s.inflight.Delete(project.ID)

	if project.Mode == domain.ModeServer && project.ContainerID != "" {
		if err := s.runtime.StopContainer(ctx, project.ContainerID); err != nil {
			s.logger.Warn("stop container failed", "project_id", project.ID, "container_id", project.ContainerID, "error", err)
		}
	}
	if err := s.router.Remove(ctx, project.Subdomain); err != nil {
		s.logger.Warn("route removal failed", "project_id", project.ID, "subdomain", project.Subdomain, "error", err)
	}

	deploymentID := ""
	if project.CurrentDeploymentID != nil {
		deploymentID = *project.CurrentDeploymentID
	}
	if deploymentID != "" {
		update := domain.DeploymentStatusUpdate{
			DeploymentID: deploymentID,
			Status:       domain.DeployStatusStopped,
		}
		if err := s.deployments.UpdateDeploymentStatus(ctx, update); err != nil {
			s.logger.Warn("record deployment stop failed", "deployment_id", deploymentID, "error", err)
		}
	}
	if err := s.projects.UpdateProjectStatus(ctx, project.ID, domain.StatusStopped); err != nil {
		return fmt.Errorf("update project status: %w", err)
	}

	s.appendLog(ctx, project.ID, deploymentID, "info", "project stopped")
	s.logSvc.PublishStatus(ctx, project.ID, deploymentID, domain.StatusStopped, "project stopped")
	s.logger.Info("project stopped", "project_id", project.ID, "subdomain", project.Subdomain)
	return nil
}

// ListByProject returns recent deployments for a project.
func (s *Service) ListByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error) {
	return s.deployments.ListDeploymentsByProject(ctx, projectID, limit)
}

// Get returns one deployment.
func (s *Service) Get(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	return s.deployments.GetDeploymentByID(ctx, deploymentID)
}
