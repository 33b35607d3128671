package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/sethvargo/go-retry"
)

// engineAPI is the slice of the engine client the runtime driver touches.
// *client.Client satisfies it.
type engineAPI interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
}

// imageBuilder streams an image build from a workspace directory.
type imageBuilder interface {
	BuildImage(ctx context.Context, dir, tag string, buildArgs map[string]*string, onOutput BuildOutputCallback) error
}

// Labels attached to every managed container for later discovery.
const (
	LabelProject = "run.pier.project"
	LabelPort    = "run.pier.port"
)

const (
	appPort            = nat.Port("3000/tcp")
	appPortNumber      = 3000
	stopGraceSeconds   = 10
	readyPollInterval  = 2 * time.Second
	noProbeGracePeriod = 3 * time.Second
	logTailLines       = 40
)

// DeployRequest carries everything needed to containerize one workspace.
type DeployRequest struct {
	ProjectID    string
	Workspace    string
	StartCommand string
	EnvVars      map[string]string
}

// DeployResult reports the started container.
type DeployResult struct {
	ContainerID         string
	HostPort            int
	ImageTag            string
	GeneratedDockerfile bool
}

// LogFunc receives driver progress lines destined for deployment observers.
type LogFunc func(level, message string)

// Options tunes the runtime driver.
type Options struct {
	Registry      string
	MemoryLimitMB int
	CPULimitNano  int64
	ReadyTimeout  time.Duration
	PollInterval  time.Duration
	NoProbeGrace  time.Duration
	UpstreamHost  string
}

// Driver turns a source workspace into a running, routable container,
// replacing any prior instance for the same project.
type Driver struct {
	api    engineAPI
	images imageBuilder
	ports  *PortAllocator
	logger *slog.Logger
	opts   Options
}

// NewDriver constructs a runtime driver.
func NewDriver(cli *Client, ports *PortAllocator, logger *slog.Logger, opts Options) *Driver {
	if opts.Registry == "" {
		opts.Registry = "pier"
	}
	if opts.MemoryLimitMB <= 0 {
		opts.MemoryLimitMB = 512
	}
	if opts.CPULimitNano <= 0 {
		opts.CPULimitNano = 1_000_000_000
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 60 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = readyPollInterval
	}
	if opts.NoProbeGrace <= 0 {
		opts.NoProbeGrace = noProbeGracePeriod
	}
	return &Driver{api: cli.api, images: cli, ports: ports, logger: logger, opts: opts}
}

// ImageTag derives the deterministic image tag for a project.
func (d *Driver) ImageTag(projectID string) string {
	return fmt.Sprintf("%s/%s:latest", strings.TrimSuffix(d.opts.Registry, "/"), projectID)
}

func containerName(projectID string) string {
	return "pier-" + projectID
}

// BuildAndDeploy builds an image from the workspace, retires the previous
// container for the project, then starts and waits for a fresh one.
func (d *Driver) BuildAndDeploy(ctx context.Context, req DeployRequest, onLog LogFunc) (DeployResult, error) {
	if onLog == nil {
		onLog = func(string, string) {}
	}
	generated, err := EnsureDockerfile(req.Workspace, req.StartCommand)
	if err != nil {
		return DeployResult{}, &ContainerError{Stage: "recipe", Err: err}
	}
	if generated {
		onLog("info", "no Dockerfile found, using generated build recipe")
	} else {
		onLog("info", "using repository Dockerfile")
	}

	tag := d.ImageTag(req.ProjectID)
	buildErr := d.images.BuildImage(ctx, req.Workspace, tag, nil, func(line string) {
		d.logger.Debug("image build output", "project_id", req.ProjectID, "line", line)
		if ClassifyBuildLine(line) {
			onLog("info", line)
		}
	})
	if buildErr != nil {
		return DeployResult{}, &ContainerError{Stage: "image build", Err: buildErr}
	}
	onLog("success", "container image built")

	// The new image is proven buildable before the old instance goes away,
	// and the fixed container name must be free before reuse.
	d.retirePrevious(ctx, req.ProjectID, onLog)

	hostPort, err := d.allocatePort(ctx)
	if err != nil {
		return DeployResult{}, &ContainerError{Stage: "port allocation", Err: err}
	}

	containerID, err := d.startContainer(ctx, req, tag, hostPort)
	if err != nil {
		return DeployResult{}, err
	}
	onLog("info", fmt.Sprintf("container started on host port %d", hostPort))

	if err := d.waitReady(ctx, containerID); err != nil {
		return DeployResult{}, err
	}
	onLog("success", "container is ready")

	return DeployResult{
		ContainerID:         containerID,
		HostPort:            hostPort,
		ImageTag:            tag,
		GeneratedDockerfile: generated,
	}, nil
}

// retirePrevious stops and removes any container labeled with the project id.
// Best-effort: a retire failure must not block the new deploy.
func (d *Driver) retirePrevious(ctx context.Context, projectID string, onLog LogFunc) {
	listFilters := filters.NewArgs(filters.Arg("label", LabelProject+"="+projectID))
	containers, err := d.api.ContainerList(ctx, container.ListOptions{All: true, Filters: listFilters})
	if err != nil {
		d.logger.Warn("list previous containers failed", "project_id", projectID, "error", err)
		return
	}
	for _, prev := range containers {
		onLog("info", "stopping previous container")
		if err := d.StopContainer(ctx, prev.ID); err != nil {
			d.logger.Warn("retire previous container failed", "project_id", projectID, "container_id", prev.ID, "error", err)
		}
	}
}

// allocatePort picks a host port that no managed container claims and that is
// free on the host.
func (d *Driver) allocatePort(ctx context.Context) (int, error) {
	used := make(map[int]struct{})
	containers, err := d.api.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return 0, fmt.Errorf("list containers for port scan: %w", err)
	}
	for _, c := range containers {
		if raw, ok := c.Labels[LabelPort]; ok {
			if port, err := strconv.Atoi(raw); err == nil && port > 0 {
				used[port] = struct{}{}
			}
		}
		for _, binding := range c.Ports {
			if binding.PublicPort > 0 {
				used[int(binding.PublicPort)] = struct{}{}
			}
		}
	}
	return d.ports.Allocate(used)
}

func (d *Driver) startContainer(ctx context.Context, req DeployRequest, tag string, hostPort int) (string, error) {
	env := make([]string, 0, len(req.EnvVars)+2)
	for key, value := range req.EnvVars {
		env = append(env, key+"="+value)
	}
	env = append(env, fmt.Sprintf("PORT=%d", appPortNumber), "PROJECT_ID="+req.ProjectID)

	cfg := &container.Config{
		Image:        tag,
		Env:          env,
		ExposedPorts: nat.PortSet{appPort: struct{}{}},
		Labels: map[string]string{
			LabelProject: req.ProjectID,
			LabelPort:    strconv.Itoa(hostPort),
		},
	}
	upstream := d.opts.UpstreamHost
	if upstream == "" {
		upstream = "127.0.0.1"
	}
	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{
			appPort: []nat.PortBinding{{HostIP: upstream, HostPort: strconv.Itoa(hostPort)}},
		},
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
		Resources: container.Resources{
			Memory:   int64(d.opts.MemoryLimitMB) * 1024 * 1024,
			NanoCPUs: d.opts.CPULimitNano,
		},
	}

	created, err := d.api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, containerName(req.ProjectID))
	if err != nil {
		return "", &ContainerError{Stage: "create", Err: err}
	}
	if err := d.api.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return "", &ContainerError{ContainerID: created.ID, Stage: "start", Err: err}
	}
	return created.ID, nil
}

// waitReady polls container state until it is serving or the ready timeout
// elapses. Containers with a declared health probe must report healthy; the
// rest get a short grace period after entering the running state.
func (d *Driver) waitReady(ctx context.Context, containerID string) error {
	backoff := retry.WithMaxDuration(d.opts.ReadyTimeout, retry.NewConstant(d.opts.PollInterval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		inspect, err := d.api.ContainerInspect(ctx, containerID)
		if err != nil {
			return &ContainerError{ContainerID: containerID, Stage: "readiness", Err: err}
		}
		state := inspect.State
		if state == nil {
			return retry.RetryableError(fmt.Errorf("container state unavailable"))
		}
		if state.Dead || (!state.Running && state.ExitCode != 0) || state.Status == "exited" {
			return &ContainerError{
				ContainerID: containerID,
				Stage:       "readiness",
				Tail:        d.tailLogs(ctx, containerID),
				Err:         fmt.Errorf("container exited with code %d before becoming ready", state.ExitCode),
			}
		}
		if state.Health != nil {
			switch state.Health.Status {
			case "healthy":
				return nil
			case "unhealthy":
				return &ContainerError{
					ContainerID: containerID,
					Stage:       "readiness",
					Tail:        d.tailLogs(ctx, containerID),
					Err:         fmt.Errorf("health probe reported unhealthy"),
				}
			default:
				return retry.RetryableError(fmt.Errorf("health probe status %s", state.Health.Status))
			}
		}
		if state.Running {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.opts.NoProbeGrace):
			}
			return nil
		}
		return retry.RetryableError(fmt.Errorf("container status %s", state.Status))
	})
	if err == nil {
		return nil
	}
	var cerr *ContainerError
	if errors.As(err, &cerr) {
		return cerr
	}
	return &ContainerError{
		ContainerID: containerID,
		Stage:       "readiness",
		Tail:        d.tailLogs(ctx, containerID),
		Err:         fmt.Errorf("timed out after %s: %w", d.opts.ReadyTimeout, err),
	}
}

// StopContainer stops with a bounded grace period then force-removes the
// container. Missing containers are treated as already stopped.
func (d *Driver) StopContainer(ctx context.Context, containerID string) error {
	if strings.TrimSpace(containerID) == "" {
		return nil
	}
	grace := stopGraceSeconds
	if err := d.api.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &grace}); err != nil && !client.IsErrNotFound(err) {
		d.logger.Warn("container stop failed", "container_id", containerID, "error", err)
	}
	if err := d.api.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}

// GetStatus returns the container state string, or "unknown" when the
// container no longer exists.
func (d *Driver) GetStatus(ctx context.Context, containerID string) string {
	inspect, err := d.api.ContainerInspect(ctx, containerID)
	if err != nil || inspect.State == nil {
		return "unknown"
	}
	return inspect.State.Status
}

// GetLogs returns recent container output, or an empty string when the
// container no longer exists.
func (d *Driver) GetLogs(ctx context.Context, containerID string) string {
	return strings.Join(d.tailLogs(ctx, containerID), "\n")
}

func (d *Driver) tailLogs(ctx context.Context, containerID string) []string {
	rc, err := d.api.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(logTailLines),
	})
	if err != nil {
		return nil
	}
	defer rc.Close()
	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		return nil
	}
	var lines []string
	for _, line := range strings.Split(buf.String(), "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return lines
}

// ListProjectContainers returns ids of containers labeled with the project id.
func (d *Driver) ListProjectContainers(ctx context.Context, projectID string) ([]string, error) {
	listFilters := filters.NewArgs(filters.Arg("label", LabelProject+"="+projectID))
	containers, err := d.api.ContainerList(ctx, container.ListOptions{All: true, Filters: listFilters})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(containers))
	for _, c := range containers {
		ids = append(ids, c.ID)
	}
	return ids, nil
}
