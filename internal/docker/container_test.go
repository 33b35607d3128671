package docker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

type fakeEngine struct {
	mu         sync.Mutex
	containers []types.Container
	states     []*types.ContainerState
	inspectN   int
	inspectErr error
	notFound   bool
	logLines   string

	createName string
	createCfg  *container.Config
	hostCfg    *container.HostConfig
	started    []string
	stopped    []string
	removed    []string
}

func (f *fakeEngine) ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Container(nil), f.containers...), nil
}

func (f *fakeEngine) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createName = containerName
	f.createCfg = config
	f.hostCfg = hostConfig
	return container.CreateResponse{ID: "c-new"}, nil
}

func (f *fakeEngine) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, containerID)
	return nil
}

func (f *fakeEngine) ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notFound {
		return errdefs.NotFound(errors.New("no such container"))
	}
	f.stopped = append(f.stopped, containerID)
	return nil
}

func (f *fakeEngine) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notFound {
		return errdefs.NotFound(errors.New("no such container"))
	}
	f.removed = append(f.removed, containerID)
	return nil
}

func (f *fakeEngine) ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inspectErr != nil {
		return types.ContainerJSON{}, f.inspectErr
	}
	idx := f.inspectN
	if idx >= len(f.states) {
		idx = len(f.states) - 1
	}
	f.inspectN++
	return types.ContainerJSON{
		ContainerJSONBase: &types.ContainerJSONBase{ID: containerID, State: f.states[idx]},
	}, nil
}

func (f *fakeEngine) ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error) {
	var buf bytes.Buffer
	w := stdcopy.NewStdWriter(&buf, stdcopy.Stdout)
	if _, err := w.Write([]byte(f.logLines)); err != nil {
		return nil, err
	}
	return io.NopCloser(&buf), nil
}

type fakeBuilder struct {
	mu    sync.Mutex
	tags  []string
	lines []string
	err   error
}

func (f *fakeBuilder) BuildImage(ctx context.Context, dir, tag string, buildArgs map[string]*string, onOutput BuildOutputCallback) error {
	f.mu.Lock()
	f.tags = append(f.tags, tag)
	f.mu.Unlock()
	if onOutput != nil {
		for _, line := range f.lines {
			onOutput(line)
		}
	}
	return f.err
}

func newTestDriver(engine *fakeEngine, builder *fakeBuilder) *Driver {
	return &Driver{
		api:    engine,
		images: builder,
		ports:  NewPortAllocator(3001, nil),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		opts: Options{
			Registry:      "pier",
			MemoryLimitMB: 256,
			CPULimitNano:  500_000_000,
			ReadyTimeout:  200 * time.Millisecond,
			PollInterval:  5 * time.Millisecond,
			NoProbeGrace:  time.Millisecond,
			UpstreamHost:  "127.0.0.1",
		},
	}
}

func TestWaitReadyOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		states  []*types.ContainerState
		wantErr string
	}{
		{
			name: "health probe turns healthy",
			states: []*types.ContainerState{
				{Running: true, Health: &types.Health{Status: "starting"}},
				{Running: true, Health: &types.Health{Status: "healthy"}},
			},
		},
		{
			name: "health probe reports unhealthy",
			states: []*types.ContainerState{
				{Running: true, Health: &types.Health{Status: "unhealthy"}},
			},
			wantErr: "unhealthy",
		},
		{
			name: "container exits before ready",
			states: []*types.ContainerState{
				{Status: "exited", ExitCode: 137},
			},
			wantErr: "exited with code 137",
		},
		{
			name: "never leaves created state",
			states: []*types.ContainerState{
				{Status: "created"},
			},
			wantErr: "timed out",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			engine := &fakeEngine{states: tc.states, logLines: "boom\n"}
			d := newTestDriver(engine, &fakeBuilder{})

			err := d.waitReady(context.Background(), "c-1")
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("waitReady: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("waitReady error = %v, want substring %q", err, tc.wantErr)
			}
			var cerr *ContainerError
			if !errors.As(err, &cerr) || cerr.Stage != "readiness" {
				t.Fatalf("error not a readiness ContainerError: %v", err)
			}
		})
	}
}

func TestWaitReadyFailureCarriesLogTail(t *testing.T) {
	engine := &fakeEngine{
		states:   []*types.ContainerState{{Status: "exited", ExitCode: 1}},
		logLines: "Error: cannot find module 'express'\n",
	}
	d := newTestDriver(engine, &fakeBuilder{})

	err := d.waitReady(context.Background(), "c-1")
	var cerr *ContainerError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ContainerError, got %v", err)
	}
	if len(cerr.Tail) == 0 || !strings.Contains(cerr.Tail[0], "cannot find module") {
		t.Fatalf("tail = %v", cerr.Tail)
	}
}

func TestBuildAndDeployReplacesPrevious(t *testing.T) {
	workspace := t.TempDir()
	if err := os.WriteFile(filepath.Join(workspace, "package.json"), []byte(`{"scripts":{"start":"node server.js"}}`), 0o644); err != nil {
		t.Fatalf("write package.json: %v", err)
	}

	engine := &fakeEngine{
		containers: []types.Container{
			{ID: "c-old", Labels: map[string]string{LabelProject: "p-1", LabelPort: "3001"}},
		},
		states: []*types.ContainerState{
			{Running: true, Health: &types.Health{Status: "healthy"}},
		},
	}
	builder := &fakeBuilder{lines: []string{"Step 1/5 : FROM node:20-alpine", "sha256 layer chatter"}}
	d := newTestDriver(engine, builder)

	var logged []string
	result, err := d.BuildAndDeploy(context.Background(), DeployRequest{
		ProjectID: "p-1",
		Workspace: workspace,
		EnvVars:   map[string]string{"API_KEY": "secret"},
	}, func(level, message string) {
		logged = append(logged, message)
	})
	if err != nil {
		t.Fatalf("BuildAndDeploy: %v", err)
	}

	if result.ContainerID != "c-new" {
		t.Fatalf("container id = %q", result.ContainerID)
	}
	if result.HostPort != 3002 {
		t.Fatalf("host port = %d, want 3002 (3001 held by the previous container)", result.HostPort)
	}
	if result.ImageTag != "pier/p-1:latest" {
		t.Fatalf("image tag = %q", result.ImageTag)
	}
	if !result.GeneratedDockerfile {
		t.Fatal("expected a synthesized build recipe")
	}

	if len(engine.stopped) != 1 || engine.stopped[0] != "c-old" {
		t.Fatalf("stopped = %v, want [c-old]", engine.stopped)
	}
	if len(engine.removed) != 1 || engine.removed[0] != "c-old" {
		t.Fatalf("removed = %v, want [c-old]", engine.removed)
	}
	if engine.createName != "pier-p-1" {
		t.Fatalf("container name = %q", engine.createName)
	}
	if len(engine.started) != 1 || engine.started[0] != "c-new" {
		t.Fatalf("started = %v", engine.started)
	}

	env := strings.Join(engine.createCfg.Env, "\n")
	if !strings.Contains(env, "PORT=3000") || !strings.Contains(env, "PROJECT_ID=p-1") || !strings.Contains(env, "API_KEY=secret") {
		t.Fatalf("container env = %v", engine.createCfg.Env)
	}
	if engine.createCfg.Labels[LabelPort] != "3002" {
		t.Fatalf("port label = %q", engine.createCfg.Labels[LabelPort])
	}
	bindings := engine.hostCfg.PortBindings[appPort]
	if len(bindings) != 1 || bindings[0].HostPort != "3002" || bindings[0].HostIP != "127.0.0.1" {
		t.Fatalf("port bindings = %v", bindings)
	}
	if engine.hostCfg.Resources.Memory != 256*1024*1024 {
		t.Fatalf("memory limit = %d", engine.hostCfg.Resources.Memory)
	}

	surfaced := strings.Join(logged, "\n")
	if !strings.Contains(surfaced, "Step 1/5") {
		t.Fatalf("build step line not surfaced: %v", logged)
	}
	if strings.Contains(surfaced, "layer chatter") {
		t.Fatalf("noise line surfaced to observers: %v", logged)
	}
}

func TestBuildFailureLeavesPreviousRunning(t *testing.T) {
	workspace := t.TempDir()
	engine := &fakeEngine{
		containers: []types.Container{
			{ID: "c-old", Labels: map[string]string{LabelProject: "p-1", LabelPort: "3001"}},
		},
	}
	builder := &fakeBuilder{err: errors.New("RUN npm install exited with code 1")}
	d := newTestDriver(engine, builder)

	_, err := d.BuildAndDeploy(context.Background(), DeployRequest{ProjectID: "p-1", Workspace: workspace}, nil)
	var cerr *ContainerError
	if !errors.As(err, &cerr) || cerr.Stage != "image build" {
		t.Fatalf("expected image build ContainerError, got %v", err)
	}
	if len(engine.stopped) != 0 {
		t.Fatalf("previous container retired despite failed build: %v", engine.stopped)
	}
}

func TestStopContainerMissingIsNoop(t *testing.T) {
	engine := &fakeEngine{notFound: true}
	d := newTestDriver(engine, &fakeBuilder{})

	if err := d.StopContainer(context.Background(), "gone"); err != nil {
		t.Fatalf("StopContainer on missing container: %v", err)
	}
	if err := d.StopContainer(context.Background(), ""); err != nil {
		t.Fatalf("StopContainer with empty id: %v", err)
	}
}

func TestGetStatusMissingContainer(t *testing.T) {
	engine := &fakeEngine{inspectErr: errdefs.NotFound(errors.New("no such container"))}
	d := newTestDriver(engine, &fakeBuilder{})

	if status := d.GetStatus(context.Background(), "gone"); status != "unknown" {
		t.Fatalf("status = %q, want unknown", status)
	}
}
