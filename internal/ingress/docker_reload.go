package ingress

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
)

// dockerReloader triggers proxy reloads by signalling a Docker container, for
// setups where nginx runs containerized next to the daemon.
type dockerReloader struct {
	client    *client.Client
	container string
}

// NewDockerReloader returns a reloader that sends SIGHUP to the named
// container.
func NewDockerReloader(container string) (Reloader, error) {
	container = strings.TrimSpace(container)
	if container == "" {
		return nil, fmt.Errorf("container name required")
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &dockerReloader{client: cli, container: container}, nil
}

func (r *dockerReloader) Reload(ctx context.Context) error {
	if err := r.client.ContainerKill(ctx, r.container, "HUP"); err != nil {
		if errdefs.IsNotFound(err) {
			return fmt.Errorf("proxy container %s not found", r.container)
		}
		return err
	}
	return nil
}
