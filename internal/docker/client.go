package docker

import (
	"context"
	"fmt"

	"github.com/docker/docker/client"
)

// Client owns the engine API connection shared by the image build and
// container runtime paths.
type Client struct {
	api *client.Client
}

// New connects to the engine at host, or the environment default when host is
// empty.
func New(host string) (*Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	api, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Client{api: api}, nil
}

// Ping verifies the engine answers before any deployment work starts.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.api == nil {
		return fmt.Errorf("docker client not initialized")
	}
	ping, err := c.api.Ping(ctx)
	if err != nil {
		return fmt.Errorf("docker ping: %w", err)
	}
	if ping.APIVersion == "" {
		return fmt.Errorf("docker ping returned empty API version")
	}
	return nil
}

// Close releases the engine connection.
func (c *Client) Close() error {
	if c.api == nil {
		return nil
	}
	return c.api.Close()
}
