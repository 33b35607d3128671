package deploy

import "context"

// Teardown releases a project's external resources during deletion. It reuses
// the pipeline collaborators so teardown and deploy agree on ownership.
type Teardown struct {
	Publisher Publisher
	Runtime   Runtime
	Router    Router
}

// TeardownStatic removes every published object under the project prefix.
func (t Teardown) TeardownStatic(ctx context.Context, storagePrefix string) error {
	if t.Publisher == nil || storagePrefix == "" {
		return nil
	}
	return t.Publisher.DeleteAll(ctx, storagePrefix)
}

// TeardownServer stops and removes the project container.
func (t Teardown) TeardownServer(ctx context.Context, containerID string) error {
	if t.Runtime == nil {
		return nil
	}
	return t.Runtime.StopContainer(ctx, containerID)
}

// RemoveRoute drops the project's proxy rule.
func (t Teardown) RemoveRoute(ctx context.Context, subdomain string) error {
	if t.Router == nil {
		return nil
	}
	return t.Router.Remove(ctx, subdomain)
}
