package deploy

import (
	"context"

	"github.com/pier-run/pier/internal/git"
)

// GitFetcher clones repositories with the host git binary.
type GitFetcher struct{}

// Clone performs a shallow clone into dest.
func (GitFetcher) Clone(ctx context.Context, repoURL, dest string) error {
	return git.Clone(ctx, repoURL, dest)
}
