package git

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// FetchError describes a failed repository clone.
type FetchError struct {
	RepoURL string
	Output  string
	Err     error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("clone %s failed", e.RepoURL)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + out
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// Clone performs a shallow clone of the repository into the destination
// directory, which must already exist and be empty.
func Clone(ctx context.Context, repoURL, dest string) error {
	if strings.TrimSpace(repoURL) == "" {
		return fmt.Errorf("repository URL cannot be empty")
	}
	if dest == "" {
		return fmt.Errorf("destination cannot be empty")
	}
	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", repoURL, ".")
	cmd.Dir = dest
	// Prevent git from prompting for credentials interactively.
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return &FetchError{RepoURL: repoURL, Output: string(output), Err: err}
	}
	return nil
}
