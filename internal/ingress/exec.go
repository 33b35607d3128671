package ingress

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// execValidator and execReloader shell out to the proxy binary on the host.
type execValidator struct {
	command []string
}

type execReloader struct {
	command []string
}

// NewExecValidator wraps a host command such as "nginx -t".
func NewExecValidator(command string) (Validator, error) {
	args, err := splitCommand(command)
	if err != nil {
		return nil, err
	}
	return &execValidator{command: args}, nil
}

// NewExecReloader wraps a host command such as "nginx -s reload".
func NewExecReloader(command string) (Reloader, error) {
	args, err := splitCommand(command)
	if err != nil {
		return nil, err
	}
	return &execReloader{command: args}, nil
}

func (v *execValidator) Validate(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, v.command[0], v.command[1:]...).CombinedOutput()
	return string(out), err
}

func (r *execReloader) Reload(ctx context.Context) error {
	out, err := exec.CommandContext(ctx, r.command[0], r.command[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func splitCommand(command string) ([]string, error) {
	args := strings.Fields(command)
	if len(args) == 0 {
		return nil, fmt.Errorf("command required")
	}
	return args, nil
}
