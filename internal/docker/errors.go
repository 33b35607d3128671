package docker

import (
	"fmt"
	"strings"
)

// ContainerError describes a container that failed to build, start or become
// ready, with a bounded tail of its logs when available.
type ContainerError struct {
	ContainerID string
	Stage       string
	Tail        []string
	Err         error
}

func (e *ContainerError) Error() string {
	msg := fmt.Sprintf("container %s failed", e.Stage)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if len(e.Tail) > 0 {
		msg += "\n" + strings.Join(e.Tail, "\n")
	}
	return msg
}

func (e *ContainerError) Unwrap() error { return e.Err }
