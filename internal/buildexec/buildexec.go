package buildexec

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// BuildError describes a build or install command that exited nonzero.
type BuildError struct {
	Command  string
	ExitCode int
	Output   string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("command %q failed with exit code %d", e.Command, e.ExitCode)
}

// LineFunc receives one trimmed, non-empty output line at a time.
type LineFunc func(line string)

// Runner executes project build commands inside a working directory.
type Runner struct{}

// Run executes the command with dir as the working directory, forwarding each
// output line to onLine as it is produced. It returns the combined output and
// a BuildError when the command exits nonzero.
func (Runner) Run(ctx context.Context, command, dir string, onLine LineFunc) (string, error) {
	var args []string
	if needsShell(command) {
		args = []string{"sh", "-c", command}
	} else {
		parsed, err := parseCommand(command)
		if err != nil {
			return "", err
		}
		args = parsed
	}
	if len(args) == 0 {
		return "", nil
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Env = os.Environ()

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	var output strings.Builder
	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			output.WriteString(scanner.Text())
			output.WriteByte('\n')
			if line == "" || onLine == nil {
				continue
			}
			onLine(line)
		}
	}()

	err := cmd.Run()
	pw.Close()
	<-done

	if err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return output.String(), &BuildError{Command: command, ExitCode: exitCode, Output: output.String()}
	}
	return output.String(), nil
}

// needsShell reports whether the command uses shell syntax that plain
// argument splitting cannot express.
func needsShell(command string) bool {
	return strings.ContainsAny(command, "&|;<>$`*?~")
}

// parseCommand splits a shell-like command line honoring quotes and escapes.
func parseCommand(command string) ([]string, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, nil
	}
	var (
		tokens   []string
		current  strings.Builder
		inSingle bool
		inDouble bool
		escape   bool
	)

	for _, r := range command {
		switch {
		case escape:
			current.WriteRune(r)
			escape = false
		case r == '\\':
			escape = true
		case r == '\'':
			if !inDouble {
				inSingle = !inSingle
				continue
			}
			current.WriteRune(r)
		case r == '"':
			if !inSingle {
				inDouble = !inDouble
				continue
			}
			current.WriteRune(r)
		case (r == ' ' || r == '\t' || r == '\n' || r == '\r') && !inSingle && !inDouble:
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}

	if escape || inSingle || inDouble {
		return nil, fmt.Errorf("unterminated quoted string in command: %s", command)
	}
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}

	return tokens, nil
}
