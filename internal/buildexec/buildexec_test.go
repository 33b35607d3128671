package buildexec

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunCollectsOutputLines(t *testing.T) {
	var lines []string
	out, err := Runner{}.Run(context.Background(), `echo "hello world"`, t.TempDir(), func(line string) {
		lines = append(lines, line)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out, "hello world") {
		t.Fatalf("output missing echo text: %q", out)
	}
	if len(lines) != 1 || lines[0] != "hello world" {
		t.Fatalf("unexpected streamed lines: %v", lines)
	}
}

func TestRunShellOperators(t *testing.T) {
	dir := t.TempDir()
	_, err := Runner{}.Run(context.Background(), "mkdir -p dist && echo hi > dist/index.html", dir, nil)
	if err != nil {
		t.Fatalf("Run with shell operators: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "dist", "index.html"))
	if err != nil {
		t.Fatalf("read produced file: %v", err)
	}
	if string(data) != "hi\n" {
		t.Fatalf("unexpected file content: %q", data)
	}
}

func TestRunNonzeroExitReturnsBuildError(t *testing.T) {
	_, err := Runner{}.Run(context.Background(), "sh -c 'echo boom; exit 3'", t.TempDir(), nil)
	var buildErr *BuildError
	if !errors.As(err, &buildErr) {
		t.Fatalf("expected BuildError, got %v", err)
	}
	if buildErr.ExitCode != 3 {
		t.Fatalf("exit code = %d, want 3", buildErr.ExitCode)
	}
	if !strings.Contains(buildErr.Output, "boom") {
		t.Fatalf("error output missing command output: %q", buildErr.Output)
	}
}

func TestRunEmptyCommand(t *testing.T) {
	out, err := Runner{}.Run(context.Background(), "   ", t.TempDir(), nil)
	if err != nil || out != "" {
		t.Fatalf("empty command: out=%q err=%v", out, err)
	}
}

func TestParseCommandQuoting(t *testing.T) {
	tokens, err := parseCommand(`npm run build --flag "two words" 'single quoted'`)
	if err != nil {
		t.Fatalf("parseCommand: %v", err)
	}
	want := []string{"npm", "run", "build", "--flag", "two words", "single quoted"}
	if len(tokens) != len(want) {
		t.Fatalf("token count = %d, want %d (%v)", len(tokens), len(want), tokens)
	}
	for i := range want {
		if tokens[i] != want[i] {
			t.Errorf("token %d = %q, want %q", i, tokens[i], want[i])
		}
	}
	if _, err := parseCommand(`echo "unterminated`); err == nil {
		t.Fatal("expected error for unterminated quote")
	}
}
