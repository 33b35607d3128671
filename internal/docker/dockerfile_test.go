package docker

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEnsureDockerfileGenerates(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"name":"app"}`), 0o644); err != nil {
		t.Fatalf("write package.json: %v", err)
	}

	generated, err := EnsureDockerfile(dir, "node server.js")
	if err != nil {
		t.Fatalf("EnsureDockerfile: %v", err)
	}
	if !generated {
		t.Fatal("expected a generated recipe")
	}

	data, err := os.ReadFile(filepath.Join(dir, "Dockerfile"))
	if err != nil {
		t.Fatalf("read generated Dockerfile: %v", err)
	}
	content := string(data)
	for _, want := range []string{"FROM node:20", "ENV PORT=3000", "EXPOSE 3000", "USER node", `"node server.js"`} {
		if !strings.Contains(content, want) {
			t.Errorf("generated Dockerfile missing %q", want)
		}
	}
	if strings.Contains(content, "HEALTHCHECK") {
		t.Error("healthcheck emitted without a healthz hint")
	}
}

func TestEnsureDockerfileRespectsExisting(t *testing.T) {
	dir := t.TempDir()
	original := []byte("FROM scratch\n")
	if err := os.WriteFile(filepath.Join(dir, "Dockerfile"), original, 0o644); err != nil {
		t.Fatalf("write Dockerfile: %v", err)
	}

	generated, err := EnsureDockerfile(dir, "")
	if err != nil {
		t.Fatalf("EnsureDockerfile: %v", err)
	}
	if generated {
		t.Fatal("must not overwrite an existing Dockerfile")
	}
	data, _ := os.ReadFile(filepath.Join(dir, "Dockerfile"))
	if string(data) != string(original) {
		t.Fatal("existing Dockerfile was modified")
	}
}

func TestEnsureDockerfileHealthHint(t *testing.T) {
	dir := t.TempDir()
	manifest := `{"scripts":{"healthcheck":"curl /healthz"}}`
	if err := os.WriteFile(filepath.Join(dir, "package.json"), []byte(manifest), 0o644); err != nil {
		t.Fatalf("write package.json: %v", err)
	}
	if _, err := EnsureDockerfile(dir, ""); err != nil {
		t.Fatalf("EnsureDockerfile: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "Dockerfile"))
	content := string(data)
	if !strings.Contains(content, "HEALTHCHECK") {
		t.Error("expected HEALTHCHECK for a project declaring healthz")
	}
	if !strings.Contains(content, `"npm start"`) {
		t.Error("expected npm start fallback for empty start command")
	}
}

func TestClassifyBuildLine(t *testing.T) {
	cases := []struct {
		line string
		want bool
	}{
		{"Step 3/9 : COPY . ./", true},
		{"#5 DONE 1.2s", true},
		{"Successfully built abc123", true},
		{"Successfully tagged pier/app:latest", true},
		{"error: unable to resolve image", true},
		{" ---> Using cache", false},
		{"", false},
		{"npm WARN deprecated", false},
	}
	for _, tc := range cases {
		if got := ClassifyBuildLine(tc.line); got != tc.want {
			t.Errorf("ClassifyBuildLine(%q) = %v, want %v", tc.line, got, tc.want)
		}
	}
}
