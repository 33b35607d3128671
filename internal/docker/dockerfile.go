package docker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnsureDockerfile checks the workspace for a container build recipe and
// synthesizes a minimal one when none exists. It returns true when a recipe
// was generated.
func EnsureDockerfile(workdir, startCommand string) (bool, error) {
	exists, err := hasDockerfile(workdir)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	content := renderDefaultDockerfile(workdir, startCommand)
	path := filepath.Join(workdir, "Dockerfile")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("write dockerfile: %w", err)
	}
	return true, nil
}

// renderDefaultDockerfile emits a node-based recipe: dependency install layered
// before the source copy, a non-root user, the in-container port contract and
// a basic liveness probe.
func renderDefaultDockerfile(workdir, startCommand string) string {
	var b strings.Builder
	b.WriteString("# syntax=docker/dockerfile:1\n")
	b.WriteString("FROM node:20-bullseye-slim\n")
	b.WriteString("WORKDIR /app\n\n")
	b.WriteString("COPY package*.json ./\n")
	b.WriteString("RUN if [ -f package-lock.json ]; then npm ci --omit=dev; else npm install --omit=dev; fi\n\n")
	b.WriteString("COPY . ./\n")
	b.WriteString("RUN chown -R node:node /app\n")
	b.WriteString("USER node\n\n")
	b.WriteString("ENV NODE_ENV=production\n")
	b.WriteString("ENV PORT=3000\n")
	b.WriteString("EXPOSE 3000\n")
	if hasHealthEndpointHint(workdir) {
		b.WriteString("HEALTHCHECK --interval=10s --timeout=3s --retries=3 \\\n")
		b.WriteString("  CMD node -e \"fetch('http://127.0.0.1:3000/healthz').then(r=>process.exit(r.ok?0:1)).catch(()=>process.exit(1))\"\n")
	}
	cmd := strings.TrimSpace(startCommand)
	if cmd == "" {
		cmd = "npm start"
	}
	b.WriteString(fmt.Sprintf("CMD [\"sh\",\"-c\",%q]\n", cmd))
	return b.String()
}

func hasDockerfile(workdir string) (bool, error) {
	entries, err := os.ReadDir(workdir)
	if err != nil {
		return false, fmt.Errorf("read workspace: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.ToLower(entry.Name()) == "dockerfile" {
			return true, nil
		}
	}
	return false, nil
}

// hasHealthEndpointHint looks for a package manifest declaring a healthcheck
// script; a probe against an endpoint the app never serves would flap.
func hasHealthEndpointHint(workdir string) bool {
	data, err := os.ReadFile(filepath.Join(workdir, "package.json"))
	if err != nil {
		return false
	}
	return strings.Contains(string(data), "healthz")
}
