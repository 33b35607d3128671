package ingress

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Validator checks a candidate configuration before it is activated.
type Validator interface {
	Validate(ctx context.Context) (output string, err error)
}

// Reloader asks the running proxy to pick up the active configuration.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Manager owns the reverse proxy rule directory. Every change follows the
// same sequence under a process-wide lock: stage the candidate rule, validate
// the full configuration, activate by atomic rename, reload. A rule that
// fails validation never reaches the active directory, so the previously
// routed projects keep serving.
type Manager struct {
	mu         sync.Mutex
	sitesDir   string
	stagingDir string
	params     RuleParams
	validator  Validator
	reloader   Reloader
	logger     *slog.Logger
}

// ManagerOptions configures rule rendering and directories.
type ManagerOptions struct {
	SitesDir     string
	StagingDir   string
	BaseDomain   string
	UpstreamHost string
	TLSCertPath  string
	TLSKeyPath   string
}

// NewManager constructs a rule manager.
func NewManager(opts ManagerOptions, validator Validator, reloader Reloader, logger *slog.Logger) (*Manager, error) {
	if opts.SitesDir == "" {
		return nil, fmt.Errorf("sites directory required")
	}
	if opts.StagingDir == "" {
		opts.StagingDir = opts.SitesDir + ".staging"
	}
	if validator == nil || reloader == nil {
		return nil, fmt.Errorf("validator and reloader required")
	}
	if opts.UpstreamHost == "" {
		opts.UpstreamHost = "127.0.0.1"
	}
	for _, dir := range []string{opts.SitesDir, opts.StagingDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ingress dir %s: %w", dir, err)
		}
	}
	return &Manager{
		sitesDir:   opts.SitesDir,
		stagingDir: opts.StagingDir,
		params: RuleParams{
			BaseDomain:   opts.BaseDomain,
			UpstreamHost: opts.UpstreamHost,
			TLSCertPath:  opts.TLSCertPath,
			TLSKeyPath:   opts.TLSKeyPath,
		},
		validator: validator,
		reloader:  reloader,
		logger:    logger,
	}, nil
}

// Configure installs or replaces the routing rule for a subdomain so requests
// reach the container bound on upstreamPort.
func (m *Manager) Configure(ctx context.Context, subdomain string, upstreamPort int) error {
	if strings.TrimSpace(subdomain) == "" {
		return &ProxyError{Subdomain: subdomain, Stage: "stage", Err: fmt.Errorf("subdomain required")}
	}
	if upstreamPort <= 0 {
		return &ProxyError{Subdomain: subdomain, Stage: "stage", Err: fmt.Errorf("invalid upstream port %d", upstreamPort)}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	params := m.params
	params.Subdomain = subdomain
	params.UpstreamPort = upstreamPort
	rule := renderRule(params)

	staged := filepath.Join(m.stagingDir, ruleFileName(subdomain))
	active := filepath.Join(m.sitesDir, ruleFileName(subdomain))

	if err := os.WriteFile(staged, []byte(rule), 0o644); err != nil {
		return &ProxyError{Subdomain: subdomain, Stage: "stage", Err: err}
	}

	output, err := m.validator.Validate(ctx)
	if err != nil {
		if rmErr := os.Remove(staged); rmErr != nil {
			m.logger.Warn("remove rejected staged rule failed", "subdomain", subdomain, "error", rmErr)
		}
		return &ProxyError{Subdomain: subdomain, Stage: "validate", Output: output, Err: err}
	}

	if err := os.Rename(staged, active); err != nil {
		return &ProxyError{Subdomain: subdomain, Stage: "activate", Err: err}
	}

	if err := m.reloader.Reload(ctx); err != nil {
		return &ProxyError{Subdomain: subdomain, Stage: "reload", Err: err}
	}
	m.logger.Info("ingress rule activated", "subdomain", subdomain, "upstream_port", upstreamPort)
	return nil
}

// Remove deletes the routing rule for a subdomain and reloads. A missing rule
// is a no-op so project teardown stays idempotent.
func (m *Manager) Remove(ctx context.Context, subdomain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := filepath.Join(m.sitesDir, ruleFileName(subdomain))
	if err := os.Remove(active); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &ProxyError{Subdomain: subdomain, Stage: "remove", Err: err}
	}
	if err := m.reloader.Reload(ctx); err != nil {
		return &ProxyError{Subdomain: subdomain, Stage: "reload", Err: err}
	}
	m.logger.Info("ingress rule removed", "subdomain", subdomain)
	return nil
}
