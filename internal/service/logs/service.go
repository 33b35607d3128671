package logs

import (
	"context"
	"encoding/json"
	"time"

	"log/slog"

	"github.com/pier-run/pier/internal/domain"
	"github.com/pier-run/pier/internal/repository"
	"github.com/pier-run/pier/internal/ws"
)

// Publisher pushes streaming payloads to an external realtime transport.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Options names the transport channels.
type Options struct {
	LogChannelPrefix    string
	StatusChannelPrefix string
}

// Service is the deployment observation sink: it persists log entries and
// fans them out to attached stream subscribers and the realtime transport.
type Service struct {
	repo      repository.LogRepository
	hub       *ws.Hub
	publisher Publisher
	opts      Options
	logger    *slog.Logger
}

// New constructs a log service. publisher may be nil when no realtime
// transport is configured.
func New(repo repository.LogRepository, hub *ws.Hub, publisher Publisher, opts Options, logger *slog.Logger) Service {
	if opts.LogChannelPrefix == "" {
		opts.LogChannelPrefix = "pier:logs:"
	}
	if opts.StatusChannelPrefix == "" {
		opts.StatusChannelPrefix = "pier:status:"
	}
	return Service{repo: repo, hub: hub, publisher: publisher, opts: opts, logger: logger}
}

// Append stores a log entry, then broadcasts it. Broadcast failures never
// fail the append; observation must not break a deployment.
func (s Service) Append(ctx context.Context, entry domain.LogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	entry.CreatedAt = entry.CreatedAt.UTC()
	if err := s.repo.AppendLog(ctx, entry); err != nil {
		return err
	}
	s.broadcast(ctx, entry)
	return nil
}

// PublishStatus emits a deployment status transition on the status channel
// and the project stream.
func (s Service) PublishStatus(ctx context.Context, projectID, deploymentID, status, message string) {
	payload, err := json.Marshal(map[string]any{
		"type":          "status",
		"project_id":    projectID,
		"deployment_id": deploymentID,
		"status":        status,
		"message":       message,
		"timestamp":     time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		s.logger.Warn("marshal status payload failed", "error", err)
		return
	}
	if s.hub != nil {
		s.hub.Broadcast(projectID, payload)
	}
	s.publish(ctx, s.opts.StatusChannelPrefix+projectID, payload)
}

// List returns persisted logs for a project, oldest first.
func (s Service) List(ctx context.Context, projectID string, limit, offset int) ([]domain.LogEntry, error) {
	return s.repo.ListLogsByProject(ctx, projectID, limit, offset)
}

// ListByDeployment returns persisted logs for one deployment, oldest first.
func (s Service) ListByDeployment(ctx context.Context, deploymentID string) ([]domain.LogEntry, error) {
	return s.repo.ListLogsByDeployment(ctx, deploymentID)
}

// Hub exposes the stream hub for HTTP handlers.
func (s Service) Hub() *ws.Hub {
	return s.hub
}

func (s Service) broadcast(ctx context.Context, entry domain.LogEntry) {
	payload, err := MarshalEntry(entry)
	if err != nil {
		s.logger.Warn("marshal log payload failed", "error", err)
		return
	}
	if s.hub != nil {
		s.hub.Broadcast(entry.ProjectID, payload)
	}
	s.publish(ctx, s.opts.LogChannelPrefix+entry.ProjectID, payload)
}

func (s Service) publish(ctx context.Context, channel string, payload []byte) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, channel, payload); err != nil {
		s.logger.Warn("realtime publish failed", "channel", channel, "error", err)
	}
}

// MarshalEntry formats a log entry for streaming payloads.
func MarshalEntry(entry domain.LogEntry) ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":          "log",
		"id":            entry.ID,
		"project_id":    entry.ProjectID,
		"deployment_id": entry.DeploymentID,
		"level":         entry.Level,
		"message":       entry.Message,
		"created_at":    entry.CreatedAt.Format(time.RFC3339Nano),
	})
}
