package logs

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pier-run/pier/internal/domain"
	"github.com/pier-run/pier/internal/ws"
)

type stubLogRepo struct {
	mu      sync.Mutex
	entries []domain.LogEntry
}

func (s *stubLogRepo) AppendLog(ctx context.Context, entry domain.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *stubLogRepo) ListLogsByProject(ctx context.Context, projectID string, limit, offset int) ([]domain.LogEntry, error) {
	return nil, nil
}

func (s *stubLogRepo) ListLogsByDeployment(ctx context.Context, deploymentID string) ([]domain.LogEntry, error) {
	return nil, nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	channels []string
	payloads [][]byte
}

func (r *recordingPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels = append(r.channels, channel)
	r.payloads = append(r.payloads, payload)
	return nil
}

type collectingSubscriber struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (c *collectingSubscriber) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, payload)
	return nil
}

func (c *collectingSubscriber) Close() {}

func (c *collectingSubscriber) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestAppendPersistsAndBroadcasts(t *testing.T) {
	repo := &stubLogRepo{}
	hub := ws.NewHub()
	defer hub.Shutdown()
	publisher := &recordingPublisher{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := New(repo, hub, publisher, Options{}, log)

	sub := &collectingSubscriber{}
	hub.Register("p-1", sub)

	entry := domain.LogEntry{ProjectID: "p-1", DeploymentID: "d-1", Level: "info", Message: "cloning"}
	if err := svc.Append(context.Background(), entry); err != nil {
		t.Fatalf("Append: %v", err)
	}

	repo.mu.Lock()
	persisted := len(repo.entries)
	repo.mu.Unlock()
	if persisted != 1 {
		t.Fatalf("persisted entries = %d", persisted)
	}

	waitFor(t, func() bool { return sub.count() == 1 })

	var payload map[string]any
	sub.mu.Lock()
	raw := sub.payloads[0]
	sub.mu.Unlock()
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("unmarshal stream payload: %v", err)
	}
	if payload["type"] != "log" || payload["message"] != "cloning" || payload["deployment_id"] != "d-1" {
		t.Fatalf("unexpected payload: %v", payload)
	}

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	if len(publisher.channels) != 1 || publisher.channels[0] != "pier:logs:p-1" {
		t.Fatalf("publisher channels = %v", publisher.channels)
	}
}

func TestPublishStatusUsesStatusChannel(t *testing.T) {
	repo := &stubLogRepo{}
	publisher := &recordingPublisher{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := New(repo, nil, publisher, Options{}, log)

	svc.PublishStatus(context.Background(), "p-1", "d-1", "running", "deployment live")

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	if len(publisher.channels) != 1 || publisher.channels[0] != "pier:status:p-1" {
		t.Fatalf("publisher channels = %v", publisher.channels)
	}
	var payload map[string]any
	if err := json.Unmarshal(publisher.payloads[0], &payload); err != nil {
		t.Fatalf("unmarshal status payload: %v", err)
	}
	if payload["type"] != "status" || payload["status"] != "running" {
		t.Fatalf("unexpected status payload: %v", payload)
	}
}

func TestAppendWithoutPublisher(t *testing.T) {
	repo := &stubLogRepo{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := New(repo, nil, nil, Options{}, log)

	err := svc.Append(context.Background(), domain.LogEntry{ProjectID: "p-1", Level: "info", Message: "x"})
	if err != nil {
		t.Fatalf("Append without transports: %v", err)
	}
}
