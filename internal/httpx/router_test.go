package httpx

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pier-run/pier/internal/service/logs"
	"github.com/pier-run/pier/internal/service/project"
)

func newTestRouter(t *testing.T, token string) *Router {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewRouter(log, project.Service{}, nil, logs.Service{}, NewMemoryRateLimiter(), nil, token, nil)
	t.Cleanup(r.Close)
	return r
}

func TestHealthzOpenWithoutToken(t *testing.T) {
	r := newTestRouter(t, "secret")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
}

func TestDeployTokenRequired(t *testing.T) {
	r := newTestRouter(t, "secret")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/deploy/p-1", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/deploy/p-1", nil)
	req.Header.Set("X-Deploy-Token", "wrong")
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d", rec.Code)
	}
}

func TestDeployTokenMisconfigured(t *testing.T) {
	r := newTestRouter(t, "")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/deploy/p-1", nil)
	req.Header.Set("X-Deploy-Token", "anything")
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("unconfigured token status = %d", rec.Code)
	}
}

func TestStreamEndpointsRequireProjectID(t *testing.T) {
	r := newTestRouter(t, "secret")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sse/logs", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("sse without project_id status = %d", rec.Code)
	}
}

func TestMemoryRateLimiterWindow(t *testing.T) {
	rl := NewMemoryRateLimiter()
	defer rl.Close()

	for i := 0; i < 3; i++ {
		if d := rl.Allow("k", 3, time.Minute); !d.allowed {
			t.Fatalf("request %d unexpectedly limited", i)
		}
	}
	if d := rl.Allow("k", 3, time.Minute); d.allowed {
		t.Fatal("fourth request should be limited")
	}
	// A different key has its own window.
	if d := rl.Allow("other", 3, time.Minute); !d.allowed {
		t.Fatal("distinct key was limited")
	}
}

func TestMemoryRateLimiterCleanup(t *testing.T) {
	rl := NewMemoryRateLimiter().(*memoryRateLimiter)
	defer rl.Close()

	rl.Allow("k", 1, time.Millisecond)
	rl.cleanup(time.Now().Add(time.Second))

	rl.mu.Lock()
	remaining := len(rl.entries)
	rl.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("entries after cleanup = %d", remaining)
	}
}
