package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lucadibello/RimeSegateBot/internal/domain"
)

type mockJobs struct {
	jobs      []*domain.Job
	cancelled []domain.UserID
	removed   []string
	cancelErr error
}

func (m *mockJobs) Jobs() []*domain.Job { return m.jobs }

func (m *mockJobs) Cancel(ctx context.Context, owner domain.UserID) ([]string, error) {
	if m.cancelErr != nil {
		return nil, m.cancelErr
	}
	for _, j := range m.jobs {
		if j.Owner == owner {
			m.cancelled = append(m.cancelled, owner)
			return m.removed, nil
		}
	}
	return nil, domain.ErrNotRunning
}

type mockPinger struct {
	err error
}

func (m mockPinger) Ping(ctx context.Context) error { return m.err }

func TestHealthHandler_Live(t *testing.T) {
	handler := NewHealthHandler(&mockJobs{}, nil, t.TempDir())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	handler.Live(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want %q", resp.Status, "ok")
	}
	if resp.Timestamp == "" {
		t.Error("timestamp should not be empty")
	}
}

func TestHealthHandler_Ready(t *testing.T) {
	jobs := &mockJobs{jobs: []*domain.Job{
		domain.NewJob("job-1", 1, domain.Request{SourceURL: "https://example.com/a"}, "a", nil),
	}}

	t.Run("ok", func(t *testing.T) {
		handler := NewHealthHandler(jobs, mockPinger{}, t.TempDir())
		w := httptest.NewRecorder()
		handler.Ready(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
		var resp HealthResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp.ActiveJobs == nil || *resp.ActiveJobs != 1 {
			t.Errorf("active_jobs = %v, want 1", resp.ActiveJobs)
		}
	})

	t.Run("history down", func(t *testing.T) {
		handler := NewHealthHandler(jobs, mockPinger{err: errors.New("database is closed")}, t.TempDir())
		w := httptest.NewRecorder()
		handler.Ready(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
		}
	})
}

func TestHealthHandler_Stats(t *testing.T) {
	dir := t.TempDir()
	handler := NewHealthHandler(&mockJobs{}, nil, dir)

	w := httptest.NewRecorder()
	handler.Stats(w, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

	var stats SystemStats
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if stats.SaveFolder != dir {
		t.Errorf("save_folder = %q, want %q", stats.SaveFolder, dir)
	}
	if stats.NumGoroutines <= 0 {
		t.Error("num_goroutines should be positive")
	}
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"5m", "5m"},
		{"2h30m", "2h 30m"},
		{"50h10m", "2d 2h 10m"},
	}
	for _, tt := range tests {
		d, _ := time.ParseDuration(tt.in)
		if got := formatUptime(d); got != tt.want {
			t.Errorf("formatUptime(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
