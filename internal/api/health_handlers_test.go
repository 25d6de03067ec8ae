package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) HealthCheck(ctx context.Context) error {
	return m.err
}

func decodeHealth(t *testing.T, w *httptest.ResponseRecorder) HealthResponse {
	t.Helper()
	var response HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return response
}

func TestHealth_Success(t *testing.T) {
	w := httptest.NewRecorder()
	NewHealthHandlers(HealthHandlersConfig{}).Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	response := decodeHealth(t, w)
	if response.Status != "healthy" || response.Checks["runtime"] != "ok" {
		t.Errorf("unexpected response: %+v", response)
	}
	if _, err := time.Parse(time.RFC3339, response.Timestamp); err != nil {
		t.Errorf("timestamp is not valid RFC3339: %v", err)
	}
}

func TestHealth_MethodNotAllowed(t *testing.T) {
	for _, handler := range []string{"health", "ready"} {
		h := NewHealthHandlers(HealthHandlersConfig{})
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/"+handler, nil)
		if handler == "health" {
			h.Health(w, req)
		} else {
			h.Ready(w, req)
		}
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: expected status 405, got %d", handler, w.Code)
		}
	}
}

func TestReady(t *testing.T) {
	down := errors.New("connection refused")
	tests := []struct {
		name       string
		checkers   map[string]HealthChecker
		wantStatus int
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"metrics": "ok"},
		},
		{
			name: "all healthy",
			checkers: map[string]HealthChecker{
				"database":        &mockHealthChecker{},
				"redis":           &mockHealthChecker{},
				"exposure_logger": &mockHealthChecker{},
			},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"database": "ok", "redis": "ok", "exposure_logger": "ok"},
		},
		{
			name: "database down",
			checkers: map[string]HealthChecker{
				"database": &mockHealthChecker{err: down},
				"redis":    &mockHealthChecker{},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"database": "error", "redis": "ok"},
		},
		{
			name: "nil checker skipped",
			checkers: map[string]HealthChecker{
				"redis": nil,
			},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"metrics": "ok"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandlers(HealthHandlersConfig{Checkers: tt.checkers})
			w := httptest.NewRecorder()
			h.Ready(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
				t.Errorf("unexpected content type %q", ct)
			}
			response := decodeHealth(t, w)
			for name, want := range tt.wantChecks {
				if got := response.Checks[name]; got != want {
					t.Errorf("check %s = %q, want %q", name, got, want)
				}
			}
			if _, ok := response.Checks["redis"]; ok && tt.name == "nil checker skipped" {
				t.Error("nil checker should not be reported")
			}
		})
	}
}
