// Package main contains wiring tests for the API server.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/foryou/internal/api"
	"github.com/onnwee/foryou/internal/config"
	"github.com/onnwee/foryou/internal/content"
	"github.com/onnwee/foryou/internal/exposure"
	"github.com/onnwee/foryou/internal/feed"
	"github.com/onnwee/foryou/internal/jobs"
)

// newTestApp wires the service on in-memory stores and seeds a few
// candidates.
func newTestApp(t *testing.T) (*app, *bytes.Buffer) {
	t.Helper()

	cfg := config.Default()
	cfg.ExposureSink = config.SinkMemory
	cfg.MetricsInterval = time.Hour

	var logBuf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logBuf, nil))

	a, err := newApp(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}

	store, ok := a.stores.content.(*content.InMemoryStore)
	if !ok {
		t.Fatalf("expected in-memory content store, got %T", a.stores.content)
	}
	now := time.Now()
	for i, id := range []string{"c1", "c2", "c3", "c4", "c5"} {
		store.Add(content.Candidate{
			ID:          id,
			CreatorID:   "creator-" + string(rune('a'+i%3)),
			PublishedAt: now.Add(-time.Duration(i+1) * time.Hour),
			ViewCount:   int64(100 * (i + 1)),
		})
	}
	return a, &logBuf
}

func get(t *testing.T, srv *httptest.Server, path string, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, body
}

func TestApp_Routes(t *testing.T) {
	a, _ := newTestApp(t)
	a.start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.shutdown(ctx)
	})

	srv := httptest.NewServer(a.handler)
	defer srv.Close()

	session := map[string]string{api.SessionIDHeader: "session-1"}

	tests := []struct {
		name       string
		path       string
		headers    map[string]string
		wantStatus int
	}{
		{"health", "/health", nil, http.StatusOK},
		{"ready", "/ready", nil, http.StatusOK},
		{"feed", "/feed?page_size=3", session, http.StatusOK},
		{"feed without identity", "/feed", nil, http.StatusBadRequest},
		{"feed unknown variant", "/feed?variant=Z", session, http.StatusBadRequest},
		{"feed page zero", "/feed?page=0", session, http.StatusBadRequest},
		{"experiment metrics", "/experiments/metrics?lookback=1h", nil, http.StatusOK},
		{"profile", "/experiments/profiles/A", nil, http.StatusOK},
		{"unknown profile", "/experiments/profiles/Z", nil, http.StatusNotFound},
		{"metrics", "/metrics", nil, http.StatusOK},
		{"unknown route", "/nope", nil, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := get(t, srv, tt.path, tt.headers)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d (body: %s)", resp.StatusCode, tt.wantStatus, body)
			}
			if resp.Header.Get("X-Request-ID") == "" {
				t.Error("expected X-Request-ID header")
			}
		})
	}
}

func TestApp_FeedServesAndLogsExposures(t *testing.T) {
	a, _ := newTestApp(t)
	a.start(context.Background())

	srv := httptest.NewServer(a.handler)
	defer srv.Close()

	resp, body := get(t, srv, "/feed?page_size=3&explain=true", map[string]string{api.SessionIDHeader: "session-2"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body: %s", resp.StatusCode, body)
	}

	var page feed.Response
	if err := json.Unmarshal(body, &page); err != nil {
		t.Fatalf("decode feed: %v", err)
	}
	if page.Variant != "A" && page.Variant != "B" {
		t.Errorf("unexpected variant %q", page.Variant)
	}
	if page.Profile.Source != "default" {
		t.Errorf("profile source = %q, want default without a profile store", page.Profile.Source)
	}
	if len(page.Items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(page.Items))
	}
	for i, item := range page.Items {
		if item.Position != i {
			t.Errorf("item %d has position %d", i, item.Position)
		}
		if item.Breakdown == nil {
			t.Errorf("item %d missing breakdown with explain=true", i)
		}
	}
	if !page.Pagination.TotalIsEstimate {
		t.Error("expected total_is_estimate")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdown(ctx); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}

	mem, ok := a.stores.exposures.(*exposure.InMemoryStore)
	if !ok {
		t.Fatalf("expected in-memory exposure store, got %T", a.stores.exposures)
	}
	if n := mem.Len(); n != 3 {
		t.Errorf("expected 3 exposures written after drain, got %d", n)
	}
}

func TestApp_ReadyBeforeStart(t *testing.T) {
	a, _ := newTestApp(t)

	srv := httptest.NewServer(a.handler)
	defer srv.Close()

	resp, body := get(t, srv, "/ready", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 while exposure logger is stopped", resp.StatusCode)
	}
	if !strings.Contains(string(body), `"exposure_logger":"error"`) {
		t.Errorf("expected exposure_logger check to fail, body: %s", body)
	}
}

func TestApp_ReloadProfiles(t *testing.T) {
	a, logBuf := newTestApp(t)
	a.reloadProfiles()

	srv := httptest.NewServer(a.handler)
	defer srv.Close()

	_, body := get(t, srv, "/metrics", nil)
	want := jobs.MetricBackgroundJobsTotal + `{job_type="` + jobs.JobTypeProfileInvalidate + `",status="` + jobs.StatusSuccess + `"} 1`
	if !strings.Contains(string(body), want) {
		t.Errorf("expected %q in metrics output", want)
	}
	if !strings.Contains(logBuf.String(), "weight profile cache invalidated") {
		t.Error("expected invalidation to be logged")
	}
}

func TestApp_RequestLogging(t *testing.T) {
	a, logBuf := newTestApp(t)

	srv := httptest.NewServer(a.handler)
	defer srv.Close()

	get(t, srv, "/feed", nil)

	logs := logBuf.String()
	if !strings.Contains(logs, `"msg":"request completed"`) {
		t.Fatalf("expected request log, got: %s", logs)
	}
	if !strings.Contains(logs, `"error_code":"validation_error"`) {
		t.Errorf("expected error code in request log, got: %s", logs)
	}
}

func TestApp_FeedRateLimit(t *testing.T) {
	cfg := config.Default()
	cfg.ExposureSink = config.SinkMemory
	cfg.MetricsInterval = time.Hour
	cfg.FeedRateLimit = 2

	a, err := newApp(context.Background(), cfg, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	if a.localLimits == nil {
		t.Fatal("expected in-process rate limit store without redis")
	}

	srv := httptest.NewServer(a.handler)
	defer srv.Close()

	viewer := map[string]string{api.ViewerIDHeader: "viewer-1"}
	for i := 0; i < 2; i++ {
		if resp, body := get(t, srv, "/feed", viewer); resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: status = %d, body: %s", i+1, resp.StatusCode, body)
		}
	}
	resp, _ := get(t, srv, "/feed", viewer)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	other, _ := get(t, srv, "/feed", map[string]string{api.ViewerIDHeader: "viewer-2"})
	if other.StatusCode != http.StatusOK {
		t.Errorf("other viewer status = %d, want 200", other.StatusCode)
	}
}
