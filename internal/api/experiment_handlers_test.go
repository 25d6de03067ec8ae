package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/onnwee/foryou/internal/experiment"
	"github.com/onnwee/foryou/internal/ranking"
	"github.com/onnwee/foryou/internal/variant"
)

type fakeReports struct {
	report experiment.Report
	ok     bool
}

func (f fakeReports) Latest() (experiment.Report, bool) { return f.report, f.ok }

type fakeComputer struct {
	calls    int
	lookback time.Duration
	err      error
}

func (f *fakeComputer) ComputeForLookback(ctx context.Context, lookback time.Duration) (experiment.Report, error) {
	f.calls++
	f.lookback = lookback
	if f.err != nil {
		return experiment.Report{}, f.err
	}
	return experiment.Report{
		Variants: map[string]experiment.VariantMetrics{"A": {Exposures: 4, Views: 2, ViewsPerExposure: 0.5}},
	}, nil
}

func newExperimentHandlers(t *testing.T, reports ReportCache, computer MetricsComputer) *ExperimentHandlers {
	t.Helper()
	assigner, err := variant.NewAssigner([]string{"A", "B"})
	if err != nil {
		t.Fatal(err)
	}
	return NewExperimentHandlers(ExperimentHandlersConfig{
		Reports:         reports,
		Computer:        computer,
		Profiles:        ranking.NewResolver(nil, ranking.ResolverConfig{}),
		Variants:        assigner,
		DefaultLookback: 24 * time.Hour,
	})
}

func TestGetMetrics_ServesCachedReport(t *testing.T) {
	cached := experiment.Report{Variants: map[string]experiment.VariantMetrics{"B": {Exposures: 9}}}
	computer := &fakeComputer{}
	h := newExperimentHandlers(t, fakeReports{report: cached, ok: true}, computer)

	for _, target := range []string{"/experiments/metrics", "/experiments/metrics?lookback=24h"} {
		w := httptest.NewRecorder()
		h.GetMetrics(w, httptest.NewRequest(http.MethodGet, target, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", target, w.Code)
		}
		var resp MetricsResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !resp.Cached || resp.Variants["B"].Exposures != 9 {
			t.Errorf("%s: expected cached report, got %+v", target, resp)
		}
	}
	if computer.calls != 0 {
		t.Errorf("expected no on-demand computation, got %d", computer.calls)
	}
}

func TestGetMetrics_ComputesOnDemand(t *testing.T) {
	computer := &fakeComputer{}
	h := newExperimentHandlers(t, fakeReports{ok: true}, computer)

	w := httptest.NewRecorder()
	h.GetMetrics(w, httptest.NewRequest(http.MethodGet, "/experiments/metrics?lookback=2h", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if computer.lookback != 2*time.Hour {
		t.Errorf("lookback = %v, want 2h", computer.lookback)
	}
	var resp MetricsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Cached || resp.Variants["A"].ViewsPerExposure != 0.5 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestGetMetrics_NoCacheYet(t *testing.T) {
	computer := &fakeComputer{}
	h := newExperimentHandlers(t, nil, computer)

	w := httptest.NewRecorder()
	h.GetMetrics(w, httptest.NewRequest(http.MethodGet, "/experiments/metrics", nil))
	if w.Code != http.StatusOK || computer.calls != 1 || computer.lookback != 24*time.Hour {
		t.Errorf("expected one 24h computation, got status %d calls %d lookback %v", w.Code, computer.calls, computer.lookback)
	}
}

func TestGetMetrics_Errors(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		err        error
		wantStatus int
	}{
		{"bad duration", "/experiments/metrics?lookback=yesterday", nil, http.StatusBadRequest},
		{"too far back", "/experiments/metrics?lookback=9000h", fmt.Errorf("%w: exceeds maximum", experiment.ErrInvalidLookback), http.StatusBadRequest},
		{"store down", "/experiments/metrics?lookback=1h", errors.New("connection refused"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newExperimentHandlers(t, nil, &fakeComputer{err: tt.err})
			w := httptest.NewRecorder()
			h.GetMetrics(w, httptest.NewRequest(http.MethodGet, tt.target, nil))
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestGetProfile(t *testing.T) {
	h := newExperimentHandlers(t, nil, &fakeComputer{})
	mux := http.NewServeMux()
	mux.HandleFunc("GET /experiments/profiles/{variant}", h.GetProfile)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/experiments/profiles/B", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp ProfileResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Variant != "B" || resp.Source != ranking.SourceDefault || resp.Profile == nil {
		t.Errorf("unexpected response: %+v", resp)
	}
	if !resp.Profile.CollaborativeFilteringEnabled {
		t.Error("variant B default should enable collaborative filtering")
	}

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/experiments/profiles/Z", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown variant, got %d", w.Code)
	}
}
