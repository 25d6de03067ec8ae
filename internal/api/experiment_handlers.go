package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/foryou/internal/experiment"
	"github.com/onnwee/foryou/internal/middleware"
	"github.com/onnwee/foryou/internal/ranking"
)

// ReportCache returns the report of the last periodic aggregation.
type ReportCache interface {
	Latest() (experiment.Report, bool)
}

// MetricsComputer computes a report on demand.
type MetricsComputer interface {
	ComputeForLookback(ctx context.Context, lookback time.Duration) (experiment.Report, error)
}

// ProfileResolver resolves the active weight profile for a variant.
type ProfileResolver interface {
	Resolve(ctx context.Context, variant string) ranking.Resolved
}

// VariantSet reports whether a variant label is configured.
type VariantSet interface {
	Known(label string) bool
}

// ExperimentHandlersConfig wires ExperimentHandlers.
type ExperimentHandlersConfig struct {
	// Reports may be nil when the periodic job is disabled.
	Reports  ReportCache
	Computer MetricsComputer
	Profiles ProfileResolver
	Variants VariantSet
	// DefaultLookback is used when no lookback is given. It should match
	// the periodic job's lookback so that cached reports are served.
	DefaultLookback time.Duration
}

// ExperimentHandlers serves experiment metrics and profile inspection.
type ExperimentHandlers struct {
	config ExperimentHandlersConfig
}

// NewExperimentHandlers creates ExperimentHandlers.
func NewExperimentHandlers(config ExperimentHandlersConfig) *ExperimentHandlers {
	if config.DefaultLookback <= 0 {
		config.DefaultLookback = experiment.DefaultJobLookback
	}
	return &ExperimentHandlers{config: config}
}

// MetricsResponse is a variant report and whether it came from the
// periodic job.
type MetricsResponse struct {
	experiment.Report
	Cached bool `json:"cached"`
}

// ProfileResponse describes the profile a variant currently ranks with.
type ProfileResponse struct {
	Variant string                 `json:"variant"`
	Source  string                 `json:"source"`
	Profile *ranking.WeightProfile `json:"profile"`
}

// GetMetrics handles GET /experiments/metrics?lookback=24h.
func (h *ExperimentHandlers) GetMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	lookback := h.config.DefaultLookback
	if v := r.URL.Query().Get("lookback"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "lookback must be a duration such as 24h")
			return
		}
		lookback = d
	}

	if lookback == h.config.DefaultLookback && h.config.Reports != nil {
		if report, ok := h.config.Reports.Latest(); ok {
			writeJSON(w, ctx, http.StatusOK, MetricsResponse{Report: report, Cached: true})
			return
		}
	}

	report, err := h.config.Computer.ComputeForLookback(ctx, lookback)
	switch {
	case err == nil:
		writeJSON(w, ctx, http.StatusOK, MetricsResponse{Report: report})
	case errors.Is(err, experiment.ErrInvalidLookback):
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, context.Canceled):
		WriteError(w, ctx, StatusClientClosedRequest, ErrCodeCancelled, "request cancelled")
	default:
		slog.ErrorContext(ctx, "failed to compute variant metrics", "error", err, "lookback", lookback.String())
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to compute variant metrics")
	}
}

// GetProfile handles GET /experiments/profiles/{variant}.
func (h *ExperimentHandlers) GetProfile(w http.ResponseWriter, r *http.Request) {
	variant := r.PathValue("variant")
	if variant == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "variant is required")
		return
	}
	if !h.config.Variants.Known(variant) {
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "variant "+variant+" is not configured")
		return
	}

	resolved := h.config.Profiles.Resolve(r.Context(), variant)
	writeJSON(w, r.Context(), http.StatusOK, ProfileResponse{
		Variant: variant,
		Source:  resolved.Source,
		Profile: resolved.Profile,
	})
}
