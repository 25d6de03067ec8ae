package experiment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onnwee/foryou/internal/exposure"
	"github.com/onnwee/foryou/internal/interaction"
	"github.com/onnwee/foryou/internal/tracing"
)

// ErrInvalidLookback is returned when a lookback is not positive or exceeds
// the configured maximum.
var ErrInvalidLookback = errors.New("invalid lookback")

// DefaultMaxLookback bounds the join window.
const DefaultMaxLookback = 30 * 24 * time.Hour

// Report is the result of one aggregation run.
type Report struct {
	Since      time.Time                 `json:"since"`
	Until      time.Time                 `json:"until"`
	ComputedAt time.Time                 `json:"computed_at"`
	Variants   map[string]VariantMetrics `json:"variants"`
}

// AggregatorConfig configures an Aggregator.
type AggregatorConfig struct {
	// MaxLookback bounds how far back a report may reach. Default: 30 days.
	MaxLookback time.Duration
	// Variants are always present in reports, with zero metrics when unseen.
	Variants []string
	Logger   *slog.Logger
	Now      func() time.Time
}

// Aggregator reads exposures and interactions and produces variant reports.
// It only reads from its sources.
type Aggregator struct {
	exposures exposure.Source
	events    interaction.EventSource
	config    AggregatorConfig
}

// NewAggregator creates a new Aggregator.
func NewAggregator(exposures exposure.Source, events interaction.EventSource, config AggregatorConfig) *Aggregator {
	if config.MaxLookback <= 0 {
		config.MaxLookback = DefaultMaxLookback
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Aggregator{
		exposures: exposures,
		events:    events,
		config:    config,
	}
}

// MaxLookback returns the configured lookback bound.
func (a *Aggregator) MaxLookback() time.Duration {
	return a.config.MaxLookback
}

// ComputeVariantMetrics aggregates exposures served since the given instant
// and the interactions that followed them up to now.
func (a *Aggregator) ComputeVariantMetrics(ctx context.Context, since time.Time) (Report, error) {
	return a.computeWindow(ctx, since, a.config.Now())
}

// ComputeForLookback is ComputeVariantMetrics for the window ending now.
func (a *Aggregator) ComputeForLookback(ctx context.Context, lookback time.Duration) (Report, error) {
	if lookback <= 0 {
		return Report{}, fmt.Errorf("%w: must be positive", ErrInvalidLookback)
	}
	now := a.config.Now()
	return a.computeWindow(ctx, now.Add(-lookback), now)
}

// computeWindow aggregates [since, now). Both bounds come from a single
// clock read so a lookback equal to MaxLookback is accepted.
func (a *Aggregator) computeWindow(ctx context.Context, since, now time.Time) (report Report, err error) {
	if !since.Before(now) {
		return Report{}, fmt.Errorf("%w: since %s is not in the past", ErrInvalidLookback, since.Format(time.RFC3339))
	}
	if now.Sub(since) > a.config.MaxLookback {
		return Report{}, fmt.Errorf("%w: exceeds maximum of %s", ErrInvalidLookback, a.config.MaxLookback)
	}

	ctx, endSpan := tracing.StartSpan(ctx, "experiment.aggregate")
	defer func() { endSpan(err) }()

	var (
		exposures []exposure.Exposure
		events    []interaction.Event
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		exposures, err = a.exposures.ExposuresSince(gctx, since, now)
		if err != nil {
			return fmt.Errorf("failed to load exposures: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		events, err = a.events.EventsSince(gctx, since, now)
		if err != nil {
			return fmt.Errorf("failed to load interactions: %w", err)
		}
		return nil
	})
	if err = g.Wait(); err != nil {
		return Report{}, err
	}

	variants := Aggregate(exposures, events)
	for _, v := range a.config.Variants {
		if _, ok := variants[v]; !ok {
			variants[v] = VariantMetrics{}
		}
	}

	a.config.Logger.InfoContext(ctx, "variant metrics computed",
		slog.Time("since", since),
		slog.Int("exposures", len(exposures)),
		slog.Int("events", len(events)),
		slog.Int("variants", len(variants)))

	return Report{
		Since:      since,
		Until:      now,
		ComputedAt: a.config.Now(),
		Variants:   variants,
	}, nil
}
