package content

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/foryou/internal/tracing"
	"github.com/onnwee/foryou/internal/viewer"
)

// Pool sources.
const (
	SourcePrimary  = "primary"
	SourceFallback = "fallback"
	SourceEmpty    = "empty"
)

// Pool is the result of a retrieval.
type Pool struct {
	Candidates []Candidate
	// Source reports which path produced the pool. Anything other than
	// SourcePrimary is a degradation.
	Source string
}

// Degraded reports whether the pool came from a degraded path.
func (p Pool) Degraded() bool {
	return p.Source != SourcePrimary
}

// RetrieverConfig configures candidate retrieval.
type RetrieverConfig struct {
	// Horizon excludes content older than now - Horizon. Zero disables it.
	Horizon time.Duration
	// NoveltyExclusion drops candidates already in the viewer's recent
	// exposure history.
	NoveltyExclusion bool

	// BreakerFailures is the number of consecutive store failures that
	// opens the circuit. Default: 5.
	BreakerFailures uint32
	// BreakerTimeout is how long the circuit stays open before probing.
	// Default: 30s.
	BreakerTimeout time.Duration

	Logger  *slog.Logger
	Metrics *Metrics
	Now     func() time.Time
}

// Retriever selects the eligible candidate pool for a viewer.
// Store failures never surface to callers: the retriever falls back to the
// most recent content and then to an empty pool.
type Retriever struct {
	store   Store
	breaker *gobreaker.CircuitBreaker[[]Candidate]
	cfg     RetrieverConfig
	logger  *slog.Logger
}

// NewRetriever creates a Retriever over store.
func NewRetriever(store Store, cfg RetrieverConfig) *Retriever {
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Retriever{store: store, cfg: cfg, logger: logger}
	r.breaker = gobreaker.NewCircuitBreaker[[]Candidate](gobreaker.Settings{
		Name:        "content-store",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			cfg.Metrics.observeTransition(from.String(), to.String(), stateValue(to))
		},
		// A cancelled request says nothing about store health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return r
}

// Fetch returns up to limit eligible candidates for the viewer.
// The only error it returns is the context's, when the request was
// cancelled mid-retrieval.
func (r *Retriever) Fetch(ctx context.Context, vc viewer.Context, limit int) (pool Pool, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "retrieve_candidates")
	defer func() {
		tracing.SetAttributes(ctx,
			attribute.String("pool.source", pool.Source),
			attribute.Int("pool.size", len(pool.Candidates)),
		)
		endSpan(err)
	}()

	if limit <= 0 {
		return Pool{Source: SourceEmpty}, nil
	}

	filters := r.filters(vc)
	fetchLimit := limit
	if len(filters.ExcludeIDs) > 0 {
		fetchLimit += len(filters.ExcludeIDs)
	}

	candidates, err := r.breaker.Execute(func() ([]Candidate, error) {
		return r.store.ListEligibleCandidates(ctx, filters, fetchLimit)
	})
	if err == nil {
		pool = Pool{Candidates: truncate(excludeIDs(candidates, filters.ExcludeIDs), limit), Source: SourcePrimary}
		r.cfg.Metrics.observePool(pool)
		return pool, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Pool{}, ctxErr
	}

	r.logger.WarnContext(ctx, "candidate store failed, serving recent content",
		slog.String("error", err.Error()),
		slog.String("breaker_state", r.breaker.State().String()),
	)

	candidates, err = r.store.ListRecentCandidates(ctx, limit)
	if err == nil {
		pool = Pool{Candidates: truncate(candidates, limit), Source: SourceFallback}
		r.cfg.Metrics.observePool(pool)
		return pool, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Pool{}, ctxErr
	}

	r.logger.WarnContext(ctx, "recent content unavailable, serving empty pool",
		slog.String("error", err.Error()),
	)
	pool = Pool{Source: SourceEmpty}
	r.cfg.Metrics.observePool(pool)
	return pool, nil
}

func (r *Retriever) filters(vc viewer.Context) Filters {
	now := vc.AsOf
	if now.IsZero() {
		now = r.cfg.Now()
	}
	f := Filters{PublishedBefore: now}
	if r.cfg.Horizon > 0 {
		f.PublishedAfter = now.Add(-r.cfg.Horizon)
	}
	if r.cfg.NoveltyExclusion && len(vc.Exposed) > 0 {
		f.ExcludeIDs = vc.Exposed
	}
	return f
}

// excludeIDs removes excluded candidates in case the store ignored the filter.
func excludeIDs(candidates []Candidate, exclude map[string]struct{}) []Candidate {
	if len(exclude) == 0 {
		return candidates
	}
	out := candidates[:0:0]
	for _, c := range candidates {
		if _, ok := exclude[c.ID]; !ok {
			out = append(out, c)
		}
	}
	return out
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
