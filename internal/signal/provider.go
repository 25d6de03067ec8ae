package signal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onnwee/foryou/internal/content"
	"github.com/onnwee/foryou/internal/interaction"
	"github.com/onnwee/foryou/internal/social"
	"github.com/onnwee/foryou/internal/tracing"
	"github.com/onnwee/foryou/internal/viewer"
)

// HistorySource lists candidates recently shown to a viewer or session.
type HistorySource interface {
	// RecentCandidateIDs returns distinct candidates served to key with
	// since <= served_at < until.
	RecentCandidateIDs(ctx context.Context, key string, since, until time.Time) ([]string, error)
}

// ProviderConfig wires the sources a Provider reads from. Nil sources are
// treated as empty.
type ProviderConfig struct {
	Signals       interaction.SignalSource
	Graph         social.Graph
	Affinity      AffinitySource
	History       HistorySource
	Collaborative CollaborativeSource

	// Window is the trailing interaction window. Default: 72h.
	Window time.Duration
	// HistoryWindow bounds the exposure history lookup. Default: 24h.
	HistoryWindow time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

// Provider assembles snapshots and viewer contexts.
type Provider struct {
	cfg    ProviderConfig
	logger *slog.Logger
}

// NewProvider creates a Provider.
func NewProvider(cfg ProviderConfig) *Provider {
	if cfg.Window <= 0 {
		cfg.Window = 72 * time.Hour
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{cfg: cfg, logger: logger}
}

// degradations collects degradation kinds from concurrent fetches.
type degradations struct {
	mu    sync.Mutex
	kinds []string
}

func (d *degradations) add(kind string) {
	d.mu.Lock()
	d.kinds = append(d.kinds, kind)
	d.mu.Unlock()
}

func (p *Provider) warn(ctx context.Context, kind string, err error) {
	p.logger.WarnContext(ctx, "signal source unavailable",
		slog.String("degraded", kind),
		slog.String("error", err.Error()),
	)
}

// Snapshots returns a snapshot for every candidate plus the kinds of any
// degraded sources. Missing signals are zero-valued. The collaborative
// source is only consulted when withCollaborative is set.
func (p *Provider) Snapshots(ctx context.Context, candidates []content.Candidate, vc viewer.Context, withCollaborative bool) (map[string]Snapshot, []string) {
	ctx, endSpan := tracing.StartSpan(ctx, "load_signals")
	defer endSpan(nil)

	out := make(map[string]Snapshot, len(candidates))
	if len(candidates) == 0 {
		return out, nil
	}

	ids := make([]string, 0, len(candidates))
	creatorSet := make(map[string]struct{})
	creators := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.ID)
		if _, ok := creatorSet[c.CreatorID]; !ok {
			creatorSet[c.CreatorID] = struct{}{}
			creators = append(creators, c.CreatorID)
		}
	}

	var (
		aggs       map[string]interaction.Aggregate
		followers  map[string]int64
		completion map[string]float64
		cf         map[string]float64
		degraded   degradations
	)

	g, gctx := errgroup.WithContext(ctx)
	if p.cfg.Signals != nil {
		g.Go(func() error {
			res, err := p.cfg.Signals.AggregateSignals(gctx, ids, p.cfg.Window)
			if err != nil {
				p.warn(ctx, DegradedSignals, err)
				degraded.add(DegradedSignals)
				return nil
			}
			aggs = res
			return nil
		})
		g.Go(func() error {
			res, err := p.cfg.Signals.CreatorCompletionRates(gctx, creators, p.cfg.Window)
			if err != nil {
				p.warn(ctx, DegradedCreatorCompletion, err)
				degraded.add(DegradedCreatorCompletion)
				return nil
			}
			completion = res
			return nil
		})
	}
	if p.cfg.Graph != nil {
		g.Go(func() error {
			res, err := p.cfg.Graph.FollowerCounts(gctx, creators)
			if err != nil {
				p.warn(ctx, DegradedFollowerCounts, err)
				degraded.add(DegradedFollowerCounts)
				return nil
			}
			followers = res
			return nil
		})
	}
	if withCollaborative && p.cfg.Collaborative != nil {
		g.Go(func() error {
			res, err := p.cfg.Collaborative.Signals(gctx, vc.Key(), ids)
			if err != nil {
				p.warn(ctx, DegradedCollaborative, err)
				degraded.add(DegradedCollaborative)
				return nil
			}
			cf = res
			return nil
		})
	}
	_ = g.Wait()

	for _, c := range candidates {
		agg := aggs[c.ID]
		out[c.ID] = Snapshot{
			CandidateID:           c.ID,
			Views:                 agg.Views,
			Likes:                 agg.Likes,
			Shares:                agg.Shares,
			Completes:             agg.Completes,
			Buckets:               agg.Buckets,
			CreatorFollowers:      followers[c.CreatorID],
			CreatorCompletionRate: completion[c.CreatorID],
			Collaborative:         cf[c.ID],
		}
	}
	return out, degraded.kinds
}

// Relationships loads followed creators and category affinity for an
// identified viewer. Anonymous sessions have neither.
func (p *Provider) Relationships(ctx context.Context, viewerID string) (followed []string, affinity map[string]float64, degraded []string) {
	if viewerID == "" {
		return nil, nil, nil
	}

	var d degradations
	g, gctx := errgroup.WithContext(ctx)
	if p.cfg.Graph != nil {
		g.Go(func() error {
			res, err := p.cfg.Graph.FollowedCreators(gctx, viewerID)
			if err != nil {
				p.warn(ctx, DegradedFollows, err)
				d.add(DegradedFollows)
				return nil
			}
			followed = res
			return nil
		})
	}
	if p.cfg.Affinity != nil {
		g.Go(func() error {
			res, err := p.cfg.Affinity.CategoryAffinity(gctx, viewerID)
			if err != nil {
				p.warn(ctx, DegradedAffinity, err)
				d.add(DegradedAffinity)
				return nil
			}
			affinity = res
			return nil
		})
	}
	_ = g.Wait()
	return followed, affinity, d.kinds
}

// History returns candidates exposed to the viewer or session key during
// the history window ending at asOf. A zero asOf means now.
func (p *Provider) History(ctx context.Context, key string, asOf time.Time) ([]string, []string) {
	if p.cfg.History == nil || key == "" {
		return nil, nil
	}
	if asOf.IsZero() {
		asOf = p.cfg.Now()
	}
	ids, err := p.cfg.History.RecentCandidateIDs(ctx, key, asOf.Add(-p.cfg.HistoryWindow), asOf)
	if err != nil {
		p.warn(ctx, DegradedHistory, err)
		return nil, []string{DegradedHistory}
	}
	return ids, nil
}
