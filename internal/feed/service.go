package feed

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/foryou/internal/content"
	"github.com/onnwee/foryou/internal/exposure"
	"github.com/onnwee/foryou/internal/ranking"
	"github.com/onnwee/foryou/internal/signal"
	"github.com/onnwee/foryou/internal/tracing"
	"github.com/onnwee/foryou/internal/variant"
	"github.com/onnwee/foryou/internal/viewer"
)

// DegradedCandidates is reported when the pool did not come from the
// primary retrieval path.
const DegradedCandidates = "candidates"

const maxClockSkew = time.Minute

// ProfileResolver resolves the weight profile for a variant.
type ProfileResolver interface {
	Resolve(ctx context.Context, variant string) ranking.Resolved
}

// CandidateFetcher retrieves the eligible candidate pool.
type CandidateFetcher interface {
	Fetch(ctx context.Context, vc viewer.Context, limit int) (content.Pool, error)
}

// SignalProvider supplies the viewer context and candidate signals.
type SignalProvider interface {
	History(ctx context.Context, key string, asOf time.Time) ([]string, []string)
	Relationships(ctx context.Context, viewerID string) ([]string, map[string]float64, []string)
	Snapshots(ctx context.Context, candidates []content.Candidate, vc viewer.Context, withCollaborative bool) (map[string]signal.Snapshot, []string)
}

// ExposureLogger records served items without blocking.
type ExposureLogger interface {
	Log(ctx context.Context, exposures []exposure.Exposure)
}

// Defaults for Config.
const (
	DefaultPageSize       = 20
	DefaultMaxPageSize    = 100
	DefaultPoolMultiplier = 10
	DefaultMaxPoolSize    = 500
)

// Config configures a Service.
type Config struct {
	DefaultPageSize int
	MaxPageSize     int
	// PoolMultiplier sizes the candidate pool as pageSize * PoolMultiplier,
	// capped at MaxPoolSize. The pool does not depend on the page number so
	// every page of a request sequence slices the same ranked list.
	PoolMultiplier int
	MaxPoolSize    int

	Logger  *slog.Logger
	Metrics *Metrics
	Now     func() time.Time
}

// Service builds feed pages. It is safe for concurrent use; requests share
// no mutable state beyond the profile resolver's cache.
type Service struct {
	assigner  *variant.Assigner
	profiles  ProfileResolver
	retriever CandidateFetcher
	signals   SignalProvider
	exposures ExposureLogger
	config    Config
}

// NewService creates a new feed Service.
func NewService(
	assigner *variant.Assigner,
	profiles ProfileResolver,
	retriever CandidateFetcher,
	signals SignalProvider,
	exposures ExposureLogger,
	config Config,
) *Service {
	if config.DefaultPageSize <= 0 {
		config.DefaultPageSize = DefaultPageSize
	}
	if config.MaxPageSize <= 0 {
		config.MaxPageSize = DefaultMaxPageSize
	}
	if config.PoolMultiplier <= 0 {
		config.PoolMultiplier = DefaultPoolMultiplier
	}
	if config.MaxPoolSize <= 0 {
		config.MaxPoolSize = DefaultMaxPoolSize
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Service{
		assigner:  assigner,
		profiles:  profiles,
		retriever: retriever,
		signals:   signals,
		exposures: exposures,
		config:    config,
	}
}

// DefaultPageSize returns the page size used when a caller omits it.
func (s *Service) DefaultPageSize() int {
	return s.config.DefaultPageSize
}

// MaxPageSize returns the largest accepted page size.
func (s *Service) MaxPageSize() int {
	return s.config.MaxPageSize
}

// PoolSize returns the candidate pool size for a page size.
func (s *Service) PoolSize(pageSize int) int {
	n := pageSize * s.config.PoolMultiplier
	if n > s.config.MaxPoolSize || n < 0 {
		return s.config.MaxPoolSize
	}
	return n
}

// Feed builds one page.
//
// Only invalid input and caller cancellation produce errors. Every other
// failure degrades the page and is listed in Response.Degraded.
func (s *Service) Feed(ctx context.Context, req Request) (resp *Response, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "feed.build")
	defer func() { endSpan(err) }()

	if err := req.Validate(s.config.MaxPageSize); err != nil {
		s.config.Metrics.incRequest("", StatusInvalid)
		return nil, err
	}

	key := req.ViewerID
	if key == "" {
		key = req.SessionID
	}
	assigned, err := s.assigner.Assign(key, req.Variant)
	if err != nil {
		s.config.Metrics.incRequest("", StatusInvalid)
		return nil, err
	}
	now := s.config.Now()
	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = now
	}
	if asOf.After(now.Add(maxClockSkew)) {
		s.config.Metrics.incRequest(assigned, StatusInvalid)
		return nil, ErrInvalidAsOf
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	tracing.SetAttributes(ctx,
		attribute.String("feed.variant", assigned),
		attribute.Int("feed.page", req.Page),
		attribute.Int("feed.page_size", req.PageSize),
		attribute.Bool("feed.anonymous", req.ViewerID == ""))

	resolved := s.profiles.Resolve(ctx, assigned)
	profile := resolved.Profile

	var deg degraded

	// Candidate pool and viewer relationships are independent reads.
	start := time.Now()
	var (
		pool     content.Pool
		history  []string
		followed []string
		affinity map[string]float64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var kinds []string
		history, kinds = s.signals.History(gctx, key, asOf)
		deg.add(kinds...)

		partial := viewer.New(req.ViewerID, req.SessionID, nil, nil, history)
		partial.AsOf = asOf
		var err error
		pool, err = s.retriever.Fetch(gctx, partial, s.PoolSize(req.PageSize))
		return err
	})
	g.Go(func() error {
		var kinds []string
		followed, affinity, kinds = s.signals.Relationships(gctx, req.ViewerID)
		deg.add(kinds...)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, s.cancelled(assigned, err)
	}
	s.config.Metrics.observeStage(StageRetrieve, time.Since(start).Seconds())
	if pool.Degraded() {
		deg.add(DegradedCandidates)
	}

	if err := ctx.Err(); err != nil {
		return nil, s.cancelled(assigned, err)
	}

	vc := viewer.New(req.ViewerID, req.SessionID, followed, affinity, history)
	vc.AsOf = asOf
	tracing.SetAttributes(ctx, attribute.Bool("feed.cold_start", vc.ColdStart))
	if vc.ColdStart {
		s.config.Metrics.incColdStart(assigned)
	}

	start = time.Now()
	snapshots, kinds := s.signals.Snapshots(ctx, pool.Candidates, vc, profile.CollaborativeFilteringEnabled)
	deg.add(kinds...)
	s.config.Metrics.observeStage(StageSignals, time.Since(start).Seconds())

	if err := ctx.Err(); err != nil {
		return nil, s.cancelled(assigned, err)
	}

	start = time.Now()
	scored := make([]ranking.Scored, 0, len(pool.Candidates))
	for _, c := range pool.Candidates {
		snap := snapshots[c.ID]
		if req.Explain {
			b := ranking.Explain(c, snap, vc, profile, asOf)
			scored = append(scored, ranking.Scored{Candidate: c, Score: b.Total, Breakdown: &b})
			continue
		}
		scored = append(scored, ranking.Scored{Candidate: c, Score: ranking.Score(c, snap, vc, profile, asOf)})
	}
	s.config.Metrics.observeStage(StageScore, time.Since(start).Seconds())

	start = time.Now()
	diversified := ranking.Diversify(scored, profile.Diversity)
	s.config.Metrics.observeStage(StageDiversify, time.Since(start).Seconds())

	page := Paginate(diversified.Items, req.Page, req.PageSize)

	resp = &Response{
		RequestID: req.RequestID,
		AsOf:      asOf,
		Variant:   assigned,
		Profile: ProfileRef{
			Name:    profile.Name,
			Version: profile.Version,
			Source:  resolved.Source,
		},
		Items: make([]Item, 0, len(page.Items)),
		Pagination: Pagination{
			Page:            req.Page,
			PageSize:        req.PageSize,
			TotalEstimate:   page.TotalEstimate,
			TotalPages:      page.TotalPages,
			TotalIsEstimate: true,
		},
		Degraded: deg.sorted(),
	}

	servedAt := s.config.Now()
	served := make([]exposure.Exposure, 0, len(page.Items))
	var viewerID *string
	if req.ViewerID != "" {
		id := req.ViewerID
		viewerID = &id
	}
	for i, sc := range page.Items {
		resp.Items = append(resp.Items, Item{
			CandidateID: sc.Candidate.ID,
			CreatorID:   sc.Candidate.CreatorID,
			Category:    sc.Candidate.Category,
			Position:    i,
			Score:       sc.Score,
			Breakdown:   sc.Breakdown,
		})
		served = append(served, exposure.Exposure{
			ViewerID:    viewerID,
			SessionID:   req.SessionID,
			CandidateID: sc.Candidate.ID,
			Variant:     assigned,
			Position:    i,
			ServedAt:    servedAt,
			RequestID:   req.RequestID,
		})
	}

	// An abandoned request must not log exposures.
	if ctx.Err() == nil && s.exposures != nil {
		s.exposures.Log(ctx, served)
	}

	s.config.Metrics.observeSizes(len(pool.Candidates), len(resp.Items))
	s.config.Metrics.incDegraded(resp.Degraded)
	s.config.Metrics.incRequest(assigned, StatusOK)

	if len(resp.Degraded) > 0 {
		s.config.Logger.WarnContext(ctx, "feed served degraded",
			slog.String("request_id", req.RequestID),
			slog.String("variant", assigned),
			slog.Any("degraded", resp.Degraded))
	}
	return resp, nil
}

func (s *Service) cancelled(variant string, err error) error {
	s.config.Metrics.incRequest(variant, StatusCancelled)
	return err
}

// degraded collects degradation kinds from concurrent stages.
type degraded struct {
	mu    sync.Mutex
	kinds map[string]struct{}
}

func (d *degraded) add(kinds ...string) {
	if len(kinds) == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.kinds == nil {
		d.kinds = make(map[string]struct{})
	}
	for _, k := range kinds {
		d.kinds[k] = struct{}{}
	}
}

func (d *degraded) sorted() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.kinds))
	for k := range d.kinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
