package ranking

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Resolution sources.
const (
	SourceStore   = "store"
	SourceDefault = "default"
)

// Resolved is the outcome of a profile resolution.
type Resolved struct {
	Profile *WeightProfile
	// Source is SourceStore or SourceDefault.
	Source string
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	// TTL is how long a resolved profile is cached. Default: 60s.
	TTL time.Duration
	// ErrorTTL is how long a default served because of a store failure is
	// cached before the store is retried. Default: 5s.
	ErrorTTL time.Duration
	// StoreTimeout bounds a single store lookup. Default: 250ms.
	StoreTimeout time.Duration

	Logger  *slog.Logger
	Metrics *ResolverMetrics
	Now     func() time.Time
}

type cacheEntry struct {
	resolved Resolved
	expires  time.Time
}

// Resolver resolves the active weight profile for a variant.
//
// Resolved profiles are cached per variant. The cache map is never mutated:
// every refresh installs a new map with a compare-and-swap, so readers need
// no lock. Concurrent misses for the same variant share one store lookup.
type Resolver struct {
	store  ProfileStore
	cfg    ResolverConfig
	logger *slog.Logger
	cache  atomic.Pointer[map[string]cacheEntry]
	group  singleflight.Group
}

// NewResolver creates a Resolver. A nil store always yields defaults.
func NewResolver(store ProfileStore, cfg ResolverConfig) *Resolver {
	if cfg.TTL <= 0 {
		cfg.TTL = 60 * time.Second
	}
	if cfg.ErrorTTL <= 0 {
		cfg.ErrorTTL = 5 * time.Second
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 250 * time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Resolver{store: store, cfg: cfg, logger: logger}
	empty := map[string]cacheEntry{}
	r.cache.Store(&empty)
	return r
}

// Resolve returns the active profile for variant. It never fails: a
// missing, invalid or unreachable profile resolves to DefaultProfile.
// The returned profile is a private copy the caller may not share back.
func (r *Resolver) Resolve(ctx context.Context, variant string) Resolved {
	now := r.cfg.Now()
	if e, ok := (*r.cache.Load())[variant]; ok && now.Before(e.expires) {
		r.cfg.Metrics.hit()
		return copyResolved(e.resolved)
	}

	v, _, _ := r.group.Do(variant, func() (any, error) {
		e := r.lookup(ctx, variant)
		r.put(variant, e)
		return e.resolved, nil
	})
	return copyResolved(v.(Resolved))
}

// Invalidate drops every cached profile.
func (r *Resolver) Invalidate() {
	empty := map[string]cacheEntry{}
	r.cache.Store(&empty)
}

func (r *Resolver) lookup(ctx context.Context, variant string) cacheEntry {
	if r.store == nil {
		return r.fallback(variant, FallbackNotConfigured, r.cfg.TTL)
	}

	// The lookup is shared with other callers, so it must not be cut short
	// by this caller's cancellation.
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.StoreTimeout)
	defer cancel()

	start := time.Now()
	p, err := r.store.ActiveWeightProfile(lctx, variant)
	r.cfg.Metrics.miss(time.Since(start).Seconds())

	switch {
	case err != nil:
		r.logger.WarnContext(ctx, "weight profile store unavailable, using default",
			slog.String("variant", variant),
			slog.String("error", err.Error()),
		)
		return r.fallback(variant, FallbackStoreError, r.cfg.ErrorTTL)
	case p == nil:
		return r.fallback(variant, FallbackNotConfigured, r.cfg.TTL)
	}

	if err := p.Validate(); err != nil {
		r.logger.WarnContext(ctx, "invalid weight profile, using default",
			slog.String("variant", variant),
			slog.String("profile", p.Name),
			slog.Int("version", p.Version),
			slog.String("error", err.Error()),
		)
		return r.fallback(variant, FallbackInvalid, r.cfg.ErrorTTL)
	}

	return cacheEntry{
		resolved: Resolved{Profile: p.Clone(), Source: SourceStore},
		expires:  r.cfg.Now().Add(r.cfg.TTL),
	}
}

func (r *Resolver) fallback(variant, reason string, ttl time.Duration) cacheEntry {
	r.cfg.Metrics.fallback(reason)
	return cacheEntry{
		resolved: Resolved{Profile: DefaultProfile(variant), Source: SourceDefault},
		expires:  r.cfg.Now().Add(ttl),
	}
}

// put installs e for variant in a fresh copy of the cache map.
func (r *Resolver) put(variant string, e cacheEntry) {
	for {
		old := r.cache.Load()
		next := make(map[string]cacheEntry, len(*old)+1)
		for k, v := range *old {
			next[k] = v
		}
		next[variant] = e
		if r.cache.CompareAndSwap(old, &next) {
			return
		}
	}
}

func copyResolved(res Resolved) Resolved {
	return Resolved{Profile: res.Profile.Clone(), Source: res.Source}
}
