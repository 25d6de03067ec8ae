package ranking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// countingStore counts lookups and can be switched into a failing state.
type countingStore struct {
	mu      sync.Mutex
	inner   ProfileStore
	err     error
	delay   time.Duration
	lookups atomic.Int32
}

func (s *countingStore) ActiveWeightProfile(ctx context.Context, variant string) (*WeightProfile, error) {
	s.lookups.Add(1)
	s.mu.Lock()
	err, delay := s.err, s.delay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return s.inner.ActiveWeightProfile(ctx, variant)
}

func (s *countingStore) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func storedProfile() *WeightProfile {
	p := DefaultProfile("A")
	p.Name = "control-v7"
	p.Version = 7
	p.FollowedBoost = 2
	return p
}

func newTestResolver(store ProfileStore, clock *fakeClock, m *ResolverMetrics) *Resolver {
	return NewResolver(store, ResolverConfig{
		TTL:          time.Minute,
		ErrorTTL:     5 * time.Second,
		StoreTimeout: 50 * time.Millisecond,
		Metrics:      m,
		Now:          clock.Now,
	})
}

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 4)
	c.Collect(ch)
	close(ch)
	total := 0.0
	for m := range ch {
		var out dto.Metric
		if err := m.Write(&out); err != nil {
			t.Fatal(err)
		}
		total += out.GetCounter().GetValue()
	}
	return total
}

func TestResolver_ReturnsStoredProfile(t *testing.T) {
	mem := NewInMemoryProfileStore()
	mem.Put(storedProfile())
	clock := &fakeClock{now: testNow}

	r := newTestResolver(mem, clock, nil)
	res := r.Resolve(context.Background(), "A")

	if res.Source != SourceStore {
		t.Errorf("Source = %q, want %q", res.Source, SourceStore)
	}
	if res.Profile.Name != "control-v7" || res.Profile.FollowedBoost != 2 {
		t.Errorf("unexpected profile: %+v", res.Profile)
	}
}

func TestResolver_CachesForTTL(t *testing.T) {
	mem := NewInMemoryProfileStore()
	mem.Put(storedProfile())
	store := &countingStore{inner: mem}
	clock := &fakeClock{now: testNow}
	m := NewResolverMetrics()

	r := newTestResolver(store, clock, m)
	for i := 0; i < 5; i++ {
		r.Resolve(context.Background(), "A")
	}
	if n := store.lookups.Load(); n != 1 {
		t.Errorf("expected 1 store lookup within TTL, got %d", n)
	}
	if hits := counterValue(t, m.cacheHits); hits != 4 {
		t.Errorf("expected 4 cache hits, got %v", hits)
	}

	clock.Advance(61 * time.Second)
	r.Resolve(context.Background(), "A")
	if n := store.lookups.Load(); n != 2 {
		t.Errorf("expected refresh after TTL, got %d lookups", n)
	}
}

func TestResolver_FallsBackOnStoreError(t *testing.T) {
	mem := NewInMemoryProfileStore()
	mem.Put(storedProfile())
	store := &countingStore{inner: mem}
	store.fail(errors.New("connection refused"))
	clock := &fakeClock{now: testNow}
	m := NewResolverMetrics()

	r := newTestResolver(store, clock, m)
	res := r.Resolve(context.Background(), "A")
	if res.Source != SourceDefault {
		t.Errorf("Source = %q, want %q", res.Source, SourceDefault)
	}
	if res.Profile.Name != "default-A" {
		t.Errorf("expected default profile, got %q", res.Profile.Name)
	}
	if v := counterValue(t, m.defaultFallback); v != 1 {
		t.Errorf("expected 1 fallback recorded, got %v", v)
	}

	// The default is retried sooner than a healthy entry.
	store.fail(nil)
	r.Resolve(context.Background(), "A")
	if n := store.lookups.Load(); n != 1 {
		t.Errorf("expected default to be cached briefly, got %d lookups", n)
	}
	clock.Advance(6 * time.Second)
	if res := r.Resolve(context.Background(), "A"); res.Source != SourceStore {
		t.Errorf("expected recovery after error TTL, got %q", res.Source)
	}
}

func TestResolver_SlowStoreTimesOut(t *testing.T) {
	store := &countingStore{inner: NewInMemoryProfileStore(), delay: time.Second}
	r := newTestResolver(store, &fakeClock{now: testNow}, nil)

	start := time.Now()
	res := r.Resolve(context.Background(), "B")
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("slow store blocked caller for %v", elapsed)
	}
	if res.Source != SourceDefault || !res.Profile.CollaborativeFilteringEnabled {
		t.Errorf("expected variant B default, got %+v", res)
	}
}

func TestResolver_InvalidProfileUsesDefault(t *testing.T) {
	mem := NewInMemoryProfileStore()
	bad := storedProfile()
	bad.SocialProofFactor = -3
	mem.Put(bad)

	r := newTestResolver(mem, &fakeClock{now: testNow}, nil)
	if res := r.Resolve(context.Background(), "A"); res.Source != SourceDefault {
		t.Errorf("invalid stored profile should not be served, got %q", res.Source)
	}
}

func TestResolver_NilStoreAndUnconfiguredVariant(t *testing.T) {
	r := newTestResolver(nil, &fakeClock{now: testNow}, nil)
	if res := r.Resolve(context.Background(), "A"); res.Source != SourceDefault {
		t.Errorf("nil store should resolve defaults, got %q", res.Source)
	}

	r = newTestResolver(NewInMemoryProfileStore(), &fakeClock{now: testNow}, nil)
	if res := r.Resolve(context.Background(), "C"); res.Profile.Name != "default-C" {
		t.Errorf("unconfigured variant should get its default, got %q", res.Profile.Name)
	}
}

func TestResolver_ReturnsPrivateCopies(t *testing.T) {
	mem := NewInMemoryProfileStore()
	mem.Put(storedProfile())
	r := newTestResolver(mem, &fakeClock{now: testNow}, nil)

	first := r.Resolve(context.Background(), "A")
	first.Profile.FollowedBoost = 100

	if second := r.Resolve(context.Background(), "A"); second.Profile.FollowedBoost != 2 {
		t.Errorf("cached profile was mutated through a returned copy: %v", second.Profile.FollowedBoost)
	}
}

func TestResolver_ConcurrentMissesShareLookup(t *testing.T) {
	mem := NewInMemoryProfileStore()
	mem.Put(storedProfile())
	store := &countingStore{inner: mem, delay: 20 * time.Millisecond}
	r := newTestResolver(store, &fakeClock{now: testNow}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res := r.Resolve(context.Background(), "A"); res.Profile == nil {
				t.Error("nil profile")
			}
		}()
	}
	wg.Wait()

	if n := store.lookups.Load(); n > 2 {
		t.Errorf("expected concurrent misses to share a lookup, got %d", n)
	}
}

func TestResolver_Invalidate(t *testing.T) {
	mem := NewInMemoryProfileStore()
	mem.Put(storedProfile())
	store := &countingStore{inner: mem}
	r := newTestResolver(store, &fakeClock{now: testNow}, nil)

	r.Resolve(context.Background(), "A")
	r.Invalidate()
	r.Resolve(context.Background(), "A")
	if n := store.lookups.Load(); n != 2 {
		t.Errorf("expected lookup after Invalidate, got %d", n)
	}
}

func TestResolverMetrics_Register(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := NewResolverMetrics().Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := NewResolverMetrics().Register(reg); err == nil {
		t.Error("duplicate registration should fail")
	}
}
