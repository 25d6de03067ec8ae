package ranking

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricProfileCacheHits       = "foryou_profile_cache_hits_total"
	MetricProfileCacheMisses     = "foryou_profile_cache_misses_total"
	MetricProfileDefaultFallback = "foryou_profile_default_fallback_total"
	MetricProfileStoreDuration   = "foryou_profile_store_duration_seconds"
)

// Fallback reasons.
const (
	FallbackNotConfigured = "not_configured"
	FallbackStoreError    = "store_error"
	FallbackInvalid       = "invalid"
)

// ResolverMetrics contains Prometheus metrics for profile resolution.
type ResolverMetrics struct {
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	defaultFallback *prometheus.CounterVec
	storeDuration   prometheus.Histogram
}

// NewResolverMetrics creates resolver metrics. Call Register to expose them.
func NewResolverMetrics() *ResolverMetrics {
	return &ResolverMetrics{
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricProfileCacheHits,
			Help: "Weight profile lookups served from cache",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricProfileCacheMisses,
			Help: "Weight profile lookups that reached the configuration store",
		}),
		defaultFallback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricProfileDefaultFallback,
			Help: "Weight profile resolutions that fell back to the default, by reason",
		}, []string{"reason"}),
		storeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricProfileStoreDuration,
			Help:    "Histogram of configuration store lookup duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		}),
	}
}

// Register registers all metrics with the given registry.
func (m *ResolverMetrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all Prometheus collectors for testing.
func (m *ResolverMetrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.cacheHits,
		m.cacheMisses,
		m.defaultFallback,
		m.storeDuration,
	}
}

func (m *ResolverMetrics) hit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

func (m *ResolverMetrics) miss(seconds float64) {
	if m != nil {
		m.cacheMisses.Inc()
		m.storeDuration.Observe(seconds)
	}
}

func (m *ResolverMetrics) fallback(reason string) {
	if m != nil {
		m.defaultFallback.WithLabelValues(reason).Inc()
	}
}
