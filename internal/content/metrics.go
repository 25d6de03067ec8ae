package content

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricPoolSourceTotal    = "foryou_candidate_pool_source_total"
	MetricPoolSize           = "foryou_candidate_pool_size"
	MetricBreakerState       = "foryou_content_breaker_state"
	MetricBreakerTransitions = "foryou_content_breaker_transitions_total"
)

// Metrics contains Prometheus metrics for candidate retrieval.
type Metrics struct {
	poolSource         *prometheus.CounterVec
	poolSize           prometheus.Histogram
	breakerState       prometheus.Gauge
	breakerTransitions *prometheus.CounterVec
}

// NewMetrics creates retrieval metrics. Call Register to expose them.
func NewMetrics() *Metrics {
	return &Metrics{
		poolSource: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPoolSourceTotal,
			Help: "Candidate pools served, by source (primary, fallback, empty)",
		}, []string{"source"}),
		poolSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricPoolSize,
			Help:    "Number of candidates in the retrieved pool",
			Buckets: []float64{0, 10, 25, 50, 100, 200, 500},
		}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricBreakerState,
			Help: "Content store circuit breaker state (0=closed, 1=half-open, 2=open)",
		}),
		breakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricBreakerTransitions,
			Help: "Content store circuit breaker state transitions",
		}, []string{"from", "to"}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.poolSource,
		m.poolSize,
		m.breakerState,
		m.breakerTransitions,
	}
}

func (m *Metrics) observePool(p Pool) {
	if m == nil {
		return
	}
	m.poolSource.WithLabelValues(p.Source).Inc()
	m.poolSize.Observe(float64(len(p.Candidates)))
}

func (m *Metrics) observeTransition(from, to string, state float64) {
	if m == nil {
		return
	}
	m.breakerState.Set(state)
	m.breakerTransitions.WithLabelValues(from, to).Inc()
}
