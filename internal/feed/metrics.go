package feed

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricRequestsTotal     = "foryou_feed_requests_total"
	MetricDegradationsTotal = "foryou_feed_degradations_total"
	MetricStageDuration     = "foryou_feed_stage_duration_seconds"
	MetricPoolSize          = "foryou_feed_pool_size"
	MetricPageItems         = "foryou_feed_page_items"
	MetricColdStartTotal    = "foryou_feed_cold_start_total"
)

// Request outcomes.
const (
	StatusOK        = "ok"
	StatusInvalid   = "invalid"
	StatusCancelled = "cancelled"
)

// Pipeline stages.
const (
	StageRetrieve  = "retrieve"
	StageSignals   = "signals"
	StageScore     = "score"
	StageDiversify = "diversify"
)

// Metrics contains Prometheus metrics for feed assembly.
type Metrics struct {
	requests      *prometheus.CounterVec
	degradations  *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	poolSize      prometheus.Histogram
	pageItems     prometheus.Histogram
	coldStart     *prometheus.CounterVec
}

// NewMetrics creates feed metrics. Call Register to expose them.
func NewMetrics() *Metrics {
	return &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRequestsTotal,
			Help: "Feed requests by variant and outcome",
		}, []string{"variant", "status"}),
		degradations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricDegradationsTotal,
			Help: "Feed pages served with a degraded input, by kind",
		}, []string{"kind"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricStageDuration,
			Help:    "Duration of feed pipeline stages",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"stage"}),
		poolSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricPoolSize,
			Help:    "Candidates scored per feed request",
			Buckets: []float64{0, 10, 25, 50, 100, 200, 500},
		}),
		pageItems: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricPageItems,
			Help:    "Items returned per feed page",
			Buckets: []float64{0, 1, 5, 10, 20, 50, 100},
		}),
		coldStart: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricColdStartTotal,
			Help: "Feed pages built for viewers or sessions with no history, by variant",
		}, []string{"variant"}),
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
		m.requests,
		m.degradations,
		m.stageDuration,
		m.poolSize,
		m.pageItems,
		m.coldStart,
	}
}

func (m *Metrics) incRequest(variant, status string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(variant, status).Inc()
}

func (m *Metrics) incDegraded(kinds []string) {
	if m == nil {
		return
	}
	for _, k := range kinds {
		m.degradations.WithLabelValues(k).Inc()
	}
}

func (m *Metrics) observeStage(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(seconds)
}

func (m *Metrics) observeSizes(pool, page int) {
	if m == nil {
		return
	}
	m.poolSize.Observe(float64(pool))
	m.pageItems.Observe(float64(page))
}

func (m *Metrics) incColdStart(variant string) {
	if m == nil {
		return
	}
	m.coldStart.WithLabelValues(variant).Inc()
}
