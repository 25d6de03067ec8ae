package experiment

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricVariantExposures   = "foryou_experiment_exposures"
	MetricVariantEvents      = "foryou_experiment_events"
	MetricVariantRatio       = "foryou_experiment_ratio"
	MetricVariantDwell       = "foryou_experiment_dwell_avg_seconds"
	MetricAggregationRuns    = "foryou_experiment_aggregation_runs_total"
	MetricAggregationSeconds = "foryou_experiment_aggregation_duration_seconds"
)

// Metrics exports the latest report as per-variant gauges.
type Metrics struct {
	exposures *prometheus.GaugeVec
	events    *prometheus.GaugeVec
	ratios    *prometheus.GaugeVec
	dwell     *prometheus.GaugeVec
	runs      *prometheus.CounterVec
	duration  prometheus.Histogram
}

// NewMetrics creates experiment metrics. Call Register to expose them.
func NewMetrics() *Metrics {
	return &Metrics{
		exposures: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: MetricVariantExposures,
			Help: "Identified exposures in the latest aggregation window",
		}, []string{"variant"}),
		events: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: MetricVariantEvents,
			Help: "Attributed interactions in the latest aggregation window",
		}, []string{"variant", "type"}),
		ratios: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: MetricVariantRatio,
			Help: "Derived funnel ratios in the latest aggregation window",
		}, []string{"variant", "ratio"}),
		dwell: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: MetricVariantDwell,
			Help: "Average dwell seconds in the latest aggregation window",
		}, []string{"variant"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricAggregationRuns,
			Help: "Aggregation runs by status",
		}, []string{"status"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricAggregationSeconds,
			Help:    "Duration of aggregation runs",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}),
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
		m.exposures,
		m.events,
		m.ratios,
		m.dwell,
		m.runs,
		m.duration,
	}
}

func (m *Metrics) observeReport(r Report) {
	if m == nil {
		return
	}
	for variant, v := range r.Variants {
		m.exposures.WithLabelValues(variant).Set(float64(v.Exposures))
		m.events.WithLabelValues(variant, "view").Set(float64(v.Views))
		m.events.WithLabelValues(variant, "like").Set(float64(v.Likes))
		m.events.WithLabelValues(variant, "share").Set(float64(v.Shares))
		m.events.WithLabelValues(variant, "complete").Set(float64(v.Completes))
		m.ratios.WithLabelValues(variant, "views_per_exposure").Set(v.ViewsPerExposure)
		m.ratios.WithLabelValues(variant, "likes_per_exposure").Set(v.LikesPerExposure)
		m.ratios.WithLabelValues(variant, "completion_rate").Set(v.CompletionRate)
		m.dwell.WithLabelValues(variant).Set(v.DwellAvgSeconds)
	}
}

func (m *Metrics) observeRun(status string, seconds float64) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(status).Inc()
	m.duration.Observe(seconds)
}
