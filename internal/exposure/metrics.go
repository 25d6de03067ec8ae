package exposure

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricEnqueuedTotal = "foryou_exposures_enqueued_total"
	MetricWrittenTotal  = "foryou_exposures_written_total"
	MetricDroppedTotal  = "foryou_exposures_dropped_total"
	MetricQueueDepth    = "foryou_exposure_queue_depth"
)

// Drop reasons.
const (
	DropQueueFull  = "queue_full"
	DropStopped    = "stopped"
	DropCancelled  = "cancelled"
	DropWriteError = "write_error"
)

// Metrics contains Prometheus metrics for exposure logging.
// All operations are thread-safe.
type Metrics struct {
	enqueued   prometheus.Counter
	written    prometheus.Counter
	dropped    *prometheus.CounterVec
	queueDepth prometheus.Gauge
}

// NewMetrics creates exposure metrics. Call Register to expose them.
func NewMetrics() *Metrics {
	return &Metrics{
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricEnqueuedTotal,
			Help: "Exposures accepted onto the write queue",
		}),
		written: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricWrittenTotal,
			Help: "Exposures persisted to the sink",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricDroppedTotal,
			Help: "Exposures dropped before reaching the sink, by reason",
		}, []string{"reason"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricQueueDepth,
			Help: "Exposure batches waiting to be written",
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
		m.enqueued,
		m.written,
		m.dropped,
		m.queueDepth,
	}
}

func (m *Metrics) incEnqueued(n int) {
	if m == nil {
		return
	}
	m.enqueued.Add(float64(n))
}

func (m *Metrics) incWritten(n int) {
	if m == nil {
		return
	}
	m.written.Add(float64(n))
}

func (m *Metrics) incDropped(reason string, n int) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) setQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}
