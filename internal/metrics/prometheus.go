package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusObserver mirrors recorded metrics into Prometheus counters and
// histograms. Unlike the recorder it is cumulative, so it is the place to
// look for all-time totals.
type PrometheusObserver struct {
	operations *prometheus.CounterVec
	durations  *prometheus.HistogramVec
}

// NewPrometheusObserver registers the offload collectors on reg.
// depth, when non-nil, is exported as the task queue depth gauge.
func NewPrometheusObserver(reg prometheus.Registerer, depth func() float64) *PrometheusObserver {
	factory := promauto.With(reg)

	o := &PrometheusObserver{
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_offload_operations_total",
				Help: "Total number of completed offloaded operations",
			},
			[]string{"operation", "kind", "success"},
		),
		durations: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sentinel_offload_operation_duration_seconds",
				Help:    "Execution time of offloaded operations",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
			},
			[]string{"operation", "kind"},
		),
	}

	if depth != nil {
		factory.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "sentinel_offload_queue_depth",
				Help: "Number of fire-and-forget items waiting in the task queue",
			},
			depth,
		)
	}

	return o
}

// Observe implements Observer.
func (o *PrometheusObserver) Observe(m OperationMetric) {
	if o == nil {
		return
	}
	kind := m.Kind.String()
	o.operations.WithLabelValues(m.Operation, kind, strconv.FormatBool(m.Success)).Inc()
	o.durations.WithLabelValues(m.Operation, kind).Observe(m.Duration.Seconds())
}
