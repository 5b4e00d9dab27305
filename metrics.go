package fw24

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records entity service activity. A nil *Metrics records nothing.
type Metrics struct {
	operations *prometheus.CounterVec
	errors     *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	fetches    *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg. Pass
// prometheus.DefaultRegisterer to expose them on the default handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fw24_entity_operations_total",
				Help: "Total number of entity operations",
			},
			[]string{"entity", "operation"},
		),
		errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fw24_entity_operation_errors_total",
				Help: "Total number of failed entity operations",
			},
			[]string{"entity", "operation"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fw24_entity_operation_duration_seconds",
				Help:    "Duration of entity operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"entity", "operation"},
		),
		fetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fw24_hydration_fetches_total",
				Help: "Total number of batch fetches issued while hydrating relations",
			},
			[]string{"entity", "related"},
		),
	}
}

// observe records one finished operation.
func (m *Metrics) observe(entity, op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(entity, op).Inc()
	m.duration.WithLabelValues(entity, op).Observe(time.Since(start).Seconds())
	if err != nil {
		m.errors.WithLabelValues(entity, op).Inc()
	}
}

func (m *Metrics) recordFetch(entity, related string) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(entity, related).Inc()
}
