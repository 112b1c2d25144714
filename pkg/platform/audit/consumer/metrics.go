package consumer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Message outcomes.
const (
	outcomeStored     = "stored"
	outcomeMalformed  = "malformed"
	outcomeRejected   = "rejected"
	outcomeFailed     = "failed"
	outcomeUnroutable = "unroutable"
)

// Metrics tracks ingestion. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Consumed       *prometheus.CounterVec
	PersistLatency *prometheus.HistogramVec
}

// NewMetrics registers ingestion metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Consumed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hivelog_consumer_messages_total",
			Help: "Messages consumed, by topic and outcome",
		}, []string{"topic", "outcome"}),
		PersistLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hivelog_consumer_persist_duration_seconds",
			Help:    "Duration of the persistence transaction, by event kind",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"kind"}),
	}
}

func (m *Metrics) incConsumed(topic, outcome string) {
	if m != nil {
		m.Consumed.WithLabelValues(topic, outcome).Inc()
	}
}

func (m *Metrics) observePersist(kind string, d time.Duration) {
	if m != nil {
		m.PersistLatency.WithLabelValues(kind).Observe(d.Seconds())
	}
}
