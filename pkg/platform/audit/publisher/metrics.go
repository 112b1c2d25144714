package publisher

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons.
const (
	reasonValidation  = "validation"
	reasonEncode      = "encode"
	reasonCircuitOpen = "circuit_open"
	reasonBufferFull  = "buffer_full"
	reasonSampled     = "sampled"
)

// Metrics holds publisher counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Published    *prometheus.CounterVec
	Dropped      *prometheus.CounterVec
	Failed       *prometheus.CounterVec
	SendLatency  prometheus.Histogram
	CircuitState prometheus.Gauge
}

// NewMetrics registers publisher metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Published: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hivelog_publisher_published_total",
			Help: "Events acknowledged by the broker, by kind and topic",
		}, []string{"kind", "topic"}),
		Dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hivelog_publisher_dropped_total",
			Help: "Events dropped before reaching the broker, by kind and reason",
		}, []string{"kind", "reason"}),
		Failed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hivelog_publisher_failed_total",
			Help: "Events the broker did not acknowledge in time, by kind and topic",
		}, []string{"kind", "topic"}),
		SendLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "hivelog_publisher_send_duration_seconds",
			Help:    "Duration of broker sends including acknowledgement",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		CircuitState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hivelog_publisher_circuit_state",
			Help: "Broker circuit breaker state (0=closed/healthy, 1=open/unhealthy)",
		}),
	}
}

func (m *Metrics) incPublished(kind, topic string) {
	if m != nil {
		m.Published.WithLabelValues(kind, topic).Inc()
	}
}

func (m *Metrics) incDropped(kind, reason string) {
	if m != nil {
		m.Dropped.WithLabelValues(kind, reason).Inc()
	}
}

func (m *Metrics) incFailed(kind, topic string) {
	if m != nil {
		m.Failed.WithLabelValues(kind, topic).Inc()
	}
}

func (m *Metrics) observeSend(d time.Duration) {
	if m != nil {
		m.SendLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) setCircuitOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.CircuitState.Set(1)
	} else {
		m.CircuitState.Set(0)
	}
}
