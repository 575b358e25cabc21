// Package metrics exposes pipeline counters in Prometheus format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "bunny"

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	events             *prometheus.CounterVec
	completions        *prometheus.CounterVec
	completionDuration prometheus.Histogram
	persistenceErrors  prometheus.Counter
	sendErrors         prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Inbound events by kind.",
		}, []string{"kind"}),
		completions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completions_total",
			Help:      "Completion calls by result.",
		}, []string{"result"}),
		completionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_duration_seconds",
			Help:      "Latency of completion calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}),
		persistenceErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_errors_total",
			Help:      "Session store writes that failed.",
		}),
		sendErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_errors_total",
			Help:      "Outbound messages the transport rejected.",
		}),
	}
}

// RegisterSessions exposes the number of known sessions as a gauge.
func RegisterSessions(reg prometheus.Registerer, count func() int) {
	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions",
		Help:      "Known user sessions.",
	}, func() float64 { return float64(count()) })
}

func (m *Metrics) Event(kind string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind).Inc()
}

func (m *Metrics) Completion(ok bool, took time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.completions.WithLabelValues(result).Inc()
	m.completionDuration.Observe(took.Seconds())
}

func (m *Metrics) PersistenceError() {
	if m == nil {
		return
	}
	m.persistenceErrors.Inc()
}

func (m *Metrics) SendError() {
	if m == nil {
		return
	}
	m.sendErrors.Inc()
}
