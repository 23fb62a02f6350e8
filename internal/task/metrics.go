package task

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the pool's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	submitted *prometheus.CounterVec
	completed *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	running   prometheus.Gauge
	queued    prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hearth",
			Subsystem: "tasks",
			Name:      "submitted_total",
			Help:      "Tasks accepted by the pool.",
		}, []string{"op"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hearth",
			Subsystem: "tasks",
			Name:      "completed_total",
			Help:      "Tasks finished, by final state.",
		}, []string{"op", "state"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hearth",
			Subsystem: "tasks",
			Name:      "duration_seconds",
			Help:      "Task run time.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"op"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hearth",
			Subsystem: "tasks",
			Name:      "running",
			Help:      "Tasks currently executing.",
		}),
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hearth",
			Subsystem: "tasks",
			Name:      "queued",
			Help:      "Tasks waiting for a worker.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.submitted, m.completed, m.duration, m.running, m.queued)
	}
	return m
}

func (m *Metrics) onSubmit(op Op) {
	if m == nil {
		return
	}
	m.submitted.WithLabelValues(string(op)).Inc()
	m.queued.Inc()
}

func (m *Metrics) onStart() {
	if m == nil {
		return
	}
	m.queued.Dec()
	m.running.Inc()
}

func (m *Metrics) onFinish(op Op, state State, took time.Duration) {
	if m == nil {
		return
	}
	m.running.Dec()
	m.completed.WithLabelValues(string(op), string(state)).Inc()
	m.duration.WithLabelValues(string(op)).Observe(took.Seconds())
}
