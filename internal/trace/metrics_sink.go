package trace

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsSink counts events and observes build durations.
type MetricsSink struct {
	events   *prometheus.CounterVec
	warnings *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetricsSink registers its collectors with reg. A nil reg uses the
// default registerer.
func NewMetricsSink(reg prometheus.Registerer) *MetricsSink {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &MetricsSink{
		events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "geoweaver_task_events_total",
			Help: "Coordinator task events by kind",
		}, []string{"kind"}),
		warnings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "geoweaver_numerical_warnings_total",
			Help: "Numerical warnings by task",
		}, []string{"task"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "geoweaver_task_duration_seconds",
			Help:    "Build duration of executed tasks",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"task", "outcome"}),
	}
}

func (m *MetricsSink) Record(e Event) {
	m.events.WithLabelValues(string(e.Kind)).Inc()
	switch e.Kind {
	case EventNumericalWarning:
		m.warnings.WithLabelValues(e.TaskID).Add(float64(e.Count))
	case EventTaskFinished:
		m.duration.WithLabelValues(e.TaskID, "ok").Observe(e.Elapsed.Seconds())
	case EventTaskFailed:
		m.duration.WithLabelValues(e.TaskID, "failed").Observe(e.Elapsed.Seconds())
	}
}
