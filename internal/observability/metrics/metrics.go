package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "stepscope"

// Task outcomes used as the outcome label.
const (
	OutcomeDone    = "done"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// Metrics holds the collectors of one harness run. A nil *Metrics discards
// every observation.
type Metrics struct {
	registry     *prometheus.Registry
	taskDuration *prometheus.HistogramVec
	milestone    prometheus.Gauge
	scans        *prometheus.CounterVec
	unresolved   prometheus.Counter
	plugins      *prometheus.GaugeVec
}

// New creates the collectors and registers them with a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reactor",
			Name:      "task_duration_seconds",
			Help:      "Duration of init tasks by the milestone they attain.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"milestone", "outcome"}),
		milestone: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reactor",
			Name:      "milestone",
			Help:      "Ordinal of the highest attained init milestone.",
		}),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "scans_total",
			Help:      "Extension discovery scans by capability.",
		}, []string{"capability"}),
		unresolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delegate",
			Name:      "unresolved_total",
			Help:      "Union members of composite components that could not be resolved.",
		}),
		plugins: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "plugins",
			Help:      "Plugins by load state.",
		}, []string{"state"}),
	}
	m.registry.MustRegister(m.taskDuration, m.milestone, m.scans, m.unresolved, m.plugins)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveTask records a finished, skipped or failed init task.
func (m *Metrics) ObserveTask(milestone, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.taskDuration.WithLabelValues(milestone, outcome).Observe(d.Seconds())
}

// SetMilestone records the ordinal of the latest attained milestone.
func (m *Metrics) SetMilestone(ordinal int) {
	if m == nil {
		return
	}
	m.milestone.Set(float64(ordinal))
}

// IncScans counts one discovery scan.
func (m *Metrics) IncScans(capability string) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(capability).Inc()
}

// IncUnresolved counts one unresolvable delegate.
func (m *Metrics) IncUnresolved() {
	if m == nil {
		return
	}
	m.unresolved.Inc()
}

// SetPlugins records how many plugins are in state.
func (m *Metrics) SetPlugins(state string, n int) {
	if m == nil {
		return
	}
	m.plugins.WithLabelValues(state).Set(float64(n))
}

// WriteTextfile writes the text exposition of all collectors to path.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
