package core

import (
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "ngstep"

// Metrics is a prometheus.Collector that counts upgrade work. A nil
// *Metrics records nothing.
type Metrics struct {
	installAttempts *prometheus.CounterVec
	cascadeDepth    prometheus.Histogram
	migrations      *prometheus.CounterVec
	phaseDuration   *prometheus.HistogramVec
	transitions     *prometheus.CounterVec
}

// NewMetrics returns a new Metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		installAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "install_attempts_total",
				Help:      "npm install attempts by outcome.",
			}, []string{"outcome"},
		),
		cascadeDepth: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "cascade_depth",
				Help:      "Substitutions made by one cascade run.",
				Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 20},
			},
		),
		migrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "migrations_total",
				Help:      "Migration units by outcome.",
			}, []string{"outcome"},
		),
		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "phase_duration_seconds",
				Help:      "Time spent in each transition phase.",
				Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
			}, []string{"phase"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "transitions_total",
				Help:      "Transitions by outcome.",
			}, []string{"outcome"},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.installAttempts.Describe(ch)
	m.cascadeDepth.Describe(ch)
	m.migrations.Describe(ch)
	m.phaseDuration.Describe(ch)
	m.transitions.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.installAttempts.Collect(ch)
	m.cascadeDepth.Collect(ch)
	m.migrations.Collect(ch)
	m.phaseDuration.Collect(ch)
	m.transitions.Collect(ch)
}

func (m *Metrics) installAttempt(outcome string) {
	if m != nil {
		m.installAttempts.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) cascade(depth int) {
	if m != nil {
		m.cascadeDepth.Observe(float64(depth))
	}
}

func (m *Metrics) migration(outcome string) {
	if m != nil {
		m.migrations.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) phase(p Phase, d time.Duration) {
	if m != nil {
		m.phaseDuration.WithLabelValues(p.String()).Observe(d.Seconds())
	}
}

func (m *Metrics) transition(outcome string) {
	if m != nil {
		m.transitions.WithLabelValues(outcome).Inc()
	}
}

// WriteTextfile writes the collected metrics to path in the node-exporter
// textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	reg := prometheus.NewRegistry()
	if err := reg.Register(m); err != nil {
		return errors.Annotate(err, "registering metrics")
	}
	return errors.Annotatef(prometheus.WriteToTextfile(path, reg), "writing metrics to %s", path)
}
