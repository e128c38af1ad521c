package metrics

import (
	"fmt"
	"time"

	"github.com/nao1215/tcprecon/internal/model"
	"github.com/nao1215/tcprecon/internal/probe"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tcprecon"

// Metrics holds the collectors updated during a run. All methods are safe
// for concurrent use and are no-ops on a nil *Metrics, so callers never
// need to check whether metrics are enabled.
type Metrics struct {
	registry *prometheus.Registry

	// PortsScanned counts scanned ports by final state.
	PortsScanned *prometheus.CounterVec

	// ProbeChecks counts individual probe checks by probe and outcome.
	ProbeChecks *prometheus.CounterVec

	// LimiterWait records how long callers waited for an admission ticket.
	LimiterWait prometheus.Histogram

	// StepDuration records how long each pipeline step took per target.
	StepDuration *prometheus.HistogramVec

	// TargetsScanned counts targets by outcome ("ok" or "error").
	TargetsScanned *prometheus.CounterVec
}

// New creates the collectors and registers them with a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		PortsScanned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ports_scanned_total",
				Help:      "Total number of scanned ports by state.",
			},
			[]string{"state"},
		),
		ProbeChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probe_checks_total",
				Help:      "Total number of protocol probe checks by probe and outcome.",
			},
			[]string{"probe", "status"},
		),
		LimiterWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "limiter_wait_seconds",
				Help:      "Time spent waiting for an admission ticket.",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
		),
		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of pipeline steps in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
			},
			[]string{"step"},
		),
		TargetsScanned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "targets_scanned_total",
				Help:      "Total number of targets by outcome.",
			},
			[]string{"outcome"},
		),
	}

	m.registry.MustRegister(
		m.PortsScanned,
		m.ProbeChecks,
		m.LimiterWait,
		m.StepDuration,
		m.TargetsScanned,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObservePort counts a scanned port.
func (m *Metrics) ObservePort(state model.State) {
	if m == nil {
		return
	}
	m.PortsScanned.WithLabelValues(state.String()).Inc()
}

// ObserveProbe counts a probe check. Its signature matches
// probe.WithObserver.
func (m *Metrics) ObserveProbe(name string, status probe.Status) {
	if m == nil {
		return
	}
	m.ProbeChecks.WithLabelValues(name, status.String()).Inc()
}

// ObserveWait records a limiter wait. Its signature matches
// limiter.WithWaitObserver.
func (m *Metrics) ObserveWait(d time.Duration) {
	if m == nil {
		return
	}
	m.LimiterWait.Observe(d.Seconds())
}

// ObserveStep records the duration of a pipeline step.
func (m *Metrics) ObserveStep(step string, d time.Duration) {
	if m == nil {
		return
	}
	m.StepDuration.WithLabelValues(step).Observe(d.Seconds())
}

// ObserveTarget counts a finished target.
func (m *Metrics) ObserveTarget(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.TargetsScanned.WithLabelValues(outcome).Inc()
}

// WriteTextfile writes all metrics to path in the Prometheus text format,
// suitable for the node exporter's textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics to %s: %w", path, err)
	}
	return nil
}
