// Package metrics exposes Prometheus collectors for the SOAR engine.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "boundary_soar"

// Alert outcomes.
const (
	OutcomeIncident = "incident"
	OutcomeNoMatch  = "no_match"
	OutcomeInvalid  = "invalid"
	OutcomeError    = "error"
)

// Metrics holds the engine collectors. Its methods are safe for concurrent
// use and satisfy the recorder interfaces of the soar and correlation
// packages.
type Metrics struct {
	alertsTotal        *prometheus.CounterVec
	stepsTotal         *prometheus.CounterVec
	stepSeconds        *prometheus.HistogramVec
	executionsTotal    *prometheus.CounterVec
	executionSeconds   *prometheus.HistogramVec
	escalationsTotal   *prometheus.CounterVec
	correlationFires   *prometheus.CounterVec
	correlationErrors  *prometheus.CounterVec
	correlationSeconds prometheus.Histogram
}

// New creates the collectors without registering them.
func New() *Metrics {
	return &Metrics{
		alertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_total",
				Help:      "Alerts processed, partitioned by outcome.",
			},
			[]string{"outcome"},
		),
		stepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_total",
				Help:      "Playbook steps run, partitioned by action and status.",
			},
			[]string{"action", "status"},
		),
		stepSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_seconds",
				Help:      "Step latency in seconds.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"action"},
		),
		executionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_total",
				Help:      "Playbook executions, partitioned by playbook and status.",
			},
			[]string{"playbook", "status"},
		),
		executionSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_seconds",
				Help:      "Playbook execution latency in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"playbook"},
		),
		escalationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "escalations_total",
				Help:      "Incident escalations, partitioned by playbook.",
			},
			[]string{"playbook"},
		),
		correlationFires: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "correlation_fires_total",
				Help:      "Correlation rules fired, partitioned by rule.",
			},
			[]string{"rule"},
		),
		correlationErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "correlation_errors_total",
				Help:      "Correlation rule evaluation errors, partitioned by rule.",
			},
			[]string{"rule"},
		),
		correlationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "correlation_pass_seconds",
				Help:      "Duration of one correlation pass over all rules.",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}
}

// Register attaches the collectors to reg. Already registered collectors are
// skipped.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.alertsTotal,
		m.stepsTotal,
		m.stepSeconds,
		m.executionsTotal,
		m.executionSeconds,
		m.escalationsTotal,
		m.correlationFires,
		m.correlationErrors,
		m.correlationSeconds,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Handler returns the /metrics handler for the given gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// AlertProcessed counts an alert by outcome.
func (m *Metrics) AlertProcessed(outcome string) {
	m.alertsTotal.WithLabelValues(outcome).Inc()
}

// StepFinished records a step outcome and latency.
func (m *Metrics) StepFinished(action, status string, d time.Duration) {
	m.stepsTotal.WithLabelValues(action, status).Inc()
	m.stepSeconds.WithLabelValues(action).Observe(clamp(d).Seconds())
}

// ExecutionFinished records a playbook execution outcome and latency.
func (m *Metrics) ExecutionFinished(playbook, status string, d time.Duration) {
	m.executionsTotal.WithLabelValues(playbook, status).Inc()
	m.executionSeconds.WithLabelValues(playbook).Observe(clamp(d).Seconds())
}

// Escalated counts an escalation.
func (m *Metrics) Escalated(playbook string) {
	m.escalationsTotal.WithLabelValues(playbook).Inc()
}

// RuleFired counts a correlation rule firing.
func (m *Metrics) RuleFired(rule string) {
	m.correlationFires.WithLabelValues(rule).Inc()
}

// RuleFailed counts a correlation rule evaluation error.
func (m *Metrics) RuleFailed(rule string) {
	m.correlationErrors.WithLabelValues(rule).Inc()
}

// PassFinished records the duration of a correlation pass.
func (m *Metrics) PassFinished(d time.Duration) {
	m.correlationSeconds.Observe(clamp(d).Seconds())
}

func clamp(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
