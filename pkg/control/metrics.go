package control

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/polisai/polis-mtls/pkg/domain"
)

// Metrics holds the Prometheus metrics for the control surface. All record
// methods are safe on a nil receiver so callers can run without metrics.
type Metrics struct {
	phaseViolations *prometheus.CounterVec
	engineCalls     *prometheus.CounterVec
	engineFailures  *prometheus.CounterVec
	engineLatency   *prometheus.HistogramVec
	overridesSet    *prometheus.CounterVec
	invalidOverride prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector backed by its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		phaseViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mtls_phase_violations_total",
				Help: "Control-surface calls rejected for running in the wrong pipeline phase",
			},
			[]string{"op", "phase"},
		),

		engineCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mtls_engine_calls_total",
				Help: "Successful TLS engine delegations by operation",
			},
			[]string{"op"},
		),

		engineFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mtls_engine_failures_total",
				Help: "TLS engine failures surfaced to callers by operation",
			},
			[]string{"op"},
		),

		engineLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mtls_engine_call_duration_seconds",
				Help:    "TLS engine call latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),

		overridesSet: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mtls_verify_overrides_total",
				Help: "Verify overrides written by verdict kind",
			},
			[]string{"kind"},
		),

		invalidOverride: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mtls_verify_override_rejects_total",
				Help: "Verify overrides rejected for malformed values",
			},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.phaseViolations,
		m.engineCalls,
		m.engineFailures,
		m.engineLatency,
		m.overridesSet,
		m.invalidOverride,
	)

	return m
}

// Handler returns an HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordPhaseViolation counts a call rejected by the phase guard.
func (m *Metrics) RecordPhaseViolation(op string, phase domain.Phase) {
	if m == nil {
		return
	}
	m.phaseViolations.WithLabelValues(op, phase.String()).Inc()
}

// RecordEngineCall counts a successful engine delegation and its latency.
func (m *Metrics) RecordEngineCall(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.engineCalls.WithLabelValues(op).Inc()
	m.engineLatency.WithLabelValues(op).Observe(d.Seconds())
}

// RecordEngineFailure counts an engine failure surfaced to the caller.
func (m *Metrics) RecordEngineFailure(op string) {
	if m == nil {
		return
	}
	m.engineFailures.WithLabelValues(op).Inc()
}

// RecordOverrideSet counts a stored verify override by verdict kind. Failure
// reasons are not recorded to keep label cardinality bounded.
func (m *Metrics) RecordOverrideSet(value string) {
	if m == nil {
		return
	}
	kind := "failed"
	switch value {
	case domain.VerifySuccess:
		kind = "success"
	case domain.VerifyNone:
		kind = "none"
	}
	m.overridesSet.WithLabelValues(kind).Inc()
}

// RecordInvalidOverride counts a rejected malformed override value.
func (m *Metrics) RecordInvalidOverride() {
	if m == nil {
		return
	}
	m.invalidOverride.Inc()
}
