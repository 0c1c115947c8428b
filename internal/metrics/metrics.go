// Package metrics provides Prometheus metrics for the CSRF guard.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the guard's Prometheus collectors on a private registry.
type Metrics struct {
	ValidationsTotal *prometheus.CounterVec
	TokensIssued     *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		ValidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "csrf_validations_total",
				Help: "Token checks by result.",
			},
			[]string{"result"},
		),
		TokensIssued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "csrf_tokens_issued_total",
				Help: "Token pairs attached to requests, split by whether the pair was reused.",
			},
			[]string{"reused"},
		),
		registry: reg,
	}

	reg.MustRegister(m.ValidationsTotal)
	reg.MustRegister(m.TokensIssued)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordValidation increments the validation counter.
func (m *Metrics) RecordValidation(result string) {
	m.ValidationsTotal.WithLabelValues(result).Inc()
}

// RecordIssued increments the issued counter.
func (m *Metrics) RecordIssued(reused bool) {
	label := "false"
	if reused {
		label = "true"
	}
	m.TokensIssued.WithLabelValues(label).Inc()
}
