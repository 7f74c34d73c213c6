// Package metrics declares the gateway's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Invocation metrics
	InvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsgate_invocations_total",
			Help: "Total number of tool invocations by outcome",
		},
		[]string{"tool", "status", "data_source"},
	)

	InvocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "opsgate_invocation_duration_seconds",
			Help:    "Tool invocation duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"tool"},
	)

	// Safety metrics
	ConsentDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsgate_consent_denials_total",
			Help: "Invocations denied for missing explicit consent",
		},
		[]string{"tool"},
	)

	IntentMatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsgate_intent_matches_total",
			Help: "Dangerous-intent phrase matches in source text",
		},
		[]string{"tool", "blocking"},
	)

	// Connector metrics
	ConnectorFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsgate_connector_failures_total",
			Help: "Connector call failures by failure kind",
		},
		[]string{"connector", "kind"},
	)

	ConnectorHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "opsgate_connector_health",
			Help: "Connector health state (0=uninitialized 1=connecting 2=ready 3=degraded 4=failed 5=closed)",
		},
		[]string{"connector"},
	)

	// Composite metrics
	CompositeSubcalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsgate_composite_subcalls_total",
			Help: "Composite sub-invocations by outcome",
		},
		[]string{"tool", "outcome"},
	)
)
