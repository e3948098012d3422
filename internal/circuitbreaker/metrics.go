package circuitbreaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerStateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "purchase_gateway",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current breaker state per dependency (0=closed, 1=open, 2=half-open).",
	}, []string{"name"})

	breakerTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "purchase_gateway",
		Subsystem: "circuit_breaker",
		Name:      "transitions_total",
		Help:      "Breaker state transitions per dependency.",
	}, []string{"name", "to"})

	breakerShortCircuitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "purchase_gateway",
		Subsystem: "circuit_breaker",
		Name:      "short_circuits_total",
		Help:      "Calls answered by the fallback without reaching the dependency.",
	}, []string{"name"})
)

// GetStateGauge exposes the state gauge for tests.
func GetStateGauge() *prometheus.GaugeVec { return breakerStateGauge }

// GetTransitionsTotal exposes the transition counter for tests.
func GetTransitionsTotal() *prometheus.CounterVec { return breakerTransitionsTotal }

// GetShortCircuitsTotal exposes the short-circuit counter for tests.
func GetShortCircuitsTotal() *prometheus.CounterVec { return breakerShortCircuitsTotal }
