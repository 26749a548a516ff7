package circuitbreaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "farmwise_circuit_breaker_state",
			Help: "Current state of circuit breaker (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name", "dependency"},
	)

	breakerCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmwise_circuit_breaker_calls_total",
			Help: "Calls through circuit breakers by result",
		},
		[]string{"name", "dependency", "result"},
	)

	breakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmwise_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "dependency", "from", "to"},
	)

	breakerOpenSince = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "farmwise_circuit_breaker_open_since_seconds",
			Help: "Unix time the breaker opened (0 when not open)",
		},
		[]string{"name", "dependency"},
	)
)

type metricsCollector struct{}

var collector metricsCollector

func (metricsCollector) observe(b *Breaker, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	breakerCalls.WithLabelValues(b.name, b.dependency, result).Inc()
}

func (metricsCollector) transition(b *Breaker, from, to State) {
	breakerTransitions.WithLabelValues(b.name, b.dependency, from.String(), to.String()).Inc()
	breakerState.WithLabelValues(b.name, b.dependency).Set(float64(to))
	switch {
	case to == StateOpen:
		breakerOpenSince.WithLabelValues(b.name, b.dependency).SetToCurrentTime()
	case from == StateOpen:
		breakerOpenSince.WithLabelValues(b.name, b.dependency).Set(0)
	}
}
