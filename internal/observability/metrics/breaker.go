package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"
)

// BreakerMetrics exports circuit breaker state per resilience operation.
type BreakerMetrics struct {
	service     string
	state       *prometheus.GaugeVec
	transitions *prometheus.CounterVec
}

func NewBreakerMetrics(service string, reg prometheus.Registerer) *BreakerMetrics {
	m := &BreakerMetrics{
		service: service,
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "breaker_state",
			Help:      "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
		}, []string{"service", "operation"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions.",
		}, []string{"service", "operation", "to"}),
	}
	reg.MustRegister(m.state, m.transitions)
	return m
}

// ObserveStateChange matches resilience.StateObserver.
func (m *BreakerMetrics) ObserveStateChange(operation string, _, to gobreaker.State) {
	m.state.WithLabelValues(m.service, operation).Set(stateValue(to))
	m.transitions.WithLabelValues(m.service, operation, to.String()).Inc()
}

func stateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
