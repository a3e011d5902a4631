package clients

import (
	"github.com/prometheus/client_golang/prometheus"
)

// BreakerMetrics exports circuit breaker state. Either vector may be nil.
type BreakerMetrics struct {
	// State labels: name. Values: 0=closed, 1=half-open, 2=open
	State *prometheus.GaugeVec
	// Transitions labels: name, from, to
	Transitions *prometheus.CounterVec
}

// OnStateChange matches CircuitBreakerConfig.OnStateChange.
func (m *BreakerMetrics) OnStateChange(name string, from, to CircuitBreakerState) {
	if m == nil {
		return
	}
	if m.Transitions != nil {
		m.Transitions.WithLabelValues(name, from.String(), to.String()).Inc()
	}
	if m.State != nil {
		m.State.WithLabelValues(name).Set(float64(to))
	}
}

// Seed publishes the current state of each breaker so closed breakers show up
// before their first transition.
func (m *BreakerMetrics) Seed(breakers ...*CircuitBreaker) {
	if m == nil || m.State == nil {
		return
	}
	for _, b := range breakers {
		m.State.WithLabelValues(b.Name()).Set(float64(b.State()))
	}
}
