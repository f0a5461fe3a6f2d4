package resilience

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once

	// BreakerState is 0 closed, 1 open, 2 half-open per target.
	BreakerState *prometheus.GaugeVec
	// BreakerTransitions counts state changes per target.
	BreakerTransitions *prometheus.CounterVec
	// BreakerOpenedTotal counts trips into the open state.
	BreakerOpenedTotal *prometheus.CounterVec
)

// RegisterMetrics creates the breaker collectors under namespace. Breakers
// created before registration simply do not report. Later calls are no-ops.
func RegisterMetrics(namespace string, reg prometheus.Registerer) {
	metricsOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		state := prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gateway_breaker_state",
			Help:      "Current gateway breaker state: 0=closed,1=open,2=half-open.",
		}, []string{"target"})
		transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_breaker_transition_total",
			Help:      "Gateway breaker state transitions.",
		}, []string{"target", "from", "to"})
		opened := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_breaker_open_total",
			Help:      "Times a gateway breaker opened.",
		}, []string{"target"})
		reg.MustRegister(state, transitions, opened)
		BreakerState, BreakerTransitions, BreakerOpenedTotal = state, transitions, opened
	})
}
