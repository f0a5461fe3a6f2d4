package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentSessionTotal counts session strategy attempts by outcome.
	PaymentSessionTotal *prometheus.CounterVec
	// PaymentReturnTotal counts classified provider returns.
	PaymentReturnTotal *prometheus.CounterVec
	// PaymentFulfillmentTotal counts fulfillment calls: fulfilled, already_fulfilled, error.
	PaymentFulfillmentTotal *prometheus.CounterVec
	// PaymentWebhookTotal counts inbound gateway webhooks by outcome.
	PaymentWebhookTotal *prometheus.CounterVec
	// GatewayRequestDuration records gateway call latency in milliseconds.
	GatewayRequestDuration *prometheus.HistogramVec
	// DBQueryDuration records database statement latency in milliseconds.
	DBQueryDuration *prometheus.HistogramVec
)

// MustRegisterDomainMetrics initialises and registers checkout collectors.
// Later calls are no-ops.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentSessionTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_session_total",
			Help:      "Checkout session strategy attempts by strategy and result.",
		}, []string{"strategy", "result"}))
		PaymentReturnTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_return_total",
			Help:      "Provider return callbacks by classified outcome.",
		}, []string{"outcome"}))
		PaymentFulfillmentTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_fulfillment_total",
			Help:      "Fulfillment attempts by result.",
		}, []string{"result"}))
		PaymentWebhookTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhook_total",
			Help:      "Gateway webhooks by outcome.",
		}, []string{"result"}))
		GatewayRequestDuration = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_request_duration_ms",
			Help:      "Latency of payment gateway calls in milliseconds.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"operation", "result"}))
		DBQueryDuration = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_ms",
			Help:      "Latency of database statements by query name.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 1000},
		}, []string{"query", "result"}))
	})
}

// Inc increments vec for labels when the collector was registered.
func Inc(vec *prometheus.CounterVec, labels ...string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Inc()
}
