package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus collectors for the storefront. Services record into these
// package-level collectors; the serve command registers them once.
var (
	GatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Settlement provider API calls by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"},
	)

	GatewayRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Duration of settlement provider API calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	AddressStrategiesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_address_strategies_total",
			Help: "Address acquisition attempts by strategy and outcome",
		},
		[]string{"strategy", "outcome"},
	)

	OrderTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_transitions_total",
			Help: "Applied order status transitions",
		},
		[]string{"from", "to"},
	)

	WebhooksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhooks_total",
			Help: "Inbound provider notifications by outcome",
		},
		[]string{"outcome"},
	)

	TokenVerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_token_verifications_total",
			Help: "Delivery access attempts by outcome and reason",
		},
		[]string{"outcome", "reason"},
	)

	GuardDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guard_denials_total",
			Help: "Requests short-circuited by the rate limiter or bot filter",
		},
		[]string{"action", "reason"},
	)

	CompensationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admin_compensations_total",
			Help: "Compensating rollbacks after failed audit writes",
		},
		[]string{"action", "outcome"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"handler", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handler", "method"},
	)
)

// Register registers all collectors with reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		GatewayRequestsTotal,
		GatewayRequestDuration,
		AddressStrategiesTotal,
		OrderTransitionsTotal,
		WebhooksTotal,
		TokenVerificationsTotal,
		GuardDenialsTotal,
		CompensationsTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}
