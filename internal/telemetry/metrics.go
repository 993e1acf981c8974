package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhooksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studiorent_webhooks_received_total",
		Help: "Gateway webhooks received, by outcome.",
	}, []string{"outcome"})

	PaymentsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studiorent_payments_settled_total",
		Help: "Payments reaching a terminal status.",
	}, []string{"status"})

	RefundsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studiorent_refunds_processed_total",
		Help: "Refund settlement attempts, by result.",
	}, []string{"result"})

	GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studiorent_gateway_requests_total",
		Help: "Outbound payment gateway calls, by operation and result.",
	}, []string{"operation", "result"})
)
