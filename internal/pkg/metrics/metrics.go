package metrics

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	webhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Webhook deliveries by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	webhookDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webhook_processing_duration_seconds",
			Help:    "Time spent handling a webhook delivery",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	orderTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_transitions_total",
			Help: "Order state transitions attempted by the webhook pipeline",
		},
		[]string{"to", "result"},
	)
)

func init() {
	prometheus.MustRegister(webhookEventsTotal)
	prometheus.MustRegister(webhookDuration)
	prometheus.MustRegister(orderTransitionsTotal)
}

// ObserveWebhook records the outcome of one delivery.
func ObserveWebhook(provider, outcome string, d time.Duration) {
	if provider == "" {
		provider = "unknown"
	}
	webhookEventsTotal.WithLabelValues(provider, outcome).Inc()
	webhookDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// ObserveTransition counts one state machine step.
func ObserveTransition(to string, ok bool) {
	result := "ok"
	if !ok {
		result = "rejected"
	}
	orderTransitionsTotal.WithLabelValues(to, result).Inc()
}

// Handler serves the default registry in Prometheus text format.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
