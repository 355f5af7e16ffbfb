package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentIntentTotal counts checkout intent outcomes by pricing policy.
	PaymentIntentTotal *prometheus.CounterVec
	// PaymentWebhookTotal counts inbound payment webhook processing outcomes.
	PaymentWebhookTotal *prometheus.CounterVec
	// RefundTotal counts refund request outcomes.
	RefundTotal *prometheus.CounterVec
	// RelayDeliveryTotal counts outbound relay deliveries by attempt and outcome.
	RelayDeliveryTotal *prometheus.CounterVec
	// RelayDeliveryLatency records per-attempt relay latency in milliseconds.
	RelayDeliveryLatency *prometheus.HistogramVec
	// TaxRateDegradedTotal counts pricings performed with a coerced zero tax rate.
	TaxRateDegradedTotal prometheus.Counter
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentIntentTotal = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_intent_total",
			Help:      "Count of payment intent creation outcomes.",
		}, []string{"policy", "result"}))
		PaymentWebhookTotal = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhook_total",
			Help:      "Count of processed payment webhooks by outcome.",
		}, []string{"status", "result"}))
		RefundTotal = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refund_total",
			Help:      "Count of refund request outcomes.",
		}, []string{"result"}))
		RelayDeliveryTotal = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_delivery_total",
			Help:      "Count of relay delivery outcomes.",
		}, []string{"topic", "attempt", "result"}))
		RelayDeliveryLatency = registerOrReuse(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "relay_delivery_duration_ms",
			Help:      "Latency for relay delivery attempts in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"result"}))
		TaxRateDegradedTotal = registerOrReuse(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tax_rate_degraded_total",
			Help:      "Number of pricings computed with an invalid tax rate coerced to zero.",
		}))
	})
}

// CountPaymentIntent records a checkout outcome. It is a no-op until metrics are registered.
func CountPaymentIntent(policy, result string) {
	if PaymentIntentTotal != nil {
		PaymentIntentTotal.WithLabelValues(policy, result).Inc()
	}
}

// CountPaymentWebhook records a webhook outcome.
func CountPaymentWebhook(status, result string) {
	if PaymentWebhookTotal != nil {
		PaymentWebhookTotal.WithLabelValues(status, result).Inc()
	}
}

// CountRefund records a refund outcome.
func CountRefund(result string) {
	if RefundTotal != nil {
		RefundTotal.WithLabelValues(result).Inc()
	}
}

// ObserveRelayDelivery records one relay delivery attempt.
func ObserveRelayDelivery(topic, attempt, result string, millis float64) {
	if RelayDeliveryTotal != nil {
		RelayDeliveryTotal.WithLabelValues(topic, attempt, result).Inc()
	}
	if RelayDeliveryLatency != nil {
		RelayDeliveryLatency.WithLabelValues(result).Observe(millis)
	}
}

// CountTaxRateDegraded records a pricing that ran with a coerced tax rate.
func CountTaxRateDegraded() {
	if TaxRateDegradedTotal != nil {
		TaxRateDegradedTotal.Inc()
	}
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
