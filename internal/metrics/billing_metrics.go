package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BillingMetrics counts billing activity for Prometheus.
type BillingMetrics interface {
	IncCustomerProvisioned()
	IncCheckoutStarted(mode string)
	IncWebhookEvent(eventType string, outcome string)
	IncEntitlementDecision(allowed bool, cached bool)
	ObservePurchaseAmount(amount int64)
}

type billingMetrics struct {
	customersProvisioned prometheus.Counter
	checkoutsStarted     *prometheus.CounterVec
	webhookEvents        *prometheus.CounterVec
	entitlementDecisions *prometheus.CounterVec
	purchaseAmounts      prometheus.Histogram
}

// NewBillingMetrics registers the billing collectors on the given registry.
func NewBillingMetrics(registry *prometheus.Registry) BillingMetrics {
	factory := promauto.With(registry)

	return &billingMetrics{
		customersProvisioned: factory.NewCounter(prometheus.CounterOpts{
			Name: "paywall_customers_provisioned_total",
			Help: "Number of Stripe customers created for users",
		}),
		checkoutsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "paywall_checkouts_started_total",
			Help: "Number of hosted checkout sessions opened, by mode",
		}, []string{"mode"}),
		webhookEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "paywall_webhook_events_total",
			Help: "Number of Stripe webhook events processed, by type and outcome",
		}, []string{"type", "outcome"}),
		entitlementDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "paywall_entitlement_decisions_total",
			Help: "Number of entitlement decisions, by result and cache state",
		}, []string{"result", "cache"}),
		purchaseAmounts: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "paywall_purchase_amount_minor_units",
			Help:    "Distribution of one-off purchase amounts in minor currency units",
			Buckets: []float64{100, 200, 300, 500, 1000},
		}),
	}
}

func (m *billingMetrics) IncCustomerProvisioned() {
	m.customersProvisioned.Inc()
}

func (m *billingMetrics) IncCheckoutStarted(mode string) {
	m.checkoutsStarted.WithLabelValues(mode).Inc()
}

func (m *billingMetrics) IncWebhookEvent(eventType string, outcome string) {
	m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func (m *billingMetrics) IncEntitlementDecision(allowed bool, cached bool) {
	result := "denied"
	if allowed {
		result = "allowed"
	}
	cache := "miss"
	if cached {
		cache = "hit"
	}
	m.entitlementDecisions.WithLabelValues(result, cache).Inc()
}

func (m *billingMetrics) ObservePurchaseAmount(amount int64) {
	m.purchaseAmounts.Observe(float64(amount))
}

// NoOpBillingMetrics is used where metrics are not wired, mainly in tests.
type NoOpBillingMetrics struct{}

func (NoOpBillingMetrics) IncCustomerProvisioned()           {}
func (NoOpBillingMetrics) IncCheckoutStarted(string)         {}
func (NoOpBillingMetrics) IncWebhookEvent(string, string)    {}
func (NoOpBillingMetrics) IncEntitlementDecision(bool, bool) {}
func (NoOpBillingMetrics) ObservePurchaseAmount(int64)       {}
