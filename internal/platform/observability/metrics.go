package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Tiann-Paete/Nars-web/internal/domain"
)

// Metrics records checkout outcomes as Prometheus series.
type Metrics struct {
	registry          *prometheus.Registry
	orders            *prometheus.CounterVec
	stockFetches      *prometheus.CounterVec
	quantityRejected  prometheus.Counter
	validationBlocked prometheus.Counter
}

// NewMetrics registers the checkout collectors on a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "checkout",
			Name:      "orders_total",
			Help:      "Order submissions by payment method and outcome.",
		}, []string{"payment_method", "outcome"}),
		stockFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "checkout",
			Name:      "stock_fetches_total",
			Help:      "Stock snapshot fetches by outcome.",
		}, []string{"outcome"}),
		quantityRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "checkout",
			Name:      "quantity_rejections_total",
			Help:      "Quantity changes rejected by the stock ceiling or the lower bound.",
		}),
		validationBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "checkout",
			Name:      "validation_blocked_total",
			Help:      "Checkout attempts blocked by missing billing fields.",
		}),
	}
	reg.MustRegister(
		m.orders,
		m.stockFetches,
		m.quantityRejected,
		m.validationBlocked,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// OrderSubmitted counts a finished submission.
func (m *Metrics) OrderSubmitted(kind domain.PaymentKind, succeeded bool) {
	if m == nil {
		return
	}
	outcome := "failed"
	if succeeded {
		outcome = "confirmed"
	}
	m.orders.WithLabelValues(string(kind), outcome).Inc()
}

// StockFetched counts a stock snapshot fetch.
func (m *Metrics) StockFetched(ok bool) {
	if m == nil {
		return
	}
	outcome := "error"
	if ok {
		outcome = "ok"
	}
	m.stockFetches.WithLabelValues(outcome).Inc()
}

// QuantityRejected counts a quantity change that fell outside the allowed range.
func (m *Metrics) QuantityRejected() {
	if m == nil {
		return
	}
	m.quantityRejected.Inc()
}

// ValidationBlocked counts a checkout attempt stopped by billing validation.
func (m *Metrics) ValidationBlocked() {
	if m == nil {
		return
	}
	m.validationBlocked.Inc()
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}
