package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kasirinaja/terminal/internal/domain"
)

const namespace = "kasirinaja"

// Metrics holds the terminal's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	CheckoutsTotal    *prometheus.CounterVec
	ReturnsTotal      *prometheus.CounterVec
	RefundAmountTotal prometheus.Counter
	BarcodeLookups    *prometheus.CounterVec

	AggregateTotal    *prometheus.GaugeVec
	AggregateInvoices *prometheus.GaugeVec
	AggregateItems    *prometheus.GaugeVec

	CircuitBreakerState *prometheus.GaugeVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{registry: registry}

	m.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)
	m.CheckoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkouts_total",
			Help:      "Checkout attempts by payment method and result",
		},
		[]string{"payment_method", "result"},
	)
	m.ReturnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "returns_total",
			Help:      "Return submissions by result",
		},
		[]string{"result"},
	)
	m.RefundAmountTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refund_amount_total",
			Help:      "Sum of refunded amounts",
		},
	)
	m.BarcodeLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barcode_resolutions_total",
			Help:      "Barcode resolutions by outcome state",
		},
		[]string{"mode", "state"},
	)
	m.AggregateTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "daily_sales_total",
			Help:      "Effective sales total for the cashier's current day",
		},
		[]string{"cashier"},
	)
	m.AggregateInvoices = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "daily_invoices",
			Help:      "Invoices counted in the cashier's current day",
		},
		[]string{"cashier"},
	)
	m.AggregateItems = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "daily_items",
			Help:      "Effective items sold in the cashier's current day",
		},
		[]string{"cashier"},
	)
	m.CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CheckoutsTotal,
		m.ReturnsTotal,
		m.RefundAmountTotal,
		m.BarcodeLookups,
		m.AggregateTotal,
		m.AggregateInvoices,
		m.AggregateItems,
		m.CircuitBreakerState,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (m *Metrics) RecordCheckout(paymentMethod string, err error) {
	m.CheckoutsTotal.WithLabelValues(paymentMethod, resultLabel(err)).Inc()
}

func (m *Metrics) RecordReturn(result domain.ReturnResult, err error) {
	m.ReturnsTotal.WithLabelValues(resultLabel(err)).Inc()
	if err == nil {
		m.RefundAmountTotal.Add(result.RefundAmount.InexactFloat64())
	}
}

func (m *Metrics) RecordBarcode(mode string, state string) {
	m.BarcodeLookups.WithLabelValues(mode, state).Inc()
}

// ObserveAggregate mirrors a daily aggregate snapshot into the gauges.
func (m *Metrics) ObserveAggregate(snapshot domain.DailyAggregate) {
	m.AggregateTotal.WithLabelValues(snapshot.CashierID).Set(snapshot.Total.InexactFloat64())
	m.AggregateInvoices.WithLabelValues(snapshot.CashierID).Set(float64(snapshot.InvoiceCount))
	m.AggregateItems.WithLabelValues(snapshot.CashierID).Set(float64(snapshot.ItemCount))
}

func (m *Metrics) SetCircuitBreakerState(name string, state int) {
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
