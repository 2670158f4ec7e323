package observability

import (
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	saleMetricsOnce sync.Once
	saleRegistry    *SaleMetrics

	httpMetricsOnce sync.Once
	httpRegistry    *HTTPMetrics
)

// SaleMetrics captures sale engine activity.
type SaleMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	errors     *prometheus.CounterVec
	volume     *prometheus.CounterVec
	rebates    *prometheus.CounterVec
	raised     prometheus.Gauge
	sold       prometheus.Gauge
	price      prometheus.Gauge
	rateBps    prometheus.Gauge
	paused     prometheus.Gauge
}

// Sale returns the singleton metrics registry for the sale engine.
func Sale() *SaleMetrics {
	saleMetricsOnce.Do(func() {
		saleRegistry = &SaleMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cratsale",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Count of sale operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "cratsale",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for sale operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cratsale",
				Subsystem: "engine",
				Name:      "errors_total",
				Help:      "Count of rejected sale operations segmented by operation and reason.",
			}, []string{"operation", "reason"}),
			volume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cratsale",
				Subsystem: "engine",
				Name:      "purchase_volume",
				Help:      "Stable value spent on purchases, in whole units, by payment token.",
			}, []string{"payment_token"}),
			rebates: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cratsale",
				Subsystem: "engine",
				Name:      "referral_rebates",
				Help:      "Stable value paid to referrers, in whole units, by payment token.",
			}, []string{"payment_token"}),
			raised: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "cratsale",
				Subsystem: "state",
				Name:      "funds_raised",
				Help:      "Total stable value raised.",
			}),
			sold: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "cratsale",
				Subsystem: "state",
				Name:      "tokens_sold",
				Help:      "Cumulative base tokens sold, driving the price ladder.",
			}),
			price: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "cratsale",
				Subsystem: "state",
				Name:      "current_price",
				Help:      "Current stable price of one sale token.",
			}),
			rateBps: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "cratsale",
				Subsystem: "state",
				Name:      "referral_rate_bps",
				Help:      "Current referral rebate rate in basis points.",
			}),
			paused: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "cratsale",
				Subsystem: "state",
				Name:      "paused",
				Help:      "Indicates whether purchases are paused (1) or not (0).",
			}),
		}
		prometheus.MustRegister(
			saleRegistry.operations,
			saleRegistry.latency,
			saleRegistry.errors,
			saleRegistry.volume,
			saleRegistry.rebates,
			saleRegistry.raised,
			saleRegistry.sold,
			saleRegistry.price,
			saleRegistry.rateBps,
			saleRegistry.paused,
		)
	})
	return saleRegistry
}

// Observe records the execution metrics for a sale operation. Reasons are
// taken from the error text, which is a stable sentinel for engine errors.
func (m *SaleMetrics) Observe(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		reason := strings.TrimSpace(err.Error())
		if reason == "" {
			reason = "unknown"
		}
		m.errors.WithLabelValues(op, reason).Inc()
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordPurchase adds a committed purchase to the volume counters. Amounts are
// 18-decimal fixed point.
func (m *SaleMetrics) RecordPurchase(paymentToken string, amount, rebate *big.Int) {
	if m == nil {
		return
	}
	label := labelToken(paymentToken)
	m.volume.WithLabelValues(label).Add(fixedToFloat(amount))
	if rebate != nil && rebate.Sign() > 0 {
		m.rebates.WithLabelValues(label).Add(fixedToFloat(rebate))
	}
}

// RecordState publishes the aggregate sale counters.
func (m *SaleMetrics) RecordState(raised, sold, price *big.Int, rateBps uint64, paused bool) {
	if m == nil {
		return
	}
	m.raised.Set(fixedToFloat(raised))
	m.sold.Set(fixedToFloat(sold))
	m.price.Set(fixedToFloat(price))
	m.rateBps.Set(float64(rateBps))
	if paused {
		m.paused.Set(1)
		return
	}
	m.paused.Set(0)
}

// PurchaseVolume exposes the volume counter for assertions.
func (m *SaleMetrics) PurchaseVolume() *prometheus.CounterVec { return m.volume }

// Operations exposes the operations counter for assertions.
func (m *SaleMetrics) Operations() *prometheus.CounterVec { return m.operations }

// Paused exposes the pause gauge for assertions.
func (m *SaleMetrics) Paused() prometheus.Gauge { return m.paused }

// Price exposes the price gauge for assertions.
func (m *SaleMetrics) Price() prometheus.Gauge { return m.price }

// HTTPMetrics tracks the sale API surface.
type HTTPMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

// HTTP returns the lazily-initialised API metrics registry.
func HTTP() *HTTPMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &HTTPMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cratsale",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route and status class.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "cratsale",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cratsale",
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected by the rate limiter.",
			}, []string{"route"}),
		}
		prometheus.MustRegister(
			httpRegistry.requests,
			httpRegistry.latency,
			httpRegistry.throttles,
		)
	})
	return httpRegistry
}

// Observe records one API request. The status code should be the HTTP status
// that was ultimately written to the response writer.
func (m *HTTPMetrics) Observe(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.requests.WithLabelValues(route, statusClass(status)).Inc()
	m.latency.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for route.
func (m *HTTPMetrics) RecordThrottle(route string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.throttles.WithLabelValues(route).Inc()
}

// Throttles exposes the throttle counter for assertions.
func (m *HTTPMetrics) Throttles() *prometheus.CounterVec { return m.throttles }

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

func labelToken(token string) string {
	token = strings.TrimSpace(strings.ToUpper(token))
	if token == "" {
		return "UNKNOWN"
	}
	return token
}

var fixedScale = new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

func fixedToFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(v), fixedScale).Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0
	}
	return f
}
