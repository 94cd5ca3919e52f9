package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the Prometheus collectors exposed on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	OrdersCreated     *prometheus.CounterVec
	CapturesCompleted *prometheus.CounterVec
	RefundsProcessed  *prometheus.CounterVec
	IPNEvents         *prometheus.CounterVec
	DrawingsCompleted prometheus.Counter
	GatewayCalls      *prometheus.HistogramVec
}

// New registers all collectors on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mercato",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mercato",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		OrdersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mercato",
			Subsystem: "payment",
			Name:      "orders_created_total",
			Help:      "Payment orders created by gateway provider.",
		}, []string{"provider"}),
		CapturesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mercato",
			Subsystem: "payment",
			Name:      "captures_total",
			Help:      "Capture attempts by outcome.",
		}, []string{"outcome"}),
		RefundsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mercato",
			Subsystem: "payment",
			Name:      "refunds_total",
			Help:      "Refund attempts by outcome.",
		}, []string{"outcome"}),
		IPNEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mercato",
			Subsystem: "ipn",
			Name:      "events_total",
			Help:      "Gateway notification events by type and result.",
		}, []string{"event_type", "result"}),
		DrawingsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mercato",
			Subsystem: "lottery",
			Name:      "drawings_completed_total",
			Help:      "Winner drawings completed.",
		}),
		GatewayCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mercato",
			Subsystem: "gateway",
			Name:      "call_duration_seconds",
			Help:      "Payment gateway call latency by operation and outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "outcome"}),
	}

	registry.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.OrdersCreated,
		m.CapturesCompleted,
		m.RefundsProcessed,
		m.IPNEvents,
		m.DrawingsCompleted,
		m.GatewayCalls,
	)

	return m
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}

// GinMiddleware records request counts and latency per route.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		m.httpRequests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

// ObserveGatewayCall records one gateway round trip.
func (m *Metrics) ObserveGatewayCall(operation, outcome string, elapsed time.Duration) {
	m.GatewayCalls.WithLabelValues(operation, outcome).Observe(elapsed.Seconds())
}
