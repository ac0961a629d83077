// Package metrics provides Prometheus instrumentation for the simulation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TicksTotal counts completed simulation ticks.
	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketsim_ticks_total",
		Help: "Total number of simulation ticks",
	})

	// TickDuration tracks how long one tick takes to compute and publish.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "marketsim_tick_duration_seconds",
		Help:    "Simulation tick duration in seconds",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
	})

	// OrdersTotal counts order outcomes by type, side, and resulting status.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketsim_orders_total",
		Help: "Total orders processed",
	}, []string{"type", "side", "status"})

	// LimitOrdersExecuted counts limit orders filled by tick sweeps.
	LimitOrdersExecuted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketsim_limit_orders_executed_total",
		Help: "Limit orders filled when their trigger price was reached",
	})

	// PendingOrders tracks limit orders awaiting their trigger.
	PendingOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marketsim_pending_orders",
		Help: "Number of pending limit orders",
	})

	// PortfolioValue tracks the session portfolio's total value.
	PortfolioValue = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marketsim_portfolio_value",
		Help: "Total portfolio value (cash plus positions)",
	})

	// JournalErrors counts failed writes to the journal store.
	JournalErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketsim_journal_errors_total",
		Help: "Journal store writes that failed",
	}, []string{"op"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marketsim_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketsim_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marketsim_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Label by route pattern, not raw path, to bound cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
