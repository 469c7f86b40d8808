// Package metrics provides Prometheus instrumentation for the ledger service.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MarketsCreated counts markets registered.
	MarketsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parimutuel_markets_created_total",
		Help: "Total number of markets created",
	})

	// UnresolvedMarkets tracks markets created but not yet resolved.
	UnresolvedMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parimutuel_unresolved_markets",
		Help: "Number of markets awaiting resolution",
	})

	// BetsTotal counts accepted bets, partitioned by outcome.
	BetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parimutuel_bets_total",
		Help: "Total number of bets accepted",
	}, []string{"outcome"})

	// StakeVolume tracks cumulative stake in base units, by outcome.
	StakeVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parimutuel_stake_volume_total",
		Help: "Cumulative stake escrowed in base units",
	}, []string{"outcome"})

	// ResolutionsTotal counts resolved markets by winning outcome.
	ResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parimutuel_resolutions_total",
		Help: "Total number of markets resolved",
	}, []string{"outcome"})

	// ClaimsTotal counts successful claims.
	ClaimsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parimutuel_claims_total",
		Help: "Total number of payouts claimed",
	})

	// PayoutVolume tracks cumulative declared payouts in base units.
	PayoutVolume = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parimutuel_payout_volume_total",
		Help: "Cumulative payout entitlement in base units",
	})

	// OperationErrors counts rejected operations by kind.
	OperationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parimutuel_operation_errors_total",
		Help: "Ledger operations rejected, by operation and error kind",
	}, []string{"op", "kind"})

	// OperationLatency tracks ledger operation latency in seconds.
	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parimutuel_operation_latency_seconds",
		Help:    "Ledger operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parimutuel_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parimutuel_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parimutuel_http_request_duration_seconds",
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
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
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

// ObserveOp records the latency and, on failure, the error kind of one
// ledger operation.
func ObserveOp(op string, start time.Time, errKind string) {
	OperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if errKind != "" {
		OperationErrors.WithLabelValues(op, errKind).Inc()
	}
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

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: underlying ResponseWriter does not support hijacking")
	}
	return h.Hijack()
}
