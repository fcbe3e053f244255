package httpapi

import (
	"net/http"
	"strconv"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "posledger",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "posledger",
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "status"},
	)
	entriesPosted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "posledger",
			Name:      "entries_posted_total",
			Help:      "Ledger entries posted, by source",
		},
		[]string{"source"},
	)
	reversalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "posledger",
			Name:      "reversals_total",
			Help:      "Document reversals, by outcome",
		},
		[]string{"outcome"},
	)
	closingsComputed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "posledger",
			Name:      "closings_computed_total",
			Help:      "Closing balance computations persisted",
		},
	)
	inconsistenciesDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "posledger",
			Name:      "ledger_inconsistencies_total",
			Help:      "Ledger inconsistency errors surfaced by the closing check",
		},
	)
)

func metricsHandler() http.Handler {
	return promhttp.Handler()
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		status := strconv.Itoa(ww.Status())
		httpRequestsTotal.WithLabelValues(r.Method, status).Inc()
		httpRequestDuration.WithLabelValues(r.Method, status).Observe(time.Since(start).Seconds())
	})
}
