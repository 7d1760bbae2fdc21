package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	outboxCommitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_commits_total",
			Help: "Lifecycle events committed through the outbox, by event kind and result.",
		},
		[]string{"event", "result"},
	)

	pollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polling_cycles_total",
			Help: "Upstream poll attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	sweepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sweep_duration_seconds",
			Help:    "Duration of scheduled polling and timeout sweeps.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sweep"},
	)

	upstreamRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "upstream_retries_total",
			Help: "Retries against the upstream API after 401/429 responses.",
		},
	)
)

// Init registers the connector metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		outboxCommitsTotal, pollsTotal, sweepDuration, upstreamRetriesTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveOutboxCommit counts one outbox commit attempt.
func ObserveOutboxCommit(event, result string) {
	outboxCommitsTotal.WithLabelValues(event, result).Inc()
}

// ObservePoll counts one poll attempt outcome (fetched, empty, skipped,
// revoked, failed).
func ObservePoll(outcome string) {
	pollsTotal.WithLabelValues(outcome).Inc()
}

// ObserveSweep records the duration of one scheduled sweep.
func ObserveSweep(name string, d time.Duration) {
	sweepDuration.WithLabelValues(name).Observe(d.Seconds())
}

// ObserveUpstreamRetry counts one retry of an upstream call.
func ObserveUpstreamRetry() {
	upstreamRetriesTotal.Inc()
}

// Instrument wraps an HTTP handler with RPS/latency/in-flight metrics.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
