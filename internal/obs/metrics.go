package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
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
)

// Security core metrics
var (
	admissionDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csps_admission_decisions_total",
			Help: "Admission controller decisions by outcome (admitted, rejected, bypassed).",
		},
		[]string{"decision"},
	)

	admissionBuckets = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "csps_admission_buckets",
		Help: "Client buckets currently held by the admission controller.",
	})

	authOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csps_authentication_total",
			Help: "Bearer token authentication outcomes.",
		},
		[]string{"outcome"},
	)

	auditWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csps_audit_writes_total",
			Help: "Audit record writes by result (ok, error, skipped).",
		},
		[]string{"result"},
	)
)

var initOnce sync.Once

// Init registers every collector in the default registry. Safe to call twice.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			admissionDecisions, admissionBuckets, authOutcomes, auditWrites,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAdmission counts one admission decision.
func ObserveAdmission(decision string) {
	admissionDecisions.WithLabelValues(decision).Inc()
}

// SetAdmissionBuckets publishes the size of the bucket table.
func SetAdmissionBuckets(n int) {
	admissionBuckets.Set(float64(n))
}

// ObserveAuthentication counts one gate outcome.
func ObserveAuthentication(outcome string) {
	authOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveAuditWrite counts one audit write attempt.
func ObserveAuditWrite(result string) {
	auditWrites.WithLabelValues(result).Inc()
}

// Instrument records in-flight, count and latency per canonical route.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath collapses ids in known routes so label cardinality stays bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	segs := strings.Split(strings.Trim(raw, "/"), "/")
	// /api/accounts/{id}/password
	if len(segs) == 4 && segs[0] == "api" && segs[1] == "accounts" && segs[3] == "password" {
		return "/api/accounts/:id/password"
	}
	return raw
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
