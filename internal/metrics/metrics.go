// Package metrics registers the service's Prometheus collectors and the HTTP
// middleware that feeds them.
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
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wenclerfic_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wenclerfic_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	sessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wenclerfic_sessions_created_total",
			Help: "Sessions issued by login, registration, OAuth and profile completion",
		},
	)

	sessionResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wenclerfic_session_resolutions_total",
			Help: "Session token lookups by outcome",
		},
		[]string{"result"},
	)

	logins = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wenclerfic_logins_total",
			Help: "Password and OAuth login attempts by method and outcome",
		},
		[]string{"method", "result"},
	)

	profileCompletions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wenclerfic_profile_completions_total",
			Help: "OAuth profile completion attempts by outcome",
		},
		[]string{"result"},
	)
)

// Session resolution outcomes.
const (
	ResolveValid   = "valid"
	ResolveMissing = "missing"
	ResolveExpired = "expired"
	ResolveLegacy  = "legacy"
)

// SessionCreated counts one issued session.
func SessionCreated() { sessionsCreated.Inc() }

// SessionResolved counts one token lookup with the given outcome.
func SessionResolved(result string) { sessionResolutions.WithLabelValues(result).Inc() }

// Login counts a login attempt; method is "password" or a provider name.
func Login(method, result string) { logins.WithLabelValues(method, result).Inc() }

// ProfileCompletion counts a completion attempt.
func ProfileCompletion(result string) { profileCompletions.WithLabelValues(result).Inc() }

// Handler serves the default registry for GET /metrics.
func Handler() http.Handler { return promhttp.Handler() }

// Middleware records request count and latency per chi route pattern.
// The pattern is read after routing so path parameters never become labels.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.status = code
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
