package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Redirect metrics
	URLsBuiltTotal      *prometheus.CounterVec
	URLBuildErrorsTotal *prometheus.CounterVec

	// Callback metrics
	CallbacksTotal   *prometheus.CounterVec
	CallbackDuration *prometheus.HistogramVec

	// Nonce store metrics
	NonceOperationsTotal   *prometheus.CounterVec
	NonceOperationDuration *prometheus.HistogramVec
	NonceEvictionsTotal    *prometheus.CounterVec
	NoncesPurgedTotal      *prometheus.CounterVec

	// Key metrics
	KeyReloadsTotal *prometheus.CounterVec

	// Rate limiting
	RateLimitedTotal     *prometheus.CounterVec
	RateLimitErrorsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idsite_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "idsite_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "idsite_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		URLsBuiltTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idsite_urls_built_total",
				Help: "Total number of ID Site redirect URLs built",
			},
			[]string{"kind"},
		),
		URLBuildErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idsite_url_build_errors_total",
				Help: "Total number of failed ID Site redirect URL builds",
			},
			[]string{"kind", "code"},
		),

		CallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idsite_callbacks_total",
				Help: "Total number of ID Site callbacks by outcome",
			},
			[]string{"outcome"},
		),
		CallbackDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "idsite_callback_duration_seconds",
				Help:    "ID Site callback validation duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"outcome"},
		),

		NonceOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idsite_nonce_operations_total",
				Help: "Total number of nonce store operations",
			},
			[]string{"backend", "operation", "result"},
		),
		NonceOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "idsite_nonce_operation_duration_seconds",
				Help:    "Nonce store operation duration in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5},
			},
			[]string{"backend", "operation"},
		),
		NonceEvictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idsite_nonce_evictions_total",
				Help: "Total number of nonces evicted from memory before or at expiry",
			},
			[]string{"backend"},
		),
		NoncesPurgedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idsite_nonces_purged_total",
				Help: "Total number of expired nonces purged from persistent stores",
			},
			[]string{"backend"},
		),

		KeyReloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idsite_key_reloads_total",
				Help: "Total number of API key file reloads",
			},
			[]string{"result"},
		),

		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idsite_rate_limited_total",
				Help: "Total number of requests rejected by the rate limiter",
			},
			[]string{"limiter"},
		),
		RateLimitErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idsite_rate_limit_errors_total",
				Help: "Total number of rate limiter backend errors (requests allowed through)",
			},
			[]string{"limiter"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.URLsBuiltTotal,
		m.URLBuildErrorsTotal,
		m.CallbacksTotal,
		m.CallbackDuration,
		m.NonceOperationsTotal,
		m.NonceOperationDuration,
		m.NonceEvictionsTotal,
		m.NoncesPurgedTotal,
		m.KeyReloadsTotal,
		m.RateLimitedTotal,
		m.RateLimitErrorsTotal,
	)

	return m
}

// ObserveNonceOperation records a nonce store call.
func (m *Metrics) ObserveNonceOperation(backend, operation, result string, start time.Time) {
	if m == nil {
		return
	}
	m.NonceOperationsTotal.WithLabelValues(backend, operation, result).Inc()
	m.NonceOperationDuration.WithLabelValues(backend, operation).Observe(time.Since(start).Seconds())
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
