package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.URLsBuiltTotal.WithLabelValues("login").Inc()
	m.URLBuildErrorsTotal.WithLabelValues("login", "invalid_href").Inc()
	m.CallbacksTotal.WithLabelValues("authenticated").Inc()
	m.CallbackDuration.WithLabelValues("authenticated").Observe(0.01)
	m.NonceEvictionsTotal.WithLabelValues("memory").Inc()
	m.NoncesPurgedTotal.WithLabelValues("postgres").Add(3)
	m.KeyReloadsTotal.WithLabelValues("ok").Inc()

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"idsite_urls_built_total",
		"idsite_url_build_errors_total",
		"idsite_callbacks_total",
		"idsite_callback_duration_seconds",
		"idsite_nonce_evictions_total",
		"idsite_nonces_purged_total",
		"idsite_key_reloads_total",
	} {
		if !names[want] {
			t.Errorf("Expected metric %s to be registered", want)
		}
	}
}

func TestNewMetrics_DuplicateRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewMetrics(registry)

	defer func() {
		if recover() == nil {
			t.Error("Expected panic registering metrics twice on one registry")
		}
	}()
	NewMetrics(registry)
}

func TestMetrics_ObserveNonceOperation(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveNonceOperation("redis", "put", "stored", time.Now())
	m.ObserveNonceOperation("redis", "put", "stored", time.Now())
	m.ObserveNonceOperation("redis", "put", "exists", time.Now())

	if got := testutil.ToFloat64(m.NonceOperationsTotal.WithLabelValues("redis", "put", "stored")); got != 2 {
		t.Errorf("Expected 2 stored puts, got %v", got)
	}
	if got := testutil.ToFloat64(m.NonceOperationsTotal.WithLabelValues("redis", "put", "exists")); got != 1 {
		t.Errorf("Expected 1 replayed put, got %v", got)
	}
	if got := testutil.CollectAndCount(m.NonceOperationDuration); got != 1 {
		t.Errorf("Expected one duration series, got %d", got)
	}

	var nilMetrics *Metrics
	nilMetrics.ObserveNonceOperation("memory", "has", "miss", time.Now())
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	handler := HTTPMetricsMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("hello"))
	}))

	for _, path := range []string{"/idsite/login", "/idsite/login", "/missing"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/idsite/login", "200")); got != 2 {
		t.Errorf("Expected 2 login requests, got %v", got)
	}
	if got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/missing", "404")); got != 1 {
		t.Errorf("Expected 1 not found request, got %v", got)
	}
}

func TestResponseWriter(t *testing.T) {
	rr := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rr, statusCode: http.StatusOK}

	rw.WriteHeader(http.StatusFound)
	n, err := rw.Write([]byte("redirect"))
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if rw.statusCode != http.StatusFound || rr.Code != http.StatusFound {
		t.Errorf("Expected status 302, got %d/%d", rw.statusCode, rr.Code)
	}
	if n != 8 || rw.bytesWritten != 8 {
		t.Errorf("Expected 8 bytes written, got %d/%d", n, rw.bytesWritten)
	}
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.CallbacksTotal.WithLabelValues("replayed_token").Inc()

	mux := http.NewServeMux()
	RegisterMetricsEndpoint(mux, registry)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}

	body, _ := io.ReadAll(rr.Body)
	if !strings.Contains(string(body), `idsite_callbacks_total{outcome="replayed_token"} 1`) {
		t.Errorf("Expected callback counter in output, got:\n%s", body)
	}
}
