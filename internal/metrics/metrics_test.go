package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	m.Exchange("google", ResultOK)
	m.Exchange("google", ResultOK)
	m.Exchange("twitter", ResultRejected)
	m.Refresh("google", ResultOK)
	m.Callback("", "ambiguous")
	m.Disconnect("zoom")

	if got := testutil.ToFloat64(m.exchanges.WithLabelValues("google", ResultOK)); got != 2 {
		t.Errorf("google ok exchanges: expected 2, got %v", got)
	}
	if got := testutil.ToFloat64(m.exchanges.WithLabelValues("twitter", ResultRejected)); got != 1 {
		t.Errorf("twitter rejected exchanges: expected 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.callbacks.WithLabelValues("unknown", "ambiguous")); got != 1 {
		t.Errorf("unknown callbacks: expected 1, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Exchange("google", ResultOK)
	m.Refresh("google", ResultOK)
	m.Callback("google", "ok")
	m.Disconnect("google")

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	if got := m.Middleware(h); got == nil {
		t.Error("Middleware on nil Metrics should return next")
	}
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/connect/{provider}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusFound)
	})
	r.Get("/metrics", m.Handler().ServeHTTP)

	for _, p := range []string{"google", "twitter"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/connect/"+p, nil))
	}

	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/connect/{provider}", "302")); got != 2 {
		t.Errorf("requests: expected 2, got %v", got)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `obol_http_requests_total{method="GET",route="/connect/{provider}",status="302"} 2`) {
		t.Errorf("metrics output missing request counter:\n%s", body)
	}
}
