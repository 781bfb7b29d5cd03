// Package metrics exposes Prometheus counters for the connection engine and HTTP surface.
//
// A nil *Metrics is valid and records nothing, so engine code and tests can omit it.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result labels.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultInvalid  = "invalid"
	ResultError    = "error"
	ResultSkipped  = "skipped"
)

// Metrics holds every collector obol registers.
type Metrics struct {
	gatherer prometheus.Gatherer

	exchanges   *prometheus.CounterVec
	refreshes   *prometheus.CounterVec
	callbacks   *prometheus.CounterVec
	disconnects *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInflight prometheus.Gauge
}

// New creates and registers the collectors on reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		gatherer: reg,
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "obol_exchanges_total",
			Help: "Authorization code exchanges by provider and result.",
		}, []string{"provider", "result"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "obol_refreshes_total",
			Help: "Token refreshes by provider and result.",
		}, []string{"provider", "result"}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "obol_callbacks_total",
			Help: "Inbound callbacks by identified provider and outcome.",
		}, []string{"provider", "outcome"}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "obol_disconnects_total",
			Help: "Provider disconnects.",
		}, []string{"provider"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "obol_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "obol_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		httpInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "obol_http_inflight_requests",
			Help: "HTTP requests currently being served.",
		}),
	}
	for _, c := range []prometheus.Collector{m.exchanges, m.refreshes, m.callbacks, m.disconnects, m.httpRequests, m.httpDuration, m.httpInflight} {
		if err := registerCollector(reg, c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RegisterPool exposes pgxpool connection gauges for a Postgres-backed store.
func (m *Metrics) RegisterPool(reg *prometheus.Registry, pool PoolStater) error {
	if m == nil || pool == nil {
		return nil
	}
	return registerCollector(reg, newPoolCollector(pool))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Exchange records one exchange attempt.
func (m *Metrics) Exchange(provider, result string) {
	if m == nil {
		return
	}
	m.exchanges.WithLabelValues(provider, result).Inc()
}

// Refresh records one refresh attempt.
func (m *Metrics) Refresh(provider, result string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(provider, result).Inc()
}

// Callback records one processed callback. provider is "" when disambiguation failed.
func (m *Metrics) Callback(provider, outcome string) {
	if m == nil {
		return
	}
	if provider == "" {
		provider = "unknown"
	}
	m.callbacks.WithLabelValues(provider, outcome).Inc()
}

// Disconnect records one disconnect.
func (m *Metrics) Disconnect(provider string) {
	if m == nil {
		return
	}
	m.disconnects.WithLabelValues(provider).Inc()
}

// Middleware instruments requests with count, latency and in-flight gauges.
// The route label is the chi route pattern, so ids in paths do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInflight.Inc()
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			m.httpInflight.Dec()
			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		}()

		next.ServeHTTP(ww, r)
	})
}

// registerCollector registers c on reg, ignoring duplicates.
func registerCollector(reg prometheus.Registerer, c prometheus.Collector) error {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return nil
		}
		return err
	}
	return nil
}

// --- pgxpool collector ---

// PoolStater is satisfied by *pgxpool.Pool and *store.PostgresKV.
type PoolStater interface {
	Stat() *pgxpool.Stat
}

type poolCollector struct {
	pool         PoolStater
	acquiredDesc *prometheus.Desc
	idleDesc     *prometheus.Desc
	totalDesc    *prometheus.Desc
}

func newPoolCollector(pool PoolStater) *poolCollector {
	return &poolCollector{
		pool:         pool,
		acquiredDesc: prometheus.NewDesc("obol_pgxpool_acquired", "Acquired Postgres connections.", nil, nil),
		idleDesc:     prometheus.NewDesc("obol_pgxpool_idle", "Idle Postgres connections.", nil, nil),
		totalDesc:    prometheus.NewDesc("obol_pgxpool_total", "Total Postgres connections.", nil, nil),
	}
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquiredDesc
	ch <- c.idleDesc
	ch <- c.totalDesc
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.pool.Stat()
	ch <- prometheus.MustNewConstMetric(c.acquiredDesc, prometheus.GaugeValue, float64(s.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.idleDesc, prometheus.GaugeValue, float64(s.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.totalDesc, prometheus.GaugeValue, float64(s.TotalConns()))
}
