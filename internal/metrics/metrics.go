// Package metrics exposes Prometheus instrumentation for the HTTP layer and
// the fingerprint write path.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the rest of the service depends on. Use Noop when
// metrics are disabled.
type Recorder interface {
	IncRequestsTotal(endpoint string, status int)
	ObserveRequestDuration(endpoint string, duration time.Duration)
	IncWrites(outcome string)
	ObserveStorageDuration(op string, duration time.Duration)
	IncCacheHits()
	IncCacheMisses()
}

type Prometheus struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	writesTotal     *prometheus.CounterVec
	storageDuration *prometheus.HistogramVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
}

// NewPrometheus registers all collectors on a fresh registry, including the
// Go runtime and process collectors.
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Prometheus{
		registry: reg,

		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fingerprintd_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"endpoint", "status"}),

		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fingerprintd_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),

		writesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fingerprintd_writes_total",
			Help: "Fingerprint writes by storage outcome",
		}, []string{"outcome"}),

		storageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fingerprintd_storage_duration_seconds",
			Help:    "Duration of storage operations in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),

		cacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "fingerprintd_cache_hits_total",
			Help: "Total number of list cache hits",
		}),

		cacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "fingerprintd_cache_misses_total",
			Help: "Total number of list cache misses",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Prometheus) IncRequestsTotal(endpoint string, status int) {
	m.requestsTotal.WithLabelValues(endpoint, httpStatusBucket(status)).Inc()
}

func (m *Prometheus) ObserveRequestDuration(endpoint string, duration time.Duration) {
	m.requestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func (m *Prometheus) IncWrites(outcome string) {
	m.writesTotal.WithLabelValues(outcome).Inc()
}

func (m *Prometheus) ObserveStorageDuration(op string, duration time.Duration) {
	m.storageDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func (m *Prometheus) IncCacheHits() {
	m.cacheHits.Inc()
}

func (m *Prometheus) IncCacheMisses() {
	m.cacheMisses.Inc()
}

func httpStatusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// Noop discards everything.
type Noop struct{}

func (Noop) IncRequestsTotal(string, int)                 {}
func (Noop) ObserveRequestDuration(string, time.Duration) {}
func (Noop) IncWrites(string)                             {}
func (Noop) ObserveStorageDuration(string, time.Duration) {}
func (Noop) IncCacheHits()                                {}
func (Noop) IncCacheMisses()                              {}
