// Package metrics exports Prometheus collectors for the cache and the HTTP
// front-end.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// GaugeSource supplies the live cache gauges; *cache.Tiered satisfies it.
type GaugeSource interface {
	Len() int
	Bytes() int64
}

// Metrics holds every collector the daemon registers. It implements
// cache.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	cacheHits     *prometheus.CounterVec
	cacheMisses   prometheus.Counter
	fetchTotal    *prometheus.CounterVec
	cacheEntries  prometheus.GaugeFunc
	cacheBytes    prometheus.GaugeFunc
	requestsTotal *prometheus.CounterVec
	duration      *prometheus.HistogramVec
}

// New builds and registers all collectors on a private registry. A nil
// gauges source reports zero entries and bytes.
func New(gauges GaugeSource) *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.cacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cratedocs_cache_hits_total",
		Help: "Cache hits by tier.",
	}, []string{"tier"})

	m.cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cratedocs_cache_misses_total",
		Help: "Requests that missed both cache tiers.",
	})

	m.fetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cratedocs_fetches_total",
		Help: "Upstream fetches by outcome.",
	}, []string{"outcome"})

	m.cacheEntries = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "cratedocs_cache_entries",
		Help: "Live logical cache entries, counted once across both tiers.",
	}, func() float64 {
		if gauges == nil {
			return 0
		}
		return float64(gauges.Len())
	})

	m.cacheBytes = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "cratedocs_cache_bytes",
		Help: "Stored cache bytes, counted once across both tiers.",
	}, func() float64 {
		if gauges == nil {
			return 0
		}
		return float64(gauges.Bytes())
	})

	m.requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cratedocs_http_requests_total",
		Help: "HTTP requests by route, method and status.",
	}, []string{"route", "method", "status"})

	m.duration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cratedocs_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"route"})

	m.registry.MustRegister(
		m.cacheHits, m.cacheMisses, m.fetchTotal,
		m.cacheEntries, m.cacheBytes,
		m.requestsTotal, m.duration,
	)
	return m
}

// CacheHit implements cache.Recorder.
func (m *Metrics) CacheHit(tier string) {
	m.cacheHits.WithLabelValues(tier).Inc()
}

// CacheMiss implements cache.Recorder.
func (m *Metrics) CacheMiss() {
	m.cacheMisses.Inc()
}

// FetchDone implements cache.Recorder.
func (m *Metrics) FetchDone(ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.fetchTotal.WithLabelValues(outcome).Inc()
}

// ObserveRequest records one finished HTTP request.
func (m *Metrics) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	m.requestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
