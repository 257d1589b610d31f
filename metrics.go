package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/akhenakh/hgtapi/hgt"
)

// cacheCollector exports the tile cache counters at scrape time.
type cacheCollector struct {
	svc *hgt.Service

	entries  *prometheus.Desc
	capacity *prometheus.Desc
	hits     *prometheus.Desc
	misses   *prometheus.Desc
}

func newCacheCollector(svc *hgt.Service) *cacheCollector {
	return &cacheCollector{
		svc:      svc,
		entries:  prometheus.NewDesc("hgt_cache_entries", "Number of tiles resident in the cache.", nil, nil),
		capacity: prometheus.NewDesc("hgt_cache_capacity", "Maximum number of resident tiles.", nil, nil),
		hits:     prometheus.NewDesc("hgt_cache_hits_total", "Tile lookups served from the cache.", nil, nil),
		misses:   prometheus.NewDesc("hgt_cache_misses_total", "Tile lookups that required a load.", nil, nil),
	}
}

func (c *cacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.entries
	ch <- c.capacity
	ch <- c.hits
	ch <- c.misses
}

func (c *cacheCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.svc.CacheStats()
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(stats.Entries))
	ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(c.svc.CacheCapacity()))
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(stats.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(stats.Misses))
}

// httpMetrics instruments the API handlers.
type httpMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newHTTPMetrics(reg prometheus.Registerer) *httpMetrics {
	m := &httpMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hgt_http_requests_total",
			Help: "HTTP requests by handler, method and status code.",
		}, []string{"handler", "method", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hgt_http_request_duration_seconds",
			Help:    "HTTP request latency by handler.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"handler", "method", "code"}),
	}
	reg.MustRegister(m.requests, m.duration)
	return m
}

func (m *httpMetrics) instrument(name string, h http.Handler) http.Handler {
	labels := prometheus.Labels{"handler": name}
	return promhttp.InstrumentHandlerDuration(m.duration.MustCurryWith(labels),
		promhttp.InstrumentHandlerCounter(m.requests.MustCurryWith(labels), h))
}
