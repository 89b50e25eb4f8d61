// Package telemetry exposes Prometheus collectors for the crawler service.
package telemetry

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlsTotal                *prometheus.CounterVec
	crawlDurationSeconds       prometheus.Histogram
	fetchBytesTotal            prometheus.Counter
	linksDiscoveredTotal       prometheus.Counter
	queueDepth                 prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		crawlsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webinsight_crawls_total",
				Help: "Total number of crawl jobs processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		crawlDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "webinsight_crawl_duration_seconds",
				Help:    "Histogram of end-to-end crawl durations (fetch plus extract).",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		)

		fetchBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "webinsight_fetch_bytes_total",
				Help: "Total number of HTML bytes fetched.",
			},
		)

		linksDiscoveredTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "webinsight_links_discovered_total",
				Help: "Total number of links discovered across all crawls.",
			},
		)

		queueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "webinsight_queue_depth",
				Help: "Number of jobs currently waiting in the crawl queue.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
			[]string{"method", "route"},
		)
	})
}

// ObserveCrawl records one finished crawl job.
func ObserveCrawl(outcome string, duration time.Duration, bytes int64, links int) {
	Init()
	crawlsTotal.WithLabelValues(outcome).Inc()
	crawlDurationSeconds.Observe(duration.Seconds())
	if bytes > 0 {
		fetchBytesTotal.Add(float64(bytes))
	}
	if links > 0 {
		linksDiscoveredTotal.Add(float64(links))
	}
}

// SetQueueDepth publishes the current queue length.
func SetQueueDepth(n int) {
	Init()
	queueDepth.Set(float64(n))
}

// ObserveHTTPRequest records one handled API request.
func ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}
