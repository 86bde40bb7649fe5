// Package metrics exposes Prometheus collectors for the audit service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsTotal                  *prometheus.CounterVec
	jobDurationSeconds         *prometheus.HistogramVec
	activeWorkers              *prometheus.GaugeVec
	sourceDegradedTotal        *prometheus.CounterVec
	sourceFetchSeconds         *prometheus.HistogramVec
	crawlPagesTotal            *prometheus.CounterVec
	queueRedeliveriesTotal     *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seo_jobs_total",
				Help: "Total number of jobs processed, labeled by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		jobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "seo_job_duration_seconds",
				Help:    "Histogram of job processing time, labeled by kind.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"kind"},
		)

		activeWorkers = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "seo_active_workers",
				Help: "Number of workers currently processing a job, labeled by kind.",
			},
			[]string{"kind"},
		)

		sourceDegradedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seo_source_degraded_total",
				Help: "Optional data sources reported unavailable, labeled by source and reason.",
			},
			[]string{"source", "reason"},
		)

		sourceFetchSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "seo_fetch_duration_seconds",
				Help:    "Histogram of upstream fetch latencies, labeled by source and outcome.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"source", "outcome"},
		)

		crawlPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seo_crawl_pages_total",
				Help: "Total number of pages visited by crawls, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		queueRedeliveriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seo_queue_redeliveries_total",
				Help: "Messages returned to the queue for another attempt, labeled by kind.",
			},
			[]string{"kind"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seo_http_requests_total",
				Help: "Total number of HTTP requests, labeled by method, route and code.",
			},
			[]string{"method", "route", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "seo_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "seo_rate_limit_delays_seconds",
				Help:    "Histogram of crawler politeness waits, labeled by domain.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveJob records a finished job attempt.
func ObserveJob(kind, outcome string, duration time.Duration) {
	Init()
	jobsTotal.WithLabelValues(kind, outcome).Inc()
	jobDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers(kind string) {
	Init()
	activeWorkers.WithLabelValues(kind).Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers(kind string) {
	Init()
	activeWorkers.WithLabelValues(kind).Dec()
}

// ObserveDegradation counts an optional source reported unavailable.
func ObserveDegradation(source, reason string) {
	Init()
	sourceDegradedTotal.WithLabelValues(source, reason).Inc()
}

// ObserveSourceFetch records the latency of one upstream fetch.
func ObserveSourceFetch(source, outcome string, duration time.Duration) {
	Init()
	sourceFetchSeconds.WithLabelValues(source, outcome).Observe(duration.Seconds())
}

// ObserveCrawlPage counts one page visited by a crawl.
func ObserveCrawlPage(site, outcome string) {
	Init()
	crawlPagesTotal.WithLabelValues(SanitizeSite(site), outcome).Inc()
}

// ObserveRedelivery counts a message handed back to the queue.
func ObserveRedelivery(kind string) {
	Init()
	queueRedeliveriesTotal.WithLabelValues(kind).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
