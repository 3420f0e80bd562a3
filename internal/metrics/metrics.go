// Package metrics exposes Prometheus collectors for the harvester.
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
	harvesterUnitsTotal           *prometheus.CounterVec
	harvesterItemsTotal           *prometheus.CounterVec
	harvesterEnrichmentsTotal     *prometheus.CounterVec
	harvesterAPIRequestsTotal     *prometheus.CounterVec
	harvesterAPIRequestSeconds    *prometheus.HistogramVec
	harvesterRecordsTotal         prometheus.Counter
	harvesterSinkErrorsTotal      *prometheus.CounterVec
	harvesterActiveWorkers        prometheus.Gauge
	harvesterRateLimitDelaySecond *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		harvesterUnitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_units_total",
				Help: "Work units processed, labeled by outcome.",
			},
			[]string{"status"},
		)

		harvesterItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_items_total",
				Help: "Listing items extracted, labeled by disposition.",
			},
			[]string{"disposition"},
		)

		harvesterEnrichmentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_enrichments_total",
				Help: "Enrichment outcomes, labeled by result.",
			},
			[]string{"result"},
		)

		harvesterAPIRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_api_requests_total",
				Help: "Metadata API attempts, labeled by endpoint and status code.",
			},
			[]string{"endpoint", "code"},
		)

		harvesterAPIRequestSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_api_request_duration_seconds",
				Help:    "Histogram of metadata API latencies, labeled by endpoint.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"endpoint"},
		)

		harvesterRecordsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_records_total",
				Help: "Normalized records handed to the sinks.",
			},
		)

		harvesterSinkErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_sink_errors_total",
				Help: "Sink write failures, labeled by sink.",
			},
			[]string{"sink"},
		)

		harvesterActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_workers",
				Help: "Number of browser workers currently running.",
			},
		)

		harvesterRateLimitDelaySecond = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
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

// ObserveUnit counts a finished work unit.
func ObserveUnit(status string) {
	Init()
	harvesterUnitsTotal.WithLabelValues(status).Inc()
}

// ObserveItems counts listing items by disposition (valid, invalid, duplicate).
func ObserveItems(disposition string, n int) {
	Init()
	if n > 0 {
		harvesterItemsTotal.WithLabelValues(disposition).Add(float64(n))
	}
}

// ObserveEnrichment counts an enrichment result (found, absent).
func ObserveEnrichment(result string) {
	Init()
	harvesterEnrichmentsTotal.WithLabelValues(result).Inc()
}

// ObserveAPIRequest records one metadata API attempt. A zero code means
// the request failed before a response arrived.
func ObserveAPIRequest(endpoint string, code int, duration time.Duration) {
	Init()
	harvesterAPIRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
	harvesterAPIRequestSeconds.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObserveRecord counts an emitted record.
func ObserveRecord() {
	Init()
	harvesterRecordsTotal.Inc()
}

// ObserveSinkError counts a failed write on the named sink.
func ObserveSinkError(sink string) {
	Init()
	harvesterSinkErrorsTotal.WithLabelValues(sink).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	harvesterActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	harvesterActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	harvesterRateLimitDelaySecond.WithLabelValues(domain).Observe(duration.Seconds())
}
