// Package telemetry captures product telemetry events and exposes the
// service's Prometheus metrics.
package telemetry

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surveysync_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "surveysync_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surveysync_telemetry_events_total",
			Help: "Telemetry events captured, by event name",
		},
		[]string{"event"},
	)

	eventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "surveysync_telemetry_events_dropped_total",
			Help: "Telemetry events dropped because the writer queue was full",
		},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surveysync_cache_lookups_total",
			Help: "Tag cache lookups, by result",
		},
		[]string{"result"},
	)

	syncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "surveysync_sync_duration_seconds",
			Help:    "Sync orchestrator latency in seconds, by resolved session state",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"state"},
	)

	sessionsSwept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "surveysync_sessions_swept_total",
			Help: "Expired sessions deleted by the retention sweeper",
		},
	)

	feedSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "surveysync_feed_subscribers",
			Help: "Open response feed websocket connections",
		},
	)

	initOnce sync.Once
)

// InitMetrics registers the collectors with the default registry.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			eventsTotal,
			eventsDropped,
			cacheLookups,
			syncDuration,
			sessionsSwept,
			feedSubscribers,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records HTTP request metrics.
func RecordHTTPRequest(method, route, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordCacheLookup records a tag cache hit or miss.
func RecordCacheLookup(hit bool) {
	if hit {
		cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	cacheLookups.WithLabelValues("miss").Inc()
}

// RecordSync records one sync call.
func RecordSync(state string, duration time.Duration) {
	syncDuration.WithLabelValues(state).Observe(duration.Seconds())
}

// RecordSessionsSwept adds n to the swept sessions counter.
func RecordSessionsSwept(n int64) {
	sessionsSwept.Add(float64(n))
}

// SetFeedSubscribers sets the open feed connections gauge.
func SetFeedSubscribers(count int) {
	feedSubscribers.Set(float64(count))
}
