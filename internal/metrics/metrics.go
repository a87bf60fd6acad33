// Package metrics provides Prometheus metrics for reelhub.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthTotal counts login, refresh and logout attempts by outcome.
	AuthTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reelhub",
			Name:      "auth_total",
			Help:      "Total number of authentication operations",
		},
		[]string{"operation", "result"},
	)

	// SessionReuseTotal counts presentations of an already rotated refresh token.
	SessionReuseTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "reelhub",
			Name:      "session_reuse_total",
			Help:      "Total number of refresh token reuse detections",
		},
	)

	// PaginateDuration measures pipeline count plus fetch time.
	PaginateDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "reelhub",
			Name:      "paginate_duration_seconds",
			Help:      "Duration of paginated aggregation queries in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"collection"},
	)

	// HTTPRequests counts requests by route template and status.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reelhub",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
)

// RecordAuth records an authentication operation outcome.
func RecordAuth(operation, result string) {
	AuthTotal.WithLabelValues(operation, result).Inc()
}

// RecordReuse records a refresh token reuse detection.
func RecordReuse() {
	SessionReuseTotal.Inc()
}

// ObservePaginate records the duration of one paginated query.
func ObservePaginate(collection string, d time.Duration) {
	PaginateDuration.WithLabelValues(collection).Observe(d.Seconds())
}
