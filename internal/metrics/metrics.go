// Package metrics exposes Prometheus collectors for the presence pipeline and HTTP layer.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// Presence
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_transitions_total",
			Help: "Presence decisions by previous and next status",
		},
		[]string{"from", "to", "broadcast"},
	)

	DroppedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_dropped_events_total",
			Help: "Presence events dropped without mutation",
		},
		[]string{"event"},
	)

	PersistFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_persist_failures_total",
			Help: "Failed presence writes by write kind and cause",
		},
		[]string{"write", "cause"},
	)

	PersistDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "presence_persist_duration_seconds",
			Help:    "Duration of presence writes",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
		},
		[]string{"write"},
	)

	Broadcasts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_broadcasts_total",
			Help: "Events fanned out to dashboards",
		},
		[]string{"event"},
	)

	Connections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "presence_ws_connections",
			Help: "Open dashboard WebSocket connections on this instance",
		},
	)

	OpenSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "presence_tracked_actors",
			Help: "Admins with at least one live connection on this instance",
		},
	)

	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_jobs_processed_total",
			Help: "Background jobs by type and outcome",
		},
		[]string{"type", "outcome"},
	)
)

// ObserveTransition records one engine decision.
func ObserveTransition(from, to string, broadcast bool) {
	Transitions.WithLabelValues(from, to, strconv.FormatBool(broadcast)).Inc()
}

// HTTP returns a gin middleware recording request count and latency per route.
func HTTP() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
