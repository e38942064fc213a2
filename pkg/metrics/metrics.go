// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks chat API request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_api_request_duration_seconds",
			Help:    "Chat API request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total chat API requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_api_requests_total",
			Help: "Total chat API requests",
		},
		[]string{"method", "path", "status"},
	)

	// MessagesTotal tracks messages reconciled into the controller state.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Total messages by role",
		},
		[]string{"role"},
	)

	// FramesTotal tracks inbound realtime frames by type.
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_frames_total",
			Help: "Inbound realtime frames by type",
		},
		[]string{"type"},
	)

	// MalformedFramesTotal tracks inbound frames dropped as undecodable.
	MalformedFramesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_ws_malformed_frames_total",
			Help: "Inbound realtime frames dropped as malformed",
		},
	)

	// ReconnectsTotal tracks reconnection attempts after abnormal closure.
	ReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_ws_reconnects_total",
			Help: "Realtime reconnection attempts",
		},
	)

	// ConnectionsActive tracks open realtime connections.
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_ws_connections_active",
			Help: "Number of open realtime connections",
		},
	)

	// TokenRefreshesTotal tracks silent credential refreshes by outcome.
	TokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_token_refreshes_total",
			Help: "Credential refresh attempts by outcome",
		},
		[]string{"outcome"},
	)
)

// RecordRequest records metrics for one chat API request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordFrame records one inbound realtime frame.
func RecordFrame(frameType string) {
	FramesTotal.WithLabelValues(frameType).Inc()
}
