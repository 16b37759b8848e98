// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PacketsCapturedTotal counts observed packets by protocol tag
	PacketsCapturedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "textcast_packets_captured_total",
			Help: "Total number of packets observed on the device pair filter",
		},
		[]string{"protocol"},
	)

	// CaptureBytesTotal counts observed traffic volume
	CaptureBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "textcast_capture_bytes_total",
			Help: "Total bytes observed on the device pair filter",
		},
	)

	// CaptureDropsTotal counts packets dropped before aggregation
	CaptureDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "textcast_capture_drops_total",
			Help: "Total number of packets dropped during capture",
		},
		[]string{"stage"},
	)

	// MessagesSentTotal counts text send attempts by outcome
	MessagesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "textcast_messages_sent_total",
			Help: "Total number of text send attempts",
		},
		[]string{"delivered"},
	)

	// SendLatencySeconds measures device payload push latency
	SendLatencySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "textcast_send_latency_seconds",
			Help:    "Latency of payload pushes to the device in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
		},
	)

	// SessionState tracks the current controller state (1 on the active label)
	SessionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "textcast_session_state",
			Help: "Current session controller state",
		},
		[]string{"state"},
	)

	// EventsPublishedTotal counts events handed to each publisher
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "textcast_events_published_total",
			Help: "Total number of events delivered to publishers",
		},
		[]string{"publisher", "type"},
	)

	// EventPublishErrorsTotal counts per-publisher delivery failures
	EventPublishErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "textcast_event_publish_errors_total",
			Help: "Total number of event publish failures",
		},
		[]string{"publisher"},
	)

	// EventsDroppedTotal counts events discarded on async queue overflow
	EventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "textcast_events_dropped_total",
			Help: "Total number of events dropped on publisher queue overflow",
		},
		[]string{"publisher"},
	)

	// WSClients tracks connected WebSocket subscribers
	WSClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "textcast_ws_clients",
			Help: "Number of connected WebSocket subscribers",
		},
	)
)

// SetSessionState flips the session_state gauge so exactly one label
// carries the value 1.
func SetSessionState(current string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1.0
		}
		SessionState.WithLabelValues(s).Set(v)
	}
}
