// Package metrics exposes Prometheus collectors mirroring the client's
// stats counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rms_realtime_events_sent_total",
			Help: "Total events transmitted to the socket server by event name",
		},
		[]string{"event"},
	)

	EventsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rms_realtime_events_received_total",
			Help: "Total events received from the socket server by event name",
		},
		[]string{"event"},
	)

	EventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rms_realtime_events_dropped_total",
			Help: "Total events suppressed locally by reason (room_filter, rate_limited, duplicate, permission, validation)",
		},
		[]string{"event", "reason"},
	)

	ReconnectAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rms_realtime_reconnect_attempts_total",
			Help: "Total reconnection attempts scheduled after unexpected disconnects",
		},
	)

	ConnectionUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rms_realtime_connection_up",
			Help: "Whether the socket connection is currently established (1 = connected)",
		},
	)

	JoinedRooms = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rms_realtime_joined_rooms",
			Help: "Number of rooms currently joined",
		},
	)
)

// Register adds all collectors to the default registry.
func Register() {
	prometheus.MustRegister(
		EventsSent,
		EventsReceived,
		EventsDropped,
		ReconnectAttempts,
		ConnectionUp,
		JoinedRooms,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
