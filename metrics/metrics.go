package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Connections = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "watchroom_connections", Help: "Open viewer connections"},
	)
	Rooms = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "watchroom_rooms", Help: "Rooms in the registry"},
	)
	Events = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "watchroom_client_events_total", Help: "Client events by type and outcome"},
		[]string{"type", "outcome"},
	)
	Transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "watchroom_transport_transitions_total", Help: "Applied play/pause/seek"},
		[]string{"kind"},
	)
	StaleUpdates = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "watchroom_stale_updates_total", Help: "Anchor updates ignored as stale"},
	)
	HeartbeatTicks = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "watchroom_heartbeat_ticks_total", Help: "Heartbeat ticks"},
	)
	HeartbeatRooms = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "watchroom_heartbeat_rooms_total", Help: "Rooms handled per heartbeat"},
		[]string{"result"},
	)
	HeartbeatDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "watchroom_heartbeat_duration_seconds",
			Help:    "Time spent in one heartbeat tick",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
	)
	MediaSignals = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "watchroom_media_signals_total", Help: "Transcoding signals applied"},
		[]string{"status"},
	)
)

func Register() {
	prometheus.MustRegister(
		Connections,
		Rooms,
		Events,
		Transitions,
		StaleUpdates,
		HeartbeatTicks,
		HeartbeatRooms,
		HeartbeatDuration,
		MediaSignals,
	)
}
