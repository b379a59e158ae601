package supportchat

import "github.com/prometheus/client_golang/prometheus"

var (
	realtimeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "supportchat_realtime_connections",
			Help: "Current number of connected realtime channels.",
		},
	)
	realtimeEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportchat_realtime_events_total",
			Help: "Realtime events delivered to handlers, by event type.",
		},
		[]string{"event"},
	)
	realtimeDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportchat_realtime_dropped_total",
			Help: "Realtime frames dropped before reaching handlers, by event type.",
		},
		[]string{"event"},
	)
	realtimeReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "supportchat_realtime_reconnects_total",
			Help: "Total realtime reconnect attempts.",
		},
	)
	restRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportchat_rest_requests_total",
			Help: "REST requests issued, by method and status code.",
		},
		[]string{"method", "code"},
	)
)

func init() {
	prometheus.MustRegister(realtimeConnections, realtimeEvents, realtimeDropped, realtimeReconnects, restRequests)
}

func incConnections() {
	realtimeConnections.Inc()
}

func decConnections() {
	realtimeConnections.Dec()
}

func observeEvent(event string) {
	realtimeEvents.WithLabelValues(event).Inc()
}

func observeDrop(event string) {
	realtimeDropped.WithLabelValues(event).Inc()
}

func observeReconnect() {
	realtimeReconnects.Inc()
}

func observeRequest(method, code string) {
	restRequests.WithLabelValues(method, code).Inc()
}
