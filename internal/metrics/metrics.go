// Package metrics: коллекторы Prometheus для API и push-сервиса.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connect_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "connect_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "route"},
	)

	// Realtime
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "connect_ws_connections",
			Help: "Open WebSocket connections",
		},
	)

	RealtimeFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connect_realtime_frames_total",
			Help: "Realtime frames by direction and type",
		},
		[]string{"direction", "type"},
	)

	SlowClientsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "connect_ws_slow_clients_dropped_total",
			Help: "Connections closed because the send buffer was full",
		},
	)

	ChangeEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connect_change_events_published_total",
			Help: "Message change events fanned out to realtime topics",
		},
		[]string{"op"},
	)

	// Бизнес-метрики
	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "connect_messages_sent_total",
			Help: "Total messages inserted",
		},
	)

	ConnectionRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connect_connection_requests_total",
			Help: "Connection request transitions",
		},
		[]string{"status"},
	)

	PushNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connect_push_notifications_total",
			Help: "Push notifications by outcome",
		},
		[]string{"result"},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connect_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"route"},
	)
)
