package handler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ws_active_connections",
		Help: "Current number of open WebSocket connections.",
	})

	eventsDeliveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_events_delivered_total",
		Help: "Total number of events delivered to subscribed clients.",
	})

	eventsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_events_dropped_total",
		Help: "Total number of events dropped due to slow clients.",
	})
)
