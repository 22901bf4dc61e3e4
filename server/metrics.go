package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradefeed_feed_sessions",
		Help: "Number of live feed sessions",
	})

	reapedSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradefeed_feed_sessions_reaped_total",
		Help: "Total number of feed sessions dropped after going idle",
	})

	sseClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradefeed_sse_clients",
		Help: "Number of connected live update clients",
	})

	tradeEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradefeed_trade_events_total",
		Help: "Total number of trade events broadcast, by type",
	}, []string{"type"})
)
