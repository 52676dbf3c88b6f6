package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the custom Prometheus metrics for the server
type Metrics struct {
	// WebSocket metrics
	WebSocketMessages *prometheus.CounterVec
	SessionEvents     *prometheus.CounterVec

	// Turn metrics
	TurnsStarted prometheus.Counter

	// Tool metrics
	ToolExecutions *prometheus.CounterVec

	// Compaction metrics
	Compactions prometheus.Counter
}

// InitMetrics registers the Prometheus metrics and wires the connection
// gauge to the connection manager
func InitMetrics(connManager *ConnectionManager) *Metrics {
	metrics := &Metrics{
		WebSocketMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "redline_websocket_messages_total",
			Help: "Total number of WebSocket messages by type",
		}, []string{"type", "direction"}), // direction: "inbound" or "outbound"

		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "redline_session_events_total",
			Help: "Total number of session events published by type",
		}, []string{"type"}),

		TurnsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "redline_turns_started_total",
			Help: "Total number of turns started",
		}),

		ToolExecutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "redline_tool_executions_total",
			Help: "Total number of tool executions by tool and terminal status",
		}, []string{"tool", "status"}),

		Compactions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "redline_compactions_total",
			Help: "Total number of completed context compactions",
		}),
	}

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "redline_websocket_connections_active",
			Help: "Current number of active WebSocket connections",
		},
		func() float64 {
			if connManager != nil {
				return float64(connManager.Count())
			}
			return 0
		},
	))

	return metrics
}

// RegisterSessionsGauge exposes the live session count. Registered after the
// session registry exists, so it is not part of InitMetrics.
func (m *Metrics) RegisterSessionsGauge(count func() float64) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "redline_sessions_active",
			Help: "Current number of live session orchestrators",
		},
		count,
	))
}
