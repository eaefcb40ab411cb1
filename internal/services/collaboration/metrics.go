package collaboration

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_active_sessions",
		Help: "Document sessions currently held in memory",
	})

	activeConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relay_active_connections",
		Help: "Attached sockets by channel",
	}, []string{"channel"})

	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_frames_total",
		Help: "Inbound document frames by message type",
	}, []string{"type"})

	frameErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_frame_errors_total",
		Help: "Inbound document frames dropped because they failed to decode",
	}, []string{"type"})

	admissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_admissions_total",
		Help: "Connection admission decisions",
	}, []string{"kind", "result"})

	savesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_saves_total",
		Help: "Document saves by result",
	}, []string{"result"})

	droppedSends = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_dropped_sends_total",
		Help: "Outbound messages dropped because a socket queue was full",
	})
)
