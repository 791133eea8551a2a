package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FramesCaptured = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "screenlink_frames_captured_total",
		Help: "Units captured per lane.",
	}, []string{"lane"})

	FramesRecorded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "screenlink_frames_recorded_total",
		Help: "Units handed to the muxer per lane.",
	}, []string{"lane"})

	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "screenlink_queue_depth",
		Help: "Envelopes waiting in the capture queues.",
	}, []string{"lane"})

	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "screenlink_active_sessions",
		Help: "Streaming sessions currently running.",
	})

	HandshakeFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "screenlink_handshake_failures_total",
		Help: "Control handshakes that ended rejected or timed out.",
	})
)

func init() {
	prometheus.MustRegister(FramesCaptured, FramesRecorded, QueueDepth, ActiveSessions, HandshakeFailures)
}

// Handler serves the registry in Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
