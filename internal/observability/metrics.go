package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcpbridge",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total gateway HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mcpbridge",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Gateway HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	rpcCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcpbridge",
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "Remote calls by final outcome.",
		},
		[]string{"server", "method", "outcome"},
	)
	rpcDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mcpbridge",
			Subsystem: "rpc",
			Name:      "call_duration_seconds",
			Help:      "Remote call duration in seconds, retries included.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"server", "method", "outcome"},
	)
	rpcRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcpbridge",
			Subsystem: "rpc",
			Name:      "retries_total",
			Help:      "Calls retried on a fresh session, by cause.",
		},
		[]string{"server", "reason"},
	)
	handshakes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcpbridge",
			Subsystem: "session",
			Name:      "handshakes_total",
			Help:      "Event stream handshakes by outcome.",
		},
		[]string{"server", "outcome"},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mcpbridge",
			Subsystem: "session",
			Name:      "active",
			Help:      "Sessions with an open event stream.",
		},
	)
	droppedFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcpbridge",
			Subsystem: "session",
			Name:      "dropped_frames_total",
			Help:      "Inbound frames dropped by the read loop, by reason.",
		},
		[]string{"server", "reason"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			rpcCalls, rpcDuration, rpcRetries,
			handshakes, activeSessions, droppedFrames,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordCall(server, method, outcome string, duration time.Duration) {
	RegisterMetrics()
	rpcCalls.WithLabelValues(server, method, outcome).Inc()
	rpcDuration.WithLabelValues(server, method, outcome).Observe(duration.Seconds())
}

func RecordRetry(server, reason string) {
	RegisterMetrics()
	rpcRetries.WithLabelValues(server, reason).Inc()
}

func RecordHandshake(server, outcome string) {
	RegisterMetrics()
	handshakes.WithLabelValues(server, outcome).Inc()
}

func SessionOpened() {
	RegisterMetrics()
	activeSessions.Inc()
}

func SessionClosed() {
	RegisterMetrics()
	activeSessions.Dec()
}

func RecordDroppedFrame(server, reason string) {
	RegisterMetrics()
	droppedFrames.WithLabelValues(server, reason).Inc()
}
