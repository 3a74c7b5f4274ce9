// Package metrics provides Prometheus metrics for the relay.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "relaynet"
)

// Metrics contains all Prometheus metrics for the relay.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Connection metrics
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	Disconnects       *prometheus.CounterVec

	// Frame metrics
	FramesReceived *prometheus.CounterVec
	FramesRelayed  prometheus.Counter
	FramesDropped  *prometheus.CounterVec
	FanoutSize     prometheus.Histogram

	// Data transfer metrics
	BytesReceived prometheus.Counter
	BytesSent     prometheus.Counter

	// Loop metrics
	PollErrors     prometheus.Counter
	LoopIterations prometheus.Counter

	// Gateway metrics
	GatewaySessions      prometheus.Gauge
	GatewaySessionsTotal prometheus.Counter
	GatewayMessages      *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the metrics instance registered on the default registry.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance on the default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of currently open relay connections",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of accepted relay connections",
		}),
		Disconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Total relay disconnections by reason",
		}, []string{"reason"}),

		FramesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Total complete frames decoded from clients by kind",
		}, []string{"kind"}),
		FramesRelayed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_relayed_total",
			Help:      "Total frame deliveries queued to peers",
		}),
		FramesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Total frames not relayed by reason",
		}, []string{"reason"}),
		FanoutSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fanout_size",
			Help:      "Number of recipients per broadcast frame",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 1000},
		}),

		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total bytes read from relay connections",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Total bytes written to relay connections",
		}),

		PollErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_errors_total",
			Help:      "Total readiness wait failures",
		}),
		LoopIterations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_iterations_total",
			Help:      "Total event loop iterations",
		}),

		GatewaySessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gateway_sessions_active",
			Help:      "Number of currently open WebSocket gateway sessions",
		}),
		GatewaySessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_sessions_total",
			Help:      "Total WebSocket gateway sessions established",
		}),
		GatewayMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_messages_total",
			Help:      "Total WebSocket messages bridged by direction",
		}, []string{"direction"}),
	}
}

// RecordConnect records an accepted connection.
func (m *Metrics) RecordConnect() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Inc()
	m.ConnectionsTotal.Inc()
}

// RecordDisconnect records a released connection.
func (m *Metrics) RecordDisconnect(reason string) {
	if m == nil {
		return
	}
	m.ConnectionsActive.Dec()
	m.Disconnects.WithLabelValues(reason).Inc()
}

// RecordFrame records one decoded frame.
func (m *Metrics) RecordFrame(kind string) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(kind).Inc()
}

// RecordFanout records a broadcast delivered to n peers.
func (m *Metrics) RecordFanout(n int) {
	if m == nil {
		return
	}
	m.FanoutSize.Observe(float64(n))
	m.FramesRelayed.Add(float64(n))
}

// RecordDrop records a frame that was not relayed.
func (m *Metrics) RecordDrop(reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(reason).Inc()
}

// RecordBytesReceived records bytes read from a client.
func (m *Metrics) RecordBytesReceived(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesReceived.Add(float64(n))
}

// RecordBytesSent records bytes written to a client.
func (m *Metrics) RecordBytesSent(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesSent.Add(float64(n))
}

// RecordPollError records a failed readiness wait.
func (m *Metrics) RecordPollError() {
	if m == nil {
		return
	}
	m.PollErrors.Inc()
}

// RecordIteration records one pass of the event loop.
func (m *Metrics) RecordIteration() {
	if m == nil {
		return
	}
	m.LoopIterations.Inc()
}

// RecordSessionOpen records a new gateway session.
func (m *Metrics) RecordSessionOpen() {
	if m == nil {
		return
	}
	m.GatewaySessions.Inc()
	m.GatewaySessionsTotal.Inc()
}

// RecordSessionClose records a finished gateway session.
func (m *Metrics) RecordSessionClose() {
	if m == nil {
		return
	}
	m.GatewaySessions.Dec()
}

// RecordGatewayMessage records a bridged message; direction is "in" or "out".
func (m *Metrics) RecordGatewayMessage(direction string) {
	if m == nil {
		return
	}
	m.GatewayMessages.WithLabelValues(direction).Inc()
}
