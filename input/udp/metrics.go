package udp

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dperdices/ipfixcol2/metric"
)

// inputMetrics holds Prometheus metrics for the UDP input.
type inputMetrics struct {
	packetsReceived *prometheus.CounterVec // By component
	bytesReceived   *prometheus.CounterVec // By component
	socketErrors    *prometheus.CounterVec // By component
	activeSessions  *prometheus.GaugeVec   // By component
}

// newInputMetrics creates and registers UDP input metrics with the provided
// registry. A nil registry disables metrics.
func newInputMetrics(registry *metric.MetricsRegistry, componentName string) (*inputMetrics, error) {
	if registry == nil {
		return nil, nil // Metrics disabled
	}

	m := &inputMetrics{
		packetsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ipfixcol",
			Subsystem: "udp_input",
			Name:      "packets_received_total",
			Help:      "Total UDP datagrams received",
		}, []string{"component"}),

		bytesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ipfixcol",
			Subsystem: "udp_input",
			Name:      "bytes_received_total",
			Help:      "Total bytes received over UDP",
		}, []string{"component"}),

		socketErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ipfixcol",
			Subsystem: "udp_input",
			Name:      "socket_errors_total",
			Help:      "Socket read errors encountered",
		}, []string{"component"}),

		activeSessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ipfixcol",
			Subsystem: "udp_input",
			Name:      "active_sessions",
			Help:      "Transport sessions currently tracked by the listener",
		}, []string{"component"}),
	}

	// Register all metrics
	if err := registry.Register(componentName, "packets_received_total", m.packetsReceived); err != nil {
		return nil, err
	}
	if err := registry.Register(componentName, "bytes_received_total", m.bytesReceived); err != nil {
		return nil, err
	}
	if err := registry.Register(componentName, "socket_errors_total", m.socketErrors); err != nil {
		return nil, err
	}
	if err := registry.Register(componentName, "active_sessions", m.activeSessions); err != nil {
		return nil, err
	}

	return m, nil
}

// recordPacket records one received datagram and its size.
func (m *inputMetrics) recordPacket(componentName string, bytes int) {
	if m == nil {
		return
	}
	m.packetsReceived.WithLabelValues(componentName).Inc()
	m.bytesReceived.WithLabelValues(componentName).Add(float64(bytes))
}

// recordSocketError records a failed socket read.
func (m *inputMetrics) recordSocketError(componentName string) {
	if m == nil {
		return
	}
	m.socketErrors.WithLabelValues(componentName).Inc()
}

// setActiveSessions records the current session count.
func (m *inputMetrics) setActiveSessions(componentName string, n int) {
	if m == nil {
		return
	}
	m.activeSessions.WithLabelValues(componentName).Set(float64(n))
}
