package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dperdices/ipfixcol2/metric"
)

// engineMetrics holds Prometheus metrics for the pipeline host.
type engineMetrics struct {
	dispatches  *prometheus.CounterVec // By stage and outcome (ok/error/fatal)
	passThrough *prometheus.CounterVec // By stage

	terminalDelivered prometheus.Counter // Messages surviving to the terminal
}

// newEngineMetrics creates and registers pipeline host metrics with the
// provided registry. A nil registry disables metrics.
func newEngineMetrics(registry *metric.MetricsRegistry) (*engineMetrics, error) {
	if registry == nil {
		return nil, nil // Metrics disabled
	}

	m := &engineMetrics{
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ipfixcol",
			Subsystem: "pipeline",
			Name:      "dispatches_total",
			Help:      "Total number of messages dispatched to stages",
		}, []string{"stage", "outcome"}), // outcome: ok, error, fatal

		passThrough: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ipfixcol",
			Subsystem: "pipeline",
			Name:      "pass_through_total",
			Help:      "Total number of messages forwarded past a stage unsubscribed to their kind",
		}, []string{"stage"}),

		terminalDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ipfixcol",
			Subsystem: "pipeline",
			Name:      "terminal_delivered_total",
			Help:      "Total number of non-garbage messages handed to the terminal consumer",
		}),
	}

	// Register all metrics
	if err := registry.Register("pipeline", "dispatches_total", m.dispatches); err != nil {
		return nil, err
	}
	if err := registry.Register("pipeline", "pass_through_total", m.passThrough); err != nil {
		return nil, err
	}
	if err := registry.Register("pipeline", "terminal_delivered_total", m.terminalDelivered); err != nil {
		return nil, err
	}

	return m, nil
}

// recordDispatch records a dispatched message with its outcome.
func (m *engineMetrics) recordDispatch(stage, outcome string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(stage, outcome).Inc()
}

// recordPassThrough records a message forwarded past an uninterested stage.
func (m *engineMetrics) recordPassThrough(stage string) {
	if m == nil {
		return
	}
	m.passThrough.WithLabelValues(stage).Inc()
}

// recordTerminalDelivered records a message reaching the terminal consumer.
func (m *engineMetrics) recordTerminalDelivered() {
	if m == nil {
		return
	}
	m.terminalDelivered.Inc()
}
