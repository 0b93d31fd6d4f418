package flowparser

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dperdices/ipfixcol2/metric"
)

// parserMetrics holds Prometheus metrics for the flow parser processor.
type parserMetrics struct {
	// Message counters
	messagesTotal  *prometheus.CounterVec // By component, kind and outcome
	garbageEmitted *prometheus.CounterVec // By component and origin (templates/session/dictionary/shutdown)

	// Session lifecycle counters
	sessionsRemoved *prometheus.CounterVec // By component
	sessionsBlocked *prometheus.CounterVec // By component

	// Configuration update counters
	dictionarySwaps *prometheus.CounterVec // By component

	// Performance metrics
	decodeDuration *prometheus.HistogramVec // By component
}

// newParserMetrics creates and registers flow parser metrics with the
// provided registry. A nil registry disables metrics.
func newParserMetrics(registry *metric.MetricsRegistry, componentName string) (*parserMetrics, error) {
	if registry == nil {
		return nil, nil // Metrics disabled
	}

	m := &parserMetrics{
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ipfixcol",
			Subsystem: "flow_parser",
			Name:      "messages_total",
			Help:      "Total number of pipeline messages dispatched by the parser stage",
		}, []string{"component", "kind", "outcome"}), // outcome: decoded, denied, dropped, escalated, forwarded

		garbageEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ipfixcol",
			Subsystem: "flow_parser",
			Name:      "garbage_emitted_total",
			Help:      "Total number of garbage carriers emitted for retired shared state",
		}, []string{"component", "origin"}),

		sessionsRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ipfixcol",
			Subsystem: "flow_parser",
			Name:      "sessions_removed_total",
			Help:      "Total number of transport sessions removed from the registry",
		}, []string{"component"}),

		sessionsBlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ipfixcol",
			Subsystem: "flow_parser",
			Name:      "sessions_blocked_total",
			Help:      "Total number of transport sessions blocked awaiting upstream close",
		}, []string{"component"}),

		dictionarySwaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ipfixcol",
			Subsystem: "flow_parser",
			Name:      "dictionary_swaps_total",
			Help:      "Total number of committed information-element dictionary updates",
		}, []string{"component"}),

		decodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ipfixcol",
			Subsystem: "flow_parser",
			Name:      "decode_duration_seconds",
			Help:      "Protocol message decode duration in seconds",
			Buckets:   []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}, []string{"component"}),
	}

	// Register all metrics
	if err := registry.Register(componentName, "messages_total", m.messagesTotal); err != nil {
		return nil, err
	}
	if err := registry.Register(componentName, "garbage_emitted_total", m.garbageEmitted); err != nil {
		return nil, err
	}
	if err := registry.Register(componentName, "sessions_removed_total", m.sessionsRemoved); err != nil {
		return nil, err
	}
	if err := registry.Register(componentName, "sessions_blocked_total", m.sessionsBlocked); err != nil {
		return nil, err
	}
	if err := registry.Register(componentName, "dictionary_swaps_total", m.dictionarySwaps); err != nil {
		return nil, err
	}
	if err := registry.Register(componentName, "decode_duration_seconds", m.decodeDuration); err != nil {
		return nil, err
	}

	return m, nil
}

// recordMessage records a dispatched message with its outcome.
func (m *parserMetrics) recordMessage(componentName, kind, outcome string) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(componentName, kind, outcome).Inc()
}

// recordDecode records a successful decode with its duration.
func (m *parserMetrics) recordDecode(componentName string, duration time.Duration) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(componentName, "ipfix", "decoded").Inc()
	m.decodeDuration.WithLabelValues(componentName).Observe(duration.Seconds())
}

// recordGarbage records an emitted garbage carrier.
func (m *parserMetrics) recordGarbage(componentName, origin string) {
	if m == nil {
		return
	}
	m.garbageEmitted.WithLabelValues(componentName, origin).Inc()
}

// recordSessionRemoved records a registry removal.
func (m *parserMetrics) recordSessionRemoved(componentName string) {
	if m == nil {
		return
	}
	m.sessionsRemoved.WithLabelValues(componentName).Inc()
}

// recordSessionBlocked records a session blocked awaiting close.
func (m *parserMetrics) recordSessionBlocked(componentName string) {
	if m == nil {
		return
	}
	m.sessionsBlocked.WithLabelValues(componentName).Inc()
}

// recordDictionarySwap records a committed dictionary update.
func (m *parserMetrics) recordDictionarySwap(componentName string) {
	if m == nil {
		return
	}
	m.dictionarySwaps.WithLabelValues(componentName).Inc()
}
