package component

import (
	"log/slog"

	"github.com/dperdices/ipfixcol2/feedback"
	"github.com/dperdices/ipfixcol2/metric"
	"github.com/dperdices/ipfixcol2/pipeline"
)

// Dependencies provides all external dependencies needed by components.
// Components receive a properly structured dependency set rather than
// individual constructor parameters.
type Dependencies struct {
	Bus             pipeline.Bus            // Pipeline bus for subscription and ordered forwarding
	Feedback        feedback.Channel        // Upstream close-request channel (nil when the input cannot close sessions gracefully)
	MetricsRegistry *metric.MetricsRegistry // Metrics registry for Prometheus (can be nil)
	Logger          *slog.Logger            // Structured logger (can be nil, defaults to slog.Default())
}

// GetLogger returns the configured logger or a default logger if none is provided
func (d *Dependencies) GetLogger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// GetLoggerWithComponent returns a logger configured with component context
func (d *Dependencies) GetLoggerWithComponent(componentName string) *slog.Logger {
	return d.GetLogger().With("component", componentName)
}
