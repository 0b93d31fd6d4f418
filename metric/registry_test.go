package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dperdices/ipfixcol2/errors"
)

func testCounter(name string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ipfixcol",
		Name:      name,
		Help:      "test counter",
	})
}

func TestRegister(t *testing.T) {
	r := NewMetricsRegistry()
	require.NotNil(t, r.PrometheusRegistry())

	require.NoError(t, r.Register("flow-parser", "messages", testCounter("messages_total")))
}

func TestRegister_DuplicateRejected(t *testing.T) {
	r := NewMetricsRegistry()
	require.NoError(t, r.Register("flow-parser", "messages", testCounter("messages_total")))

	err := r.Register("flow-parser", "messages", testCounter("other_total"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestUnregister(t *testing.T) {
	r := NewMetricsRegistry()
	require.NoError(t, r.Register("flow-parser", "messages", testCounter("messages_total")))

	assert.True(t, r.Unregister("flow-parser", "messages"))
	assert.False(t, r.Unregister("flow-parser", "messages"))

	// The name is free again after unregistration.
	require.NoError(t, r.Register("flow-parser", "messages", testCounter("messages_total")))
}
