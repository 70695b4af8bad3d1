package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordsOnRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveDispatch("coder", "internal", 10*time.Millisecond)
	m.ObserveDispatch("coder", "internal", 20*time.Millisecond)
	m.ObserveRetry("retry_pending")
	m.ObserveDelegation("translator", "completed")
	m.ObserveDiscovery(true)
	m.ObserveDiscovery(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.dispatchTotal.WithLabelValues("coder", "internal")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retryTotal.WithLabelValues("retry_pending")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.delegationTotal.WithLabelValues("translator", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.discoveryTotal.WithLabelValues("false")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 5)
}

func TestMetrics_NilIsNoOp(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveDispatch("x", "internal", time.Second)
		m.ObserveRetry("exhausted")
		m.ObserveDelegation("a", "failed")
		m.ObserveDiscovery(true)
	})
}
