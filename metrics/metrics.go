// Package metrics exposes the Prometheus collectors recorded by the router,
// the retry machine, the delegation client and discovery.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "codemesh"

// Metrics bundles the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	retryTotal       *prometheus.CounterVec
	delegationTotal  *prometheus.CounterVec
	discoveryTotal   *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg leaves them
// unregistered, which is what tests use.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Worker dispatches performed by the router.",
		}, []string{"target", "kind"}),
		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Duration of a single worker dispatch.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"kind"}),
		retryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_total",
			Help:      "Retry machine outcomes.",
		}, []string{"outcome"}),
		delegationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delegation_total",
			Help:      "Delegations to external agents by final status.",
		}, []string{"agent", "status"}),
		discoveryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_total",
			Help:      "Agent discoveries by health.",
		}, []string{"healthy"}),
	}
	if reg != nil {
		reg.MustRegister(m.dispatchTotal, m.dispatchDuration, m.retryTotal, m.delegationTotal, m.discoveryTotal)
	}
	return m
}

// ObserveDispatch counts one dispatch to target of the given kind.
func (m *Metrics) ObserveDispatch(target, kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(target, kind).Inc()
	m.dispatchDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveRetry counts one retry machine outcome.
func (m *Metrics) ObserveRetry(outcome string) {
	if m == nil {
		return
	}
	m.retryTotal.WithLabelValues(outcome).Inc()
}

// ObserveDelegation counts one finished delegation.
func (m *Metrics) ObserveDelegation(agent, status string) {
	if m == nil {
		return
	}
	m.delegationTotal.WithLabelValues(agent, status).Inc()
}

// ObserveDiscovery counts one discovered descriptor.
func (m *Metrics) ObserveDiscovery(healthy bool) {
	if m == nil {
		return
	}
	label := "false"
	if healthy {
		label = "true"
	}
	m.discoveryTotal.WithLabelValues(label).Inc()
}
