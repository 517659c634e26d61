// Package metrics exposes Prometheus collectors for run execution and review activity.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sitegraph"

// Metrics groups the collectors. A nil *Metrics records nothing.
type Metrics struct {
	runsStarted  *prometheus.CounterVec
	runsFinished *prometheus.CounterVec
	nodeAttempts *prometheus.CounterVec
	nodeDuration *prometheus.HistogramVec
	suspended    *prometheus.GaugeVec
	verdicts     *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Graph runs created, by graph kind.",
		}, []string{"kind"}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_finished_total",
			Help:      "Graph runs reaching completed or failed, by kind and status.",
		}, []string{"kind", "status"}),
		nodeAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_attempts_total",
			Help:      "Node invocations, by kind, node, and outcome.",
		}, []string{"kind", "node", "outcome"}),
		nodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Node invocation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"kind", "node"}),
		suspended: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_suspended",
			Help:      "Runs currently waiting on an external verdict.",
		}, []string{"kind"}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "review_verdicts_total",
			Help:      "Resolved review tasks, by verdict action.",
		}, []string{"action"}),
	}

	reg.MustRegister(
		m.runsStarted,
		m.runsFinished,
		m.nodeAttempts,
		m.nodeDuration,
		m.suspended,
		m.verdicts,
	)

	return m
}

func (m *Metrics) RunStarted(kind string) {
	if m == nil {
		return
	}
	m.runsStarted.WithLabelValues(kind).Inc()
}

func (m *Metrics) RunFinished(kind, status string) {
	if m == nil {
		return
	}
	m.runsFinished.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) NodeAttempt(kind, node, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.nodeAttempts.WithLabelValues(kind, node, outcome).Inc()
	m.nodeDuration.WithLabelValues(kind, node).Observe(d.Seconds())
}

func (m *Metrics) Suspended(kind string, delta float64) {
	if m == nil {
		return
	}
	m.suspended.WithLabelValues(kind).Add(delta)
}

func (m *Metrics) Verdict(action string) {
	if m == nil {
		return
	}
	m.verdicts.WithLabelValues(action).Inc()
}
