// Package metrics exposes request and connection counters in Prometheus
// format. Each Metrics value owns its registry, so several servers (or
// tests) can coexist in one process.
package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels a handled request.
type Outcome string

const (
	OutcomeFile     Outcome = "file"
	OutcomeListing  Outcome = "listing"
	OutcomeNotFound Outcome = "not_found"
	OutcomeRejected Outcome = "rejected"
)

const namespace = "lanserve"

// Metrics records per-stack request outcomes, bytes sent and open
// connections. The zero value is not usable; call New.
type Metrics struct {
	registry *prometheus.Registry

	requests    *prometheus.CounterVec
	bytes       *prometheus.CounterVec
	connections *prometheus.GaugeVec
	bindErrors  *prometheus.CounterVec

	totalRequests atomic.Int64
	totalBytes    atomic.Int64
	totalRejected atomic.Int64
}

// New creates Metrics with a fresh registry that also carries the Go runtime
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests handled, by stack and outcome.",
		}, []string{"stack", "outcome"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_bytes_total",
			Help:      "Response body bytes written, by stack.",
		}, []string{"stack"}),
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_connections",
			Help:      "Currently tracked connections, by stack.",
		}, []string{"stack"}),
		bindErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bind_errors_total",
			Help:      "Stacks that failed to bind, by stack.",
		}, []string{"stack"}),
	}
	m.registry.MustRegister(
		m.requests,
		m.bytes,
		m.connections,
		m.bindErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Request counts one handled request.
func (m *Metrics) Request(stack string, outcome Outcome) {
	m.requests.WithLabelValues(stack, string(outcome)).Inc()
	m.totalRequests.Add(1)
	if outcome == OutcomeRejected {
		m.totalRejected.Add(1)
	}
}

// Bytes counts body bytes written on stack.
func (m *Metrics) Bytes(stack string, n int64) {
	if n <= 0 {
		return
	}
	m.bytes.WithLabelValues(stack).Add(float64(n))
	m.totalBytes.Add(n)
}

// ConnOpened and ConnClosed track the open connection gauge.
func (m *Metrics) ConnOpened(stack string) { m.connections.WithLabelValues(stack).Inc() }

func (m *Metrics) ConnClosed(stack string) { m.connections.WithLabelValues(stack).Dec() }

// BindError counts a stack that failed to bind.
func (m *Metrics) BindError(stack string) { m.bindErrors.WithLabelValues(stack).Inc() }

// Totals returns process lifetime counts for the shut-down record.
func (m *Metrics) Totals() (requests, rejected, bytes int64) {
	return m.totalRequests.Load(), m.totalRejected.Load(), m.totalBytes.Load()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
