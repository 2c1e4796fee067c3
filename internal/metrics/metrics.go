// Package metrics holds the Prometheus collectors exposed at GET /metrics.
//
// All methods are safe to call on a nil *Metrics, so components can take an
// optional metrics dependency without branching at every call site.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "memorybank"

type Metrics struct {
	registry            *prometheus.Registry
	connectionsActive   prometheus.Gauge
	connectionsRejected *prometheus.CounterVec
	messages            *prometheus.CounterVec
	toolDuration        *prometheus.HistogramVec
	documentWrites      *prometheus.CounterVec
	auditDecisions      *prometheus.CounterVec
}

// New registers every collector on a private registry, together with the
// Go runtime and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Open event stream connections.",
		}),
		connectionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_rejected_total",
			Help:      "Connection attempts rejected, by reason.",
		}, []string{"reason"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Protocol messages handled, by method and outcome.",
		}, []string{"method", "outcome"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_duration_seconds",
			Help:      "Tool call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		documentWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "document_writes_total",
			Help:      "Document writes, by source and outcome.",
		}, []string{"source", "outcome"}),
		auditDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_decisions_total",
			Help:      "Security gate decisions, by outcome.",
		}, []string{"outcome"}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connectionsActive,
		m.connectionsRejected,
		m.messages,
		m.toolDuration,
		m.documentWrites,
		m.auditDecisions,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connectionsActive.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connectionsActive.Dec()
	}
}

func (m *Metrics) ConnectionRejected(reason string) {
	if m != nil {
		m.connectionsRejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) MessageHandled(method, outcome string) {
	if m != nil {
		m.messages.WithLabelValues(method, outcome).Inc()
	}
}

func (m *Metrics) ObserveTool(tool string, d time.Duration) {
	if m != nil {
		m.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
	}
}

func (m *Metrics) DocumentWrite(source, outcome string) {
	if m != nil {
		m.documentWrites.WithLabelValues(source, outcome).Inc()
	}
}

func (m *Metrics) AuditDecision(outcome string) {
	if m != nil {
		m.auditDecisions.WithLabelValues(outcome).Inc()
	}
}
