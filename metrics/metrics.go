// Package metrics exposes Prometheus metrics for aggregation passes,
// optimistic mutations and HTTP requests.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GetStream/unified-inbox/inbox"
)

// Metrics implements inbox.Observer.
type Metrics struct {
	reg *prometheus.Registry

	passes    *prometheus.CounterVec
	records   *prometheus.GaugeVec
	mutations *prometheus.CounterVec
	rollbacks *prometheus.CounterVec
	requests  *prometheus.HistogramVec
}

// New registers the inbox metrics on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inbox",
			Name:      "source_passes_total",
			Help:      "Source fetches by message type and result.",
		}, []string{"type", "result"}),
		records: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "inbox",
			Name:      "source_records",
			Help:      "Records returned by the last successful fetch of each source.",
		}, []string{"type"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inbox",
			Name:      "mutations_total",
			Help:      "Optimistic mutations by operation and result.",
		}, []string{"op", "result"}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inbox",
			Name:      "mutation_rollbacks_total",
			Help:      "Optimistic mutations reverted after a backend failure.",
		}, []string{"op"}),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "inbox",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "code"}),
	}
	m.reg.MustRegister(
		m.passes,
		m.records,
		m.mutations,
		m.rollbacks,
		m.requests,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// ObservePass records one source fetch.
func (m *Metrics) ObservePass(typ inbox.MessageType, records int, err error) {
	if err != nil {
		m.passes.WithLabelValues(string(typ), result(err)).Inc()
		return
	}
	m.passes.WithLabelValues(string(typ), "ok").Inc()
	m.records.WithLabelValues(string(typ)).Set(float64(records))
}

// ObserveMutation records one mutation outcome.
func (m *Metrics) ObserveMutation(op string, err error, rolledBack bool) {
	m.mutations.WithLabelValues(op, result(err)).Inc()
	if rolledBack {
		m.rollbacks.WithLabelValues(op).Inc()
	}
}

// ObserveRequest records the latency of one HTTP request.
func (m *Metrics) ObserveRequest(route string, code int, d time.Duration) {
	m.requests.WithLabelValues(route, strconv.Itoa(code)).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, inbox.ErrCapabilityMismatch):
		return "unsupported"
	case errors.Is(err, inbox.ErrNotFound):
		return "not_found"
	default:
		return "failed"
	}
}

var _ inbox.Observer = (*Metrics)(nil)
