// Package metrics holds the prometheus collectors exported by frostd.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "frostd"

// Router message outcomes.
const (
	MessageAccepted  = "accepted"
	MessageRejected  = "rejected"
	MessageDuplicate = "duplicate"
	MessageParked    = "parked"
	MessageDropped   = "dropped"
)

type Metrics struct {
	registry *prometheus.Registry

	sessionsStarted  *prometheus.CounterVec
	sessionsFinished *prometheus.CounterVec
	sessionsActive   *prometheus.GaugeVec
	sessionDuration  *prometheus.HistogramVec
	routerMessages   *prometheus.CounterVec
	jobResults       *prometheus.CounterVec
}

// New registers the collectors on a fresh registry that also carries the Go
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		sessionsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "started_total",
			Help:      "Protocol sessions started",
		}, []string{"kind"}),
		sessionsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "finished_total",
			Help:      "Protocol sessions that reached a terminal state",
		}, []string{"kind", "state"}),
		sessionsActive: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Protocol sessions currently running",
		}, []string{"kind"}),
		sessionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "duration_seconds",
			Help:      "Wall time from session start to terminal state",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"kind", "state"}),
		routerMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "messages_total",
			Help:      "Inbound peer messages by routing outcome",
		}, []string{"outcome"}),
		jobResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "results_total",
			Help:      "Job results handed to the result sink",
		}, []string{"kind", "outcome"}),
	}
}

func (m *Metrics) SessionStarted(kind string) {
	if m == nil {
		return
	}
	m.sessionsStarted.WithLabelValues(kind).Inc()
	m.sessionsActive.WithLabelValues(kind).Inc()
}

func (m *Metrics) SessionFinished(kind, state string, d time.Duration) {
	if m == nil {
		return
	}
	m.sessionsFinished.WithLabelValues(kind, state).Inc()
	m.sessionsActive.WithLabelValues(kind).Dec()
	m.sessionDuration.WithLabelValues(kind, state).Observe(d.Seconds())
}

func (m *Metrics) RouterMessage(outcome string) {
	if m == nil {
		return
	}
	m.routerMessages.WithLabelValues(outcome).Inc()
}

func (m *Metrics) JobResult(kind, outcome string) {
	if m == nil {
		return
	}
	m.jobResults.WithLabelValues(kind, outcome).Inc()
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
