// Package metrics provides Prometheus collectors for the delivery pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	SubmitsTotal        *prometheus.CounterVec
	AgentRequestsTotal  *prometheus.CounterVec
	AgentLatencySeconds prometheus.Histogram
	EventsTotal         *prometheus.CounterVec
	Subscribers         prometheus.Gauge
}

// New registers all collectors against reg. Tests pass a fresh
// prometheus.NewRegistry to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SubmitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatrelay_submits_total",
				Help: "Message submissions by outcome",
			},
			[]string{"outcome"},
		),
		AgentRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatrelay_agent_requests_total",
				Help: "Agent webhook calls by terminal outcome",
			},
			[]string{"outcome"},
		),
		AgentLatencySeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chatrelay_agent_latency_seconds",
				Help:    "Submission-to-reconciliation latency",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
		),
		EventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatrelay_delivery_events_total",
				Help: "Delivery-channel events published, by type",
			},
			[]string{"type"},
		),
		Subscribers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "chatrelay_delivery_subscribers",
				Help: "Live push-delivery subscribers",
			},
		),
	}
}

// The helpers below tolerate a nil receiver so components can run without
// metrics wired (worker tests, the delivery client library).

func (m *Metrics) Submit(outcome string) {
	if m == nil {
		return
	}
	m.SubmitsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AgentOutcome(outcome string, latencySeconds float64) {
	if m == nil {
		return
	}
	m.AgentRequestsTotal.WithLabelValues(outcome).Inc()
	m.AgentLatencySeconds.Observe(latencySeconds)
}

func (m *Metrics) EventPublished(eventType string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(eventType).Inc()
}

func (m *Metrics) SubscriberConnected() {
	if m == nil {
		return
	}
	m.Subscribers.Inc()
}

func (m *Metrics) SubscriberDisconnected() {
	if m == nil {
		return
	}
	m.Subscribers.Dec()
}
