// Package metrics exposes scanner and product-service counters over a
// Prometheus registry. A nil *Metrics is valid and records nothing, so
// callers never need to guard instrumentation sites.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter the service emits. Each instance owns its
// registry, so tests can create as many as they like without collisions.
type Metrics struct {
	registry *prometheus.Registry

	sessionsStarted    prometheus.Counter
	stateTransitions   *prometheus.CounterVec
	detectionsAccepted prometheus.Counter
	detectionsRejected prometheus.Counter
	productLookups     *prometheus.CounterVec
}

// New builds a Metrics instance backed by a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		sessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "scanhub_sessions_started_total",
			Help: "Decode sessions started.",
		}),
		stateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scanhub_state_transitions_total",
			Help: "Scanner state transitions by edge.",
		}, []string{"from", "to"}),
		detectionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "scanhub_detections_accepted_total",
			Help: "Detections that cleared the confidence filter.",
		}),
		detectionsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "scanhub_detections_rejected_total",
			Help: "Detections dropped by the confidence filter or debounce.",
		}),
		productLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scanhub_product_lookups_total",
			Help: "Product lookups after a successful scan, by result.",
		}, []string{"result"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionStarted() {
	if m != nil {
		m.sessionsStarted.Inc()
	}
}

func (m *Metrics) StateTransition(from, to string) {
	if m != nil {
		m.stateTransitions.WithLabelValues(from, to).Inc()
	}
}

func (m *Metrics) DetectionAccepted() {
	if m != nil {
		m.detectionsAccepted.Inc()
	}
}

func (m *Metrics) DetectionRejected() {
	if m != nil {
		m.detectionsRejected.Inc()
	}
}

func (m *Metrics) ProductLookup(result string) {
	if m != nil {
		m.productLookups.WithLabelValues(result).Inc()
	}
}
