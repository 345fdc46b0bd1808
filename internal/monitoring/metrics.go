// Package monitoring exposes Prometheus metrics for the fake-service
// runtime: request handling, webhook delivery and cache behavior.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for one fake service. Each
// service gets its own registry so several fakes can run in one process.
type Metrics struct {
	Registry *prometheus.Registry

	RequestTotal    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	WebhookDeliveries *prometheus.CounterVec
	WebhookAttempts   *prometheus.HistogramVec

	IdempotencyHits   prometheus.Counter
	IdempotencyMisses prometheus.Counter

	labels prometheus.Labels
}

// NewMetrics creates all metrics on a fresh registry.
func NewMetrics(service string) *Metrics {
	labels := prometheus.Labels{"service": service}
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		Registry: registry,
		labels:   labels,
		RequestTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "doubleagent_requests_total",
				Help:        "HTTP requests served, by method and status class",
				ConstLabels: labels,
			},
			[]string{"method", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "doubleagent_request_duration_seconds",
				Help:        "Request handling latency",
				Buckets:     prometheus.DefBuckets,
				ConstLabels: labels,
			},
			[]string{"method"},
		),
		WebhookDeliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "doubleagent_webhook_deliveries_total",
				Help:        "Webhook deliveries reaching a terminal status",
				ConstLabels: labels,
			},
			[]string{"event_type", "status"},
		),
		WebhookAttempts: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "doubleagent_webhook_attempts",
				Help:        "Attempts used per terminal delivery",
				Buckets:     []float64{0, 1, 2, 3, 4, 5},
				ConstLabels: labels,
			},
			[]string{"event_type"},
		),
		IdempotencyHits: factory.NewCounter(prometheus.CounterOpts{
			Name:        "doubleagent_idempotency_hits_total",
			Help:        "Requests replayed from the idempotency cache",
			ConstLabels: labels,
		}),
		IdempotencyMisses: factory.NewCounter(prometheus.CounterOpts{
			Name:        "doubleagent_idempotency_misses_total",
			Help:        "Cacheable requests that ran their handler",
			ConstLabels: labels,
		}),
	}
}

// TrackNamespaces exports the active namespace count, sampled at scrape
// time through the given callback.
func (m *Metrics) TrackNamespaces(count func() float64) {
	m.Registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "doubleagent_namespaces",
		Help:        "Active namespaces",
		ConstLabels: m.labels,
	}, count))
}

// RecordRequest records one served request.
func (m *Metrics) RecordRequest(method, statusClass string, seconds float64) {
	m.RequestTotal.WithLabelValues(method, statusClass).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(seconds)
}

// RecordIdempotency counts a cacheable request as a replay or a miss.
func (m *Metrics) RecordIdempotency(hit bool) {
	if hit {
		m.IdempotencyHits.Inc()
	} else {
		m.IdempotencyMisses.Inc()
	}
}

// RecordDelivery records a webhook delivery that reached terminal status.
func (m *Metrics) RecordDelivery(eventType, status string, attempts int) {
	m.WebhookDeliveries.WithLabelValues(eventType, status).Inc()
	m.WebhookAttempts.WithLabelValues(eventType).Observe(float64(attempts))
}
