// Package metrics holds the Prometheus instruments for the service. Business
// counters are incremented by the consent service; the latency histogram is
// driven by HTTP middleware.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	ConsentsCreated    prometheus.Counter
	ConsentsRevoked    prometheus.Counter
	ConsentsStatusPoll prometheus.Counter
	RequestLatency     *prometheus.HistogramVec
	AuditEventsDropped prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		ConsentsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consents_created_total",
			Help: "Total number of consents successfully created",
		}),
		ConsentsRevoked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consents_revoked_total",
			Help: "Total number of consents successfully revoked",
		}),
		ConsentsStatusPoll: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consents_status_poll_total",
			Help: "Total number of consent status polls",
		}),
		RequestLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name: "request_latency_seconds",
			Help: "HTTP request latency in seconds",
		}, []string{"route", "status_code"}),
		AuditEventsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consent_audit_events_dropped_total",
			Help: "Audit events dropped because the buffer was full",
		}),
	}
}

// NewForTest creates metrics on a private registry so parallel test packages
// don't collide on the default registerer.
func NewForTest() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		ConsentsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "consents_created_total",
			Help: "Total number of consents successfully created",
		}),
		ConsentsRevoked: factory.NewCounter(prometheus.CounterOpts{
			Name: "consents_revoked_total",
			Help: "Total number of consents successfully revoked",
		}),
		ConsentsStatusPoll: factory.NewCounter(prometheus.CounterOpts{
			Name: "consents_status_poll_total",
			Help: "Total number of consent status polls",
		}),
		RequestLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name: "request_latency_seconds",
			Help: "HTTP request latency in seconds",
		}, []string{"route", "status_code"}),
		AuditEventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "consent_audit_events_dropped_total",
			Help: "Audit events dropped because the buffer was full",
		}),
	}
}
