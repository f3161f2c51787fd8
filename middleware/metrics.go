// Package middleware provides decorators over corral.Repository: Instrumented
// adds structured logging, OpenTelemetry spans, and Prometheus metrics per
// operation; Breaker adds a circuit breaker that opens on backend failures
// while letting local contract violations pass untallied.
package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the Prometheus instruments the Instrumented decorator
// records into. One collector can be shared by several repositories.
type Collector struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewCollector builds and registers the repository instruments. It panics on
// duplicate registration, like every MustRegister.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corral_repository_operations_total",
				Help: "Repository operations by operation and outcome.",
			},
			[]string{"operation", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "corral_repository_operation_duration_seconds",
				Help:    "Repository operation latency.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
	reg.MustRegister(c.operations, c.duration)
	return c
}

// observe records one completed operation. A nil collector records nothing,
// so metrics stay optional on the decorator.
func (c *Collector) observe(op string, d time.Duration, err error) {
	if c == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.operations.WithLabelValues(op, status).Inc()
	c.duration.WithLabelValues(op).Observe(d.Seconds())
}
