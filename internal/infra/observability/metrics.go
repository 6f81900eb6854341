package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Operation status labels.
const (
	StatusSuccess  = "success"
	StatusRejected = "rejected"
	StatusError    = "error"
)

// Metrics holds all Prometheus metrics for the ledger.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	operationDuration *prometheus.HistogramVec
	operationsTotal   *prometheus.CounterVec
	rejectionsTotal   *prometheus.CounterVec
	notifyFailures    *prometheus.CounterVec
	lockWait          prometheus.Histogram
	idempotentReplays prometheus.Counter
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// ledger metrics in it. A private registry keeps repeated calls (tests)
// from panicking on duplicate collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_operation_duration_seconds",
				Help:    "Duration of ledger use cases by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_operations_total",
				Help: "Ledger operations by kind and outcome.",
			},
			[]string{"operation", "status"},
		),
		rejectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_rejections_total",
				Help: "Business rule rejections by reason.",
			},
			[]string{"reason"},
		),
		notifyFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_notification_failures_total",
				Help: "Notifications that could not be delivered.",
			},
			[]string{"notifier"},
		),
		lockWait: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ledger_lock_wait_seconds",
				Help:    "Time spent waiting for account locks.",
				Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
			},
		),
		idempotentReplays: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_idempotent_replays_total",
				Help: "Transfers answered from the idempotency cache.",
			},
		),
	}
}

// RecordOperation records the duration and outcome of a use case.
func (m *Metrics) RecordOperation(operation, status string, d time.Duration) {
	m.operationDuration.WithLabelValues(operation).Observe(d.Seconds())
	m.operationsTotal.WithLabelValues(operation, status).Inc()
}

// IncrRejection counts a business rule rejection.
func (m *Metrics) IncrRejection(reason string) {
	m.rejectionsTotal.WithLabelValues(reason).Inc()
}

// IncrNotifyFailure counts a failed notification.
func (m *Metrics) IncrNotifyFailure(notifier string) {
	m.notifyFailures.WithLabelValues(notifier).Inc()
}

// ObserveLockWait records how long a caller waited for account locks.
func (m *Metrics) ObserveLockWait(d time.Duration) {
	m.lockWait.Observe(d.Seconds())
}

// IncrIdempotentReplay counts a transfer served from the idempotency cache.
func (m *Metrics) IncrIdempotentReplay() {
	m.idempotentReplays.Inc()
}

// OperationCount returns the current value of ledger_operations_total for
// the given labels.
func (m *Metrics) OperationCount(operation, status string) float64 {
	return counterValue(m.operationsTotal.WithLabelValues(operation, status))
}

// IdempotentReplayCount returns the current value of
// ledger_idempotent_replays_total.
func (m *Metrics) IdempotentReplayCount() float64 {
	return counterValue(m.idempotentReplays)
}

// RejectionCount returns the current value of ledger_rejections_total.
func (m *Metrics) RejectionCount(reason string) float64 {
	return counterValue(m.rejectionsTotal.WithLabelValues(reason))
}

// counterValue extracts the current float64 value of a counter.
func counterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
