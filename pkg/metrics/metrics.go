package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	// HTTP
	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec

	// Association domain
	AssociationMutations *prometheus.CounterVec
	Transfers            *prometheus.CounterVec
	TransferLatency      prometheus.Histogram
	Rollbacks            *prometheus.CounterVec
	ResolverWrites       prometheus.Counter

	// Branch directory
	DirectoryCalls   *prometheus.CounterVec
	DirectoryLatency *prometheus.HistogramVec

	// Outbox related metrics
	OutboxEventsProcessed   prometheus.Counter
	OutboxEventsFailed      prometheus.Counter
	OutboxProcessingLatency prometheus.Histogram
	OutboxRetries           *prometheus.CounterVec
}

// NewMetrics creates all application metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer, namespace, subsystem string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		AssociationMutations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "association_mutations_total",
			Help:      "Total number of association mutations by operation and outcome",
		}, []string{"operation", "status"}),
		Transfers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "transfers_total",
			Help:      "Total number of transfers by type and final status",
		}, []string{"type", "status"}),
		TransferLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "transfer_duration_seconds",
			Help:      "Time spent applying transfers",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		Rollbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "transfer_rollbacks_total",
			Help:      "Total number of transfer rollbacks by outcome",
		}, []string{"status"}),
		ResolverWrites: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "primary_branch_writes_total",
			Help:      "Total number of doctor rows rewritten by the primary branch resolver",
		}),

		DirectoryCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "directory_calls_total",
			Help:      "Total number of branch directory calls",
		}, []string{"operation", "status"}),
		DirectoryLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "directory_call_duration_seconds",
			Help:      "Duration of branch directory calls",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"operation"}),

		OutboxEventsProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "outbox_events_processed_total",
			Help:      "Total number of successfully processed outbox events",
		}),
		OutboxEventsFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "outbox_events_failed_total",
			Help:      "Total number of failed outbox events",
		}),
		OutboxProcessingLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "outbox_processing_duration_seconds",
			Help:      "Time spent processing outbox events",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		OutboxRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "outbox_retry_attempts_total",
			Help:      "Total number of retry attempts for outbox events",
		}, []string{"event_type"}),
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) ObserveHTTP(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
	m.HTTPLatency.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) ObserveMutation(operation string, err error) {
	if m == nil {
		return
	}
	m.AssociationMutations.WithLabelValues(operation, outcome(err)).Inc()
}

func (m *Metrics) ObserveTransfer(transferType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.Transfers.WithLabelValues(transferType, status).Inc()
	m.TransferLatency.Observe(d.Seconds())
}

func (m *Metrics) ObserveRollback(err error) {
	if m == nil {
		return
	}
	m.Rollbacks.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) ObserveResolverWrite() {
	if m == nil {
		return
	}
	m.ResolverWrites.Inc()
}

func (m *Metrics) ObserveDirectory(operation string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.DirectoryCalls.WithLabelValues(operation, outcome(err)).Inc()
	m.DirectoryLatency.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *Metrics) ObserveOutbox(eventType string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.OutboxProcessingLatency.Observe(d.Seconds())
	if err != nil {
		m.OutboxEventsFailed.Inc()
		m.OutboxRetries.WithLabelValues(eventType).Inc()
		return
	}
	m.OutboxEventsProcessed.Inc()
}
