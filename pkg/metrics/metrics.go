// Package metrics exposes FetchBox's observability surface as Prometheus
// collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ingest metrics
	JobsAccepted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetchbox_jobs_accepted_total",
			Help: "Total number of jobs accepted by tenant",
		},
		[]string{"tenant"},
	)

	JobsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetchbox_jobs_failed_total",
			Help: "Total number of jobs that failed ingest by tenant and reason",
		},
		[]string{"tenant", "code"},
	)

	TasksPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetchbox_tasks_published_total",
			Help: "Total number of tasks published to the broker by tenant",
		},
		[]string{"tenant"},
	)

	IdempotentHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetchbox_idempotent_hits_total",
			Help: "Total number of POST /jobs requests short-circuited by idempotency",
		},
		[]string{"tenant"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetchbox_api_requests_total",
			Help: "Total number of API requests by method, path and status",
		},
		[]string{"method", "path", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fetchbox_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Queue / broker metrics
	QueueCurrentSeq = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fetchbox_queue_current_seq",
			Help: "Current queue sequence counter value",
		},
	)

	DLQDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fetchbox_dlq_depth",
			Help: "Number of entries currently in the dead-letter partition",
		},
	)

	InboxDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fetchbox_broker_inbox_depth",
			Help: "Number of envelopes currently buffered in a worker inbox",
		},
		[]string{"worker"},
	)

	InboxClosedDrops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fetchbox_broker_inbox_closed_drops_total",
			Help: "Total number of enqueues that found their target inbox closed",
		},
	)

	// Ledger maintenance metrics
	LedgerPrunedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetchbox_ledger_pruned_total",
			Help: "Total number of entries pruned by partition",
		},
		[]string{"partition"},
	)
)

func init() {
	prometheus.MustRegister(
		JobsAccepted,
		JobsFailed,
		TasksPublished,
		IdempotentHits,
		APIRequestsTotal,
		APIRequestDuration,
		QueueCurrentSeq,
		DLQDepth,
		InboxDepth,
		InboxClosedDrops,
		LedgerPrunedTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration directly to a
// standalone histogram (one with no label dimensions).
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
