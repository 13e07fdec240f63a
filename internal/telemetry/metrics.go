package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var JobsClaimedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "auditloop",
		Subsystem: "jobs",
		Name:      "claimed_total",
		Help:      "Total number of jobs claimed by a worker, by job type.",
	},
	[]string{"type"},
)

var JobsCompletedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "auditloop",
		Subsystem: "jobs",
		Name:      "completed_total",
		Help:      "Total number of jobs that reached a terminal state, by type and outcome.",
	},
	[]string{"type", "outcome"},
)

var JobQueueDepth = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "auditloop",
		Subsystem: "jobs",
		Name:      "queue_depth",
		Help:      "Number of jobs currently queued or running, by status.",
	},
	[]string{"status"},
)

var JobClaimDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "auditloop",
		Subsystem: "jobs",
		Name:      "claim_duration_seconds",
		Help:      "Time spent in the SELECT FOR UPDATE SKIP LOCKED claim query.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	},
)

var JobRetriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "auditloop",
		Subsystem: "jobs",
		Name:      "retries_total",
		Help:      "Total number of jobs requeued after a transient failure, by type.",
	},
	[]string{"type"},
)

var WebhookDeliveriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "auditloop",
		Subsystem: "webhook",
		Name:      "deliveries_total",
		Help:      "Total number of webhook delivery attempts, by outcome.",
	},
	[]string{"outcome"},
)

var WebhookRetryQueueDepth = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "auditloop",
		Subsystem: "webhook",
		Name:      "retry_queue_depth",
		Help:      "Number of webhook deliveries currently pending retry.",
	},
)

var QuotaRejectionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "auditloop",
		Subsystem: "quota",
		Name:      "rejections_total",
		Help:      "Total number of audit requests rejected for exceeding quota, by quota type.",
	},
	[]string{"quota_type"},
)

var FetchBlockedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "auditloop",
		Subsystem: "fetch",
		Name:      "blocked_total",
		Help:      "Total number of outbound fetches blocked by SSRF validation, by reason.",
	},
	[]string{"reason"},
)

var FetchDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "auditloop",
		Subsystem: "fetch",
		Name:      "duration_seconds",
		Help:      "Outbound fetch duration in seconds, by outcome.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	},
	[]string{"outcome"},
)

var RateLimitWaitDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "auditloop",
		Subsystem: "ratelimit",
		Name:      "wait_duration_seconds",
		Help:      "Time a fetch spent waiting on the per-host rate limiter before acquiring.",
		Buckets:   []float64{0, 0.1, 0.5, 1, 2, 5, 10},
	},
)

var IdempotencyHitsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "auditloop",
		Subsystem: "idempotency",
		Name:      "hits_total",
		Help:      "Total number of idempotency lookups, by source (cache or db) and result.",
	},
	[]string{"source", "result"},
)

var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "auditloop",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds, by method, route, and status.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "route", "status"},
)

// All returns every auditloop metric for registration with a Prometheus
// registry.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		JobsClaimedTotal,
		JobsCompletedTotal,
		JobQueueDepth,
		JobClaimDuration,
		JobRetriesTotal,
		WebhookDeliveriesTotal,
		WebhookRetryQueueDepth,
		QuotaRejectionsTotal,
		FetchBlockedTotal,
		FetchDuration,
		RateLimitWaitDuration,
		IdempotencyHitsTotal,
		HTTPRequestDuration,
	}
}

// NewRegistry builds a Prometheus registry carrying the Go/process default
// collectors plus every collector in All().
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(All()...)
	return reg
}
