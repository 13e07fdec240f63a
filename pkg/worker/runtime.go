package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wisbric/auditloop/pkg/job"
	"github.com/wisbric/auditloop/pkg/webhook"
)

// Config tunes the runtime's polling cadence, grounded on main.py's
// WORKER_POLL_INTERVAL / WORKER_LEASE_SECONDS / WEBHOOK_RETRY_INTERVAL env
// vars (surfaced through internal/config instead of os.Getenv directly).
type Config struct {
	WorkerID             string
	PollInterval         time.Duration
	LeaseSeconds         int
	WebhookRetryInterval time.Duration
}

// OpsNotifier is the optional on-call visibility seam a runtime reaches when
// a job reaches terminal failed status. Nil disables it.
type OpsNotifier interface {
	JobFailed(ctx context.Context, jobID, tenantID uuid.UUID, jobType, lastError string)
}

// Metrics groups the optional Prometheus collectors a Runtime reports to.
// Any field left nil is simply not observed.
type Metrics struct {
	JobsClaimed   *prometheus.CounterVec
	JobsCompleted *prometheus.CounterVec
	JobRetries    *prometheus.CounterVec
	ClaimDuration prometheus.Histogram
}

// Runtime drives the poll loop and the webhook-retry loop as two concurrent
// goroutines, matching asyncio.gather(worker_loop(...), webhook_retry_loop()).
type Runtime struct {
	pool     *pgxpool.Pool
	registry *Registry
	webhooks *webhook.Engine
	cfg      Config
	logger   *slog.Logger
	notifier OpsNotifier
	metrics  Metrics
}

// NewRuntime builds a Runtime. notifier may be nil; metrics fields left
// unset are simply not observed.
func NewRuntime(pool *pgxpool.Pool, registry *Registry, webhooks *webhook.Engine, cfg Config, logger *slog.Logger, notifier OpsNotifier, metrics Metrics) *Runtime {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.LeaseSeconds == 0 {
		cfg.LeaseSeconds = 300
	}
	if cfg.WebhookRetryInterval == 0 {
		cfg.WebhookRetryInterval = 60 * time.Second
	}
	return &Runtime{pool: pool, registry: registry, webhooks: webhooks, cfg: cfg, logger: logger, notifier: notifier, metrics: metrics}
}

// Run blocks until ctx is cancelled, running both loops. On cancellation
// the poll loop finishes whatever job it currently holds before exiting —
// there is no mid-job abort; lease expiry is the safety net for an
// ungraceful stop.
func (r *Runtime) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		r.pollLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		r.webhookRetryLoop(ctx)
	}()

	wg.Wait()
	r.logger.Info("worker runtime shut down", "worker_id", r.cfg.WorkerID)
}

func (r *Runtime) pollLoop(ctx context.Context) {
	r.logger.Info("poll loop started", "worker_id", r.cfg.WorkerID)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("poll loop exiting", "worker_id", r.cfg.WorkerID)
			return
		default:
		}

		claimStart := time.Now()
		j, err := job.Claim(ctx, r.pool, r.cfg.WorkerID, r.cfg.LeaseSeconds)
		if r.metrics.ClaimDuration != nil {
			r.metrics.ClaimDuration.Observe(time.Since(claimStart).Seconds())
		}
		if err != nil {
			r.logger.Error("claiming job", "error", err)
			sleepOrDone(ctx, r.cfg.PollInterval)
			continue
		}
		if j == nil {
			sleepOrDone(ctx, r.cfg.PollInterval)
			continue
		}

		if r.metrics.JobsClaimed != nil {
			r.metrics.JobsClaimed.WithLabelValues(j.Type).Inc()
		}
		r.logger.Info("claimed job", "job_id", j.ID, "type", j.Type, "attempt", j.Attempt)
		r.runJob(ctx, j)
	}
}

// runJob dispatches a claimed job to its handler under a lease-renewal
// side-task, then classifies the outcome into a terminal or requeued state.
//
// The handler and its terminal write run on execCtx, not ctx: §4.9 promises
// the worker finishes its current job rather than aborting mid-job on
// shutdown, so a cancelled ctx must not reach into Handle or the
// MarkDone/MarkFailed/RequeueWithBackoff call that follows it. The poll loop
// already checks ctx.Done() between jobs, which is where shutdown actually
// takes effect.
func (r *Runtime) runJob(ctx context.Context, j *job.Job) {
	execCtx := context.WithoutCancel(ctx)

	renewCtx, stopRenewal := context.WithCancel(ctx)
	defer stopRenewal()

	var renewWG sync.WaitGroup
	renewWG.Add(1)
	go func() {
		defer renewWG.Done()
		r.renewLease(renewCtx, j)
	}()

	handler, ok := r.registry.Lookup(j.Type)
	var handleErr error
	if !ok {
		handleErr = &PermanentError{Err: fmt.Errorf("unknown job type: %s", j.Type)}
	} else {
		handleErr = handler.Handle(execCtx, j)
	}

	stopRenewal()
	renewWG.Wait()

	if handleErr == nil {
		if err := job.MarkDone(execCtx, r.pool, j.ID.String(), r.cfg.WorkerID); err != nil {
			r.logger.Error("marking job done", "job_id", j.ID, "error", err)
		}
		r.logger.Info("job completed", "job_id", j.ID)
		if r.metrics.JobsCompleted != nil {
			r.metrics.JobsCompleted.WithLabelValues(j.Type, "done").Inc()
		}
		return
	}

	classified := classify(handleErr)
	errMsg := classified.Error()

	switch classified.(type) {
	case *TransientError:
		if j.Attempt < j.MaxAttempts {
			if err := job.RequeueWithBackoff(execCtx, r.pool, j.ID.String(), r.cfg.WorkerID); err != nil {
				r.logger.Error("requeuing job", "job_id", j.ID, "error", err)
			}
			r.logger.Warn("job requeued after transient error", "job_id", j.ID, "attempt", j.Attempt, "max_attempts", j.MaxAttempts, "error", errMsg)
			if r.metrics.JobRetries != nil {
				r.metrics.JobRetries.WithLabelValues(j.Type).Inc()
			}
		} else {
			r.failJob(execCtx, j, errMsg)
		}
	default:
		r.failJob(execCtx, j, errMsg)
	}
}

func (r *Runtime) failJob(ctx context.Context, j *job.Job, errMsg string) {
	if err := job.MarkFailed(ctx, r.pool, j.ID.String(), r.cfg.WorkerID, errMsg); err != nil {
		r.logger.Error("marking job failed", "job_id", j.ID, "error", err)
	}
	r.logger.Error("job failed", "job_id", j.ID, "error", errMsg)
	if r.metrics.JobsCompleted != nil {
		r.metrics.JobsCompleted.WithLabelValues(j.Type, "failed").Inc()
	}
	if r.notifier != nil {
		r.notifier.JobFailed(ctx, j.ID, j.TenantID, j.Type, errMsg)
	}
}

// renewLease sends a heartbeat every lease/2 seconds until renewCtx is
// cancelled, matching §4.8's side-task description. A lost lease (renew
// returns false) is logged and the task exits; the stealing worker now
// owns the job and this handler's eventual terminal write will no-op.
func (r *Runtime) renewLease(renewCtx context.Context, j *job.Job) {
	interval := time.Duration(r.cfg.LeaseSeconds/2) * time.Second
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-renewCtx.Done():
			return
		case <-ticker.C:
			ok, err := job.Renew(renewCtx, r.pool, j.ID.String(), r.cfg.WorkerID, r.cfg.LeaseSeconds)
			if err != nil {
				r.logger.Warn("renewing lease", "job_id", j.ID, "error", err)
				continue
			}
			if !ok {
				r.logger.Warn("lease lost, another worker reclaimed this job", "job_id", j.ID)
				return
			}
		}
	}
}

func (r *Runtime) webhookRetryLoop(ctx context.Context) {
	r.logger.Info("webhook retry loop started", "interval", r.cfg.WebhookRetryInterval)
	ticker := time.NewTicker(r.cfg.WebhookRetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("webhook retry loop exiting")
			return
		case <-ticker.C:
			count, err := r.webhooks.Sweep(ctx, 100)
			if err != nil {
				r.logger.Error("webhook retry sweep", "error", err)
				continue
			}
			if count > 0 {
				r.logger.Info("processed webhook retries", "count", count)
			}
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
