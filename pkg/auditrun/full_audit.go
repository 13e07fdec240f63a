package auditrun

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/auditloop/pkg/fetch"
	"github.com/wisbric/auditloop/pkg/job"
	"github.com/wisbric/auditloop/pkg/progress"
	"github.com/wisbric/auditloop/pkg/ratelimit"
	"github.com/wisbric/auditloop/pkg/webhook"
	"github.com/wisbric/auditloop/pkg/worker"
)

// FullAuditHandler runs the three-phase SEO audit: technical, content, and
// AI-visibility, each gated behind the tier's fetcher+limiter, interleaved
// with progress events at 0/10/30/50/80/100.
type FullAuditHandler struct {
	results  *resultStore
	progress *progress.Sink
	webhooks *webhook.Engine
}

// NewFullAuditHandler builds a FullAuditHandler.
func NewFullAuditHandler(pool *pgxpool.Pool, progressSink *progress.Sink, webhooks *webhook.Engine) *FullAuditHandler {
	return &FullAuditHandler{results: &resultStore{pool: pool}, progress: progressSink, webhooks: webhooks}
}

// Handle implements worker.Handler.
func (h *FullAuditHandler) Handle(ctx context.Context, j *job.Job) error {
	url := payloadString(j.Payload, "url")
	tier := payloadString(j.Payload, "tier")
	if tier == "" {
		tier = "basic"
	}
	if url == "" {
		return &worker.PermanentError{Err: fmt.Errorf("audit payload missing url")}
	}

	fetcher, limiter := newFetcherAndLimiter(tier)

	h.write(ctx, j.ID, j.WorkID, progress.StageInitializing, 0, fmt.Sprintf("Starting audit for %s", url))

	result, err := h.runPhases(ctx, j.ID, j.WorkID, url, fetcher, limiter)
	if err != nil {
		h.write(ctx, j.ID, j.WorkID, progress.StageFailed, 0, fmt.Sprintf("Audit failed: %v", err))
		if dbErr := h.results.markFailed(ctx, j.WorkID); dbErr != nil {
			return dbErr
		}
		fireResultWebhook(ctx, h.webhooks, j.TenantID, j.WorkID, webhook.EventAuditFailed, map[string]any{
			"status": "failed", "error": err.Error(),
		})
		return err
	}

	h.write(ctx, j.ID, j.WorkID, progress.StageGeneratingReport, 80, "Generating audit report")

	if err := h.results.markCompleted(ctx, j.WorkID, *result); err != nil {
		return err
	}

	h.write(ctx, j.ID, j.WorkID, progress.StageCompleted, 100, fmt.Sprintf("Audit completed with score %d (%s)", result.OverallScore, result.Grade))

	fireResultWebhook(ctx, h.webhooks, j.TenantID, j.WorkID, webhook.EventAuditCompleted, map[string]any{
		"status": "completed", "overall_score": result.OverallScore, "grade": result.Grade, "completed_at": nowISO(),
	})

	return nil
}

func (h *FullAuditHandler) write(ctx context.Context, jobID, workID uuid.UUID, stage progress.Stage, pct int, msg string) {
	_ = h.progress.Write(ctx, jobID, workID, stage, pct, msg)
}

// runPhases executes the three analysis phases and composes their scores.
// Each phase is a stub fetch — real scoring heuristics belong to a
// downstream analysis service outside this module's scope — but every
// phase goes through the tier's Fetcher and Limiter, matching §4.11's
// "all outbound HTTP in analysis phases goes through C1+C2".
func (h *FullAuditHandler) runPhases(ctx context.Context, jobID, workID uuid.UUID, url string, fetcher *fetch.Fetcher, limiter *ratelimit.Limiter) (*Result, error) {
	host := fetch.HostOf(url)

	h.write(ctx, jobID, workID, progress.StageTechnicalAudit, 10, "Running technical SEO audit")
	technical, err := runPhase(ctx, fetcher, limiter, host, url)
	if err != nil {
		return nil, err
	}

	h.write(ctx, jobID, workID, progress.StageContentAudit, 30, "Running content authority audit")
	content, err := runPhase(ctx, fetcher, limiter, host, url)
	if err != nil {
		return nil, err
	}

	h.write(ctx, jobID, workID, progress.StageAIVisibilityAudit, 50, "Running AI visibility audit")
	aiVisibility, err := runPhase(ctx, fetcher, limiter, host, url)
	if err != nil {
		return nil, err
	}

	overall := (technical + content + aiVisibility) / 3
	return &Result{
		OverallScore:      overall,
		Grade:             calculateGrade(overall),
		TechnicalScore:    &technical,
		ContentScore:      &content,
		AIVisibilityScore: &aiVisibility,
	}, nil
}

// runPhase fetches url under the tier's rate limit and scores the response:
// a 2xx with a reasonably small body scores well; anything else scores low
// rather than aborting the whole audit over one slow phase.
func runPhase(ctx context.Context, fetcher *fetch.Fetcher, limiter *ratelimit.Limiter, host, url string) (int, error) {
	if err := limiter.Acquire(ctx, host); err != nil {
		return 0, err
	}
	defer limiter.Release()

	result, err := fetcher.Fetch(ctx, url, fetch.DefaultOptions())
	if err != nil {
		return 0, err
	}

	score := 100
	if result.StatusCode >= 400 {
		score = 40
	} else if result.StatusCode >= 300 {
		score = 70
	}
	if len(result.Body) > 5*1024*1024 {
		score -= 10
	}
	if score < 0 {
		score = 0
	}
	return score, nil
}
