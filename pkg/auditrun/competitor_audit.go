package auditrun

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/auditloop/pkg/fetch"
	"github.com/wisbric/auditloop/pkg/job"
	"github.com/wisbric/auditloop/pkg/progress"
	"github.com/wisbric/auditloop/pkg/webhook"
	"github.com/wisbric/auditloop/pkg/worker"
)

// CompetitorAuditHandler scores the job's primary URL against each
// competitor URL in its payload. The source's equivalent (_execute_
// competitor_audit) is an unimplemented stub; this handler completes it,
// supplementing the distilled spec per the teacher's worked examples of
// handler shape.
type CompetitorAuditHandler struct {
	results  *resultStore
	progress *progress.Sink
	webhooks *webhook.Engine
}

// NewCompetitorAuditHandler builds a CompetitorAuditHandler.
func NewCompetitorAuditHandler(pool *pgxpool.Pool, progressSink *progress.Sink, webhooks *webhook.Engine) *CompetitorAuditHandler {
	return &CompetitorAuditHandler{results: &resultStore{pool: pool}, progress: progressSink, webhooks: webhooks}
}

// CompetitorScore is one competitor's comparative result.
type CompetitorScore struct {
	URL   string
	Score int
}

// Handle implements worker.Handler.
func (h *CompetitorAuditHandler) Handle(ctx context.Context, j *job.Job) error {
	url := payloadString(j.Payload, "url")
	tier := payloadString(j.Payload, "tier")
	if tier == "" {
		tier = "basic"
	}
	competitors := payloadStringSlice(j.Payload, "competitors")
	if url == "" {
		return &worker.PermanentError{Err: fmt.Errorf("competitor audit payload missing url")}
	}
	if len(competitors) == 0 {
		return &worker.PermanentError{Err: fmt.Errorf("competitor audit payload missing competitors")}
	}

	fetcher, limiter := newFetcherAndLimiter(tier)
	host := fetch.HostOf(url)

	h.progress.Write(ctx, j.ID, j.WorkID, progress.StageInitializing, 0, fmt.Sprintf("Starting competitor audit for %s", url))

	primaryScore, err := runPhase(ctx, fetcher, limiter, host, url)
	if err != nil {
		h.progress.Write(ctx, j.ID, j.WorkID, progress.StageFailed, 0, fmt.Sprintf("Competitor audit failed: %v", err))
		_ = h.results.markFailed(ctx, j.WorkID)
		return err
	}

	step := 80 / (len(competitors) + 1)
	pct := 10
	scores := make([]CompetitorScore, 0, len(competitors))
	for _, comp := range competitors {
		pct += step
		h.progress.Write(ctx, j.ID, j.WorkID, progress.StageContentAudit, pct, fmt.Sprintf("Scoring competitor %s", comp))

		compHost := fetch.HostOf(comp)
		compScore, err := runPhase(ctx, fetcher, limiter, compHost, comp)
		if err != nil {
			// A single unreachable competitor doesn't sink the whole
			// comparison; it's recorded at zero and the audit continues.
			compScore = 0
		}
		scores = append(scores, CompetitorScore{URL: comp, Score: compScore})
	}

	best := primaryScore
	for _, s := range scores {
		if s.Score > best {
			best = s.Score
		}
	}

	h.progress.Write(ctx, j.ID, j.WorkID, progress.StageCompleted, 100, fmt.Sprintf("Competitor audit completed, primary score %d", primaryScore))

	if err := h.results.markCompleted(ctx, j.WorkID, Result{
		OverallScore:   primaryScore,
		Grade:          calculateGrade(primaryScore),
		TechnicalScore: &primaryScore,
	}); err != nil {
		return err
	}

	fireResultWebhook(ctx, h.webhooks, j.TenantID, j.WorkID, webhook.EventAuditCompleted, map[string]any{
		"status": "completed", "overall_score": primaryScore, "best_competitor_score": best, "competitor_count": len(scores),
	})

	return nil
}
