package auditrun

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/auditloop/pkg/job"
	"github.com/wisbric/auditloop/pkg/progress"
)

// HelloAuditHandler is a minimal smoke-test handler: it writes an
// initializing and a completed progress event and marks the work done,
// without any outbound HTTP. Useful for exercising the worker runtime,
// claim/lease protocol, and progress sink end to end without a live target.
type HelloAuditHandler struct {
	results  *resultStore
	progress *progress.Sink
}

// NewHelloAuditHandler builds a HelloAuditHandler.
func NewHelloAuditHandler(pool *pgxpool.Pool, progressSink *progress.Sink) *HelloAuditHandler {
	return &HelloAuditHandler{results: &resultStore{pool: pool}, progress: progressSink}
}

// Handle implements worker.Handler.
func (h *HelloAuditHandler) Handle(ctx context.Context, j *job.Job) error {
	_ = h.progress.Write(ctx, j.ID, j.WorkID, progress.StageInitializing, 0, "hello audit starting")
	_ = h.progress.Write(ctx, j.ID, j.WorkID, progress.StageCompleted, 100, "hello audit done")

	return h.results.markCompleted(ctx, j.WorkID, Result{OverallScore: 100, Grade: "A"})
}
