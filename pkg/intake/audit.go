package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/auditloop/internal/httpserver"
	"github.com/wisbric/auditloop/pkg/auditrun"
	"github.com/wisbric/auditloop/pkg/idempotency"
	"github.com/wisbric/auditloop/pkg/job"
	"github.com/wisbric/auditloop/pkg/progress"
	"github.com/wisbric/auditloop/pkg/quota"
	"github.com/wisbric/auditloop/pkg/tenant"
	"github.com/wisbric/auditloop/pkg/webhook"
)

// AuditService enqueues audit jobs and reports their status, folding
// duplicate submissions onto the job already in flight rather than starting
// a second one, grounded on api_server.py's start_audit/get_audit_status.
type AuditService struct {
	pool     *pgxpool.Pool
	jobs     *job.Store
	quota    *quota.Service
	idem     *idempotency.Cache
	progress *progress.Sink
	webhooks *webhook.Engine
	logger   *slog.Logger
}

// NewAuditService builds an AuditService.
func NewAuditService(pool *pgxpool.Pool, jobs *job.Store, quotaSvc *quota.Service, idem *idempotency.Cache, progressSink *progress.Sink, webhooks *webhook.Engine, logger *slog.Logger) *AuditService {
	return &AuditService{pool: pool, jobs: jobs, quota: quotaSvc, idem: idem, progress: progressSink, webhooks: webhooks, logger: logger}
}

// Enqueue resolves the idempotency fingerprint for (tenantID, url, options),
// folds onto an in-flight duplicate if one exists, otherwise enforces quota
// and inserts a fresh job. A *quota.ExceededError is returned unwrapped so
// the handler can respond 429 with details.
func (s *AuditService) Enqueue(ctx context.Context, t *tenant.Info, req CreateAuditRequest) (AuditResponse, error) {
	jobType := req.Type
	if jobType == "" {
		jobType = defaultAuditType
	}

	options := req.Options
	if options == nil {
		options = map[string]any{}
	}

	fingerprint, err := idempotency.Fingerprint(t.ID, req.URL, options)
	if err != nil {
		return AuditResponse{}, fmt.Errorf("computing idempotency fingerprint: %w", err)
	}

	if jobID, ok := s.idem.Lookup(ctx, fingerprint); ok {
		existing, err := s.jobs.Get(ctx, jobID)
		if err == nil && existing != nil {
			return s.toResponse(existing, true), nil
		}
		// Cache pointed at a job that's gone (or a transient read error):
		// fall through to the DB check below rather than failing the request.
	}

	if existing, err := s.jobs.FindActiveByIdempotencyKey(ctx, fingerprint); err != nil {
		return AuditResponse{}, fmt.Errorf("checking for in-flight duplicate: %w", err)
	} else if existing != nil {
		s.idem.Record(ctx, fingerprint, existing.ID)
		return s.toResponse(existing, true), nil
	}

	if _, err := s.quota.Enforce(ctx, t.ID); err != nil {
		return AuditResponse{}, err
	}

	payload := map[string]any{"url": req.URL, "tier": t.Tier}
	if len(req.Competitors) > 0 {
		payload["competitors"] = toAnySlice(req.Competitors)
	}
	for k, v := range options {
		if _, exists := payload[k]; !exists {
			payload[k] = v
		}
	}

	j := &job.Job{
		ID:             uuid.New(),
		TenantID:       t.ID,
		WorkID:         uuid.New(),
		Type:           jobType,
		Payload:        payload,
		IdempotencyKey: fingerprint,
	}

	if err := s.jobs.Enqueue(ctx, j); err != nil {
		return AuditResponse{}, fmt.Errorf("enqueuing audit job: %w", err)
	}

	if err := s.quota.Increment(ctx, t.ID); err != nil {
		s.logger.Warn("incrementing quota usage after enqueue", "error", err, "tenant_id", t.ID)
	}
	s.idem.Record(ctx, fingerprint, j.ID)

	_, _ = s.webhooks.FireEvent(ctx, t.ID, webhook.EventAuditStarted, map[string]any{
		"work_id": j.WorkID.String(),
		"url":     req.URL,
		"status":  "queued",
	})

	reloaded, err := s.jobs.Get(ctx, j.ID)
	if err != nil || reloaded == nil {
		return s.toResponse(j, false), nil
	}
	return s.toResponse(reloaded, false), nil
}

// Get loads the job behind workID, scoped to tenantID. Returns (nil, nil)
// if absent or owned by a different tenant.
func (s *AuditService) Get(ctx context.Context, tenantID, workID uuid.UUID) (*AuditResponse, error) {
	j, err := s.jobs.GetByWorkID(ctx, tenantID, workID)
	if err != nil {
		return nil, fmt.Errorf("loading audit: %w", err)
	}
	if j == nil {
		return nil, nil
	}
	resp := s.toResponse(j, false)

	if j.Status == job.StatusDone {
		if result, err := auditrun.Scores(ctx, s.pool, workID); err != nil {
			s.logger.Warn("loading audit scores", "error", err, "work_id", workID)
		} else if result != nil {
			resp.OverallScore = &result.OverallScore
			resp.Grade = &result.Grade
			resp.TechnicalScore = result.TechnicalScore
			resp.ContentScore = result.ContentScore
			resp.AIVisibilityScore = result.AIVisibilityScore
		}
	}

	return &resp, nil
}

// List returns the most recent audits for tenantID, newest first.
func (s *AuditService) List(ctx context.Context, tenantID uuid.UUID, limit int) ([]AuditResponse, error) {
	jobs, err := s.jobs.ListByTenant(ctx, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing audits: %w", err)
	}
	out := make([]AuditResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, s.toResponse(j, false))
	}
	return out, nil
}

// Progress returns the progress timeline for workID, scoped to tenantID.
func (s *AuditService) Progress(ctx context.Context, tenantID, workID uuid.UUID) ([]ProgressResponse, error) {
	j, err := s.jobs.GetByWorkID(ctx, tenantID, workID)
	if err != nil {
		return nil, fmt.Errorf("loading audit: %w", err)
	}
	if j == nil {
		return nil, nil
	}

	events, err := s.progress.List(ctx, workID)
	if err != nil {
		return nil, fmt.Errorf("loading progress: %w", err)
	}
	out := make([]ProgressResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, ProgressResponse{
			Stage:     string(ev.Stage),
			Percent:   ev.Percent,
			Message:   ev.Message,
			CreatedAt: ev.CreatedAt,
		})
	}
	return out, nil
}

func (s *AuditService) toResponse(j *job.Job, deduped bool) AuditResponse {
	return AuditResponse{
		WorkID:    j.WorkID,
		Status:    string(j.Status),
		Type:      j.Type,
		URL:       payloadURL(j.Payload),
		Attempt:   j.Attempt,
		QueuedAt:  j.QueuedAt,
		StartedAt: j.StartedAt,
		Finished:  j.FinishedAt,
		LastError: j.LastError,
		Deduped:   deduped,
	}
}

func payloadURL(payload map[string]any) string {
	if v, ok := payload["url"]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func toAnySlice(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

// AuditHandler exposes AuditService over HTTP, mounted under the
// tenant-authenticated /api/v1 surface.
type AuditHandler struct {
	logger  *slog.Logger
	service *AuditService
}

// NewAuditHandler builds an AuditHandler.
func NewAuditHandler(logger *slog.Logger, service *AuditService) *AuditHandler {
	return &AuditHandler{logger: logger, service: service}
}

// Routes returns a chi.Router with all audit routes mounted.
func (h *AuditHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
	r.Get("/{id}/progress", h.handleProgress)
	return r
}

func (h *AuditHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateAuditRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	t := tenant.FromContext(r.Context())
	resp, err := h.service.Enqueue(r.Context(), t, req)
	if err != nil {
		var exceeded *quota.ExceededError
		if errors.As(err, &exceeded) {
			httpserver.Respond(w, http.StatusTooManyRequests, map[string]any{
				"error":      "quota_exceeded",
				"message":    exceeded.Message,
				"quota_type": exceeded.QuotaType,
				"limit":      exceeded.Limit,
				"used":       exceeded.Used,
			})
			return
		}
		h.logger.Error("enqueuing audit", "error", err, "tenant_id", t.ID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to submit audit")
		return
	}

	status := http.StatusAccepted
	if resp.Deduped {
		status = http.StatusOK
	}
	httpserver.Respond(w, status, resp)
}

func (h *AuditHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	workID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid audit ID")
		return
	}

	t := tenant.FromContext(r.Context())
	resp, err := h.service.Get(r.Context(), t.ID, workID)
	if err != nil {
		h.logger.Error("getting audit", "error", err, "work_id", workID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to get audit")
		return
	}
	if resp == nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "audit not found")
		return
	}

	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *AuditHandler) handleList(w http.ResponseWriter, r *http.Request) {
	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	t := tenant.FromContext(r.Context())
	items, err := h.service.List(r.Context(), t.ID, params.PageSize)
	if err != nil {
		h.logger.Error("listing audits", "error", err, "tenant_id", t.ID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list audits")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"audits": items,
		"count":  len(items),
	})
}

func (h *AuditHandler) handleProgress(w http.ResponseWriter, r *http.Request) {
	workID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid audit ID")
		return
	}

	t := tenant.FromContext(r.Context())
	events, err := h.service.Progress(r.Context(), t.ID, workID)
	if err != nil {
		h.logger.Error("getting audit progress", "error", err, "work_id", workID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to get progress")
		return
	}
	if events == nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "audit not found")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{"events": events})
}
