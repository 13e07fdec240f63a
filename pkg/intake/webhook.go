package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/auditloop/internal/httpserver"
	"github.com/wisbric/auditloop/pkg/tenant"
	"github.com/wisbric/auditloop/pkg/webhook"
)

// WebhookService manages a tenant's webhook subscriptions: SSRF-validated
// creation, tenant-scoped listing/deletion, and delivery history, grounded
// on apps/api/routers/webhooks.py's WebhookService-backed CRUD.
type WebhookService struct {
	store    *webhook.PGStore
	engine   *webhook.Engine
	resolver webhook.Resolver
	logger   *slog.Logger
}

// NewWebhookService builds a WebhookService. resolver may be nil, in which
// case net.DefaultResolver is used.
func NewWebhookService(store *webhook.PGStore, engine *webhook.Engine, resolver webhook.Resolver, logger *slog.Logger) *WebhookService {
	return &WebhookService{store: store, engine: engine, resolver: resolver, logger: logger}
}

// Create validates the subscription URL against the SSRF deny-list, mints a
// fresh signing secret, and persists the subscription.
func (s *WebhookService) Create(ctx context.Context, tenantID uuid.UUID, req CreateWebhookRequest) (WebhookCreatedResponse, error) {
	if err := webhook.ValidateURL(ctx, req.URL, s.resolver); err != nil {
		return WebhookCreatedResponse{}, err
	}

	sub := &webhook.Subscription{
		TenantID: tenantID,
		URL:      req.URL,
		Secret:   webhook.GenerateSecret(),
		Events:   req.Events,
		IsActive: true,
	}
	if err := s.store.CreateSubscription(ctx, sub); err != nil {
		return WebhookCreatedResponse{}, fmt.Errorf("creating webhook subscription: %w", err)
	}

	return WebhookCreatedResponse{
		WebhookResponse: toWebhookResponse(sub),
		Secret:          sub.Secret,
	}, nil
}

// List returns every subscription for tenantID.
func (s *WebhookService) List(ctx context.Context, tenantID uuid.UUID) ([]WebhookResponse, error) {
	subs, err := s.store.ListSubscriptions(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing webhook subscriptions: %w", err)
	}
	out := make([]WebhookResponse, 0, len(subs))
	for _, sub := range subs {
		out = append(out, toWebhookResponse(sub))
	}
	return out, nil
}

// Get loads a subscription scoped to tenantID. Returns (nil, nil) if absent
// or owned by a different tenant.
func (s *WebhookService) Get(ctx context.Context, tenantID, id uuid.UUID) (*WebhookResponse, error) {
	sub, err := s.ownedSubscription(ctx, tenantID, id)
	if err != nil || sub == nil {
		return nil, err
	}
	resp := toWebhookResponse(sub)
	return &resp, nil
}

// Delete removes a subscription scoped to tenantID.
func (s *WebhookService) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	if err := s.store.DeleteSubscription(ctx, id, tenantID); err != nil {
		return fmt.Errorf("deleting webhook subscription: %w", err)
	}
	return nil
}

// Deliveries returns delivery history for a subscription owned by tenantID.
func (s *WebhookService) Deliveries(ctx context.Context, tenantID, id uuid.UUID, limit int) ([]DeliveryResponse, error) {
	sub, err := s.ownedSubscription(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, nil
	}

	deliveries, err := s.store.ListDeliveries(ctx, id, limit)
	if err != nil {
		return nil, fmt.Errorf("listing webhook deliveries: %w", err)
	}
	out := make([]DeliveryResponse, 0, len(deliveries))
	for _, d := range deliveries {
		out = append(out, DeliveryResponse{
			ID:           d.ID,
			EventType:    d.EventType,
			Status:       string(d.Status),
			Attempts:     d.Attempts,
			ResponseCode: d.ResponseCode,
			ErrorMessage: d.ErrorMessage,
			CreatedAt:    d.CreatedAt,
			DeliveredAt:  d.DeliveredAt,
		})
	}
	return out, nil
}

// SendTest fires a synthetic event at a subscription owned by tenantID to
// let the caller verify it without waiting for a real audit event.
func (s *WebhookService) SendTest(ctx context.Context, tenantID, id uuid.UUID) (*TestWebhookResponse, error) {
	sub, err := s.ownedSubscription(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, nil
	}

	delivery, err := s.engine.SendTest(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("sending test webhook: %w", err)
	}

	// The engine's narrow Store interface doesn't report back the delivered
	// status from a fire-and-forget SendTest; re-read the persisted row so
	// the caller sees the actual outcome of the attempt just made.
	persisted, err := s.store.GetSubscription(ctx, id)
	status := "pending"
	if err == nil && persisted != nil {
		if deliveries, err := s.store.ListDeliveries(ctx, id, 1); err == nil && len(deliveries) > 0 {
			status = string(deliveries[0].Status)
		}
	}

	return &TestWebhookResponse{DeliveryID: delivery.ID, Status: status}, nil
}

func (s *WebhookService) ownedSubscription(ctx context.Context, tenantID, id uuid.UUID) (*webhook.Subscription, error) {
	sub, err := s.store.GetSubscription(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading webhook subscription: %w", err)
	}
	if sub == nil || sub.TenantID != tenantID {
		return nil, nil
	}
	return sub, nil
}

func toWebhookResponse(sub *webhook.Subscription) WebhookResponse {
	return WebhookResponse{
		ID:        sub.ID,
		URL:       sub.URL,
		Events:    sub.Events,
		IsActive:  sub.IsActive,
		CreatedAt: sub.CreatedAt,
	}
}

// WebhookHandler exposes WebhookService over HTTP, mounted under the
// tenant-authenticated /api/v1 surface.
type WebhookHandler struct {
	logger  *slog.Logger
	service *WebhookService
}

// NewWebhookHandler builds a WebhookHandler.
func NewWebhookHandler(logger *slog.Logger, service *WebhookService) *WebhookHandler {
	return &WebhookHandler{logger: logger, service: service}
}

// Routes returns a chi.Router with all webhook subscription routes mounted.
func (h *WebhookHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Delete("/", h.handleDelete)
		r.Get("/deliveries", h.handleDeliveries)
		r.Post("/test", h.handleTest)
	})
	return r
}

func (h *WebhookHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateWebhookRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	t := tenant.FromContext(r.Context())
	resp, err := h.service.Create(r.Context(), t.ID, req)
	if err != nil {
		h.logger.Warn("creating webhook subscription", "error", err, "tenant_id", t.ID)
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_webhook", err.Error())
		return
	}

	httpserver.Respond(w, http.StatusCreated, resp)
}

func (h *WebhookHandler) handleList(w http.ResponseWriter, r *http.Request) {
	t := tenant.FromContext(r.Context())
	items, err := h.service.List(r.Context(), t.ID)
	if err != nil {
		h.logger.Error("listing webhook subscriptions", "error", err, "tenant_id", t.ID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list webhooks")
		return
	}

	httpserver.Respond(w, http.StatusOK, items)
}

func (h *WebhookHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid webhook ID")
		return
	}

	t := tenant.FromContext(r.Context())
	resp, err := h.service.Get(r.Context(), t.ID, id)
	if err != nil {
		h.logger.Error("getting webhook subscription", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to get webhook")
		return
	}
	if resp == nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "webhook not found")
		return
	}

	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *WebhookHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid webhook ID")
		return
	}

	t := tenant.FromContext(r.Context())
	if err := h.service.Delete(r.Context(), t.ID, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "webhook not found")
			return
		}
		h.logger.Error("deleting webhook subscription", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to delete webhook")
		return
	}

	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *WebhookHandler) handleDeliveries(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid webhook ID")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
			return
		}
		if n > 200 {
			n = 200
		}
		limit = n
	}

	t := tenant.FromContext(r.Context())
	items, err := h.service.Deliveries(r.Context(), t.ID, id, limit)
	if err != nil {
		h.logger.Error("listing webhook deliveries", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list deliveries")
		return
	}
	if items == nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "webhook not found")
		return
	}

	httpserver.Respond(w, http.StatusOK, items)
}

func (h *WebhookHandler) handleTest(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid webhook ID")
		return
	}

	t := tenant.FromContext(r.Context())
	resp, err := h.service.SendTest(r.Context(), t.ID, id)
	if err != nil {
		h.logger.Warn("sending test webhook", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "webhook not found")
		return
	}
	if resp == nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "webhook not found")
		return
	}

	httpserver.Respond(w, http.StatusOK, resp)
}
