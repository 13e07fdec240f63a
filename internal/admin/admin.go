// Package admin wires the operator-facing HTTP surface: tenant
// provisioning, tier/quota management, and API key issuance. Mounted
// behind internal/adminauth.RequireAdmin, never behind pkg/tenant's
// per-tenant authentication — an operator is not a tenant.
package admin

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/auditloop/internal/httpserver"
	"github.com/wisbric/auditloop/pkg/apikey"
	"github.com/wisbric/auditloop/pkg/quota"
	"github.com/wisbric/auditloop/pkg/tenant"
)

// CreateTenantRequest is the JSON body for POST /admin/tenants.
type CreateTenantRequest struct {
	Name string `json:"name" validate:"required"`
	Slug string `json:"slug" validate:"required,alphanum"`
	Tier string `json:"tier" validate:"omitempty,oneof=basic pro enterprise"`
}

// UpdateTierRequest is the JSON body for POST /admin/tenants/{tenant_id}/tier.
type UpdateTierRequest struct {
	Tier string `json:"tier" validate:"required,oneof=basic pro enterprise"`
}

// Handler exposes tenant provisioning and quota administration over HTTP.
type Handler struct {
	logger  *slog.Logger
	tenants *tenant.Store
	quotas  *quota.Service
	apikeys *apikey.Handler
}

// New builds an admin Handler.
func New(logger *slog.Logger, tenants *tenant.Store, quotas *quota.Service, apikeys *apikey.Handler) *Handler {
	return &Handler{logger: logger, tenants: tenants, quotas: quotas, apikeys: apikeys}
}

// Routes returns a chi.Router with every admin route mounted. The caller
// wraps this in adminauth.RequireAdmin before serving it.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Route("/tenants", func(r chi.Router) {
		r.Post("/", h.handleCreateTenant)
		r.Get("/", h.handleListTenants)
		r.Route("/{tenant_id}", func(r chi.Router) {
			r.Get("/", h.handleGetTenant)
			r.Post("/tier", h.handleUpdateTier)
			r.Get("/quota", h.handleQuotaStatus)
			r.Post("/quota/reset", h.handleQuotaReset)
			r.Mount("/api-keys", h.apikeys.Routes())
		})
	})
	return r
}

func (h *Handler) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req CreateTenantRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	info, err := h.tenants.Create(r.Context(), req.Name, req.Slug, req.Tier)
	if err != nil {
		h.logger.Error("creating tenant", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create tenant")
		return
	}

	httpserver.Respond(w, http.StatusCreated, info)
}

func (h *Handler) handleListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.tenants.List(r.Context())
	if err != nil {
		h.logger.Error("listing tenants", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list tenants")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"tenants": tenants,
		"count":   len(tenants),
	})
}

func (h *Handler) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "tenant_id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid tenant ID")
		return
	}

	info, err := h.tenants.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("getting tenant", "error", err, "tenant_id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to get tenant")
		return
	}
	if info == nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "tenant not found")
		return
	}

	httpserver.Respond(w, http.StatusOK, info)
}

func (h *Handler) handleUpdateTier(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "tenant_id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid tenant ID")
		return
	}

	var req UpdateTierRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	if err := h.tenants.UpdateTier(r.Context(), id, req.Tier); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "tenant not found")
			return
		}
		h.logger.Error("updating tenant tier", "error", err, "tenant_id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to update tier")
		return
	}

	if err := h.quotas.UpdateTier(r.Context(), id, req.Tier); err != nil {
		h.logger.Error("updating tenant quota limits", "error", err, "tenant_id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to update quota limits")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]string{"tier": req.Tier})
}

func (h *Handler) handleQuotaStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "tenant_id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid tenant ID")
		return
	}

	status, err := h.quotas.Check(r.Context(), id)
	if err != nil {
		h.logger.Error("checking tenant quota", "error", err, "tenant_id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to check quota")
		return
	}

	httpserver.Respond(w, http.StatusOK, status)
}

func (h *Handler) handleQuotaReset(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "tenant_id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid tenant ID")
		return
	}

	if err := h.quotas.ResetMonthlyUsage(r.Context(), id); err != nil {
		h.logger.Error("resetting tenant quota", "error", err, "tenant_id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to reset quota")
		return
	}

	httpserver.Respond(w, http.StatusNoContent, nil)
}
