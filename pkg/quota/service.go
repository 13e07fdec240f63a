package quota

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// DataStore is the persistence seam the Service depends on.
type DataStore interface {
	Get(ctx context.Context, tenantID uuid.UUID) (*Quota, error)
	Create(ctx context.Context, q *Quota) error
	IncrementUsage(ctx context.Context, tenantID uuid.UUID) error
	ResetMonthlyUsage(ctx context.Context, tenantID uuid.UUID) error
	UpdateTier(ctx context.Context, tenantID uuid.UUID, limits TierLimits) error
	ConcurrentAuditCount(ctx context.Context, tenantID uuid.UUID) (int, error)
}

// Service enforces and reports per-tenant quota usage.
type Service struct {
	store      DataStore
	rejections *prometheus.CounterVec
}

// NewService builds a Service backed by store. rejections may be nil.
func NewService(store DataStore, rejections *prometheus.CounterVec) *Service {
	return &Service{store: store, rejections: rejections}
}

// getOrCreate loads tenantID's quota row, seeding one from tier defaults if
// none exists yet.
func (s *Service) getOrCreate(ctx context.Context, tenantID uuid.UUID, tier string) (*Quota, error) {
	q, err := s.store.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if q != nil {
		return q, nil
	}

	limits := limitsForTier(tier)
	q = &Quota{
		ID:                   uuid.New(),
		TenantID:             tenantID,
		MonthlyAuditsLimit:   limits.MonthlyAudits,
		BillingCycleStart:    time.Now().UTC(),
		MaxConcurrentAudits:  limits.Concurrent,
		MaxPagesPerAudit:     limits.Pages,
		MaxAIPromptsPerAudit: limits.Prompts,
	}
	if err := s.store.Create(ctx, q); err != nil {
		return nil, err
	}
	return q, nil
}

// Check reports whether tenantID can start a new audit, grounded on
// check_quota.
func (s *Service) Check(ctx context.Context, tenantID uuid.UUID) (*Status, error) {
	q, err := s.getOrCreate(ctx, tenantID, "basic")
	if err != nil {
		return nil, fmt.Errorf("loading quota: %w", err)
	}

	concurrent, err := s.store.ConcurrentAuditCount(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("counting concurrent audits: %w", err)
	}

	isUnlimited := q.MonthlyAuditsLimit == -1
	monthlyRemaining := -1
	if !isUnlimited {
		monthlyRemaining = q.MonthlyAuditsLimit - q.MonthlyAuditsUsed
		if monthlyRemaining < 0 {
			monthlyRemaining = 0
		}
	}

	canStart := true
	var reason string
	switch {
	case !isUnlimited && q.MonthlyAuditsUsed >= q.MonthlyAuditsLimit:
		canStart = false
		reason = fmt.Sprintf("Monthly audit limit reached (%d)", q.MonthlyAuditsLimit)
	case concurrent >= q.MaxConcurrentAudits:
		canStart = false
		reason = fmt.Sprintf("Concurrent audit limit reached (%d)", q.MaxConcurrentAudits)
	}

	return &Status{
		MonthlyAuditsUsed:      q.MonthlyAuditsUsed,
		MonthlyAuditsLimit:     q.MonthlyAuditsLimit,
		MonthlyAuditsRemaining: monthlyRemaining,
		ConcurrentAudits:       concurrent,
		MaxConcurrent:          q.MaxConcurrentAudits,
		CanStartAudit:          canStart,
		ExceededReason:         reason,
		ResetDate:              calculateResetDate(q.BillingCycleStart, time.Now().UTC()),
	}, nil
}

// Enforce calls Check and turns a quota breach into an ExceededError,
// grounded on enforce_quota.
func (s *Service) Enforce(ctx context.Context, tenantID uuid.UUID) (*Status, error) {
	status, err := s.Check(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if status.CanStartAudit {
		return status, nil
	}

	if strings.Contains(status.ExceededReason, "Monthly") {
		s.observeRejection("monthly_audits")
		return nil, &ExceededError{
			Message:   status.ExceededReason,
			QuotaType: "monthly_audits",
			Limit:     status.MonthlyAuditsLimit,
			Used:      status.MonthlyAuditsUsed,
		}
	}
	reason := status.ExceededReason
	if reason == "" {
		reason = "Quota exceeded"
	}
	s.observeRejection("concurrent_audits")
	return nil, &ExceededError{
		Message:   reason,
		QuotaType: "concurrent_audits",
		Limit:     status.MaxConcurrent,
		Used:      status.ConcurrentAudits,
	}
}

func (s *Service) observeRejection(quotaType string) {
	if s.rejections != nil {
		s.rejections.WithLabelValues(quotaType).Inc()
	}
}

// Increment bumps a tenant's monthly usage after successfully enqueuing an
// audit.
func (s *Service) Increment(ctx context.Context, tenantID uuid.UUID) error {
	if _, err := s.getOrCreate(ctx, tenantID, "basic"); err != nil {
		return err
	}
	return s.store.IncrementUsage(ctx, tenantID)
}

// PageLimit returns the per-audit page cap for tenantID.
func (s *Service) PageLimit(ctx context.Context, tenantID uuid.UUID) (int, error) {
	q, err := s.getOrCreate(ctx, tenantID, "basic")
	if err != nil {
		return 0, err
	}
	return q.MaxPagesPerAudit, nil
}

// AIPromptLimit returns the per-audit AI-prompt cap for tenantID.
func (s *Service) AIPromptLimit(ctx context.Context, tenantID uuid.UUID) (int, error) {
	q, err := s.getOrCreate(ctx, tenantID, "basic")
	if err != nil {
		return 0, err
	}
	return q.MaxAIPromptsPerAudit, nil
}

// UpdateTier rewrites tenantID's limits to a new tier's defaults, creating
// the row first if it doesn't exist yet.
func (s *Service) UpdateTier(ctx context.Context, tenantID uuid.UUID, tier string) error {
	limits := limitsForTier(tier)
	q, err := s.store.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	if q == nil {
		_, err := s.getOrCreate(ctx, tenantID, tier)
		return err
	}
	return s.store.UpdateTier(ctx, tenantID, limits)
}

// ResetMonthlyUsage is invoked by the billing-cycle rollover job.
func (s *Service) ResetMonthlyUsage(ctx context.Context, tenantID uuid.UUID) error {
	return s.store.ResetMonthlyUsage(ctx, tenantID)
}
