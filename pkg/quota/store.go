package quota

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const quotaColumns = `id, tenant_id, monthly_audits_limit, monthly_audits_used, billing_cycle_start,
	max_concurrent_audits, max_pages_per_audit, max_ai_prompts_per_audit, updated_at`

// Store provides database operations for tenant quotas against the global
// pool, raw SQL with explicit Scan in the apikey.Store shape.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore builds a Store backed by pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func scanQuota(row pgx.Row) (*Quota, error) {
	var q Quota
	err := row.Scan(&q.ID, &q.TenantID, &q.MonthlyAuditsLimit, &q.MonthlyAuditsUsed, &q.BillingCycleStart,
		&q.MaxConcurrentAudits, &q.MaxPagesPerAudit, &q.MaxAIPromptsPerAudit, &q.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// Get loads the quota row for tenantID, or (nil, nil) if none exists yet.
func (s *Store) Get(ctx context.Context, tenantID uuid.UUID) (*Quota, error) {
	query := `SELECT ` + quotaColumns + ` FROM tenant_quotas WHERE tenant_id = $1`
	q, err := scanQuota(s.pool.QueryRow(ctx, query, tenantID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading tenant quota: %w", err)
	}
	return q, nil
}

// Create inserts a fresh quota row seeded from tier limits.
func (s *Store) Create(ctx context.Context, q *Quota) error {
	query := `INSERT INTO tenant_quotas
		(id, tenant_id, monthly_audits_limit, monthly_audits_used, billing_cycle_start,
		 max_concurrent_audits, max_pages_per_audit, max_ai_prompts_per_audit, updated_at)
		VALUES ($1, $2, $3, 0, $4, $5, $6, $7, $4)
		ON CONFLICT (tenant_id) DO NOTHING
		RETURNING id`
	err := s.pool.QueryRow(ctx, query, q.ID, q.TenantID, q.MonthlyAuditsLimit, q.BillingCycleStart,
		q.MaxConcurrentAudits, q.MaxPagesPerAudit, q.MaxAIPromptsPerAudit).Scan(&q.ID)
	if err == pgx.ErrNoRows {
		// Lost a create race; load the row the other writer inserted.
		existing, getErr := s.Get(ctx, q.TenantID)
		if getErr != nil {
			return getErr
		}
		*q = *existing
		return nil
	}
	if err != nil {
		return fmt.Errorf("creating tenant quota: %w", err)
	}
	return nil
}

// IncrementUsage bumps monthly_audits_used by one.
func (s *Store) IncrementUsage(ctx context.Context, tenantID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE tenant_quotas SET monthly_audits_used = monthly_audits_used + 1, updated_at = NOW()
		WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return fmt.Errorf("incrementing quota usage: %w", err)
	}
	return nil
}

// ResetMonthlyUsage zeroes monthly_audits_used and restarts the billing cycle.
func (s *Store) ResetMonthlyUsage(ctx context.Context, tenantID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE tenant_quotas
		SET monthly_audits_used = 0, billing_cycle_start = NOW(), updated_at = NOW()
		WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return fmt.Errorf("resetting monthly usage: %w", err)
	}
	return nil
}

// UpdateTier rewrites the quota's limit columns to match a new tier.
func (s *Store) UpdateTier(ctx context.Context, tenantID uuid.UUID, limits TierLimits) error {
	_, err := s.pool.Exec(ctx, `UPDATE tenant_quotas
		SET monthly_audits_limit = $2, max_concurrent_audits = $3, max_pages_per_audit = $4,
		    max_ai_prompts_per_audit = $5, updated_at = NOW()
		WHERE tenant_id = $1`, tenantID, limits.MonthlyAudits, limits.Concurrent, limits.Pages, limits.Prompts)
	if err != nil {
		return fmt.Errorf("updating quota tier: %w", err)
	}
	return nil
}

// ConcurrentAuditCount counts jobs for tenantID that are queued or running,
// computed live rather than cached — the source notes this is intentional
// since a cached counter can drift from the jobs table under crashes.
func (s *Store) ConcurrentAuditCount(ctx context.Context, tenantID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs
		WHERE tenant_id = $1 AND status IN ('queued', 'running')`, tenantID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting concurrent audits: %w", err)
	}
	return count, nil
}
