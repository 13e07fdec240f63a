package quota

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

type memStore struct {
	rows       map[uuid.UUID]*Quota
	concurrent map[uuid.UUID]int
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[uuid.UUID]*Quota), concurrent: make(map[uuid.UUID]int)}
}

func (m *memStore) Get(_ context.Context, tenantID uuid.UUID) (*Quota, error) {
	if q, ok := m.rows[tenantID]; ok {
		cp := *q
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) Create(_ context.Context, q *Quota) error {
	cp := *q
	m.rows[q.TenantID] = &cp
	return nil
}

func (m *memStore) IncrementUsage(_ context.Context, tenantID uuid.UUID) error {
	m.rows[tenantID].MonthlyAuditsUsed++
	return nil
}

func (m *memStore) ResetMonthlyUsage(_ context.Context, tenantID uuid.UUID) error {
	m.rows[tenantID].MonthlyAuditsUsed = 0
	m.rows[tenantID].BillingCycleStart = time.Now().UTC()
	return nil
}

func (m *memStore) UpdateTier(_ context.Context, tenantID uuid.UUID, limits TierLimits) error {
	q := m.rows[tenantID]
	q.MonthlyAuditsLimit = limits.MonthlyAudits
	q.MaxConcurrentAudits = limits.Concurrent
	q.MaxPagesPerAudit = limits.Pages
	q.MaxAIPromptsPerAudit = limits.Prompts
	return nil
}

func (m *memStore) ConcurrentAuditCount(_ context.Context, tenantID uuid.UUID) (int, error) {
	return m.concurrent[tenantID], nil
}

func TestCheck_CreatesDefaultBasicQuota(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil)
	tenantID := uuid.New()

	status, err := svc.Check(context.Background(), tenantID)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if status.MonthlyAuditsLimit != 10 {
		t.Errorf("expected basic tier limit 10, got %d", status.MonthlyAuditsLimit)
	}
	if !status.CanStartAudit {
		t.Error("expected fresh quota to allow starting an audit")
	}
}

func TestCheck_MonthlyLimitExceeded(t *testing.T) {
	store := newMemStore()
	tenantID := uuid.New()
	store.rows[tenantID] = &Quota{
		TenantID: tenantID, MonthlyAuditsLimit: 10, MonthlyAuditsUsed: 10,
		MaxConcurrentAudits: 2, BillingCycleStart: time.Now().UTC(),
	}

	svc := NewService(store, nil)
	status, err := svc.Check(context.Background(), tenantID)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if status.CanStartAudit {
		t.Error("expected monthly-exhausted quota to block starting an audit")
	}
	if status.MonthlyAuditsRemaining != 0 {
		t.Errorf("expected 0 remaining, got %d", status.MonthlyAuditsRemaining)
	}

	_, err = svc.Enforce(context.Background(), tenantID)
	exceeded, ok := err.(*ExceededError)
	if !ok {
		t.Fatalf("expected *ExceededError, got %T (%v)", err, err)
	}
	if exceeded.QuotaType != "monthly_audits" {
		t.Errorf("expected monthly_audits quota type, got %s", exceeded.QuotaType)
	}
}

func TestCheck_ConcurrentLimitExceeded(t *testing.T) {
	store := newMemStore()
	tenantID := uuid.New()
	store.rows[tenantID] = &Quota{
		TenantID: tenantID, MonthlyAuditsLimit: 10, MonthlyAuditsUsed: 1,
		MaxConcurrentAudits: 2, BillingCycleStart: time.Now().UTC(),
	}
	store.concurrent[tenantID] = 2

	svc := NewService(store, nil)
	_, err := svc.Enforce(context.Background(), tenantID)
	exceeded, ok := err.(*ExceededError)
	if !ok {
		t.Fatalf("expected *ExceededError, got %T (%v)", err, err)
	}
	if exceeded.QuotaType != "concurrent_audits" {
		t.Errorf("expected concurrent_audits quota type, got %s", exceeded.QuotaType)
	}
}

func TestCheck_UnlimitedTierNeverBlocksOnMonthly(t *testing.T) {
	store := newMemStore()
	tenantID := uuid.New()
	store.rows[tenantID] = &Quota{
		TenantID: tenantID, MonthlyAuditsLimit: -1, MonthlyAuditsUsed: 9999,
		MaxConcurrentAudits: 20, BillingCycleStart: time.Now().UTC(),
	}

	svc := NewService(store, nil)
	status, err := svc.Check(context.Background(), tenantID)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !status.CanStartAudit {
		t.Error("unlimited tier should never block on monthly usage")
	}
	if status.MonthlyAuditsRemaining != -1 {
		t.Errorf("expected -1 (unlimited) remaining, got %d", status.MonthlyAuditsRemaining)
	}
}

func TestCalculateResetDate_RollsOverYear(t *testing.T) {
	start := time.Date(2026, time.December, 15, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, time.December, 20, 0, 0, 0, 0, time.UTC)

	reset := calculateResetDate(start, now)
	if reset.Year() != 2027 || reset.Month() != time.January {
		t.Errorf("expected reset date in January 2027, got %v", reset)
	}
}

func TestCalculateResetDate_SkipsPastCyclesWhenStale(t *testing.T) {
	start := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, time.July, 15, 0, 0, 0, 0, time.UTC)

	reset := calculateResetDate(start, now)
	if !reset.After(now) {
		t.Errorf("expected reset date after now, got %v", reset)
	}
	if reset.Month() != time.August {
		t.Errorf("expected next reset in August, got %v", reset.Month())
	}
}

func TestIncrement(t *testing.T) {
	store := newMemStore()
	tenantID := uuid.New()
	svc := NewService(store, nil)

	if err := svc.Increment(context.Background(), tenantID); err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if store.rows[tenantID].MonthlyAuditsUsed != 1 {
		t.Errorf("expected usage 1 after increment, got %d", store.rows[tenantID].MonthlyAuditsUsed)
	}
}
