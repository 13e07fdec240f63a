// Package quota enforces per-tenant limits on audit volume and concurrency,
// grounded on quotas/service.py.
package quota

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TierLimits describes the quota ceilings for one subscription tier.
type TierLimits struct {
	MonthlyAudits int // -1 means unlimited
	Concurrent    int
	Pages         int
	Prompts       int
}

// TierDefaults mirrors TIER_DEFAULTS exactly: basic/pro/enterprise.
var TierDefaults = map[string]TierLimits{
	"basic":      {MonthlyAudits: 10, Concurrent: 2, Pages: 50, Prompts: 10},
	"pro":        {MonthlyAudits: 50, Concurrent: 5, Pages: 200, Prompts: 50},
	"enterprise": {MonthlyAudits: -1, Concurrent: 20, Pages: 1000, Prompts: 200},
}

// limitsForTier falls back to basic for an unrecognized tier, matching the
// source's TIER_DEFAULTS.get(tier, TIER_DEFAULTS["basic"]).
func limitsForTier(tier string) TierLimits {
	if l, ok := TierDefaults[tier]; ok {
		return l
	}
	return TierDefaults["basic"]
}

// ExceededError is raised when a tenant is over one of its quotas.
type ExceededError struct {
	Message   string
	QuotaType string // "monthly_audits" or "concurrent_audits"
	Limit     int
	Used      int
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("%s (limit=%d, used=%d)", e.Message, e.Limit, e.Used)
}

// Quota is one tenant's persisted quota row.
type Quota struct {
	ID                   uuid.UUID
	TenantID             uuid.UUID
	MonthlyAuditsLimit   int
	MonthlyAuditsUsed    int
	BillingCycleStart    time.Time
	MaxConcurrentAudits  int
	MaxPagesPerAudit     int
	MaxAIPromptsPerAudit int
	UpdatedAt            time.Time
}

// Status is the point-in-time answer to "can this tenant start an audit".
type Status struct {
	MonthlyAuditsUsed      int
	MonthlyAuditsLimit     int
	MonthlyAuditsRemaining int // -1 when unlimited
	ConcurrentAudits       int
	MaxConcurrent          int
	CanStartAudit          bool
	ExceededReason         string
	ResetDate              time.Time
}

// calculateResetDate walks billing_cycle_start forward one month at a time
// until it is in the future, matching _calculate_reset_date's loop (handles
// arbitrary billing-cycle-start days without drifting, including Dec->Jan
// year rollover).
func calculateResetDate(billingCycleStart time.Time, now time.Time) time.Time {
	next := billingCycleStart
	for !next.After(now) {
		if next.Month() == time.December {
			next = time.Date(next.Year()+1, time.January, next.Day(), next.Hour(), next.Minute(), next.Second(), next.Nanosecond(), next.Location())
		} else {
			next = next.AddDate(0, 1, 0)
		}
	}
	return next
}
