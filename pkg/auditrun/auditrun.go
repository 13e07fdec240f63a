// Package auditrun implements the worker.Handler exemplar (spec C11): the
// full audit, hello-audit smoke test, and competitor-audit job types,
// grounded on apps/worker/handlers/full_audit.py and hello_audit.py.
package auditrun

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/auditloop/pkg/fetch"
	"github.com/wisbric/auditloop/pkg/ratelimit"
	"github.com/wisbric/auditloop/pkg/webhook"
)

// Result is the composite outcome stored against the work row.
type Result struct {
	OverallScore      int
	Grade             string
	TechnicalScore    *int
	ContentScore      *int
	AIVisibilityScore *int
}

// calculateGrade maps a 0-100 score onto a letter grade, matching
// calculate_grade's thresholds.
func calculateGrade(score int) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}

// payloadString reads a string field from a job payload, defaulting to "".
func payloadString(payload map[string]any, key string) string {
	if v, ok := payload[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func payloadStringSlice(payload map[string]any, key string) []string {
	v, ok := payload[key]
	if !ok {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, e := range raw {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// resultStore persists the composite result against the work row — a
// table distinct from jobs, since "work" (the audit) and "job" (the
// execution record) are separate entities in the data model.
type resultStore struct {
	pool *pgxpool.Pool
}

// markCompleted upserts rather than updates: the audits row is lazily
// created here on first terminal outcome rather than at enqueue time,
// since nothing reads it before a job reaches done or failed.
func (s *resultStore) markCompleted(ctx context.Context, workID uuid.UUID, r Result) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO audits
		(id, status, overall_score, grade, technical_score, content_score, ai_visibility_score, completed_at)
		VALUES ($1, 'completed', $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id) DO UPDATE SET
			status = 'completed', overall_score = $2, grade = $3,
			technical_score = $4, content_score = $5, ai_visibility_score = $6,
			completed_at = NOW()`, workID, r.OverallScore, r.Grade, r.TechnicalScore, r.ContentScore, r.AIVisibilityScore)
	if err != nil {
		return fmt.Errorf("recording audit result: %w", err)
	}
	return nil
}

func (s *resultStore) markFailed(ctx context.Context, workID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO audits (id, status) VALUES ($1, 'failed')
		ON CONFLICT (id) DO UPDATE SET status = 'failed'`, workID)
	if err != nil {
		return fmt.Errorf("recording audit failure: %w", err)
	}
	return nil
}

// Scores loads the persisted composite result for workID, if a terminal
// outcome has been recorded. Returns (nil, nil) if the audit has not yet
// reached a terminal state.
func Scores(ctx context.Context, pool *pgxpool.Pool, workID uuid.UUID) (*Result, error) {
	row := pool.QueryRow(ctx, `SELECT overall_score, grade, technical_score, content_score, ai_visibility_score
		FROM audits WHERE id = $1`, workID)
	var r Result
	if err := row.Scan(&r.OverallScore, &r.Grade, &r.TechnicalScore, &r.ContentScore, &r.AIVisibilityScore); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading audit scores: %w", err)
	}
	return &r, nil
}

// fireResultWebhook notifies the tenant's subscribed webhooks of a
// terminal audit outcome.
func fireResultWebhook(ctx context.Context, engine *webhook.Engine, tenantID, workID uuid.UUID, event webhook.Event, data map[string]any) {
	payload := map[string]any{"work_id": workID.String()}
	for k, v := range data {
		payload[k] = v
	}
	_, _ = engine.FireEvent(ctx, tenantID, event, payload)
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// newFetcherAndLimiter builds the per-job outbound-HTTP seam: every fetch
// in an analysis phase goes through both, matching §4.11's "all outbound
// HTTP in analysis phases goes through C1+C2".
func newFetcherAndLimiter(tier string) (*fetch.Fetcher, *ratelimit.Limiter) {
	return fetch.New(nil, nil), ratelimit.ForTier(tier)
}
