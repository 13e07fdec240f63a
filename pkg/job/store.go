package job

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const jobColumns = `id, tenant_id, work_id, type, payload, status, idempotency_key, attempt, max_attempts,
	queued_at, started_at, finished_at, locked_until, locked_by, last_error, created_at`

// Store provides database operations for the jobs table against the global
// pool, raw SQL with explicit Scan in the apikey.Store shape.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore builds a Store backed by pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	var payload []byte
	err := row.Scan(&j.ID, &j.TenantID, &j.WorkID, &j.Type, &payload, &j.Status, &j.IdempotencyKey, &j.Attempt, &j.MaxAttempts,
		&j.QueuedAt, &j.StartedAt, &j.FinishedAt, &j.LockedUntil, &j.LockedBy, &j.LastError, &j.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &j.Payload); err != nil {
			return nil, fmt.Errorf("unmarshaling job payload: %w", err)
		}
	}
	return &j, nil
}

// Enqueue inserts a new job. If a non-terminal job already exists under the
// same idempotency key, the partial unique index rejects the insert; the
// caller resolves the conflict via FindActiveByIdempotencyKey (spec §4.6:
// idempotency is collapsed at the storage layer, not invented in Go).
func (s *Store) Enqueue(ctx context.Context, j *Job) error {
	payload, err := json.Marshal(j.Payload)
	if err != nil {
		return fmt.Errorf("marshaling job payload: %w", err)
	}
	if j.MaxAttempts == 0 {
		j.MaxAttempts = DefaultMaxAttempts
	}
	if j.WorkID == uuid.Nil {
		j.WorkID = uuid.New()
	}
	if j.QueuedAt.IsZero() {
		j.QueuedAt = time.Now().UTC()
	}
	query := `INSERT INTO jobs (id, tenant_id, work_id, type, payload, status, idempotency_key, attempt, max_attempts, queued_at, created_at)
		VALUES ($1, $2, $3, $4, $5, 'queued', $6, 0, $7, $8, NOW())`
	_, err = s.pool.Exec(ctx, query, j.ID, j.TenantID, j.WorkID, j.Type, payload, j.IdempotencyKey, j.MaxAttempts, j.QueuedAt)
	if err != nil {
		return fmt.Errorf("enqueuing job: %w", err)
	}
	return nil
}

// FindActiveByIdempotencyKey returns the non-terminal job, if any, sharing
// this idempotency key — the row a duplicate submission should be folded
// into instead of creating a new one.
func (s *Store) FindActiveByIdempotencyKey(ctx context.Context, key string) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE idempotency_key = $1 AND status IN ('queued', 'running')
		LIMIT 1`
	j, err := scanJob(s.pool.QueryRow(ctx, query, key))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up job by idempotency key: %w", err)
	}
	return j, nil
}

// Get loads a job by ID, or (nil, nil) if absent.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	j, err := scanJob(s.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading job: %w", err)
	}
	return j, nil
}

// GetByWorkID loads the job producing workID, scoped to tenantID so one
// tenant can never poll the status of another's audit. Returns (nil, nil)
// if absent.
func (s *Store) GetByWorkID(ctx context.Context, tenantID, workID uuid.UUID) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE work_id = $1 AND tenant_id = $2`
	j, err := scanJob(s.pool.QueryRow(ctx, query, workID, tenantID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading job by work id: %w", err)
	}
	return j, nil
}

// ListByTenant returns the most recent jobs for tenantID, newest first.
func (s *Store) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE tenant_id = $1 ORDER BY queued_at DESC LIMIT $2`
	rows, err := s.pool.Query(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
