package job

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const claimQuery = `
UPDATE jobs
   SET status = 'running',
       started_at = COALESCE(started_at, NOW()),
       locked_until = NOW() + ($2 * interval '1 second'),
       locked_by = $1,
       attempt = attempt + 1
 WHERE id = (
        SELECT id FROM jobs
         WHERE (status = 'queued' AND queued_at <= NOW())
            OR (status = 'running' AND locked_until < NOW())
         ORDER BY queued_at
         LIMIT 1
         FOR UPDATE SKIP LOCKED
       )
 RETURNING ` + jobColumns

// Claim atomically transitions one eligible job (fresh, or lease-expired) to
// running and returns it. Returns (nil, nil) when no job is eligible.
//
// The SELECT...FOR UPDATE SKIP LOCKED subselect is pgx's idiomatic way to
// express the spec's single-statement claim without a second worker
// blocking on — or double-claiming — the same candidate row under
// concurrent UPDATEs; see the outer UPDATE's own atomicity for the actual
// claim guarantee.
func Claim(ctx context.Context, pool *pgxpool.Pool, workerID string, leaseSeconds int) (*Job, error) {
	j, err := scanJob(pool.QueryRow(ctx, claimQuery, workerID, leaseSeconds))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming job: %w", err)
	}
	return j, nil
}

// Renew extends a claimed job's lease. Returns false if locked_by no longer
// matches workerID — the lease was stolen and the caller should stop work
// (its eventual terminal write will no-op against the same predicate).
func Renew(ctx context.Context, pool *pgxpool.Pool, jobID, workerID string, leaseSeconds int) (bool, error) {
	tag, err := pool.Exec(ctx, `UPDATE jobs SET locked_until = NOW() + ($3 * interval '1 second')
		WHERE id = $1 AND locked_by = $2 AND status = 'running'`, jobID, workerID, leaseSeconds)
	if err != nil {
		return false, fmt.Errorf("renewing job lease: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RequeueWithBackoff returns a job to queued, eligible again after the
// backoff delay computed from its current attempt count.
func RequeueWithBackoff(ctx context.Context, pool *pgxpool.Pool, jobID, workerID string) error {
	var attempt int
	if err := pool.QueryRow(ctx, `SELECT attempt FROM jobs WHERE id = $1`, jobID).Scan(&attempt); err != nil {
		return fmt.Errorf("reading job attempt for backoff: %w", err)
	}
	delay := CalculateBackoff(attempt)

	tag, err := pool.Exec(ctx, `UPDATE jobs
		SET status = 'queued', locked_until = NULL, locked_by = NULL, queued_at = NOW() + ($3 * interval '1 second')
		WHERE id = $1 AND locked_by = $2`, jobID, workerID, delay.Seconds())
	if err != nil {
		return fmt.Errorf("requeuing job with backoff: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("requeue no-op: lease for job %s no longer held by %s", jobID, workerID)
	}
	return nil
}

// MarkDone terminates a job successfully.
func MarkDone(ctx context.Context, pool *pgxpool.Pool, jobID, workerID string) error {
	_, err := pool.Exec(ctx, `UPDATE jobs
		SET status = 'done', finished_at = NOW(), locked_until = NULL, locked_by = NULL, last_error = NULL
		WHERE id = $1 AND locked_by = $2`, jobID, workerID)
	if err != nil {
		return fmt.Errorf("marking job done: %w", err)
	}
	return nil
}

// MarkFailed terminates a job permanently, recording an already-redacted
// error message.
func MarkFailed(ctx context.Context, pool *pgxpool.Pool, jobID, workerID, errMsg string) error {
	_, err := pool.Exec(ctx, `UPDATE jobs
		SET status = 'failed', finished_at = NOW(), locked_until = NULL, locked_by = NULL, last_error = $3
		WHERE id = $1 AND locked_by = $2`, jobID, workerID, errMsg)
	if err != nil {
		return fmt.Errorf("marking job failed: %w", err)
	}
	return nil
}
