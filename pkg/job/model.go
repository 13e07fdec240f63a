// Package job implements the durable work queue: the jobs table, the
// atomic claim/lease protocol, and backoff-on-requeue arithmetic.
package job

import (
	"time"

	"github.com/google/uuid"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Job is one row of the durable queue. WorkID identifies the user-facing
// thing the job produces (the audit); the job is the execution record, the
// work is the product.
type Job struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	WorkID         uuid.UUID
	Type           string
	Payload        map[string]any
	Status         Status
	IdempotencyKey string
	Attempt        int
	MaxAttempts    int
	QueuedAt       time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
	LockedUntil    *time.Time
	LockedBy       *string
	LastError      *string
	CreatedAt      time.Time
}

// DefaultMaxAttempts bounds total claim attempts (including lease-expiry
// reclaims) before a job is abandoned as failed.
const DefaultMaxAttempts = 5
