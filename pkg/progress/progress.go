// Package progress records append-only progress events for a job,
// grounded on full_audit.py's write_progress_event and structurally on
// internal/audit.Writer's append-only shape.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/auditloop/pkg/redact"
)

// Stage is a closed set of named points in an audit's lifecycle. Consumers
// must tolerate additional stage strings for forward compatibility.
type Stage string

const (
	StageInitializing      Stage = "initializing"
	StageTechnicalAudit    Stage = "technical_audit"
	StageContentAudit      Stage = "content_audit"
	StageAIVisibilityAudit Stage = "ai_visibility_audit"
	StageGeneratingReport  Stage = "generating_report"
	StageCompleted         Stage = "completed"
	StageFailed            Stage = "failed"
)

// Event is one append-only progress row. JobID identifies the execution
// attempt that produced it; WorkID identifies the audit it belongs to and
// is what callers filter by — an audit can span more than one job attempt
// across retries, but its progress timeline is one continuous log.
type Event struct {
	ID        uuid.UUID
	JobID     uuid.UUID
	WorkID    uuid.UUID
	Stage     Stage
	Percent   int
	Message   string
	CreatedAt time.Time
}

const progressChannel = "auditloop:job:progress"

// Sink writes progress events. Never read by the worker on its own hot
// path — only by dashboard/API consumers.
type Sink struct {
	pool   *pgxpool.Pool
	rdb    *redis.Client
	logger *slog.Logger
}

// NewSink builds a Sink. rdb may be nil, in which case live broadcast is
// skipped and only the durable row is written.
func NewSink(pool *pgxpool.Pool, rdb *redis.Client, logger *slog.Logger) *Sink {
	return &Sink{pool: pool, rdb: rdb, logger: logger}
}

// Write redacts message, persists the event, and best-effort publishes it
// to the live progress channel. The DB row is authoritative; a publish
// failure is logged and never fails the write.
func (s *Sink) Write(ctx context.Context, jobID, workID uuid.UUID, stage Stage, percent int, message string) error {
	ev := Event{
		ID:        uuid.New(),
		JobID:     jobID,
		WorkID:    workID,
		Stage:     stage,
		Percent:   percent,
		Message:   redact.String(message),
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.pool.Exec(ctx, `INSERT INTO progress_events (id, job_id, work_id, stage, percent, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`, ev.ID, ev.JobID, ev.WorkID, ev.Stage, ev.Percent, ev.Message, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("writing progress event: %w", err)
	}

	s.publish(ctx, ev)
	return nil
}

func (s *Sink) publish(ctx context.Context, ev Event) {
	if s.rdb == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"job_id":  ev.JobID.String(),
		"work_id": ev.WorkID.String(),
		"stage":   string(ev.Stage),
		"percent": ev.Percent,
		"message": ev.Message,
	})
	if err != nil {
		s.logger.Warn("marshaling progress broadcast", "error", err)
		return
	}
	if err := s.rdb.Publish(ctx, progressChannel, string(payload)).Err(); err != nil {
		s.logger.Warn("publishing progress event", "error", err, "work_id", ev.WorkID)
	}
}

// List returns all progress events for workID, oldest first.
func (s *Sink) List(ctx context.Context, workID uuid.UUID) ([]Event, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, job_id, work_id, stage, percent, message, created_at
		FROM progress_events WHERE work_id = $1 ORDER BY created_at ASC`, workID)
	if err != nil {
		return nil, fmt.Errorf("listing progress events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.JobID, &ev.WorkID, &ev.Stage, &ev.Percent, &ev.Message, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning progress event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
