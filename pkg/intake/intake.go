// Package intake implements the tenant-authenticated HTTP surface: audit
// submission/status and webhook subscription management. Grounded on
// api_server.py's /audit, /audit/{id}, /audits endpoints and
// apps/api/routers/webhooks.py's webhook CRUD, reshaped around the durable
// job queue instead of an in-memory dict.
package intake

import (
	"time"

	"github.com/google/uuid"
)

// CreateAuditRequest is the JSON body for POST /api/v1/audits.
type CreateAuditRequest struct {
	URL         string         `json:"url" validate:"required,url"`
	Type        string         `json:"type" validate:"omitempty,oneof=full_audit hello_audit competitor_audit"`
	Competitors []string       `json:"competitors,omitempty"`
	Options     map[string]any `json:"options,omitempty"`
}

// AuditResponse is the JSON response describing one submitted audit's
// current job state.
type AuditResponse struct {
	WorkID    uuid.UUID  `json:"work_id"`
	Status    string     `json:"status"`
	Type      string     `json:"type"`
	URL       string     `json:"url,omitempty"`
	Attempt   int        `json:"attempt"`
	QueuedAt  time.Time  `json:"queued_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	Finished  *time.Time `json:"finished_at,omitempty"`
	LastError *string    `json:"last_error,omitempty"`
	Deduped   bool       `json:"deduped"`

	OverallScore      *int    `json:"overall_score,omitempty"`
	Grade             *string `json:"grade,omitempty"`
	TechnicalScore    *int    `json:"technical_score,omitempty"`
	ContentScore      *int    `json:"content_score,omitempty"`
	AIVisibilityScore *int    `json:"ai_visibility_score,omitempty"`
}

// CreateWebhookRequest is the JSON body for POST /api/v1/webhooks.
type CreateWebhookRequest struct {
	URL    string   `json:"url" validate:"required,url"`
	Events []string `json:"events" validate:"required,min=1"`
}

// WebhookResponse is the JSON response for a single subscription (secret
// omitted after creation).
type WebhookResponse struct {
	ID        uuid.UUID `json:"id"`
	URL       string    `json:"url"`
	Events    []string  `json:"events"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// WebhookCreatedResponse includes the secret — shown only once, at creation.
type WebhookCreatedResponse struct {
	WebhookResponse
	Secret string `json:"secret"`
}

// DeliveryResponse is the JSON response for one delivery attempt-sequence.
type DeliveryResponse struct {
	ID           uuid.UUID  `json:"id"`
	EventType    string     `json:"event_type"`
	Status       string     `json:"status"`
	Attempts     int        `json:"attempts"`
	ResponseCode *int       `json:"response_code,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	DeliveredAt  *time.Time `json:"delivered_at,omitempty"`
}

// TestWebhookResponse reports the outcome of a synthetic test delivery.
type TestWebhookResponse struct {
	DeliveryID uuid.UUID `json:"delivery_id"`
	Status     string    `json:"status"`
}

// ProgressResponse is one entry in an audit's progress timeline.
type ProgressResponse struct {
	Stage     string    `json:"stage"`
	Percent   int       `json:"percent"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

const defaultAuditType = "full_audit"
