package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wisbric/auditloop/pkg/redact"
)

// Event is the closed set of webhook event names known at spec time;
// consumers must tolerate additional names (spec §6 event taxonomy).
type Event string

const (
	EventAuditStarted   Event = "audit.started"
	EventAuditCompleted Event = "audit.completed"
	EventAuditFailed    Event = "audit.failed"
)

// RetryDelays is the fixed exponential retry ladder, in order: 1m, 5m, 15m,
// 1h, 4h. MaxRetries is len(RetryDelays).
var RetryDelays = []time.Duration{
	60 * time.Second,
	300 * time.Second,
	900 * time.Second,
	3600 * time.Second,
	14400 * time.Second,
}

// MaxRetries is the maximum number of delivery attempts before a delivery
// is marked permanently failed.
var MaxRetries = len(RetryDelays)

// DeliveryTimeout bounds a single delivery HTTP attempt.
const DeliveryTimeout = 10 * time.Second

// Subscription is a tenant's webhook registration.
type Subscription struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	URL       string
	Secret    string
	Events    []string
	IsActive  bool
	CreatedAt time.Time
}

// Subscribes reports whether s is subscribed to event.
func (s *Subscription) Subscribes(event string) bool {
	for _, e := range s.Events {
		if e == event {
			return true
		}
	}
	return false
}

// Status is the lifecycle state of a Delivery.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// Delivery is one attempt-sequence to POST an event to one subscription.
type Delivery struct {
	ID           uuid.UUID
	WebhookID    uuid.UUID
	EventType    string
	Payload      map[string]any
	Status       Status
	Attempts     int
	NextRetryAt  *time.Time
	ResponseCode *int
	ResponseBody *string
	ErrorMessage *string
	CreatedAt    time.Time
	DeliveredAt  *time.Time
}

// envelope is the wire-exact JSON body sent to subscribers; Go struct field
// order fixes the key order, matching the source's fixed-key-order dict.
type envelope struct {
	Event      string         `json:"event"`
	Timestamp  string         `json:"timestamp"`
	DeliveryID string         `json:"delivery_id"`
	Data       map[string]any `json:"data"`
}

// Store is the persistence seam the delivery engine depends on.
type Store interface {
	GetActiveSubscriptions(ctx context.Context, tenantID uuid.UUID) ([]*Subscription, error)
	GetSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error)
	CreateDelivery(ctx context.Context, d *Delivery) error
	UpdateDelivery(ctx context.Context, d *Delivery) error
	PendingRetries(ctx context.Context, limit int) ([]*Delivery, error)
}

// OpsNotifier is the optional on-call visibility seam a delivery engine
// reaches when a delivery exhausts its retry ladder. Nil disables it.
type OpsNotifier interface {
	WebhookExhausted(ctx context.Context, deliveryID, subscriptionID uuid.UUID, eventType string, attempts int)
}

// Engine fires events to subscribed webhooks and drives their retry ladder.
type Engine struct {
	store      Store
	client     *http.Client
	logger     *slog.Logger
	notifier   OpsNotifier
	deliveries *prometheus.CounterVec
}

// NewEngine builds a delivery Engine. client defaults to a fresh
// http.Client with DeliveryTimeout and no automatic redirect-following
// (redirects from a webhook receiver are not trusted). notifier and
// deliveries may both be nil.
func NewEngine(store Store, client *http.Client, logger *slog.Logger, notifier OpsNotifier, deliveries *prometheus.CounterVec) *Engine {
	if client == nil {
		client = &http.Client{
			Timeout: DeliveryTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	return &Engine{store: store, client: client, logger: logger, notifier: notifier, deliveries: deliveries}
}

func (e *Engine) observeOutcome(outcome string) {
	if e.deliveries != nil {
		e.deliveries.WithLabelValues(outcome).Inc()
	}
}

// FireEvent fans out event to every active subscription of tenantID whose
// Events set contains it, creating and attempting one Delivery per
// recipient. Returns the created delivery IDs.
func (e *Engine) FireEvent(ctx context.Context, tenantID uuid.UUID, event Event, payload map[string]any) ([]uuid.UUID, error) {
	subs, err := e.store.GetActiveSubscriptions(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing active subscriptions: %w", err)
	}

	var ids []uuid.UUID
	for _, sub := range subs {
		if !sub.Subscribes(string(event)) {
			continue
		}
		id, err := e.createAndDeliver(ctx, sub, string(event), payload)
		if err != nil {
			e.logger.Error("creating webhook delivery", "error", err, "subscription_id", sub.ID)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (e *Engine) createAndDeliver(ctx context.Context, sub *Subscription, eventType string, payload map[string]any) (uuid.UUID, error) {
	d := &Delivery{
		ID:        uuid.New(),
		WebhookID: sub.ID,
		EventType: eventType,
		Payload:   redact.Map(payload),
		Status:    StatusPending,
		Attempts:  0,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.CreateDelivery(ctx, d); err != nil {
		return uuid.Nil, fmt.Errorf("persisting delivery: %w", err)
	}

	e.attempt(ctx, d, sub)
	return d.ID, nil
}

// attempt performs a single delivery attempt, classifies the outcome, and
// persists the resulting delivery state (advancing the retry ladder or
// terminating the delivery).
func (e *Engine) attempt(ctx context.Context, d *Delivery, sub *Subscription) {
	d.Attempts++

	body, err := json.Marshal(envelope{
		Event:      d.EventType,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		DeliveryID: d.ID.String(),
		Data:       d.Payload,
	})
	if err != nil {
		e.logger.Error("marshaling webhook envelope", "error", err, "delivery_id", d.ID)
		e.scheduleOrFail(ctx, d, fmt.Sprintf("marshaling envelope: %v", err))
		return
	}

	signature := Sign(body, sub.Secret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		e.scheduleOrFail(ctx, d, fmt.Sprintf("building request: %v", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", "sha256="+signature)
	req.Header.Set("X-Webhook-Event", d.EventType)
	req.Header.Set("X-Webhook-Delivery", d.ID.String())
	req.Header.Set("User-Agent", "auditloop-webhook/1.0")

	resp, err := e.client.Do(req)
	if err != nil {
		reason := classifyTransportError(err)
		e.scheduleOrFail(ctx, d, reason)
		return
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1000))
	code := resp.StatusCode
	d.ResponseCode = &code
	truncated := redact.String(string(respBody))
	d.ResponseBody = &truncated

	switch {
	case code < 300:
		now := time.Now().UTC()
		d.Status = StatusDelivered
		d.DeliveredAt = &now
		d.ErrorMessage = nil
		if err := e.store.UpdateDelivery(ctx, d); err != nil {
			e.logger.Error("persisting delivered webhook", "error", err, "delivery_id", d.ID)
		}
		e.logger.Info("webhook delivered", "delivery_id", d.ID, "url", sub.URL)
		e.observeOutcome("delivered")
		return
	case code == http.StatusTooManyRequests || code >= 500:
		e.scheduleOrFail(ctx, d, fmt.Sprintf("HTTP %d", code))
		return
	default:
		// 4xx other than 429: permanent failure, no retry.
		msg := fmt.Sprintf("HTTP %d", code)
		d.ErrorMessage = &msg
		d.Status = StatusFailed
		if err := e.store.UpdateDelivery(ctx, d); err != nil {
			e.logger.Error("persisting failed webhook", "error", err, "delivery_id", d.ID)
		}
		e.logger.Warn("webhook permanently failed", "delivery_id", d.ID, "status_code", code)
		e.observeOutcome("permanent_failure")
	}
}

func classifyTransportError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "request timeout"
	}
	msg := redact.String(err.Error())
	if len(msg) > 500 {
		msg = msg[:500]
	}
	return msg
}

// scheduleOrFail advances d to its next retry slot if attempts remain under
// MaxRetries, otherwise terminates it as failed.
func (e *Engine) scheduleOrFail(ctx context.Context, d *Delivery, errMsg string) {
	errMsg = redact.String(errMsg)
	d.ErrorMessage = &errMsg

	if d.Attempts < MaxRetries {
		delay := RetryDelays[d.Attempts-1]
		next := time.Now().UTC().Add(delay)
		d.NextRetryAt = &next
		d.Status = StatusPending
		e.logger.Info("webhook scheduled for retry", "delivery_id", d.ID, "delay", delay)
		e.observeOutcome("retry_scheduled")
	} else {
		d.Status = StatusFailed
		e.logger.Warn("webhook failed after max attempts", "delivery_id", d.ID, "attempts", d.Attempts)
		e.observeOutcome("retries_exhausted")
		if e.notifier != nil {
			e.notifier.WebhookExhausted(ctx, d.ID, d.WebhookID, d.EventType, d.Attempts)
		}
	}

	if err := e.store.UpdateDelivery(ctx, d); err != nil {
		e.logger.Error("persisting webhook retry state", "error", err, "delivery_id", d.ID)
	}
}

// Sweep scans due retries (status=pending, next_retry_at<=now) and attempts
// each, bounded by limit. Grounded on process_pending_retries; safe to call
// concurrently and to restart, since all state is in the store.
func (e *Engine) Sweep(ctx context.Context, limit int) (int, error) {
	due, err := e.store.PendingRetries(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("listing pending retries: %w", err)
	}

	count := 0
	for _, d := range due {
		sub, err := e.store.GetSubscription(ctx, d.WebhookID)
		if err != nil || sub == nil || !sub.IsActive {
			continue
		}
		e.attempt(ctx, d, sub)
		count++
	}
	return count, nil
}

// SendTest fires a synthetic "test" event at a single subscription so a
// caller can verify a freshly created subscription without waiting for a
// real event, grounded on the source's send_test_event.
func (e *Engine) SendTest(ctx context.Context, subscriptionID uuid.UUID) (*Delivery, error) {
	sub, err := e.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("loading subscription: %w", err)
	}
	if sub == nil {
		return nil, fmt.Errorf("webhook not found")
	}

	payload := map[string]any{
		"message":    "This is a test webhook event",
		"webhook_id": subscriptionID.String(),
	}
	id, err := e.createAndDeliver(ctx, sub, "test", payload)
	if err != nil {
		return nil, err
	}

	// Re-fetch isn't available through this narrow Store interface; the
	// caller that needs the persisted row reads it back via the webhook
	// store directly. Return a minimal view built from what we know.
	return &Delivery{ID: id, WebhookID: sub.ID, EventType: "test"}, nil
}
