package webhook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const subscriptionColumns = `id, tenant_id, url, secret, events, is_active, created_at`

// PGStore implements Store against a single webhook_subscriptions /
// webhook_deliveries schema, raw SQL with explicit Scan — the teacher's
// apikey.Store shape, not an ORM.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore builds a PGStore backed by pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// CreateSubscription inserts a new webhook subscription and returns it with
// its generated ID and timestamps populated.
func (s *PGStore) CreateSubscription(ctx context.Context, sub *Subscription) error {
	query := `INSERT INTO webhook_subscriptions (tenant_id, url, secret, events, is_active)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING id, created_at`
	var createdAt pgtype.Timestamptz
	if err := s.pool.QueryRow(ctx, query, sub.TenantID, sub.URL, sub.Secret, sub.Events, sub.IsActive).Scan(&sub.ID, &createdAt); err != nil {
		return err
	}
	sub.CreatedAt = createdAt.Time
	return nil
}

// GetSubscription loads a subscription by ID. Returns (nil, nil) if absent.
func (s *PGStore) GetSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM webhook_subscriptions WHERE id = $1`
	row := s.pool.QueryRow(ctx, query, id)
	sub, err := scanSubscription(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading webhook subscription: %w", err)
	}
	return sub, nil
}

// ListSubscriptions returns every subscription for a tenant, newest first.
func (s *PGStore) ListSubscriptions(ctx context.Context, tenantID uuid.UUID) ([]*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM webhook_subscriptions WHERE tenant_id = $1 ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing webhook subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning webhook subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// GetActiveSubscriptions returns active subscriptions for a tenant.
func (s *PGStore) GetActiveSubscriptions(ctx context.Context, tenantID uuid.UUID) ([]*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM webhook_subscriptions WHERE tenant_id = $1 AND is_active`
	rows, err := s.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing active webhook subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning webhook subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// DeleteSubscription removes a subscription scoped to its tenant.
func (s *PGStore) DeleteSubscription(ctx context.Context, id, tenantID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM webhook_subscriptions WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return fmt.Errorf("deleting webhook subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var sub Subscription
	var createdAt pgtype.Timestamptz
	if err := row.Scan(&sub.ID, &sub.TenantID, &sub.URL, &sub.Secret, &sub.Events, &sub.IsActive, &createdAt); err != nil {
		return nil, err
	}
	sub.CreatedAt = createdAt.Time
	return &sub, nil
}

const deliveryColumns = `id, webhook_id, event_type, payload, status, attempts, next_retry_at,
	response_code, response_body, error_message, created_at, delivered_at`

// CreateDelivery inserts a new delivery row.
func (s *PGStore) CreateDelivery(ctx context.Context, d *Delivery) error {
	payload, err := json.Marshal(d.Payload)
	if err != nil {
		return fmt.Errorf("marshaling delivery payload: %w", err)
	}
	query := `INSERT INTO webhook_deliveries (id, webhook_id, event_type, payload, status, attempts, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = s.pool.Exec(ctx, query, d.ID, d.WebhookID, d.EventType, payload, d.Status, d.Attempts, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting webhook delivery: %w", err)
	}
	return nil
}

// UpdateDelivery persists the mutable fields of a delivery after an attempt.
func (s *PGStore) UpdateDelivery(ctx context.Context, d *Delivery) error {
	query := `UPDATE webhook_deliveries
	SET status = $2, attempts = $3, next_retry_at = $4, response_code = $5,
	    response_body = $6, error_message = $7, delivered_at = $8
	WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, d.ID, d.Status, d.Attempts, d.NextRetryAt,
		d.ResponseCode, d.ResponseBody, d.ErrorMessage, d.DeliveredAt)
	if err != nil {
		return fmt.Errorf("updating webhook delivery: %w", err)
	}
	return nil
}

// PendingRetries returns deliveries due for another attempt, bounded by limit.
func (s *PGStore) PendingRetries(ctx context.Context, limit int) ([]*Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries
	WHERE status = 'pending' AND next_retry_at IS NOT NULL AND next_retry_at <= NOW()
	ORDER BY next_retry_at
	LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("listing pending webhook retries: %w", err)
	}
	defer rows.Close()

	var deliveries []*Delivery
	for rows.Next() {
		var d Delivery
		var payload []byte
		if err := rows.Scan(&d.ID, &d.WebhookID, &d.EventType, &payload, &d.Status, &d.Attempts,
			&d.NextRetryAt, &d.ResponseCode, &d.ResponseBody, &d.ErrorMessage, &d.CreatedAt, &d.DeliveredAt); err != nil {
			return nil, fmt.Errorf("scanning webhook delivery: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &d.Payload); err != nil {
				return nil, fmt.Errorf("unmarshaling delivery payload: %w", err)
			}
		}
		deliveries = append(deliveries, &d)
	}
	return deliveries, rows.Err()
}

// ListDeliveries returns delivery history for a subscription, newest first.
func (s *PGStore) ListDeliveries(ctx context.Context, webhookID uuid.UUID, limit int) ([]*Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries
	WHERE webhook_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := s.pool.Query(ctx, query, webhookID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing webhook deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []*Delivery
	for rows.Next() {
		var d Delivery
		var payload []byte
		if err := rows.Scan(&d.ID, &d.WebhookID, &d.EventType, &payload, &d.Status, &d.Attempts,
			&d.NextRetryAt, &d.ResponseCode, &d.ResponseBody, &d.ErrorMessage, &d.CreatedAt, &d.DeliveredAt); err != nil {
			return nil, fmt.Errorf("scanning webhook delivery: %w", err)
		}
		if len(payload) > 0 {
			_ = json.Unmarshal(payload, &d.Payload)
		}
		deliveries = append(deliveries, &d)
	}
	return deliveries, rows.Err()
}
