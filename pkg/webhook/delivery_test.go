package webhook

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type memStore struct {
	mu            sync.Mutex
	subscriptions map[uuid.UUID]*Subscription
	deliveries    map[uuid.UUID]*Delivery
}

func newMemStore() *memStore {
	return &memStore{
		subscriptions: make(map[uuid.UUID]*Subscription),
		deliveries:    make(map[uuid.UUID]*Delivery),
	}
}

func (m *memStore) GetActiveSubscriptions(_ context.Context, tenantID uuid.UUID) ([]*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Subscription
	for _, s := range m.subscriptions {
		if s.TenantID == tenantID && s.IsActive {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) GetSubscription(_ context.Context, id uuid.UUID) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscriptions[id], nil
}

func (m *memStore) CreateDelivery(_ context.Context, d *Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.deliveries[d.ID] = &cp
	return nil
}

func (m *memStore) UpdateDelivery(_ context.Context, d *Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.deliveries[d.ID] = &cp
	return nil
}

func (m *memStore) PendingRetries(_ context.Context, limit int) ([]*Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Delivery
	for _, d := range m.deliveries {
		if d.Status == StatusPending && d.NextRetryAt != nil {
			out = append(out, d)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEngine_FireEvent_Delivers2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newMemStore()
	sub := &Subscription{ID: uuid.New(), TenantID: uuid.New(), URL: srv.URL, Secret: GenerateSecret(), Events: []string{"audit.completed"}, IsActive: true}
	store.subscriptions[sub.ID] = sub

	engine := NewEngine(store, srv.Client(), discardLogger(), nil, nil)
	ids, err := engine.FireEvent(context.Background(), sub.TenantID, EventAuditCompleted, map[string]any{"score": 85})
	if err != nil {
		t.Fatalf("FireEvent: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(ids))
	}

	d := store.deliveries[ids[0]]
	if d.Status != StatusDelivered {
		t.Errorf("expected delivered status, got %s", d.Status)
	}
	if d.DeliveredAt == nil {
		t.Error("expected DeliveredAt to be set")
	}
}

func TestEngine_PermanentFailureOn4xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	store := newMemStore()
	sub := &Subscription{ID: uuid.New(), TenantID: uuid.New(), URL: srv.URL, Secret: GenerateSecret(), Events: []string{"audit.completed"}, IsActive: true}
	store.subscriptions[sub.ID] = sub

	engine := NewEngine(store, srv.Client(), discardLogger(), nil, nil)
	ids, _ := engine.FireEvent(context.Background(), sub.TenantID, EventAuditCompleted, map[string]any{})

	d := store.deliveries[ids[0]]
	if d.Status != StatusFailed {
		t.Errorf("expected failed (permanent) status for 400, got %s", d.Status)
	}
	if d.Attempts != 1 {
		t.Errorf("expected exactly 1 attempt for a permanent failure, got %d", d.Attempts)
	}
	if d.NextRetryAt != nil {
		t.Error("permanent failure should not schedule a retry")
	}
}

func TestEngine_TransientRetryLadder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	store := newMemStore()
	sub := &Subscription{ID: uuid.New(), TenantID: uuid.New(), URL: srv.URL, Secret: GenerateSecret(), Events: []string{"audit.completed"}, IsActive: true}
	store.subscriptions[sub.ID] = sub

	engine := NewEngine(store, srv.Client(), discardLogger(), nil, nil)
	ids, _ := engine.FireEvent(context.Background(), sub.TenantID, EventAuditCompleted, map[string]any{})
	deliveryID := ids[0]

	d := store.deliveries[deliveryID]
	if d.Status != StatusPending {
		t.Fatalf("expected pending after first 503, got %s", d.Status)
	}
	if d.Attempts != 1 {
		t.Fatalf("expected attempts=1, got %d", d.Attempts)
	}

	// Drive through the remaining ladder via Sweep, forcing each due check
	// by backdating NextRetryAt instead of waiting out the real delay.
	for i := 2; i <= MaxRetries; i++ {
		due := time.Now().UTC().Add(-time.Second)
		d.NextRetryAt = &due
		store.deliveries[deliveryID] = d
		n, err := engine.Sweep(context.Background(), 100)
		if err != nil {
			t.Fatalf("sweep attempt %d: %v", i, err)
		}
		if n != 1 {
			t.Fatalf("sweep attempt %d: expected 1 processed, got %d", i, n)
		}
		d = store.deliveries[deliveryID]
		if d.Attempts != i {
			t.Fatalf("attempt %d: expected Attempts=%d, got %d", i, i, d.Attempts)
		}
	}

	if d.Status != StatusFailed {
		t.Errorf("expected failed after %d attempts, got %s", MaxRetries, d.Status)
	}
	if d.Attempts != MaxRetries {
		t.Errorf("expected attempts == MaxRetries (%d), got %d", MaxRetries, d.Attempts)
	}
}
