package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/auditloop/pkg/tenant"
)

// Service encapsulates API key business logic.
type Service struct {
	store  *Store
	logger *slog.Logger
}

// NewService creates an API key Service backed by the given global pool.
func NewService(pool *pgxpool.Pool, logger *slog.Logger) *Service {
	return &Service{
		store:  NewStore(pool),
		logger: logger,
	}
}

// List returns all API keys for the given tenant.
func (s *Service) List(ctx context.Context, tenantID uuid.UUID) ([]Response, error) {
	rows, err := s.store.List(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}

	items := make([]Response, 0, len(rows))
	for i := range rows {
		items = append(items, rows[i].ToResponse())
	}
	return items, nil
}

// Create generates a new API key, stores its hash, and returns the raw key once.
func (s *Service) Create(ctx context.Context, tenantID uuid.UUID, req CreateRequest) (CreateResponse, error) {
	raw, hash, prefix := generateAPIKey()

	row, err := s.store.Create(ctx, CreateParams{
		TenantID:    tenantID,
		KeyHash:     hash,
		KeyPrefix:   prefix,
		Description: req.Description,
		Role:        req.Role,
		Scopes:      []string{},
		ExpiresAt:   pgtype.Timestamptz{},
	})
	if err != nil {
		return CreateResponse{}, fmt.Errorf("creating api key: %w", err)
	}

	return CreateResponse{
		Response: row.ToResponse(),
		RawKey:   raw,
	}, nil
}

// Delete permanently removes an API key.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting api key: %w", err)
	}
	return nil
}

// Authenticate implements tenant.Authenticator: it hashes rawKey, looks up
// the owning tenant, and rejects revoked or expired keys. A missing or
// expired key returns ok=false with a nil error — the caller should respond
// 401, not 500.
func (s *Service) Authenticate(ctx context.Context, rawKey string) (*tenant.Info, bool, error) {
	h := sha256.Sum256([]byte(rawKey))
	hash := hex.EncodeToString(h[:])

	row, err := s.store.GetByHash(ctx, hash)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("looking up api key: %w", err)
	}
	if row.ExpiresAt.Valid && row.ExpiresAt.Time.Before(time.Now()) {
		return nil, false, nil
	}

	info, err := s.store.GetTenantInfo(ctx, row.TenantID)
	if err != nil {
		return nil, false, fmt.Errorf("loading tenant for api key: %w", err)
	}
	if info == nil {
		return nil, false, nil
	}

	if err := s.store.TouchLastUsed(ctx, row.ID); err != nil {
		s.logger.Warn("updating api key last_used", "error", err, "id", row.ID)
	}

	return info, true, nil
}

// generateAPIKey creates a random API key with prefix "al_", its SHA-256
// hash, and a short prefix for display.
func generateAPIKey() (raw, hash, prefix string) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	raw = fmt.Sprintf("al_%x", b)
	h := sha256.Sum256([]byte(raw))
	hash = hex.EncodeToString(h[:])
	prefix = raw[:10]
	return
}
