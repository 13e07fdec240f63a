package tenant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists tenant records against the tenants table.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore builds a Store backed by pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const tenantColumns = `id, name, slug, tier`

func scanTenant(row pgx.Row) (*Info, error) {
	var info Info
	if err := row.Scan(&info.ID, &info.Name, &info.Slug, &info.Tier); err != nil {
		return nil, err
	}
	return &info, nil
}

// Create inserts a new tenant row with the given tier, defaulting to basic.
func (s *Store) Create(ctx context.Context, name, slug, tier string) (*Info, error) {
	if tier == "" {
		tier = "basic"
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO tenants (id, name, slug, tier)
		VALUES ($1, $2, $3, $4)
		RETURNING `+tenantColumns,
		uuid.New(), name, slug, tier)

	info, err := scanTenant(row)
	if err != nil {
		return nil, fmt.Errorf("creating tenant: %w", err)
	}
	return info, nil
}

// List returns every tenant, ordered by name.
func (s *Store) List(ctx context.Context) ([]*Info, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*Info
	for rows.Next() {
		info, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning tenant: %w", err)
		}
		tenants = append(tenants, info)
	}
	return tenants, rows.Err()
}

// GetByID loads a tenant by ID, returning nil if not found.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*Info, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
	info, err := scanTenant(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading tenant: %w", err)
	}
	return info, nil
}

// GetBySlug loads a tenant by slug, returning nil if not found.
func (s *Store) GetBySlug(ctx context.Context, slug string) (*Info, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE slug = $1`, slug)
	info, err := scanTenant(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading tenant: %w", err)
	}
	return info, nil
}

// UpdateTier rewrites a tenant's billing tier.
func (s *Store) UpdateTier(ctx context.Context, id uuid.UUID, tier string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE tenants SET tier = $2 WHERE id = $1`, id, tier)
	if err != nil {
		return fmt.Errorf("updating tenant tier: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
