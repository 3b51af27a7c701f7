// Package tenant looks up tenants and their integration credentials.
package tenant

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/funnel-cli/internal/db"
	"github.com/sells-group/funnel-cli/internal/model"
)

// ErrNotFound is returned for an unknown or inactive tenant.
var ErrNotFound = eris.New("tenant: not found")

// Store reads and writes tenants.
type Store interface {
	GetBySlug(ctx context.Context, slug string) (*model.Tenant, error)
	Integration(ctx context.Context, tenantID, provider string) (*model.TenantIntegration, error)
}

// PostgresStore implements Store using pgx.
type PostgresStore struct {
	pool db.Querier
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool db.Querier) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const tenantColumns = `id, slug, name, owner_name, report_email, is_active, config, created_at, updated_at`

func tenantDests(t *model.Tenant) []any {
	return []any{&t.ID, &t.Slug, &t.Name, &t.OwnerName, &t.ReportEmail, &t.IsActive, &t.Config, &t.CreatedAt, &t.UpdatedAt}
}

// GetBySlug returns the tenant or ErrNotFound.
func (s *PostgresStore) GetBySlug(ctx context.Context, slug string) (*model.Tenant, error) {
	t := &model.Tenant{}
	err := s.pool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE slug = $1`, slug).Scan(tenantDests(t)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "tenant: get %s", slug)
	}
	return t, nil
}

// List returns every tenant ordered by slug.
func (s *PostgresStore) List(ctx context.Context) ([]model.Tenant, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY slug`)
	if err != nil {
		return nil, eris.Wrap(err, "tenant: list")
	}
	defer rows.Close()

	var out []model.Tenant
	for rows.Next() {
		var t model.Tenant
		if err := rows.Scan(tenantDests(&t)...); err != nil {
			return nil, eris.Wrap(err, "tenant: scan")
		}
		out = append(out, t)
	}
	return out, eris.Wrap(rows.Err(), "tenant: iterate")
}

// Upsert inserts or updates a tenant by slug and sets its ID.
func (s *PostgresStore) Upsert(ctx context.Context, t *model.Tenant) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO tenants (slug, name, owner_name, report_email, is_active, config)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (slug) DO UPDATE SET
			name = EXCLUDED.name,
			owner_name = EXCLUDED.owner_name,
			report_email = EXCLUDED.report_email,
			is_active = EXCLUDED.is_active,
			config = EXCLUDED.config,
			updated_at = now()
		RETURNING id`,
		t.Slug, t.Name, t.OwnerName, t.ReportEmail, t.IsActive, t.Config,
	).Scan(&t.ID)
	return eris.Wrapf(err, "tenant: upsert %s", t.Slug)
}

// Integration returns a provider's credentials, or nil, nil when the tenant
// has none configured.
func (s *PostgresStore) Integration(ctx context.Context, tenantID, provider string) (*model.TenantIntegration, error) {
	i := &model.TenantIntegration{}
	err := s.pool.QueryRow(ctx, `
		SELECT tenant_id, provider, credentials, is_active
		FROM tenant_integrations WHERE tenant_id = $1 AND provider = $2`,
		tenantID, provider,
	).Scan(&i.TenantID, &i.Provider, &i.Credentials, &i.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "tenant: integration %s/%s", tenantID, provider)
	}
	return i, nil
}

// UpsertIntegration writes a provider's credentials for a tenant.
func (s *PostgresStore) UpsertIntegration(ctx context.Context, i *model.TenantIntegration) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tenant_integrations (tenant_id, provider, credentials, is_active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, provider) DO UPDATE SET
			credentials = EXCLUDED.credentials,
			is_active = EXCLUDED.is_active`,
		i.TenantID, i.Provider, i.Credentials, i.IsActive)
	return eris.Wrapf(err, "tenant: upsert integration %s/%s", i.TenantID, i.Provider)
}
