package tenant

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore persists tenants in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed tenant store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, t *Tenant) error {
	settingsJSON, err := json.Marshal(t.Settings)
	if err != nil {
		return err
	}
	methodsJSON, err := json.Marshal(t.PaymentMethods)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, slug, plan, stripe_customer_id, contact_email,
			status, payment_methods, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.Name, t.Slug, string(t.Plan), t.StripeCustomerID, t.ContactEmail,
		string(t.Status), methodsJSON, settingsJSON, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrSlugTaken
		}
		return fmt.Errorf("insert tenant: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Tenant, error) {
	return p.scanTenant(p.db.QueryRowContext(ctx, `
		SELECT id, name, slug, plan, stripe_customer_id, contact_email,
			status, payment_methods, settings, created_at, updated_at
		FROM tenants WHERE id = $1`, id))
}

func (p *PostgresStore) GetBySlug(ctx context.Context, slug string) (*Tenant, error) {
	return p.scanTenant(p.db.QueryRowContext(ctx, `
		SELECT id, name, slug, plan, stripe_customer_id, contact_email,
			status, payment_methods, settings, created_at, updated_at
		FROM tenants WHERE slug = $1`, slug))
}

func (p *PostgresStore) Update(ctx context.Context, t *Tenant) error {
	updatedAt := time.Now()

	settingsJSON, err := json.Marshal(t.Settings)
	if err != nil {
		return err
	}
	methodsJSON, err := json.Marshal(t.PaymentMethods)
	if err != nil {
		return err
	}

	result, err := p.db.ExecContext(ctx, `
		UPDATE tenants SET
			name = $2, plan = $3, stripe_customer_id = $4, contact_email = $5,
			status = $6, payment_methods = $7, settings = $8, updated_at = $9
		WHERE id = $1`,
		t.ID, t.Name, string(t.Plan), t.StripeCustomerID, t.ContactEmail,
		string(t.Status), methodsJSON, settingsJSON, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("update tenant: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrTenantNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, limit int) ([]*Tenant, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, slug, plan, stripe_customer_id, contact_email,
			status, payment_methods, settings, created_at, updated_at
		FROM tenants ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Tenant
	for rows.Next() {
		t, err := p.scanTenant(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func (p *PostgresStore) scanTenant(row scannable) (*Tenant, error) {
	var t Tenant
	var plan, status string
	var methodsJSON, settingsJSON []byte

	err := row.Scan(
		&t.ID, &t.Name, &t.Slug, &plan, &t.StripeCustomerID, &t.ContactEmail,
		&status, &methodsJSON, &settingsJSON, &t.CreatedAt, &t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan tenant: %w", err)
	}

	t.Plan = Plan(plan)
	t.Status = Status(status)
	if len(methodsJSON) > 0 {
		if err := json.Unmarshal(methodsJSON, &t.PaymentMethods); err != nil {
			return nil, fmt.Errorf("decode payment methods: %w", err)
		}
	}
	if len(settingsJSON) > 0 {
		if err := json.Unmarshal(settingsJSON, &t.Settings); err != nil {
			return nil, fmt.Errorf("decode settings: %w", err)
		}
	}
	return &t, nil
}
