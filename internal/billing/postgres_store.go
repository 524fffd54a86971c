package billing

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
//
// Dunning state lives in columns on the subscriptions row; the attempt
// history is an append-only dunning_attempts table so concurrent writers
// cannot clobber each other's appends.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed subscription store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const subscriptionColumns = `
	id, tenant_id, plan_id, status, amount_cents, currency, current_period_end,
	dunning_status, dunning_started_at, dunning_last_attempt_at,
	dunning_next_retry_at, dunning_remaining_retries,
	dunning_grace_ends_at, dunning_canceled_at,
	created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, sub *Subscription) error {
	var d dunningColumns
	d.from(sub.Dunning)

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		sub.ID, sub.TenantID, sub.PlanID, string(sub.Status), sub.AmountCents,
		sub.Currency, nullTimeOrValue(sub.CurrentPeriodEnd),
		d.status, d.startedAt, d.lastAttemptAt, d.nextRetryAt, d.remainingRetries,
		d.graceEndsAt, d.canceledAt,
		sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Subscription, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)

	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}

	if sub.Dunning != nil {
		attempts, err := p.loadAttempts(ctx, id, sub.Dunning.StartedAt)
		if err != nil {
			return nil, err
		}
		sub.Dunning.Attempts = attempts
	}
	return sub, nil
}

// Update persists subscription and dunning columns. Attempts are written only
// through AppendAttempt.
func (p *PostgresStore) Update(ctx context.Context, sub *Subscription) error {
	updatedAt := time.Now()

	var d dunningColumns
	d.from(sub.Dunning)

	result, err := p.db.ExecContext(ctx, `
		UPDATE subscriptions SET
			plan_id                   = $2,
			status                    = $3,
			amount_cents              = $4,
			currency                  = $5,
			current_period_end        = $6,
			dunning_status            = $7,
			dunning_started_at        = $8,
			dunning_last_attempt_at   = $9,
			dunning_next_retry_at     = $10,
			dunning_remaining_retries = $11,
			dunning_grace_ends_at     = $12,
			dunning_canceled_at       = $13,
			updated_at                = $14
		WHERE id = $1`,
		sub.ID, sub.PlanID, string(sub.Status), sub.AmountCents, sub.Currency,
		nullTimeOrValue(sub.CurrentPeriodEnd),
		d.status, d.startedAt, d.lastAttemptAt, d.nextRetryAt, d.remainingRetries,
		d.graceEndsAt, d.canceledAt, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (p *PostgresStore) AppendAttempt(ctx context.Context, subID string, att DunningAttempt) error {
	result, err := p.db.ExecContext(ctx, `
		INSERT INTO dunning_attempts (subscription_id, attempted_at, payment_intent_id, error_message, succeeded)
		SELECT $1, $2, $3, $4, $5
		WHERE EXISTS (SELECT 1 FROM subscriptions WHERE id = $1)`,
		subID, att.At, att.PaymentIntentID, att.ErrorMessage, att.Succeeded,
	)
	if err != nil {
		return fmt.Errorf("append attempt: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (p *PostgresStore) ListByTenant(ctx context.Context, tenantID string, limit int) ([]*Subscription, error) {
	return p.list(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE tenant_id = $1
		ORDER BY created_at DESC LIMIT $2`, tenantID, limit)
}

func (p *PostgresStore) ListByDunningStatus(ctx context.Context, status DunningStatus, limit int) ([]*Subscription, error) {
	return p.list(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE dunning_status = $1
		ORDER BY created_at DESC LIMIT $2`, string(status), limit)
}

func (p *PostgresStore) ListRetryDue(ctx context.Context, now time.Time, limit int) ([]*Subscription, error) {
	return p.list(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE dunning_status = 'scheduled' AND dunning_next_retry_at <= $1
		ORDER BY dunning_next_retry_at ASC LIMIT $2`, now, limit)
}

func (p *PostgresStore) ListGraceExpired(ctx context.Context, now time.Time, limit int) ([]*Subscription, error) {
	return p.list(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE dunning_status = 'grace_period' AND dunning_grace_ends_at <= $1
		ORDER BY dunning_grace_ends_at ASC LIMIT $2`, now, limit)
}

func (p *PostgresStore) CountByDunningStatus(ctx context.Context) (map[DunningStatus]int, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT dunning_status, COUNT(*) FROM subscriptions
		WHERE dunning_status IS NOT NULL
		GROUP BY dunning_status`)
	if err != nil {
		return nil, fmt.Errorf("count by dunning status: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[DunningStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[DunningStatus(status)] = n
	}
	return counts, rows.Err()
}

func (p *PostgresStore) list(ctx context.Context, query string, args ...interface{}) ([]*Subscription, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		result = append(result, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Attempt histories are loaded per subscription; list sizes are capped by
	// the caller's limit.
	for _, sub := range result {
		if sub.Dunning != nil {
			attempts, err := p.loadAttempts(ctx, sub.ID, sub.Dunning.StartedAt)
			if err != nil {
				return nil, err
			}
			sub.Dunning.Attempts = attempts
		}
	}
	return result, nil
}

// loadAttempts returns the attempts belonging to the cycle that started at
// since. Rows from earlier cycles stay in the table for audit but must not
// surface on the current record: the retry schedule is indexed by the
// record's attempt count.
func (p *PostgresStore) loadAttempts(ctx context.Context, subID string, since time.Time) ([]DunningAttempt, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT attempted_at, payment_intent_id, error_message, succeeded
		FROM dunning_attempts
		WHERE subscription_id = $1 AND attempted_at >= $2
		ORDER BY attempted_at ASC, id ASC`, subID, since)
	if err != nil {
		return nil, fmt.Errorf("load attempts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var attempts []DunningAttempt
	for rows.Next() {
		var att DunningAttempt
		if err := rows.Scan(&att.At, &att.PaymentIntentID, &att.ErrorMessage, &att.Succeeded); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		attempts = append(attempts, att)
	}
	return attempts, rows.Err()
}

// dunningColumns maps a DunningRecord to nullable SQL values.
type dunningColumns struct {
	status           sql.NullString
	startedAt        sql.NullTime
	lastAttemptAt    sql.NullTime
	nextRetryAt      sql.NullTime
	remainingRetries sql.NullInt64
	graceEndsAt      sql.NullTime
	canceledAt       sql.NullTime
}

func (d *dunningColumns) from(rec *DunningRecord) {
	if rec == nil {
		return
	}
	d.status = sql.NullString{String: string(rec.Status), Valid: true}
	d.startedAt = nullTimeOrValue(rec.StartedAt)
	d.lastAttemptAt = nullTimeOrValue(rec.LastAttemptAt)
	d.nextRetryAt = nullTimeOrValue(rec.NextRetryAt)
	d.remainingRetries = sql.NullInt64{Int64: int64(rec.RemainingRetries), Valid: true}
	d.graceEndsAt = nullTimeOrValue(rec.GracePeriodEndsAt)
	d.canceledAt = nullTimeOrValue(rec.CanceledAt)
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanSubscription(row scannable) (*Subscription, error) {
	var sub Subscription
	var status string
	var currentPeriodEnd sql.NullTime
	var d dunningColumns

	err := row.Scan(
		&sub.ID, &sub.TenantID, &sub.PlanID, &status, &sub.AmountCents,
		&sub.Currency, &currentPeriodEnd,
		&d.status, &d.startedAt, &d.lastAttemptAt, &d.nextRetryAt,
		&d.remainingRetries, &d.graceEndsAt, &d.canceledAt,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	sub.Status = SubscriptionStatus(status)
	if currentPeriodEnd.Valid {
		sub.CurrentPeriodEnd = currentPeriodEnd.Time
	}

	if d.status.Valid {
		rec := &DunningRecord{
			Status:           DunningStatus(d.status.String),
			RemainingRetries: int(d.remainingRetries.Int64),
		}
		if d.startedAt.Valid {
			rec.StartedAt = d.startedAt.Time
		}
		if d.lastAttemptAt.Valid {
			rec.LastAttemptAt = d.lastAttemptAt.Time
		}
		if d.nextRetryAt.Valid {
			rec.NextRetryAt = d.nextRetryAt.Time
		}
		if d.graceEndsAt.Valid {
			rec.GracePeriodEndsAt = d.graceEndsAt.Time
		}
		if d.canceledAt.Valid {
			rec.CanceledAt = d.canceledAt.Time
		}
		sub.Dunning = rec
	}

	return &sub, nil
}

// nullTimeOrValue returns a sql.NullTime: valid if t is non-zero, null otherwise.
func nullTimeOrValue(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
