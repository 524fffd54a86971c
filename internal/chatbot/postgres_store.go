package chatbot

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore persists chatbots in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed chatbot store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, bot *Chatbot) error {
	settingsJSON, err := json.Marshal(bot.Settings)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO chatbots (id, tenant_id, name, description, system_prompt,
			greeting, status, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		bot.ID, bot.TenantID, bot.Name, bot.Description, bot.SystemPrompt,
		bot.Greeting, string(bot.Status), settingsJSON, bot.CreatedAt, bot.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert chatbot: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Chatbot, error) {
	return p.scanChatbot(p.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, description, system_prompt, greeting,
			status, settings, created_at, updated_at
		FROM chatbots WHERE id = $1`, id))
}

func (p *PostgresStore) ListByTenant(ctx context.Context, tenantID string) ([]*Chatbot, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, description, system_prompt, greeting,
			status, settings, created_at, updated_at
		FROM chatbots WHERE tenant_id = $1 ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list chatbots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var bots []*Chatbot
	for rows.Next() {
		bot, err := p.scanChatbot(rows)
		if err != nil {
			return nil, err
		}
		bots = append(bots, bot)
	}
	return bots, rows.Err()
}

func (p *PostgresStore) CountByTenant(ctx context.Context, tenantID string, statuses ...Status) (int, error) {
	query := `SELECT COUNT(*) FROM chatbots WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	if len(statuses) > 0 {
		strs := make([]string, len(statuses))
		for i, s := range statuses {
			strs[i] = string(s)
		}
		query += ` AND status = ANY($2)`
		args = append(args, pq.Array(strs))
	}

	var count int
	if err := p.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count chatbots: %w", err)
	}
	return count, nil
}

func (p *PostgresStore) Update(ctx context.Context, bot *Chatbot) error {
	settingsJSON, err := json.Marshal(bot.Settings)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE chatbots SET name = $1, description = $2, system_prompt = $3,
			greeting = $4, status = $5, settings = $6, updated_at = $7
		WHERE id = $8`,
		bot.Name, bot.Description, bot.SystemPrompt, bot.Greeting,
		string(bot.Status), settingsJSON, bot.UpdatedAt, bot.ID,
	)
	if err != nil {
		return fmt.Errorf("update chatbot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrChatbotNotFound
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM chatbots WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete chatbot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrChatbotNotFound
	}
	return nil
}

// scannable matches sql.Row and sql.Rows.
type scannable interface {
	Scan(dest ...interface{}) error
}

func (p *PostgresStore) scanChatbot(row scannable) (*Chatbot, error) {
	bot := &Chatbot{}
	var status string
	var settingsJSON []byte

	err := row.Scan(&bot.ID, &bot.TenantID, &bot.Name, &bot.Description,
		&bot.SystemPrompt, &bot.Greeting, &status, &settingsJSON,
		&bot.CreatedAt, &bot.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrChatbotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan chatbot: %w", err)
	}

	bot.Status = Status(status)
	if len(settingsJSON) > 0 {
		if err := json.Unmarshal(settingsJSON, &bot.Settings); err != nil {
			return nil, fmt.Errorf("decode settings: %w", err)
		}
	}
	return bot, nil
}
