package chatbot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/convodock/convodock/internal/idgen"
	"github.com/convodock/convodock/internal/metrics"
	"github.com/convodock/convodock/internal/tenant"
	"github.com/convodock/convodock/internal/traces"
)

// Events receives chatbot lifecycle notifications. Implemented by the
// webhooks emitter; all methods are fire-and-forget.
type Events interface {
	ChatbotPublished(tenantID, chatbotID, name string)
	ChatbotArchived(tenantID, chatbotID, name string)
}

// Service applies tenant plan limits on top of the chatbot store.
type Service struct {
	store   Store
	tenants tenant.Store
	events  Events // optional
	logger  *slog.Logger
}

// NewService creates a chatbot service.
func NewService(store Store, tenants tenant.Store, logger *slog.Logger) *Service {
	return &Service{store: store, tenants: tenants, logger: logger}
}

// SetEvents attaches an optional lifecycle event sink.
func (s *Service) SetEvents(ev Events) {
	s.events = ev
}

// CreateParams holds the caller-supplied chatbot fields.
type CreateParams struct {
	Name         string
	Description  string
	SystemPrompt string
	Greeting     string
	Settings     *Settings
}

// Create adds a chatbot for the tenant, enforcing the plan's chatbot limit.
// Archived bots do not count against the limit.
func (s *Service) Create(ctx context.Context, tenantID string, params CreateParams) (*Chatbot, error) {
	ctx, span := traces.StartSpan(ctx, "chatbot.Create", traces.TenantID(tenantID))
	defer span.End()

	t, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if t.Settings.MaxChatbots > 0 {
		count, err := s.store.CountByTenant(ctx, tenantID, StatusDraft, StatusPublished)
		if err != nil {
			return nil, fmt.Errorf("count chatbots: %w", err)
		}
		if count >= t.Settings.MaxChatbots {
			return nil, fmt.Errorf("%w: limit %d", tenant.ErrMaxChatbots, t.Settings.MaxChatbots)
		}
	}

	now := time.Now()
	bot := &Chatbot{
		ID:           idgen.WithPrefix("bot_"),
		TenantID:     tenantID,
		Name:         params.Name,
		Description:  params.Description,
		SystemPrompt: params.SystemPrompt,
		Greeting:     params.Greeting,
		Status:       StatusDraft,
		Settings:     DefaultSettings(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if params.Settings != nil {
		bot.Settings = *params.Settings
	}

	if err := s.store.Create(ctx, bot); err != nil {
		return nil, fmt.Errorf("create chatbot: %w", err)
	}

	s.logger.Info("chatbot created", "chatbot_id", bot.ID, "tenant_id", tenantID, "name", bot.Name)
	return bot, nil
}

// Get returns a chatbot owned by the tenant. Requests for another tenant's
// bot report not-found rather than leaking its existence.
func (s *Service) Get(ctx context.Context, tenantID, botID string) (*Chatbot, error) {
	bot, err := s.store.Get(ctx, botID)
	if err != nil {
		return nil, err
	}
	if bot.TenantID != tenantID {
		return nil, ErrChatbotNotFound
	}
	return bot, nil
}

// List returns all of the tenant's chatbots.
func (s *Service) List(ctx context.Context, tenantID string) ([]*Chatbot, error) {
	return s.store.ListByTenant(ctx, tenantID)
}

// UpdateParams holds the mutable chatbot fields. Nil pointers leave the
// existing value in place.
type UpdateParams struct {
	Name         *string
	Description  *string
	SystemPrompt *string
	Greeting     *string
	Settings     *Settings
}

// Update modifies a draft or published chatbot.
func (s *Service) Update(ctx context.Context, tenantID, botID string, params UpdateParams) (*Chatbot, error) {
	bot, err := s.Get(ctx, tenantID, botID)
	if err != nil {
		return nil, err
	}
	if bot.Status == StatusArchived {
		return nil, fmt.Errorf("%w: archived chatbots are read-only", ErrInvalidState)
	}

	if params.Name != nil {
		bot.Name = *params.Name
	}
	if params.Description != nil {
		bot.Description = *params.Description
	}
	if params.SystemPrompt != nil {
		bot.SystemPrompt = *params.SystemPrompt
	}
	if params.Greeting != nil {
		bot.Greeting = *params.Greeting
	}
	if params.Settings != nil {
		bot.Settings = *params.Settings
	}
	bot.UpdatedAt = time.Now()

	if err := s.store.Update(ctx, bot); err != nil {
		return nil, fmt.Errorf("update chatbot: %w", err)
	}
	return bot, nil
}

// Publish makes a draft chatbot live.
func (s *Service) Publish(ctx context.Context, tenantID, botID string) (*Chatbot, error) {
	ctx, span := traces.StartSpan(ctx, "chatbot.Publish", traces.TenantID(tenantID), traces.ChatbotID(botID))
	defer span.End()

	bot, err := s.Get(ctx, tenantID, botID)
	if err != nil {
		return nil, err
	}
	switch bot.Status {
	case StatusPublished:
		return bot, nil // idempotent
	case StatusArchived:
		return nil, fmt.Errorf("%w: cannot publish an archived chatbot", ErrInvalidState)
	}

	bot.Status = StatusPublished
	bot.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, bot); err != nil {
		return nil, fmt.Errorf("publish chatbot: %w", err)
	}

	metrics.ActiveChatbots.Inc()
	if s.events != nil {
		s.events.ChatbotPublished(tenantID, bot.ID, bot.Name)
	}
	s.logger.Info("chatbot published", "chatbot_id", bot.ID, "tenant_id", tenantID)
	return bot, nil
}

// Archive takes a chatbot offline. Archived bots free up a plan slot.
func (s *Service) Archive(ctx context.Context, tenantID, botID string) (*Chatbot, error) {
	ctx, span := traces.StartSpan(ctx, "chatbot.Archive", traces.TenantID(tenantID), traces.ChatbotID(botID))
	defer span.End()

	bot, err := s.Get(ctx, tenantID, botID)
	if err != nil {
		return nil, err
	}
	if bot.Status == StatusArchived {
		return bot, nil // idempotent
	}
	wasPublished := bot.Status == StatusPublished

	bot.Status = StatusArchived
	bot.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, bot); err != nil {
		return nil, fmt.Errorf("archive chatbot: %w", err)
	}

	if wasPublished {
		metrics.ActiveChatbots.Dec()
	}
	if s.events != nil {
		s.events.ChatbotArchived(tenantID, bot.ID, bot.Name)
	}
	s.logger.Info("chatbot archived", "chatbot_id", bot.ID, "tenant_id", tenantID)
	return bot, nil
}

// Delete removes a chatbot permanently.
func (s *Service) Delete(ctx context.Context, tenantID, botID string) error {
	bot, err := s.Get(ctx, tenantID, botID)
	if err != nil {
		return err
	}
	if bot.Status == StatusPublished {
		metrics.ActiveChatbots.Dec()
	}
	return s.store.Delete(ctx, botID)
}
