// Package chatbot manages the chatbots tenants deploy on their sites.
package chatbot

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrChatbotNotFound = errors.New("chatbot: not found")
	ErrInvalidState    = errors.New("chatbot: invalid state transition")
)

// Status represents a chatbot's lifecycle state.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusArchived  Status = "archived"
)

// Settings configures the chatbot's model behaviour.
type Settings struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"maxTokens"`
}

// DefaultSettings returns sensible defaults for new chatbots.
func DefaultSettings() Settings {
	return Settings{
		Model:       "gpt-4o-mini",
		Temperature: 0.7,
		MaxTokens:   1024,
	}
}

// Chatbot is a tenant-owned conversational assistant.
type Chatbot struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenantId"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	SystemPrompt string    `json:"systemPrompt,omitempty"`
	Greeting     string    `json:"greeting,omitempty"`
	Status       Status    `json:"status"`
	Settings     Settings  `json:"settings"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Store persists chatbots.
type Store interface {
	Create(ctx context.Context, bot *Chatbot) error
	Get(ctx context.Context, id string) (*Chatbot, error)
	ListByTenant(ctx context.Context, tenantID string) ([]*Chatbot, error)
	CountByTenant(ctx context.Context, tenantID string, statuses ...Status) (int, error)
	Update(ctx context.Context, bot *Chatbot) error
	Delete(ctx context.Context, id string) error
}
