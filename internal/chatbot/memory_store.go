package chatbot

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory chatbot store for demo/development mode.
type MemoryStore struct {
	mu   sync.RWMutex
	bots map[string]*Chatbot // by ID
}

// NewMemoryStore creates a new in-memory chatbot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{bots: make(map[string]*Chatbot)}
}

func (m *MemoryStore) Create(_ context.Context, bot *Chatbot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *bot
	m.bots[bot.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Chatbot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bot, ok := m.bots[id]
	if !ok {
		return nil, ErrChatbotNotFound
	}
	cp := *bot
	return &cp, nil
}

func (m *MemoryStore) ListByTenant(_ context.Context, tenantID string) ([]*Chatbot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Chatbot
	for _, bot := range m.bots {
		if bot.TenantID == tenantID {
			cp := *bot
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (m *MemoryStore) CountByTenant(_ context.Context, tenantID string, statuses ...Status) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, bot := range m.bots {
		if bot.TenantID != tenantID {
			continue
		}
		if len(statuses) == 0 {
			count++
			continue
		}
		for _, s := range statuses {
			if bot.Status == s {
				count++
				break
			}
		}
	}
	return count, nil
}

func (m *MemoryStore) Update(_ context.Context, bot *Chatbot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.bots[bot.ID]; !ok {
		return ErrChatbotNotFound
	}
	cp := *bot
	m.bots[bot.ID] = &cp
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.bots[id]; !ok {
		return ErrChatbotNotFound
	}
	delete(m.bots, id)
	return nil
}

var _ Store = (*MemoryStore)(nil)
