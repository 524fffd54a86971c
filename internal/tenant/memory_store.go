package tenant

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory tenant store for demo/development.
type MemoryStore struct {
	mu      sync.RWMutex
	tenants map[string]*Tenant // by ID
	slugs   map[string]string  // slug to ID
}

// NewMemoryStore creates a new in-memory tenant store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants: make(map[string]*Tenant),
		slugs:   make(map[string]string),
	}
}

func (m *MemoryStore) Create(_ context.Context, t *Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.slugs[t.Slug]; exists {
		return ErrSlugTaken
	}

	cp := cloneTenant(t)
	m.tenants[t.ID] = cp
	m.slugs[t.Slug] = t.ID
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tenants[id]
	if !ok {
		return nil, ErrTenantNotFound
	}
	return cloneTenant(t), nil
}

func (m *MemoryStore) GetBySlug(_ context.Context, slug string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.slugs[slug]
	if !ok {
		return nil, ErrTenantNotFound
	}
	return cloneTenant(m.tenants[id]), nil
}

func (m *MemoryStore) Update(_ context.Context, t *Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tenants[t.ID]; !ok {
		return ErrTenantNotFound
	}
	m.tenants[t.ID] = cloneTenant(t)
	return nil
}

func (m *MemoryStore) List(_ context.Context, limit int) ([]*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Tenant
	for _, t := range m.tenants {
		result = append(result, cloneTenant(t))
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// cloneTenant deep-copies a tenant so callers cannot mutate stored state.
func cloneTenant(t *Tenant) *Tenant {
	cp := *t
	if t.PaymentMethods != nil {
		cp.PaymentMethods = make([]PaymentMethod, len(t.PaymentMethods))
		copy(cp.PaymentMethods, t.PaymentMethods)
	}
	if t.Settings.AllowedOrigins != nil {
		cp.Settings.AllowedOrigins = append([]string(nil), t.Settings.AllowedOrigins...)
	}
	return &cp
}

var _ Store = (*MemoryStore)(nil)
