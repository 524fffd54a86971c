package billing

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory subscription store for demo/development mode.
type MemoryStore struct {
	mu   sync.RWMutex
	subs map[string]*Subscription // by ID
}

// NewMemoryStore creates a new in-memory subscription store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[string]*Subscription)}
}

func (m *MemoryStore) Create(_ context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.subs[sub.ID] = cloneSubscription(sub)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, ok := m.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return cloneSubscription(sub), nil
}

// Update persists subscription and dunning fields. Within a dunning cycle the
// stored attempt list is kept as the longer of the two so replaying a stale
// snapshot cannot drop appended attempts.
func (m *MemoryStore) Update(_ context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.subs[sub.ID]
	if !ok {
		return ErrSubscriptionNotFound
	}

	cp := cloneSubscription(sub)
	cp.UpdatedAt = time.Now()
	if existing.Dunning != nil && cp.Dunning != nil &&
		existing.Dunning.StartedAt.Equal(cp.Dunning.StartedAt) &&
		len(existing.Dunning.Attempts) > len(cp.Dunning.Attempts) {
		cp.Dunning.Attempts = append([]DunningAttempt(nil), existing.Dunning.Attempts...)
	}
	m.subs[sub.ID] = cp
	return nil
}

func (m *MemoryStore) AppendAttempt(_ context.Context, subID string, att DunningAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[subID]
	if !ok {
		return ErrSubscriptionNotFound
	}
	if sub.Dunning == nil {
		sub.Dunning = &DunningRecord{Status: DunningActive, StartedAt: att.At}
	}
	sub.Dunning.Attempts = append(sub.Dunning.Attempts, att)
	return nil
}

func (m *MemoryStore) ListByTenant(_ context.Context, tenantID string, limit int) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Subscription
	for _, sub := range m.subs {
		if sub.TenantID == tenantID {
			result = append(result, cloneSubscription(sub))
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (m *MemoryStore) ListByDunningStatus(_ context.Context, status DunningStatus, limit int) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Subscription
	for _, sub := range m.subs {
		if sub.Dunning != nil && sub.Dunning.Status == status {
			result = append(result, cloneSubscription(sub))
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (m *MemoryStore) ListRetryDue(_ context.Context, now time.Time, limit int) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Subscription
	for _, sub := range m.subs {
		d := sub.Dunning
		if d != nil && d.Status == DunningScheduled && !d.NextRetryAt.IsZero() && !d.NextRetryAt.After(now) {
			result = append(result, cloneSubscription(sub))
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (m *MemoryStore) ListGraceExpired(_ context.Context, now time.Time, limit int) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Subscription
	for _, sub := range m.subs {
		d := sub.Dunning
		if d != nil && d.Status == DunningGracePeriod && !d.GracePeriodEndsAt.IsZero() && !d.GracePeriodEndsAt.After(now) {
			result = append(result, cloneSubscription(sub))
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (m *MemoryStore) CountByDunningStatus(_ context.Context) (map[DunningStatus]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[DunningStatus]int)
	for _, sub := range m.subs {
		if sub.Dunning != nil {
			counts[sub.Dunning.Status]++
		}
	}
	return counts, nil
}

// cloneSubscription deep-copies a subscription so callers cannot mutate
// stored state.
func cloneSubscription(sub *Subscription) *Subscription {
	cp := *sub
	if sub.Dunning != nil {
		rec := *sub.Dunning
		rec.Attempts = append([]DunningAttempt(nil), sub.Dunning.Attempts...)
		cp.Dunning = &rec
	}
	return &cp
}

var _ Store = (*MemoryStore)(nil)
