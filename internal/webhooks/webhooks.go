// Package webhooks provides event notifications to external services.
//
// Tenants can register webhook URLs to receive notifications about:
// - Failed and recovered subscription payments
// - Subscription cancellations
// - Chatbot lifecycle changes
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/convodock/convodock/internal/circuitbreaker"
	"github.com/convodock/convodock/internal/metrics"
	"github.com/convodock/convodock/internal/syncutil"
)

// EventType represents the type of webhook event
type EventType string

const (
	EventPaymentFailed        EventType = "payment.failed"
	EventPaymentRecovered     EventType = "payment.recovered"
	EventSubscriptionCanceled EventType = "subscription.canceled"
	EventChatbotPublished     EventType = "chatbot.published"
	EventChatbotArchived      EventType = "chatbot.archived"
)

// KnownEventTypes lists every event type a subscription may register for.
var KnownEventTypes = []EventType{
	EventPaymentFailed,
	EventPaymentRecovered,
	EventSubscriptionCanceled,
	EventChatbotPublished,
	EventChatbotArchived,
}

func validEventType(et EventType) bool {
	for _, known := range KnownEventTypes {
		if et == known {
			return true
		}
	}
	return false
}

// Event represents a webhook event
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscription represents a webhook subscription
type Subscription struct {
	ID                  string      `json:"id"`
	TenantID            string      `json:"tenantId"`
	URL                 string      `json:"url"`
	Secret              string      `json:"-"` // Used for HMAC signing
	Events              []EventType `json:"events"`
	Active              bool        `json:"active"`
	CreatedAt           time.Time   `json:"createdAt"`
	LastSuccess         *time.Time  `json:"lastSuccess,omitempty"`
	LastError           string      `json:"lastError,omitempty"`
	ConsecutiveFailures int         `json:"consecutiveFailures"`
}

// maxConsecutiveFailures disables a subscription after this many failed
// deliveries in a row.
const maxConsecutiveFailures = 10

// Store persists webhook subscriptions
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	GetByTenant(ctx context.Context, tenantID string) ([]*Subscription, error)
	GetByEvent(ctx context.Context, eventType EventType) ([]*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, id string) error
}

// breakerThreshold and breakerOpenFor control the per-endpoint circuit
// breaker: after breakerThreshold consecutive transport failures the
// endpoint is skipped for breakerOpenFor before a probe delivery.
const (
	breakerThreshold = 3
	breakerOpenFor   = time.Minute
)

// Dispatcher sends webhook events. Deliveries run in their own goroutines,
// so the per-subscription bookkeeping writes are serialised with a sharded
// per-key lock.
type Dispatcher struct {
	store        Store
	client       *http.Client
	urlValidator func(string) error
	breaker      *circuitbreaker.Breaker
	locks        syncutil.ShardedMutex
}

// NewDispatcher creates a new webhook dispatcher
func NewDispatcher(store Store) *Dispatcher {
	return &Dispatcher{
		store: store,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		urlValidator: ValidateURL,
		breaker:      circuitbreaker.New(breakerThreshold, breakerOpenFor),
	}
}

// ValidateURL rejects webhook targets that could be used for SSRF:
// non-HTTP schemes, loopback, and private network addresses.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("missing host")
	}
	if host == "localhost" {
		return fmt.Errorf("loopback address not allowed")
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return fmt.Errorf("address %s not allowed", host)
		}
	}
	return nil
}

// Dispatch sends an event to all relevant subscribers
func (d *Dispatcher) Dispatch(ctx context.Context, event *Event) error {
	subs, err := d.store.GetByEvent(ctx, event.Type)
	if err != nil {
		return fmt.Errorf("failed to get subscribers: %w", err)
	}

	for _, sub := range subs {
		if !sub.Active {
			continue
		}

		// Send async to avoid blocking
		go d.send(ctx, sub, event)
	}

	return nil
}

// DispatchToTenant sends an event to a specific tenant's webhooks
func (d *Dispatcher) DispatchToTenant(ctx context.Context, tenantID string, event *Event) error {
	subs, err := d.store.GetByTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to get subscriptions: %w", err)
	}

	for _, sub := range subs {
		if !sub.Active {
			continue
		}

		// Check if subscribed to this event type
		for _, et := range sub.Events {
			if et == event.Type {
				go d.send(ctx, sub, event)
				break
			}
		}
	}

	return nil
}

func (d *Dispatcher) send(ctx context.Context, sub *Subscription, event *Event) {
	if !d.breaker.Allow(sub.ID) {
		metrics.WebhookDeliveriesTotal.WithLabelValues("skipped").Inc()
		return
	}

	if d.urlValidator != nil {
		if err := d.urlValidator(sub.URL); err != nil {
			d.updateError(ctx, sub, fmt.Sprintf("url rejected: %v", err))
			return
		}
	}

	payload, err := json.Marshal(event)
	if err != nil {
		d.updateError(ctx, sub, "failed to marshal event")
		return
	}

	req, err := http.NewRequestWithContext(ctx, "POST", sub.URL, bytes.NewReader(payload))
	if err != nil {
		d.updateError(ctx, sub, "failed to create request")
		return
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Convodock-Event", string(event.Type))
	req.Header.Set("X-Convodock-Timestamp", fmt.Sprintf("%d", event.Timestamp.Unix()))

	// Sign the payload if secret is set
	if sub.Secret != "" {
		signature := d.sign(payload, sub.Secret)
		req.Header.Set("X-Convodock-Signature", signature)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.breaker.RecordFailure(sub.ID)
		d.updateError(ctx, sub, fmt.Sprintf("request failed: %v", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		d.breaker.RecordSuccess(sub.ID)
		d.updateSuccess(ctx, sub)
	} else {
		d.breaker.RecordFailure(sub.ID)
		d.updateError(ctx, sub, fmt.Sprintf("status %d", resp.StatusCode))
	}
}

func (d *Dispatcher) sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func (d *Dispatcher) updateSuccess(ctx context.Context, sub *Subscription) {
	metrics.WebhookDeliveriesTotal.WithLabelValues("success").Inc()
	unlock := d.locks.Lock(sub.ID)
	defer unlock()

	if latest, err := d.store.Get(ctx, sub.ID); err == nil {
		sub = latest
	}
	now := time.Now()
	sub.LastSuccess = &now
	sub.LastError = ""
	sub.ConsecutiveFailures = 0
	d.store.Update(ctx, sub)
}

func (d *Dispatcher) updateError(ctx context.Context, sub *Subscription, errMsg string) {
	metrics.WebhookDeliveriesTotal.WithLabelValues("error").Inc()
	unlock := d.locks.Lock(sub.ID)
	defer unlock()

	// Re-read under the lock: concurrent deliveries each hold their own
	// snapshot and would otherwise lose failure counts.
	if latest, err := d.store.Get(ctx, sub.ID); err == nil {
		sub = latest
	}
	sub.LastError = errMsg
	sub.ConsecutiveFailures++
	if sub.ConsecutiveFailures >= maxConsecutiveFailures {
		sub.Active = false
	}
	d.store.Update(ctx, sub)
}

// MemoryStore is an in-memory implementation for testing
type MemoryStore struct {
	subs map[string]*Subscription
	mu   sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs: make(map[string]*Subscription),
	}
}

func (m *MemoryStore) Create(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = cloneSub(sub)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sub, ok := m.subs[id]; ok {
		return cloneSub(sub), nil
	}
	return nil, fmt.Errorf("subscription not found")
}

func (m *MemoryStore) GetByTenant(ctx context.Context, tenantID string) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Subscription
	for _, sub := range m.subs {
		if sub.TenantID == tenantID {
			result = append(result, cloneSub(sub))
		}
	}
	return result, nil
}

func (m *MemoryStore) GetByEvent(ctx context.Context, eventType EventType) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Subscription
	for _, sub := range m.subs {
		for _, et := range sub.Events {
			if et == eventType {
				result = append(result, cloneSub(sub))
				break
			}
		}
	}
	return result, nil
}

// cloneSub copies a subscription so delivery goroutines never share the
// stored value.
func cloneSub(sub *Subscription) *Subscription {
	cp := *sub
	cp.Events = append([]EventType(nil), sub.Events...)
	return &cp
}

func (m *MemoryStore) Update(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = cloneSub(sub)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, id)
	return nil
}
