package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/convodock/convodock/internal/circuitbreaker"
)

// noopValidator allows any URL (including loopback) for test servers.
func noopValidator(_ string) error { return nil }

// newTestDispatcher creates a dispatcher that skips SSRF checks for localhost test servers.
func newTestDispatcher(store Store) *Dispatcher {
	d := NewDispatcher(store)
	d.urlValidator = noopValidator
	return d
}

// ---------------------------------------------------------------------------
// MemoryStore tests
// ---------------------------------------------------------------------------

func TestMemoryStore_CRUD(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sub := &Subscription{
		ID:        "wh_test1",
		TenantID:  "ten_1",
		URL:       "https://example.com/hook",
		Secret:    "secret123",
		Events:    []EventType{EventPaymentFailed},
		Active:    true,
		CreatedAt: time.Now(),
	}

	// Create
	if err := store.Create(ctx, sub); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Get
	got, err := store.Get(ctx, "wh_test1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.URL != "https://example.com/hook" {
		t.Errorf("Expected URL, got %s", got.URL)
	}

	// Update
	sub.Active = false
	store.Update(ctx, sub)
	got, _ = store.Get(ctx, "wh_test1")
	if got.Active {
		t.Error("Expected inactive after update")
	}

	// Delete
	store.Delete(ctx, "wh_test1")
	_, err = store.Get(ctx, "wh_test1")
	if err == nil {
		t.Error("Expected error after delete")
	}
}

func TestMemoryStore_GetByTenant(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Create(ctx, &Subscription{ID: "wh1", TenantID: "ten_a", Events: []EventType{EventPaymentFailed}})
	store.Create(ctx, &Subscription{ID: "wh2", TenantID: "ten_b", Events: []EventType{EventPaymentFailed}})
	store.Create(ctx, &Subscription{ID: "wh3", TenantID: "ten_a", Events: []EventType{EventPaymentRecovered}})

	subs, _ := store.GetByTenant(ctx, "ten_a")
	if len(subs) != 2 {
		t.Errorf("Expected 2 subs for ten_a, got %d", len(subs))
	}
}

func TestMemoryStore_GetByEvent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Create(ctx, &Subscription{ID: "wh1", Events: []EventType{EventPaymentFailed, EventSubscriptionCanceled}})
	store.Create(ctx, &Subscription{ID: "wh2", Events: []EventType{EventPaymentRecovered}})
	store.Create(ctx, &Subscription{ID: "wh3", Events: []EventType{EventPaymentFailed}})

	subs, _ := store.GetByEvent(ctx, EventPaymentFailed)
	if len(subs) != 2 {
		t.Errorf("Expected 2 subs for payment.failed, got %d", len(subs))
	}
}

// ---------------------------------------------------------------------------
// URL validation tests
// ---------------------------------------------------------------------------

func TestValidateURL(t *testing.T) {
	valid := []string{
		"https://example.com/hook",
		"http://hooks.example.io/convodock",
	}
	for _, u := range valid {
		if err := ValidateURL(u); err != nil {
			t.Errorf("ValidateURL(%s) unexpected error: %v", u, err)
		}
	}

	invalid := []string{
		"ftp://example.com/hook",
		"http://localhost/hook",
		"http://127.0.0.1:8080/hook",
		"http://10.0.0.5/hook",
		"http://192.168.1.1/hook",
		"http://0.0.0.0/hook",
		"not a url at all://",
	}
	for _, u := range invalid {
		if err := ValidateURL(u); err == nil {
			t.Errorf("ValidateURL(%s) expected error", u)
		}
	}
}

// ---------------------------------------------------------------------------
// Signature tests
// ---------------------------------------------------------------------------

func TestSign(t *testing.T) {
	d := newTestDispatcher(NewMemoryStore())

	payload := []byte(`{"type":"payment.failed","data":{}}`)
	secret := "test_secret_key"

	sig := d.sign(payload, secret)

	// Verify manually
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	expected := hex.EncodeToString(h.Sum(nil))

	if sig != expected {
		t.Errorf("Signature mismatch: got %s, want %s", sig, expected)
	}
}

func TestSign_DifferentSecrets(t *testing.T) {
	d := newTestDispatcher(NewMemoryStore())

	payload := []byte(`{"test": true}`)
	sig1 := d.sign(payload, "secret1")
	sig2 := d.sign(payload, "secret2")

	if sig1 == sig2 {
		t.Error("Different secrets should produce different signatures")
	}
}

// ---------------------------------------------------------------------------
// Dispatch tests
// ---------------------------------------------------------------------------

func TestDispatch_SendsToSubscribers(t *testing.T) {
	store := NewMemoryStore()

	var received atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(200)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:     "wh1",
		URL:    server.URL,
		Events: []EventType{EventPaymentFailed},
		Active: true,
	})

	d := newTestDispatcher(store)
	event := &Event{
		Type:      EventPaymentFailed,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"subscriptionId": "sub_1"},
	}

	err := d.Dispatch(ctx, event)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	// Wait for async delivery
	time.Sleep(200 * time.Millisecond)

	if received.Load() != 1 {
		t.Errorf("Expected 1 webhook delivery, got %d", received.Load())
	}
}

func TestDispatch_SkipsInactiveSubscribers(t *testing.T) {
	store := NewMemoryStore()

	var received atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(200)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:     "wh1",
		URL:    server.URL,
		Events: []EventType{EventPaymentFailed},
		Active: false, // Inactive
	})

	d := newTestDispatcher(store)
	d.Dispatch(ctx, &Event{Type: EventPaymentFailed, Timestamp: time.Now()})

	time.Sleep(200 * time.Millisecond)

	if received.Load() != 0 {
		t.Errorf("Expected 0 deliveries for inactive sub, got %d", received.Load())
	}
}

func TestDispatch_IncludesSignature(t *testing.T) {
	store := NewMemoryStore()

	var mu sync.Mutex
	var gotSig string
	var gotBody []byte
	secret := "test_webhook_secret" //nolint:gosec // test credential

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotSig = r.Header.Get("X-Convodock-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(200)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:     "wh1",
		URL:    server.URL,
		Events: []EventType{EventPaymentFailed},
		Active: true,
		Secret: secret,
	})

	d := newTestDispatcher(store)
	d.Dispatch(ctx, &Event{
		Type:      EventPaymentFailed,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"subscriptionId": "sub_1"},
	})

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if gotSig == "" {
		t.Fatal("Expected signature header")
	}

	// Verify signature
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(gotBody)
	expected := hex.EncodeToString(h.Sum(nil))

	if gotSig != expected {
		t.Errorf("Signature mismatch: %s != %s", gotSig, expected)
	}
}

func TestDispatch_IncludesEventHeaders(t *testing.T) {
	store := NewMemoryStore()

	var mu sync.Mutex
	var gotEventType string
	var gotTimestamp string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotEventType = r.Header.Get("X-Convodock-Event")
		gotTimestamp = r.Header.Get("X-Convodock-Timestamp")
		w.WriteHeader(200)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:     "wh1",
		URL:    server.URL,
		Events: []EventType{EventSubscriptionCanceled},
		Active: true,
	})

	d := newTestDispatcher(store)
	d.Dispatch(ctx, &Event{Type: EventSubscriptionCanceled, Timestamp: time.Now()})

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if gotEventType != "subscription.canceled" {
		t.Errorf("Expected event type subscription.canceled, got %s", gotEventType)
	}
	if gotTimestamp == "" {
		t.Error("Expected timestamp header")
	}
}

func TestDispatch_PayloadFormat(t *testing.T) {
	store := NewMemoryStore()

	var mu sync.Mutex
	var gotBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(200)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:     "wh1",
		URL:    server.URL,
		Events: []EventType{EventPaymentFailed},
		Active: true,
	})

	d := newTestDispatcher(store)
	d.Dispatch(ctx, &Event{
		Type:      EventPaymentFailed,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"subscriptionId": "sub_1", "errorMessage": "card_declined"},
	})

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	var parsed Event
	if err := json.Unmarshal(gotBody, &parsed); err != nil {
		t.Fatalf("Failed to parse webhook payload: %v", err)
	}
	if parsed.Type != EventPaymentFailed {
		t.Errorf("Expected type payment.failed, got %s", parsed.Type)
	}
	if parsed.Data["errorMessage"] != "card_declined" {
		t.Errorf("Expected errorMessage in payload, got %v", parsed.Data)
	}
}

func TestDispatch_TenantFiltering(t *testing.T) {
	store := NewMemoryStore()

	var received atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(200)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID: "wh1", TenantID: "ten_a", URL: server.URL,
		Events: []EventType{EventPaymentFailed}, Active: true,
	})
	store.Create(ctx, &Subscription{
		ID: "wh2", TenantID: "ten_b", URL: server.URL,
		Events: []EventType{EventPaymentFailed}, Active: true,
	})

	d := newTestDispatcher(store)
	d.DispatchToTenant(ctx, "ten_a", &Event{Type: EventPaymentFailed, Timestamp: time.Now()})

	time.Sleep(200 * time.Millisecond)

	if received.Load() != 1 {
		t.Errorf("Expected delivery only to ten_a's hook, got %d deliveries", received.Load())
	}
}

func TestDispatch_DisablesAfterConsecutiveFailures(t *testing.T) {
	store := NewMemoryStore()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer server.Close()

	ctx := context.Background()
	sub := &Subscription{
		ID:                  "wh1",
		URL:                 server.URL,
		Events:              []EventType{EventPaymentFailed},
		Active:              true,
		ConsecutiveFailures: maxConsecutiveFailures - 1,
	}
	store.Create(ctx, sub)

	d := newTestDispatcher(store)
	d.Dispatch(ctx, &Event{Type: EventPaymentFailed, Timestamp: time.Now()})

	time.Sleep(200 * time.Millisecond)

	got, _ := store.Get(ctx, "wh1")
	if got.Active {
		t.Error("Expected subscription disabled after repeated failures")
	}
	if got.LastError == "" {
		t.Error("Expected lastError to be recorded")
	}
}

func TestDispatch_BreakerSkipsAfterRepeatedFailures(t *testing.T) {
	store := NewMemoryStore()

	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(500)
	}))
	defer server.Close()

	ctx := context.Background()
	sub := &Subscription{
		ID:     "wh1",
		URL:    server.URL,
		Events: []EventType{EventPaymentFailed},
		Active: true,
	}
	store.Create(ctx, sub)

	d := newTestDispatcher(store)
	event := &Event{Type: EventPaymentFailed, Timestamp: time.Now()}

	// Trip the breaker, then dispatch once more.
	for i := 0; i < breakerThreshold+1; i++ {
		d.Dispatch(ctx, event)
		time.Sleep(100 * time.Millisecond)
	}

	if got := atomic.LoadInt32(&hits); got != breakerThreshold {
		t.Errorf("endpoint hit %d times, want %d (breaker should skip once open)", got, breakerThreshold)
	}
	if d.breaker.State("wh1") != circuitbreaker.StateOpen {
		t.Errorf("breaker state = %v, want open", d.breaker.State("wh1"))
	}
}

func TestDispatch_ConcurrentFailureCountsAccumulate(t *testing.T) {
	store := NewMemoryStore()

	var arrived int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&arrived, 1)
		<-release
		w.WriteHeader(500)
	}))
	defer server.Close()

	ctx := context.Background()
	sub := &Subscription{
		ID:     "wh1",
		URL:    server.URL,
		Events: []EventType{EventPaymentFailed},
		Active: true,
	}
	store.Create(ctx, sub)

	d := newTestDispatcher(store)
	event := &Event{Type: EventPaymentFailed, Timestamp: time.Now()}

	// Start deliveries that all snapshot the subscription before any
	// failure is recorded, then release them together.
	for i := 0; i < breakerThreshold; i++ {
		d.Dispatch(ctx, event)
	}
	for i := 0; atomic.LoadInt32(&arrived) < breakerThreshold; i++ {
		if i > 50 {
			t.Fatalf("deliveries in flight = %d, want %d", arrived, breakerThreshold)
		}
		time.Sleep(20 * time.Millisecond)
	}
	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, _ := store.Get(ctx, "wh1")
		if got.ConsecutiveFailures == breakerThreshold {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("consecutiveFailures = %d, want %d (concurrent deliveries lost counts)",
				got.ConsecutiveFailures, breakerThreshold)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
