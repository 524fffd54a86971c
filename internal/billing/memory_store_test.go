package billing

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStore_CreateGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sub := seedSubscription(t, store, "sub_1")

	got, err := store.Get(ctx, "sub_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TenantID != sub.TenantID || got.AmountCents != sub.AmountCents {
		t.Fatalf("got %+v, want %+v", got, sub)
	}

	if _, err := store.Get(ctx, "sub_missing"); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	seedWithDunningStatus(t, store, "sub_1", DunningScheduled)

	got, _ := store.Get(ctx, "sub_1")
	got.Status = SubscriptionCanceled
	got.Dunning.Status = DunningFailed
	got.Dunning.Attempts = append(got.Dunning.Attempts, DunningAttempt{At: time.Now()})

	fresh, _ := store.Get(ctx, "sub_1")
	if fresh.Status != SubscriptionActive {
		t.Fatalf("stored status mutated through returned copy: %s", fresh.Status)
	}
	if fresh.Dunning.Status != DunningScheduled {
		t.Fatalf("stored dunning status mutated: %s", fresh.Dunning.Status)
	}
	if len(fresh.Dunning.Attempts) != 0 {
		t.Fatalf("stored attempts mutated: %d", len(fresh.Dunning.Attempts))
	}
}

func TestMemoryStore_UpdateUnknown(t *testing.T) {
	store := NewMemoryStore()
	err := store.Update(context.Background(), &Subscription{ID: "sub_missing"})
	if !errors.Is(err, ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
}

// A stale snapshot taken before an AppendAttempt must not drop the appended
// attempt when it is written back within the same dunning cycle.
func TestMemoryStore_UpdatePreservesAppendedAttempts(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	started := time.Now().Add(-time.Hour)
	sub := seedSubscription(t, store, "sub_1")
	sub.Dunning = &DunningRecord{Status: DunningActive, StartedAt: started}
	if err := store.Update(ctx, sub); err != nil {
		t.Fatalf("update: %v", err)
	}

	// Snapshot, then append behind its back.
	stale, _ := store.Get(ctx, "sub_1")
	if err := store.AppendAttempt(ctx, "sub_1", DunningAttempt{At: time.Now(), ErrorMessage: "card_declined"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	stale.Dunning.Status = DunningScheduled
	if err := store.Update(ctx, stale); err != nil {
		t.Fatalf("update stale: %v", err)
	}

	got, _ := store.Get(ctx, "sub_1")
	if got.Dunning.Status != DunningScheduled {
		t.Fatalf("status = %s, want scheduled", got.Dunning.Status)
	}
	if len(got.Dunning.Attempts) != 1 {
		t.Fatalf("attempts = %d, want 1 (append lost)", len(got.Dunning.Attempts))
	}
}

// Attempts from a finished cycle must not leak into a fresh record that
// replaces it.
func TestMemoryStore_UpdateReplacesRecordAcrossCycles(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sub := seedSubscription(t, store, "sub_1")
	sub.Dunning = &DunningRecord{
		Status:    DunningFailed,
		StartedAt: time.Now().Add(-48 * time.Hour),
		Attempts: []DunningAttempt{
			{At: time.Now().Add(-48 * time.Hour)},
			{At: time.Now().Add(-24 * time.Hour)},
		},
	}
	if err := store.Update(ctx, sub); err != nil {
		t.Fatalf("update: %v", err)
	}

	fresh, _ := store.Get(ctx, "sub_1")
	fresh.Dunning = &DunningRecord{Status: DunningActive, StartedAt: time.Now()}
	if err := store.Update(ctx, fresh); err != nil {
		t.Fatalf("update fresh: %v", err)
	}

	got, _ := store.Get(ctx, "sub_1")
	if got.Dunning.Status != DunningActive {
		t.Fatalf("status = %s, want active", got.Dunning.Status)
	}
	if len(got.Dunning.Attempts) != 0 {
		t.Fatalf("attempts = %d, want 0 (old cycle leaked)", len(got.Dunning.Attempts))
	}
}

func TestMemoryStore_AppendAttemptInitializesRecord(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	seedSubscription(t, store, "sub_1")
	at := time.Now()
	if err := store.AppendAttempt(ctx, "sub_1", DunningAttempt{At: at, PaymentIntentID: "pi_1"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, _ := store.Get(ctx, "sub_1")
	if got.Dunning == nil {
		t.Fatal("expected dunning record to be created")
	}
	if got.Dunning.Status != DunningActive {
		t.Fatalf("status = %s, want active", got.Dunning.Status)
	}
	if len(got.Dunning.Attempts) != 1 || got.Dunning.Attempts[0].PaymentIntentID != "pi_1" {
		t.Fatalf("unexpected attempts: %+v", got.Dunning.Attempts)
	}

	if err := store.AppendAttempt(ctx, "sub_missing", DunningAttempt{At: at}); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
}

func TestMemoryStore_ListByTenant(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	seedSubscription(t, store, "sub_1")
	seedSubscription(t, store, "sub_2")
	other := seedSubscription(t, store, "sub_other")
	other.TenantID = "ten_other"
	if err := store.Update(ctx, other); err != nil {
		t.Fatalf("update: %v", err)
	}

	subs, err := store.ListByTenant(ctx, "ten_1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("got %d subscriptions, want 2", len(subs))
	}

	subs, _ = store.ListByTenant(ctx, "ten_1", 1)
	if len(subs) != 1 {
		t.Fatalf("limit ignored: got %d", len(subs))
	}
}

func TestMemoryStore_ListRetryDue(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	due := seedSubscription(t, store, "sub_due")
	due.Dunning = &DunningRecord{Status: DunningScheduled, StartedAt: now, NextRetryAt: now.Add(-time.Minute)}
	future := seedSubscription(t, store, "sub_future")
	future.Dunning = &DunningRecord{Status: DunningScheduled, StartedAt: now, NextRetryAt: now.Add(time.Hour)}
	grace := seedSubscription(t, store, "sub_grace")
	grace.Dunning = &DunningRecord{Status: DunningGracePeriod, StartedAt: now, GracePeriodEndsAt: now.Add(-time.Minute)}
	for _, s := range []*Subscription{due, future, grace} {
		if err := store.Update(ctx, s); err != nil {
			t.Fatalf("update %s: %v", s.ID, err)
		}
	}

	subs, err := store.ListRetryDue(ctx, now, 0)
	if err != nil {
		t.Fatalf("list retry due: %v", err)
	}
	if len(subs) != 1 || subs[0].ID != "sub_due" {
		t.Fatalf("retry due = %v, want [sub_due]", ids(subs))
	}

	subs, err = store.ListGraceExpired(ctx, now, 0)
	if err != nil {
		t.Fatalf("list grace expired: %v", err)
	}
	if len(subs) != 1 || subs[0].ID != "sub_grace" {
		t.Fatalf("grace expired = %v, want [sub_grace]", ids(subs))
	}
}

func TestMemoryStore_CountByDunningStatus(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	seedWithDunningStatus(t, store, "sub_a", DunningScheduled)
	seedWithDunningStatus(t, store, "sub_b", DunningScheduled)
	seedWithDunningStatus(t, store, "sub_c", DunningRecovered)
	seedSubscription(t, store, "sub_none")

	counts, err := store.CountByDunningStatus(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[DunningScheduled] != 2 || counts[DunningRecovered] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
	if total := counts[DunningActive] + counts[DunningFailed] + counts[DunningCanceled]; total != 0 {
		t.Fatalf("unexpected extra counts: %v", counts)
	}
}

func ids(subs []*Subscription) []string {
	out := make([]string, len(subs))
	for i, s := range subs {
		out[i] = s.ID
	}
	return out
}

func TestMemoryStore_UpdateDoesNotMutateCaller(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sub := seedSubscription(t, store, "sub_1")
	stamp := sub.UpdatedAt

	sub.Status = SubscriptionPastDue
	if err := store.Update(ctx, sub); err != nil {
		t.Fatalf("update: %v", err)
	}
	if !sub.UpdatedAt.Equal(stamp) {
		t.Fatalf("caller's UpdatedAt mutated by Update: %v -> %v", stamp, sub.UpdatedAt)
	}

	stored, _ := store.Get(ctx, "sub_1")
	if !stored.UpdatedAt.After(stamp) {
		t.Fatalf("stored UpdatedAt not refreshed: %v", stored.UpdatedAt)
	}
}
