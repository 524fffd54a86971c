package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/convodock/convodock/internal/tenant"
	"github.com/convodock/convodock/internal/testutil"
)

// Integration tests. Skipped unless POSTGRES_URL is set.

func TestPostgresStore_CRUD(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	tenants := tenant.NewPostgresStore(db)
	now := time.Now().UTC().Truncate(time.Millisecond)

	ten := &tenant.Tenant{
		ID:           "ten_pg1",
		Name:         "Acme Support",
		Slug:         "acme-support",
		Plan:         tenant.PlanStarter,
		ContactEmail: "billing@acme.test",
		Status:       tenant.StatusActive,
		Settings:     tenant.DefaultSettingsForPlan(tenant.PlanStarter),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := tenants.Create(ctx, ten); err != nil {
		t.Fatalf("create tenant: %v", err)
	}

	store := NewPostgresStore(db)
	sub := &Subscription{
		ID:               "sub_pg1",
		TenantID:         "ten_pg1",
		PlanID:           "starter",
		Status:           SubscriptionActive,
		AmountCents:      2900,
		Currency:         "usd",
		CurrentPeriodEnd: now.AddDate(0, 1, 0),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := store.Create(ctx, sub); err != nil {
		t.Fatalf("create subscription: %v", err)
	}

	got, err := store.Get(ctx, "sub_pg1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TenantID != "ten_pg1" || got.AmountCents != 2900 || got.Dunning != nil {
		t.Fatalf("unexpected subscription: %+v", got)
	}

	if _, err := store.Get(ctx, "sub_missing"); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}

	got.Status = SubscriptionPastDue
	got.Dunning = &DunningRecord{
		Status:           DunningScheduled,
		StartedAt:        now,
		LastAttemptAt:    now,
		NextRetryAt:      now.AddDate(0, 0, 3),
		RemainingRetries: 2,
	}
	if err := store.Update(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}

	if err := store.AppendAttempt(ctx, "sub_pg1", DunningAttempt{
		At:              now,
		PaymentIntentID: "pi_1",
		ErrorMessage:    "card_declined",
	}); err != nil {
		t.Fatalf("append attempt: %v", err)
	}

	got, err = store.Get(ctx, "sub_pg1")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got.Status != SubscriptionPastDue {
		t.Fatalf("status = %s, want past_due", got.Status)
	}
	if got.Dunning == nil || got.Dunning.Status != DunningScheduled {
		t.Fatalf("dunning not persisted: %+v", got.Dunning)
	}
	if got.Dunning.RemainingRetries != 2 {
		t.Fatalf("remaining retries = %d, want 2", got.Dunning.RemainingRetries)
	}
	if len(got.Dunning.Attempts) != 1 || got.Dunning.Attempts[0].PaymentIntentID != "pi_1" {
		t.Fatalf("unexpected attempts: %+v", got.Dunning.Attempts)
	}

	if err := store.Update(ctx, &Subscription{ID: "sub_missing"}); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound on update, got %v", err)
	}
	if err := store.AppendAttempt(ctx, "sub_missing", DunningAttempt{At: now}); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound on append, got %v", err)
	}
}

func TestPostgresStore_QueueScans(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	tenants := tenant.NewPostgresStore(db)
	now := time.Now().UTC().Truncate(time.Millisecond)

	ten := &tenant.Tenant{
		ID:        "ten_pg1",
		Name:      "Acme Support",
		Slug:      "acme-support",
		Plan:      tenant.PlanStarter,
		Status:    tenant.StatusActive,
		Settings:  tenant.DefaultSettingsForPlan(tenant.PlanStarter),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tenants.Create(ctx, ten); err != nil {
		t.Fatalf("create tenant: %v", err)
	}

	store := NewPostgresStore(db)
	mk := func(id string, rec *DunningRecord) {
		t.Helper()
		sub := &Subscription{
			ID:          id,
			TenantID:    "ten_pg1",
			PlanID:      "starter",
			Status:      SubscriptionPastDue,
			AmountCents: 2900,
			Currency:    "usd",
			Dunning:     rec,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := store.Create(ctx, sub); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	mk("sub_due", &DunningRecord{Status: DunningScheduled, StartedAt: now, NextRetryAt: now.Add(-time.Minute), RemainingRetries: 2})
	mk("sub_future", &DunningRecord{Status: DunningScheduled, StartedAt: now, NextRetryAt: now.Add(time.Hour), RemainingRetries: 1})
	mk("sub_grace", &DunningRecord{Status: DunningGracePeriod, StartedAt: now, GracePeriodEndsAt: now.Add(-time.Minute)})
	mk("sub_done", &DunningRecord{Status: DunningRecovered, StartedAt: now})

	due, err := store.ListRetryDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("list retry due: %v", err)
	}
	if len(due) != 1 || due[0].ID != "sub_due" {
		t.Fatalf("retry due = %v, want [sub_due]", ids(due))
	}

	expired, err := store.ListGraceExpired(ctx, now, 10)
	if err != nil {
		t.Fatalf("list grace expired: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "sub_grace" {
		t.Fatalf("grace expired = %v, want [sub_grace]", ids(expired))
	}

	scheduled, err := store.ListByDunningStatus(ctx, DunningScheduled, 10)
	if err != nil {
		t.Fatalf("list by status: %v", err)
	}
	if len(scheduled) != 2 {
		t.Fatalf("scheduled = %d, want 2", len(scheduled))
	}

	byTenant, err := store.ListByTenant(ctx, "ten_pg1", 10)
	if err != nil {
		t.Fatalf("list by tenant: %v", err)
	}
	if len(byTenant) != 4 {
		t.Fatalf("by tenant = %d, want 4", len(byTenant))
	}

	counts, err := store.CountByDunningStatus(ctx)
	if err != nil {
		t.Fatalf("count by status: %v", err)
	}
	if counts[DunningScheduled] != 2 || counts[DunningGracePeriod] != 1 || counts[DunningRecovered] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestPostgresStore_SecondCycleExcludesOldAttempts(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	tenants := tenant.NewPostgresStore(db)
	now := time.Now().UTC().Truncate(time.Millisecond)

	ten := &tenant.Tenant{
		ID:        "ten_pg1",
		Name:      "Acme Support",
		Slug:      "acme-support",
		Plan:      tenant.PlanStarter,
		Status:    tenant.StatusActive,
		Settings:  tenant.DefaultSettingsForPlan(tenant.PlanStarter),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tenants.Create(ctx, ten); err != nil {
		t.Fatalf("create tenant: %v", err)
	}

	store := NewPostgresStore(db)
	firstCycle := now.AddDate(0, -1, 0)
	sub := &Subscription{
		ID:          "sub_pg1",
		TenantID:    "ten_pg1",
		PlanID:      "starter",
		Status:      SubscriptionActive,
		AmountCents: 2900,
		Currency:    "usd",
		Dunning:     &DunningRecord{Status: DunningRecovered, StartedAt: firstCycle},
		CreatedAt:   firstCycle,
		UpdatedAt:   firstCycle,
	}
	if err := store.Create(ctx, sub); err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	for i, pi := range []string{"pi_old1", "pi_old2"} {
		att := DunningAttempt{At: firstCycle.AddDate(0, 0, i*3), PaymentIntentID: pi, ErrorMessage: "card_declined"}
		if err := store.AppendAttempt(ctx, "sub_pg1", att); err != nil {
			t.Fatalf("append old attempt: %v", err)
		}
	}

	// A month later the renewal fails again: a fresh cycle replaces the
	// recovered record.
	sub.Dunning = &DunningRecord{Status: DunningScheduled, StartedAt: now, RemainingRetries: 2}
	if err := store.Update(ctx, sub); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := store.AppendAttempt(ctx, "sub_pg1", DunningAttempt{
		At: now, PaymentIntentID: "pi_new1", ErrorMessage: "card_declined",
	}); err != nil {
		t.Fatalf("append new attempt: %v", err)
	}

	got, err := store.Get(ctx, "sub_pg1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Dunning.Attempts) != 1 {
		t.Fatalf("attempts = %d, want 1 (old cycle's attempts must not surface)", len(got.Dunning.Attempts))
	}
	if got.Dunning.Attempts[0].PaymentIntentID != "pi_new1" {
		t.Fatalf("attempt = %+v, want pi_new1", got.Dunning.Attempts[0])
	}

	listed, err := store.ListByDunningStatus(ctx, DunningScheduled, 10)
	if err != nil {
		t.Fatalf("list by status: %v", err)
	}
	if len(listed) != 1 || len(listed[0].Dunning.Attempts) != 1 {
		t.Fatalf("listed attempts = %+v, want only the current cycle's", listed)
	}
}
