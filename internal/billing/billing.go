// Package billing implements subscriptions and failed-payment recovery (dunning)
// for the ConvoDock platform.
//
// A subscription whose renewal payment fails enters a dunning cycle: the charge
// is retried on a configurable schedule, the tenant is notified at each step,
// and the subscription is eventually canceled if no retry succeeds within the
// grace period.
package billing

import (
	"context"
	"errors"
	"time"
)

var (
	ErrSubscriptionNotFound = errors.New("billing: subscription not found")
	ErrNoPaymentMethod      = errors.New("billing: tenant has no default payment method")
	ErrInvalidDunningState  = errors.New("billing: subscription is not in a retryable dunning state")
	ErrNoDunningRecord      = errors.New("billing: subscription has no dunning record")
)

// SubscriptionStatus represents the overall lifecycle state of a subscription.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionTrialing SubscriptionStatus = "trialing"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// DunningStatus represents the state of a dunning cycle.
type DunningStatus string

const (
	DunningActive      DunningStatus = "active"       // first failure recorded, no retry scheduled yet
	DunningScheduled   DunningStatus = "scheduled"    // a future retry is queued
	DunningGracePeriod DunningStatus = "grace_period" // retries exhausted, cancellation deferred
	DunningRecovered   DunningStatus = "recovered"    // terminal: payment succeeded
	DunningFailed      DunningStatus = "failed"       // terminal: retries exhausted, auto-cancel disabled
	DunningCanceled    DunningStatus = "canceled"     // terminal: grace period elapsed
)

// Terminal reports whether the status ends the dunning cycle.
func (s DunningStatus) Terminal() bool {
	switch s {
	case DunningRecovered, DunningFailed, DunningCanceled:
		return true
	}
	return false
}

// Valid reports whether s is a known dunning status.
func (s DunningStatus) Valid() bool {
	switch s {
	case DunningActive, DunningScheduled, DunningGracePeriod,
		DunningRecovered, DunningFailed, DunningCanceled:
		return true
	}
	return false
}

// DunningAttempt records a single payment retry. Attempts are append-only:
// once recorded they are never modified or removed.
type DunningAttempt struct {
	At              time.Time `json:"at"`
	PaymentIntentID string    `json:"paymentIntentId,omitempty"`
	ErrorMessage    string    `json:"errorMessage,omitempty"`
	Succeeded       bool      `json:"succeeded"`
}

// DunningRecord tracks the recovery process for a subscription's failed payment.
// A subscription has at most one record in progress at a time; a new failed
// payment reuses the in-progress record and only creates a fresh one after the
// previous cycle reached a terminal state.
type DunningRecord struct {
	Status            DunningStatus    `json:"status"`
	Attempts          []DunningAttempt `json:"attempts"`
	StartedAt         time.Time        `json:"startedAt"`
	LastAttemptAt     time.Time        `json:"lastAttemptAt,omitempty"`
	NextRetryAt       time.Time        `json:"nextRetryAt,omitempty"`
	RemainingRetries  int              `json:"remainingRetries"`
	GracePeriodEndsAt time.Time        `json:"gracePeriodEndsAt,omitempty"`
	CanceledAt        time.Time        `json:"canceledAt,omitempty"`
}

// InProgress reports whether the record exists and has not reached a terminal state.
func (r *DunningRecord) InProgress() bool {
	return r != nil && !r.Status.Terminal()
}

// Subscription represents a tenant's paid plan.
type Subscription struct {
	ID               string             `json:"id"`
	TenantID         string             `json:"tenantId"`
	PlanID           string             `json:"planId"`
	Status           SubscriptionStatus `json:"status"`
	AmountCents      int64              `json:"amountCents"`
	Currency         string             `json:"currency"`
	CurrentPeriodEnd time.Time          `json:"currentPeriodEnd,omitempty"`
	Dunning          *DunningRecord     `json:"dunning,omitempty"`
	CreatedAt        time.Time          `json:"createdAt"`
	UpdatedAt        time.Time          `json:"updatedAt"`
}

// Store persists subscription data.
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	// Update persists the subscription and its dunning record. Attempts are
	// persisted separately via AppendAttempt so that concurrent writers cannot
	// clobber each other's appends.
	Update(ctx context.Context, sub *Subscription) error
	// AppendAttempt durably appends one attempt to the subscription's dunning
	// history.
	AppendAttempt(ctx context.Context, subID string, att DunningAttempt) error
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]*Subscription, error)
	ListByDunningStatus(ctx context.Context, status DunningStatus, limit int) ([]*Subscription, error)
	// ListRetryDue returns subscriptions with dunning status "scheduled" whose
	// next retry time is at or before now.
	ListRetryDue(ctx context.Context, now time.Time, limit int) ([]*Subscription, error)
	// ListGraceExpired returns subscriptions with dunning status "grace_period"
	// whose grace period ends at or before now.
	ListGraceExpired(ctx context.Context, now time.Time, limit int) ([]*Subscription, error)
	CountByDunningStatus(ctx context.Context) (map[DunningStatus]int, error)
}

// PaymentIntentStatus is the gateway's report of a charge attempt.
type PaymentIntentStatus string

const (
	IntentSucceeded      PaymentIntentStatus = "succeeded"
	IntentRequiresAction PaymentIntentStatus = "requires_action"
	IntentProcessing     PaymentIntentStatus = "processing"
	IntentFailed         PaymentIntentStatus = "failed"
)

// PaymentIntent is the gateway's record of a charge attempt.
type PaymentIntent struct {
	ID     string
	Status PaymentIntentStatus
}

// CreateIntentParams describes a charge to the payment gateway.
type CreateIntentParams struct {
	SubscriptionID  string
	CustomerID      string
	PaymentMethodID string
	AmountCents     int64
	Currency        string
	Confirm         bool
}

// Gateway creates payment intents with an external payment processor.
// A transport-level error (the call never completed) must be returned as an
// error; a declined charge completes with a non-succeeded status.
type Gateway interface {
	CreatePaymentIntent(ctx context.Context, params CreateIntentParams) (*PaymentIntent, error)
}

// Email is a templated notification to a tenant contact.
type Email struct {
	To       string
	Subject  string
	Template string
	Data     map[string]interface{}
}

// Notifier delivers billing emails. Sends are best-effort: the engine logs
// and swallows Notifier errors, they never abort a state transition.
type Notifier interface {
	SendEmail(ctx context.Context, email Email) error
}

// Emitter publishes billing lifecycle events to external consumers
// (webhooks, realtime streams). All methods are fire-and-forget.
type Emitter interface {
	PaymentFailed(sub *Subscription, att DunningAttempt)
	PaymentRecovered(sub *Subscription)
	SubscriptionCanceled(sub *Subscription)
}
