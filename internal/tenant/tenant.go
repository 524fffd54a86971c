// Package tenant provides multi-tenancy for the ConvoDock platform.
package tenant

import (
	"errors"
	"time"
)

// Errors
var (
	ErrTenantNotFound = errors.New("tenant: not found")
	ErrSlugTaken      = errors.New("tenant: slug already taken")
	ErrMaxChatbots    = errors.New("tenant: maximum chatbots reached for plan")
)

// Status represents a tenant's lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
)

// Plan identifies the pricing tier.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanStarter    Plan = "starter"
	PlanGrowth     Plan = "growth"
	PlanEnterprise Plan = "enterprise"
)

// PaymentMethod is a stored card reference at the payment processor.
// Only the processor-side ID and display metadata are kept here.
type PaymentMethod struct {
	ID        string `json:"paymentMethodId"`
	Brand     string `json:"brand,omitempty"`
	Last4     string `json:"last4,omitempty"`
	IsDefault bool   `json:"isDefault"`
}

// Settings stores configurable tenant limits.
type Settings struct {
	RateLimitRPM       int      `json:"rateLimitRpm"`
	MaxChatbots        int      `json:"maxChatbots"` // 0 = unlimited
	MaxMonthlyMessages int      `json:"maxMonthlyMessages"`
	AllowedOrigins     []string `json:"allowedOrigins,omitempty"`
}

// Tenant represents an organisation using the platform.
type Tenant struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Slug             string          `json:"slug"`
	Plan             Plan            `json:"plan"`
	StripeCustomerID string          `json:"stripeCustomerId,omitempty"`
	ContactEmail     string          `json:"contactEmail"`
	Status           Status          `json:"status"`
	PaymentMethods   []PaymentMethod `json:"paymentMethods,omitempty"`
	Settings         Settings        `json:"settings"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// DefaultPaymentMethod returns the tenant's default payment method, or nil
// if none is marked default.
func (t *Tenant) DefaultPaymentMethod() *PaymentMethod {
	for i := range t.PaymentMethods {
		if t.PaymentMethods[i].IsDefault {
			return &t.PaymentMethods[i]
		}
	}
	return nil
}

// SetDefaultPaymentMethod adds or promotes a payment method and clears the
// default flag on all others.
func (t *Tenant) SetDefaultPaymentMethod(pm PaymentMethod) {
	pm.IsDefault = true
	found := false
	for i := range t.PaymentMethods {
		if t.PaymentMethods[i].ID == pm.ID {
			t.PaymentMethods[i] = pm
			found = true
		} else {
			t.PaymentMethods[i].IsDefault = false
		}
	}
	if !found {
		t.PaymentMethods = append(t.PaymentMethods, pm)
	}
	t.UpdatedAt = time.Now()
}
