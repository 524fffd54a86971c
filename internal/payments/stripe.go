// Package payments implements the billing payment gateway on top of Stripe.
package payments

import (
	"context"
	"errors"
	"fmt"

	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/paymentintent"

	"github.com/convodock/convodock/internal/billing"
)

// StripeGateway charges tenants through the Stripe payment intents API.
type StripeGateway struct {
	apiKey string
}

// NewStripeGateway configures the Stripe client with the given secret key.
func NewStripeGateway(apiKey string) *StripeGateway {
	stripe.Key = apiKey
	return &StripeGateway{apiKey: apiKey}
}

// CreatePaymentIntent charges the customer's payment method off-session.
//
// A card decline completes the call: it returns an intent with a failed
// status and a nil error. Only errors where the charge never completed
// (network, auth, malformed request) are returned as errors.
func (g *StripeGateway) CreatePaymentIntent(ctx context.Context, params billing.CreateIntentParams) (*billing.PaymentIntent, error) {
	p := &stripe.PaymentIntentParams{
		Params:        stripe.Params{Context: ctx},
		Amount:        stripe.Int64(params.AmountCents),
		Currency:      stripe.String(params.Currency),
		Customer:      stripe.String(params.CustomerID),
		PaymentMethod: stripe.String(params.PaymentMethodID),
		Confirm:       stripe.Bool(params.Confirm),
		OffSession:    stripe.Bool(true),
	}
	p.AddMetadata("subscription_id", params.SubscriptionID)

	pi, err := paymentintent.New(p)
	if err != nil {
		if intent, ok := declinedIntent(err); ok {
			return intent, nil
		}
		return nil, fmt.Errorf("payments: create payment intent: %w", err)
	}

	return &billing.PaymentIntent{
		ID:     pi.ID,
		Status: mapIntentStatus(pi.Status),
	}, nil
}

// declinedIntent converts a Stripe card error into a completed-but-failed
// intent. The charge reached the card network and was declined, so the
// attempt must be recorded rather than retried as a transport failure.
func declinedIntent(err error) (*billing.PaymentIntent, bool) {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) || stripeErr.Type != stripe.ErrorTypeCard {
		return nil, false
	}
	intent := &billing.PaymentIntent{Status: billing.IntentFailed}
	if stripeErr.PaymentIntent != nil {
		intent.ID = stripeErr.PaymentIntent.ID
	}
	return intent, true
}

func mapIntentStatus(s stripe.PaymentIntentStatus) billing.PaymentIntentStatus {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return billing.IntentSucceeded
	case stripe.PaymentIntentStatusProcessing:
		return billing.IntentProcessing
	case stripe.PaymentIntentStatusRequiresAction,
		stripe.PaymentIntentStatusRequiresConfirmation:
		return billing.IntentRequiresAction
	default:
		// requires_payment_method, canceled
		return billing.IntentFailed
	}
}

var _ billing.Gateway = (*StripeGateway)(nil)
