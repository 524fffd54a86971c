package payments

import (
	"context"
	"strings"

	"github.com/convodock/convodock/internal/billing"
	"github.com/convodock/convodock/internal/idgen"
)

// SimulatedGateway approves every charge without talking to a payment
// processor. It backs demo/development mode when no Stripe key is configured.
//
// Payment methods whose ID starts with "pm_decline" are declined, so the
// dunning flow can be exercised end to end without real cards.
type SimulatedGateway struct{}

// NewSimulatedGateway creates a gateway that simulates charges in-process.
func NewSimulatedGateway() *SimulatedGateway {
	return &SimulatedGateway{}
}

func (g *SimulatedGateway) CreatePaymentIntent(_ context.Context, params billing.CreateIntentParams) (*billing.PaymentIntent, error) {
	intent := &billing.PaymentIntent{
		ID:     idgen.WithPrefix("pi_sim_"),
		Status: billing.IntentSucceeded,
	}
	if strings.HasPrefix(params.PaymentMethodID, "pm_decline") {
		intent.Status = billing.IntentFailed
	}
	return intent, nil
}

var _ billing.Gateway = (*SimulatedGateway)(nil)
