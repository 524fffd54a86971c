package billing

import (
	"context"
	"fmt"
	"strings"

	"github.com/convodock/convodock/internal/tenant"
)

// Email template names, rendered by the configured Notifier.
const (
	TemplatePaymentFailed        = "payment_failed"
	TemplatePaymentRecovered     = "payment_recovered"
	TemplateSubscriptionCanceled = "subscription_canceled"
)

// notifyPaymentFailed sends the "payment failed" email. Best-effort: failures
// are logged and swallowed, never propagated to the caller.
func (e *Engine) notifyPaymentFailed(ctx context.Context, t *tenant.Tenant, sub *Subscription, att DunningAttempt) {
	if !e.cfg.SendNotifications || e.notifier == nil {
		return
	}

	rec := sub.Dunning
	data := map[string]interface{}{
		"tenantName":   t.Name,
		"planId":       sub.PlanID,
		"amount":       formatAmount(sub.AmountCents, sub.Currency),
		"errorMessage": att.ErrorMessage,
		"attemptCount": len(rec.Attempts),
	}
	subject := "Payment failed for your ConvoDock subscription"

	switch rec.Status {
	case DunningScheduled:
		data["nextRetryAt"] = rec.NextRetryAt
		data["remainingRetries"] = rec.RemainingRetries
	case DunningGracePeriod:
		data["gracePeriodEndsAt"] = rec.GracePeriodEndsAt
		subject = "Final notice: update your payment method"
	case DunningFailed:
		subject = "We could not collect your subscription payment"
	}

	e.sendEmail(ctx, Email{
		To:       t.ContactEmail,
		Subject:  subject,
		Template: TemplatePaymentFailed,
		Data:     data,
	})
}

// notifyPaymentRecovered sends the "payment recovered" email.
func (e *Engine) notifyPaymentRecovered(ctx context.Context, t *tenant.Tenant, sub *Subscription) {
	if !e.cfg.SendNotifications || e.notifier == nil {
		return
	}

	e.sendEmail(ctx, Email{
		To:       t.ContactEmail,
		Subject:  "Payment received: your subscription is active again",
		Template: TemplatePaymentRecovered,
		Data: map[string]interface{}{
			"tenantName": t.Name,
			"planId":     sub.PlanID,
			"amount":     formatAmount(sub.AmountCents, sub.Currency),
		},
	})
}

// notifySubscriptionCanceled sends the cancellation email.
func (e *Engine) notifySubscriptionCanceled(ctx context.Context, t *tenant.Tenant, sub *Subscription) {
	if !e.cfg.SendNotifications || e.notifier == nil {
		return
	}

	e.sendEmail(ctx, Email{
		To:       t.ContactEmail,
		Subject:  "Your ConvoDock subscription has been canceled",
		Template: TemplateSubscriptionCanceled,
		Data: map[string]interface{}{
			"tenantName": t.Name,
			"planId":     sub.PlanID,
			"canceledAt": sub.Dunning.CanceledAt,
		},
	})
}

func (e *Engine) sendEmail(ctx context.Context, email Email) {
	if err := e.notifier.SendEmail(ctx, email); err != nil {
		e.logger.Warn("billing notification failed",
			"to", email.To, "template", email.Template, "error", err)
	}
}

// formatAmount renders integer cents as a human-readable amount, e.g.
// 2900/"usd" -> "29.00 USD".
func formatAmount(cents int64, currency string) string {
	cur := currency
	if cur == "" {
		cur = "usd"
	}
	return fmt.Sprintf("%d.%02d %s", cents/100, cents%100, strings.ToUpper(cur))
}
