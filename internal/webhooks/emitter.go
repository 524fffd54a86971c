package webhooks

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/convodock/convodock/internal/billing"
	"github.com/convodock/convodock/internal/idgen"
)

var (
	webhookEmitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "convodock",
		Subsystem: "webhook",
		Name:      "emit_total",
		Help:      "Total webhook emit attempts by event type.",
	}, []string{"event_type"})

	webhookEmitErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "convodock",
		Subsystem: "webhook",
		Name:      "emit_errors_total",
		Help:      "Total webhook emit failures by event type.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(webhookEmitTotal, webhookEmitErrors)
}

// Emitter wraps a Dispatcher to emit lifecycle events across subsystems.
// All methods are fire-and-forget: errors are logged but never returned.
type Emitter struct {
	d      *Dispatcher
	logger *slog.Logger
}

// NewEmitter creates a new webhook emitter.
func NewEmitter(d *Dispatcher, logger *slog.Logger) *Emitter {
	return &Emitter{d: d, logger: logger}
}

func (e *Emitter) emit(tenantID string, eventType EventType, data map[string]interface{}) {
	if e == nil || e.d == nil {
		return
	}
	webhookEmitTotal.WithLabelValues(string(eventType)).Inc()
	event := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.d.DispatchToTenant(ctx, tenantID, event); err != nil {
		webhookEmitErrors.WithLabelValues(string(eventType)).Inc()
		e.logger.Warn("webhook emit failed", "event", eventType, "tenant", tenantID, "error", err)
	}
}

// --- Billing events ---

// PaymentFailed emits a payment.failed event.
func (e *Emitter) PaymentFailed(sub *billing.Subscription, att billing.DunningAttempt) {
	data := map[string]interface{}{
		"subscriptionId": sub.ID,
		"tenantId":       sub.TenantID,
		"planId":         sub.PlanID,
		"amountCents":    sub.AmountCents,
		"currency":       sub.Currency,
		"errorMessage":   att.ErrorMessage,
	}
	if rec := sub.Dunning; rec != nil {
		data["dunningStatus"] = string(rec.Status)
		data["attemptCount"] = len(rec.Attempts)
		data["remainingRetries"] = rec.RemainingRetries
		if !rec.NextRetryAt.IsZero() {
			data["nextRetryAt"] = rec.NextRetryAt
		}
	}
	e.emit(sub.TenantID, EventPaymentFailed, data)
}

// PaymentRecovered emits a payment.recovered event.
func (e *Emitter) PaymentRecovered(sub *billing.Subscription) {
	data := map[string]interface{}{
		"subscriptionId": sub.ID,
		"tenantId":       sub.TenantID,
		"planId":         sub.PlanID,
		"amountCents":    sub.AmountCents,
		"currency":       sub.Currency,
	}
	if rec := sub.Dunning; rec != nil {
		data["attemptCount"] = len(rec.Attempts)
	}
	e.emit(sub.TenantID, EventPaymentRecovered, data)
}

// SubscriptionCanceled emits a subscription.canceled event.
func (e *Emitter) SubscriptionCanceled(sub *billing.Subscription) {
	data := map[string]interface{}{
		"subscriptionId": sub.ID,
		"tenantId":       sub.TenantID,
		"planId":         sub.PlanID,
	}
	if rec := sub.Dunning; rec != nil && !rec.CanceledAt.IsZero() {
		data["canceledAt"] = rec.CanceledAt
	}
	e.emit(sub.TenantID, EventSubscriptionCanceled, data)
}

var _ billing.Emitter = (*Emitter)(nil)

// --- Chatbot events ---

// ChatbotPublished emits a chatbot.published event.
func (e *Emitter) ChatbotPublished(tenantID, chatbotID, name string) {
	e.emit(tenantID, EventChatbotPublished, map[string]interface{}{
		"chatbotId": chatbotID,
		"tenantId":  tenantID,
		"name":      name,
	})
}

// ChatbotArchived emits a chatbot.archived event.
func (e *Emitter) ChatbotArchived(tenantID, chatbotID, name string) {
	e.emit(tenantID, EventChatbotArchived, map[string]interface{}{
		"chatbotId": chatbotID,
		"tenantId":  tenantID,
		"name":      name,
	})
}
