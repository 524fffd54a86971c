package server

import (
	"github.com/convodock/convodock/internal/billing"
)

// lifecycleEmitter fans billing and chatbot lifecycle events out to every
// registered sink (webhook dispatch, websocket hub). Sinks are best-effort
// and must not block.
type lifecycleEmitter struct {
	sinks []lifecycleSink
}

type lifecycleSink interface {
	billing.Emitter
	ChatbotPublished(tenantID, chatbotID, name string)
	ChatbotArchived(tenantID, chatbotID, name string)
}

func newLifecycleEmitter(sinks ...lifecycleSink) *lifecycleEmitter {
	return &lifecycleEmitter{sinks: sinks}
}

func (e *lifecycleEmitter) PaymentFailed(sub *billing.Subscription, att billing.DunningAttempt) {
	for _, s := range e.sinks {
		s.PaymentFailed(sub, att)
	}
}

func (e *lifecycleEmitter) PaymentRecovered(sub *billing.Subscription) {
	for _, s := range e.sinks {
		s.PaymentRecovered(sub)
	}
}

func (e *lifecycleEmitter) SubscriptionCanceled(sub *billing.Subscription) {
	for _, s := range e.sinks {
		s.SubscriptionCanceled(sub)
	}
}

func (e *lifecycleEmitter) ChatbotPublished(tenantID, chatbotID, name string) {
	for _, s := range e.sinks {
		s.ChatbotPublished(tenantID, chatbotID, name)
	}
}

func (e *lifecycleEmitter) ChatbotArchived(tenantID, chatbotID, name string) {
	for _, s := range e.sinks {
		s.ChatbotArchived(tenantID, chatbotID, name)
	}
}
