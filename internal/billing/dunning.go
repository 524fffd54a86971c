package billing

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/convodock/convodock/internal/syncutil"
	"github.com/convodock/convodock/internal/tenant"
	"github.com/convodock/convodock/internal/traces"
)

var (
	dunningAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "convodock",
		Subsystem: "dunning",
		Name:      "attempts_total",
		Help:      "Total dunning payment attempts by outcome.",
	}, []string{"outcome"})

	dunningCancellationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "convodock",
		Subsystem: "dunning",
		Name:      "cancellations_total",
		Help:      "Total subscriptions canceled after an expired grace period.",
	})

	dunningQueueDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "convodock",
		Subsystem: "dunning",
		Name:      "queue_run_duration_seconds",
		Help:      "Duration of dunning queue processing runs.",
		Buckets:   prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(dunningAttemptsTotal, dunningCancellationsTotal, dunningQueueDuration)
}

// queueBatchSize caps how many subscriptions a single queue run picks up
// from each scan.
const queueBatchSize = 100

// DunningConfig controls retry scheduling and cancellation behaviour.
// It is passed explicitly at construction so tests can run isolated engines
// with distinct configurations.
type DunningConfig struct {
	// RetrySchedule holds day offsets between consecutive retries. When the
	// attempt index exceeds the schedule length, the last entry repeats.
	RetrySchedule []int
	// MaxRetries is how many failed payments are retried before the cycle
	// gives up.
	MaxRetries int
	// SendNotifications enables tenant emails on dunning transitions.
	SendNotifications bool
	// AutoCancel moves exhausted cycles into a grace period and cancels the
	// subscription when it expires. When false, exhausted cycles end in the
	// terminal "failed" state and the subscription is left past_due.
	AutoCancel bool
	// GracePeriodDays is the length of the post-exhaustion grace period.
	GracePeriodDays int
}

// DefaultDunningConfig returns the production defaults.
func DefaultDunningConfig() DunningConfig {
	return DunningConfig{
		RetrySchedule:     []int{3, 7, 14},
		MaxRetries:        3,
		SendNotifications: true,
		AutoCancel:        true,
		GracePeriodDays:   3,
	}
}

// TenantDirectory looks up the owning tenant of a subscription.
type TenantDirectory interface {
	Get(ctx context.Context, id string) (*tenant.Tenant, error)
}

// Engine owns the dunning state machine for subscription billing recovery.
//
// Writes to a subscription's dunning record are serialised with a per-key
// lock, so a manual retry racing the queue processor cannot double-charge or
// interleave state transitions. Concurrent calls for distinct subscriptions
// proceed in parallel.
type Engine struct {
	cfg      DunningConfig
	store    Store
	tenants  TenantDirectory
	gateway  Gateway
	notifier Notifier
	events   Emitter // optional
	locks    *syncutil.ContextShardedMutex
	logger   *slog.Logger
}

// NewEngine creates a dunning engine.
func NewEngine(cfg DunningConfig, store Store, tenants TenantDirectory, gateway Gateway, notifier Notifier, logger *slog.Logger) *Engine {
	if len(cfg.RetrySchedule) == 0 {
		cfg.RetrySchedule = DefaultDunningConfig().RetrySchedule
	}
	return &Engine{
		cfg:      cfg,
		store:    store,
		tenants:  tenants,
		gateway:  gateway,
		notifier: notifier,
		locks:    syncutil.NewContextShardedMutex(),
		logger:   logger,
	}
}

// SetEmitter attaches an optional lifecycle event emitter.
func (e *Engine) SetEmitter(em Emitter) {
	e.events = em
}

// Config returns the engine's configuration.
func (e *Engine) Config() DunningConfig {
	return e.cfg
}

// ProcessFailedPayment records a failed renewal payment for a subscription,
// starting a dunning cycle if none is in progress, and schedules the next
// retry or moves the cycle into the grace period.
func (e *Engine) ProcessFailedPayment(ctx context.Context, subID, paymentIntentID, errMsg string) (*Subscription, error) {
	ctx, span := traces.StartSpan(ctx, "billing.ProcessFailedPayment", traces.SubscriptionID(subID))
	defer span.End()

	unlock, err := e.locks.LockContext(ctx, subID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sub, err := e.store.Get(ctx, subID)
	if err != nil {
		return nil, err
	}
	t, err := e.tenants.Get(ctx, sub.TenantID)
	if err != nil {
		return nil, err
	}

	now := time.Now()

	if !sub.Dunning.InProgress() {
		// Fresh cycle. A terminal record from a previous cycle is replaced.
		sub.Dunning = &DunningRecord{
			Status:           DunningActive,
			RemainingRetries: e.cfg.MaxRetries,
			StartedAt:        now,
		}
	}
	rec := sub.Dunning

	att := DunningAttempt{
		At:              now,
		PaymentIntentID: paymentIntentID,
		ErrorMessage:    errMsg,
		Succeeded:       false,
	}
	rec.Attempts = append(rec.Attempts, att)
	rec.LastAttemptAt = now
	if rec.RemainingRetries > 0 {
		rec.RemainingRetries--
	}

	e.advanceAfterFailure(rec, now)
	sub.Status = SubscriptionPastDue
	sub.UpdatedAt = now

	if err := e.store.AppendAttempt(ctx, sub.ID, att); err != nil {
		return nil, fmt.Errorf("append attempt: %w", err)
	}
	if err := e.store.Update(ctx, sub); err != nil {
		return nil, fmt.Errorf("update subscription: %w", err)
	}

	dunningAttemptsTotal.WithLabelValues("failed").Inc()
	e.notifyPaymentFailed(ctx, t, sub, att)
	if e.events != nil {
		e.events.PaymentFailed(sub, att)
	}

	return sub, nil
}

// RetryPayment attempts to charge the subscription's tenant again. It is
// valid only while the dunning cycle is in the "active" or "scheduled" state.
//
// A gateway transport error (the charge never completed) is returned to the
// caller with the dunning record left untouched; no attempt is recorded for
// a call that never reported a status.
func (e *Engine) RetryPayment(ctx context.Context, subID string) (*Subscription, error) {
	ctx, span := traces.StartSpan(ctx, "billing.RetryPayment", traces.SubscriptionID(subID))
	defer span.End()

	unlock, err := e.locks.LockContext(ctx, subID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sub, err := e.store.Get(ctx, subID)
	if err != nil {
		return nil, err
	}

	rec := sub.Dunning
	if rec == nil {
		return nil, ErrNoDunningRecord
	}
	if rec.Status != DunningActive && rec.Status != DunningScheduled {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidDunningState, rec.Status)
	}

	t, err := e.tenants.Get(ctx, sub.TenantID)
	if err != nil {
		return nil, err
	}
	pm := t.DefaultPaymentMethod()
	if pm == nil {
		return nil, ErrNoPaymentMethod
	}

	intent, err := e.gateway.CreatePaymentIntent(ctx, CreateIntentParams{
		SubscriptionID:  sub.ID,
		CustomerID:      t.StripeCustomerID,
		PaymentMethodID: pm.ID,
		AmountCents:     sub.AmountCents,
		Currency:        sub.Currency,
		Confirm:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}

	now := time.Now()
	att := DunningAttempt{
		At:              now,
		PaymentIntentID: intent.ID,
		Succeeded:       intent.Status == IntentSucceeded,
	}
	if !att.Succeeded {
		att.ErrorMessage = fmt.Sprintf("payment intent status %q", intent.Status)
	}
	rec.Attempts = append(rec.Attempts, att)
	rec.LastAttemptAt = now

	if att.Succeeded {
		rec.Status = DunningRecovered
		rec.NextRetryAt = time.Time{}
		sub.Status = SubscriptionActive
	} else {
		if rec.RemainingRetries > 0 {
			rec.RemainingRetries--
		}
		e.advanceAfterFailure(rec, now)
		sub.Status = SubscriptionPastDue
	}
	sub.UpdatedAt = now

	if err := e.store.AppendAttempt(ctx, sub.ID, att); err != nil {
		return nil, fmt.Errorf("append attempt: %w", err)
	}
	if err := e.store.Update(ctx, sub); err != nil {
		return nil, fmt.Errorf("update subscription: %w", err)
	}

	if att.Succeeded {
		dunningAttemptsTotal.WithLabelValues("recovered").Inc()
		e.notifyPaymentRecovered(ctx, t, sub)
		if e.events != nil {
			e.events.PaymentRecovered(sub)
		}
	} else {
		dunningAttemptsTotal.WithLabelValues("failed").Inc()
		e.notifyPaymentFailed(ctx, t, sub, att)
		if e.events != nil {
			e.events.PaymentFailed(sub, att)
		}
	}

	return sub, nil
}

// QueueResult accumulates counts from one dunning queue run.
type QueueResult struct {
	Processed int `json:"processed"`
	Retried   int `json:"retried"`
	Recovered int `json:"recovered"`
	Failed    int `json:"failed"`
	Canceled  int `json:"canceled"`
	Errors    int `json:"errors"`
}

// ProcessQueue scans for subscriptions due for a retry and for expired grace
// periods, and drives each through the state machine. A failure on one
// subscription never aborts processing of the rest.
func (e *Engine) ProcessQueue(ctx context.Context) (*QueueResult, error) {
	ctx, span := traces.StartSpan(ctx, "billing.ProcessQueue")
	defer span.End()

	start := time.Now()
	defer func() { dunningQueueDuration.Observe(time.Since(start).Seconds()) }()

	result := &QueueResult{}
	now := time.Now()

	due, err := e.store.ListRetryDue(ctx, now, queueBatchSize)
	if err != nil {
		return nil, fmt.Errorf("list retry due: %w", err)
	}

	for _, sub := range due {
		result.Processed++
		updated, err := e.RetryPayment(ctx, sub.ID)
		if err != nil {
			result.Errors++
			e.logger.Warn("dunning retry failed",
				"subscription_id", sub.ID, "tenant_id", sub.TenantID, "error", err)
			continue
		}
		result.Retried++
		if updated.Dunning != nil && updated.Dunning.Status == DunningRecovered {
			result.Recovered++
		} else {
			result.Failed++
		}
	}

	expired, err := e.store.ListGraceExpired(ctx, now, queueBatchSize)
	if err != nil {
		return result, fmt.Errorf("list grace expired: %w", err)
	}

	for _, sub := range expired {
		result.Processed++
		if err := e.cancelSubscription(ctx, sub); err != nil {
			result.Errors++
			e.logger.Warn("dunning cancellation failed",
				"subscription_id", sub.ID, "tenant_id", sub.TenantID, "error", err)
			continue
		}
		result.Canceled++
	}

	e.logger.Info("dunning queue processed",
		"processed", result.Processed,
		"retried", result.Retried,
		"recovered", result.Recovered,
		"failed", result.Failed,
		"canceled", result.Canceled,
		"errors", result.Errors,
	)

	return result, nil
}

// cancelSubscription ends a subscription whose grace period expired without
// recovery.
func (e *Engine) cancelSubscription(ctx context.Context, sub *Subscription) error {
	unlock, err := e.locks.LockContext(ctx, sub.ID)
	if err != nil {
		return err
	}
	defer unlock()

	now := time.Now()
	sub.Status = SubscriptionCanceled
	sub.Dunning.Status = DunningCanceled
	sub.Dunning.CanceledAt = now
	sub.UpdatedAt = now

	if err := e.store.Update(ctx, sub); err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}

	dunningCancellationsTotal.Inc()

	if t, err := e.tenants.Get(ctx, sub.TenantID); err == nil {
		e.notifySubscriptionCanceled(ctx, t, sub)
	} else {
		e.logger.Warn("tenant lookup failed for cancellation notice",
			"subscription_id", sub.ID, "tenant_id", sub.TenantID, "error", err)
	}
	if e.events != nil {
		e.events.SubscriptionCanceled(sub)
	}

	return nil
}

// Stats summarises dunning state across all subscriptions.
type Stats struct {
	ByStatus     map[DunningStatus]int `json:"byStatus"`
	RecoveryRate float64               `json:"recoveryRate"` // percent, 2 decimal places
}

// Stats returns per-status counts and the recovery rate across terminal
// cycles: recovered / (recovered + failed + canceled) * 100.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	counts, err := e.store.CountByDunningStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count by dunning status: %w", err)
	}

	recovered := counts[DunningRecovered]
	terminal := recovered + counts[DunningFailed] + counts[DunningCanceled]

	rate := 0.0
	if terminal > 0 {
		rate = math.Round(float64(recovered)/float64(terminal)*100*100) / 100
	}

	return &Stats{ByStatus: counts, RecoveryRate: rate}, nil
}

// advanceAfterFailure moves a record that just absorbed a failed attempt into
// its next state: scheduled when retries remain, otherwise grace_period or
// terminal failed depending on auto-cancel.
func (e *Engine) advanceAfterFailure(rec *DunningRecord, now time.Time) {
	if rec.RemainingRetries > 0 {
		rec.Status = DunningScheduled
		rec.NextRetryAt = e.nextRetryDate(len(rec.Attempts)-1, now)
		return
	}

	rec.NextRetryAt = time.Time{}
	if e.cfg.AutoCancel {
		rec.Status = DunningGracePeriod
		rec.GracePeriodEndsAt = now.AddDate(0, 0, e.cfg.GracePeriodDays)
	} else {
		rec.Status = DunningFailed
	}
}

// nextRetryDate computes the retry time for the given zero-based attempt
// index. Indexes past the end of the schedule reuse the last entry.
func (e *Engine) nextRetryDate(attemptIndex int, from time.Time) time.Time {
	if attemptIndex < 0 {
		attemptIndex = 0
	}
	if attemptIndex >= len(e.cfg.RetrySchedule) {
		attemptIndex = len(e.cfg.RetrySchedule) - 1
	}
	return from.AddDate(0, 0, e.cfg.RetrySchedule[attemptIndex])
}
