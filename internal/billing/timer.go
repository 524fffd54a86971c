package billing

import (
	"context"
	"log/slog"
	"time"
)

// Timer periodically runs the dunning queue processor.
type Timer struct {
	engine   *Engine
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
}

// NewTimer creates a new dunning queue timer.
func NewTimer(engine *Engine, interval time.Duration, logger *slog.Logger) *Timer {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Timer{
		engine:   engine,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start begins the queue-processing loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.run(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) run(ctx context.Context) {
	result, err := t.engine.ProcessQueue(ctx)
	if err != nil {
		t.logger.Warn("dunning queue run failed", "error", err)
		return
	}
	if result.Processed > 0 {
		t.logger.Info("dunning queue run complete",
			"processed", result.Processed,
			"recovered", result.Recovered,
			"canceled", result.Canceled,
			"errors", result.Errors,
		)
	}
}
