package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goerajat/online-betting-sub000/internal/pkg/metrics"
)

const (
	DefaultTimerInterval = 5 * time.Second
	DefaultStopGrace     = 5 * time.Second
)

// Timer calls fn every interval on a single goroutine. Calls never overlap;
// a slow call delays the next one. A panic is logged and the schedule goes on.
type Timer struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context)
	log      *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewTimer(name string, interval time.Duration, fn func(ctx context.Context), log *slog.Logger) *Timer {
	if interval <= 0 {
		interval = DefaultTimerInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Timer{name: name, interval: interval, fn: fn, log: log}
}

func (t *Timer) Interval() time.Duration {
	return t.interval
}

// Start launches the schedule. It returns false when already running.
func (t *Timer) Start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.run(ctx, t.done)
	return true
}

func (t *Timer) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.fire(ctx)
		}
	}
}

func (t *Timer) fire(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			metrics.StrategyTickPanics.WithLabelValues(t.name).Inc()
			t.log.Error("timer callback panic recovered", "panic", fmt.Sprint(r))
		}
	}()
	metrics.StrategyTicks.WithLabelValues(t.name).Inc()
	t.fn(ctx)
}

// Stop cancels the schedule and waits up to grace for an in-flight call.
// It reports whether the loop exited in time. Safe to call when stopped.
func (t *Timer) Stop(grace time.Duration) bool {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()
	if cancel == nil {
		return true
	}
	cancel()
	if grace <= 0 {
		grace = DefaultStopGrace
	}
	select {
	case <-done:
		return true
	case <-time.After(grace):
		t.log.Warn("timer did not stop within grace period", "grace", grace)
		return false
	}
}

func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel != nil
}
