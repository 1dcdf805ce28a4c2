package manager

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/goerajat/online-betting-sub000/internal/pkg/metrics"
)

// StopGrace bounds how long Stop waits for an in-flight poll.
var StopGrace = 5 * time.Second

// poller runs fn immediately and then every interval until stopped.
type poller struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context) error
	log      *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (p *poller) start(parent context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return false
	}
	ctx, cancel := context.WithCancel(parent)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx, p.done)
	return true
}

func (p *poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if err := p.fn(ctx); err != nil && ctx.Err() == nil {
			metrics.PollErrors.WithLabelValues(p.name).Inc()
			p.log.Warn("poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// stop cancels the loop and waits up to StopGrace. Safe to call repeatedly.
func (p *poller) stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	select {
	case <-done:
	case <-time.After(StopGrace):
		p.log.Warn("poll loop did not stop within grace period")
	}
}

func (p *poller) running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}
