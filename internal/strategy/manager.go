package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/goerajat/online-betting-sub000/internal/model"
	"github.com/goerajat/online-betting-sub000/internal/pkg/logger"
)

// LifecycleAuditor receives strategy lifecycle events for the audit trail.
type LifecycleAuditor interface {
	RecordLifecycle(strategy, event string, fields map[string]any)
}

type ManagerOption func(*Manager)

func WithLifecycleAuditor(a LifecycleAuditor) ManagerOption {
	return func(m *Manager) { m.audit = a }
}

// Manager owns the set of runners and drives them through their lifecycle
// as a group.
type Manager struct {
	svc   Services
	audit LifecycleAuditor
	log   *slog.Logger

	mu      sync.RWMutex
	runners []*Runner
	byName  map[string]*Runner
	closed  atomic.Bool
}

func NewManager(svc Services, opts ...ManagerOption) *Manager {
	m := &Manager{
		svc:    svc,
		log:    logger.Component("strategy-manager"),
		byName: make(map[string]*Runner),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Add registers a runner. Names must be unique.
func (m *Manager) Add(r *Runner) error {
	if m.closed.Load() {
		return ErrShutdown
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byName[r.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateStrategy, r.Name())
	}
	m.byName[r.Name()] = r
	m.runners = append(m.runners, r)
	return nil
}

// Remove shuts the named runner down and forgets it.
func (m *Manager) Remove(ctx context.Context, name string) error {
	r, ok := m.detach(name)
	if !ok {
		return nil
	}
	return r.Shutdown(ctx)
}

func (m *Manager) detach(name string) (*Runner, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byName[name]
	if !ok {
		return nil, false
	}
	delete(m.byName, name)
	for i, x := range m.runners {
		if x == r {
			m.runners = append(m.runners[:i], m.runners[i+1:]...)
			break
		}
	}
	return r, true
}

func (m *Manager) Get(name string) (*Runner, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.byName[name]
	return r, ok
}

// Runners returns the runners in the order they were added.
func (m *Manager) Runners() []*Runner {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Runner(nil), m.runners...)
}

// InitializeAll initializes every runner. A runner whose event scope matched
// no markets is logged, audited and removed; it does not fail the others.
func (m *Manager) InitializeAll(ctx context.Context) error {
	var errs []error
	for _, r := range m.Runners() {
		err := r.Initialize(ctx, m.svc)
		switch {
		case err == nil:
			m.record(r.Name(), "initialized", map[string]any{"tracked": r.TrackedCount()})
		case errors.Is(err, ErrAlreadyInitialized):
		default:
			var nm *NoMarketsError
			if errors.As(err, &nm) {
				m.log.Error("strategy removed: no markets",
					"strategy", r.Name(),
					"event_ticker", nm.EventTicker,
					"total_markets", nm.TotalMarkets,
					"filter", nm.FilterDescription,
				)
				m.record(r.Name(), "no_markets", map[string]any{
					"event_ticker":  nm.EventTicker,
					"total_markets": nm.TotalMarkets,
					"filter":        nm.FilterDescription,
				})
				if rmErr := m.Remove(ctx, r.Name()); rmErr != nil {
					errs = append(errs, rmErr)
				}
				continue
			}
			logger.LogError(ctx, err, "strategy initialize failed", "strategy", r.Name())
			m.record(r.Name(), "initialize_failed", map[string]any{"error": err.Error()})
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ActivateAll activates every initialized runner.
func (m *Manager) ActivateAll(ctx context.Context) error {
	var errs []error
	for _, r := range m.Runners() {
		if r.State() != StateInitialized {
			continue
		}
		if err := m.Activate(ctx, r.Name()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Activate activates one runner by name.
func (m *Manager) Activate(ctx context.Context, name string) error {
	r, ok := m.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err := r.MakeActive(ctx); err != nil {
		logger.LogError(ctx, err, "strategy activate failed", "strategy", name)
		return err
	}
	if r.State() == StateActive {
		m.record(name, "activated", map[string]any{"tracked": r.TrackedCount()})
	}
	return nil
}

// Deactivate deactivates one runner by name.
func (m *Manager) Deactivate(name string) error {
	r, ok := m.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	wasActive := r.State() == StateActive
	if err := r.MakeInactive(); err != nil {
		return err
	}
	if wasActive {
		m.record(name, "deactivated", nil)
	}
	return nil
}

func (m *Manager) DeactivateAll() {
	for _, r := range m.Runners() {
		if r.State() == StateActive {
			_ = m.Deactivate(r.Name())
		}
	}
}

// ShutdownAll shuts every runner down in reverse add order. Idempotent.
func (m *Manager) ShutdownAll(ctx context.Context) error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	runners := m.Runners()
	var errs []error
	for i := len(runners) - 1; i >= 0; i-- {
		r := runners[i]
		if err := r.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("strategy %s: %w", r.Name(), err))
			continue
		}
		m.record(r.Name(), "shutdown", nil)
	}
	m.log.Info("strategies shut down", "count", len(runners))
	return errors.Join(errs...)
}

func (m *Manager) Statuses() []model.StrategyStatus {
	runners := m.Runners()
	out := make([]model.StrategyStatus, 0, len(runners))
	for _, r := range runners {
		out = append(out, r.Status())
	}
	return out
}

func (m *Manager) record(name, event string, fields map[string]any) {
	if m.audit == nil {
		return
	}
	m.audit.RecordLifecycle(name, event, fields)
}
