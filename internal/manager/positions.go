package manager

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goerajat/online-betting-sub000/internal/model"
	"github.com/goerajat/online-betting-sub000/internal/pkg/eventbus"
	"github.com/goerajat/online-betting-sub000/internal/pkg/logger"
)

const DefaultPositionPollInterval = 5 * time.Second

type PositionSource interface {
	GetPositions(ctx context.Context) ([]model.Position, error)
}

// PositionManager tracks non-flat positions from REST polls and stream pushes.
// A flat position is treated as absent.
type PositionManager struct {
	src PositionSource
	log *slog.Logger
	bus *eventbus.Bus[PositionEvent]

	loop      *poller
	refreshMu sync.Mutex

	mu        sync.RWMutex
	positions map[string]model.Position
	pushed    map[string]struct{}

	closed atomic.Bool
}

func NewPositionManager(src PositionSource, interval time.Duration) *PositionManager {
	if interval <= 0 {
		interval = DefaultPositionPollInterval
	}
	m := &PositionManager{
		src:       src,
		log:       logger.Component("position_manager"),
		bus:       eventbus.New[PositionEvent]("positions", 0),
		positions: make(map[string]model.Position),
		pushed:    make(map[string]struct{}),
	}
	m.loop = &poller{name: "positions", interval: interval, fn: m.Refresh, log: m.log}
	return m
}

func (m *PositionManager) Start(ctx context.Context) {
	if m.closed.Load() {
		return
	}
	if m.loop.start(ctx) {
		m.log.Info("position polling started", "interval", m.loop.interval)
	}
}

func (m *PositionManager) Stop() {
	m.loop.stop()
}

func (m *PositionManager) Running() bool {
	return m.loop.running()
}

func (m *PositionManager) Shutdown() {
	if !m.closed.CompareAndSwap(false, true) {
		return
	}
	m.loop.stop()
	m.bus.Close()
}

func (m *PositionManager) Refresh(ctx context.Context) error {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	positions, err := m.src.GetPositions(ctx)
	if err != nil {
		return err
	}
	next := make(map[string]model.Position, len(positions))
	for _, p := range positions {
		if !p.Flat() {
			next[p.Ticker] = p
		}
	}

	m.mu.Lock()
	skip := m.pushed
	m.pushed = make(map[string]struct{})
	for k := range skip {
		if cur, ok := m.positions[k]; ok {
			next[k] = cur
		} else {
			delete(next, k)
		}
	}
	changes := diffSets(m.positions, next, model.Position.Equal, skip)
	m.positions = next
	m.mu.Unlock()

	now := time.Now()
	for _, c := range changes {
		ev := PositionEvent{Position: c.cur, Source: SourcePoll, Time: now}
		switch c.kind {
		case changeAdded:
			ev.Type = PositionAdded
		case changeModified:
			ev.Type = PositionUpdated
			prev := c.prev
			ev.Previous = &prev
		default:
			ev.Type = PositionClosed
			ev.Position.Contracts = 0
			prev := c.prev
			ev.Previous = &prev
		}
		m.publish(ev)
	}
	return nil
}

// ApplyPush applies a streamed position update. The next poll does not
// diff this ticker again. Once a ticker is known, only the fields the stream
// reports in REST units are taken from the push; see mergePush.
func (m *PositionManager) ApplyPush(p model.Position) {
	if p.Ticker == "" {
		return
	}
	if p.LastUpdated.IsZero() {
		p.LastUpdated = time.Now()
	}
	m.mu.Lock()
	prev, had := m.positions[p.Ticker]
	m.pushed[p.Ticker] = struct{}{}
	if had {
		p = mergePush(prev, p)
	}
	ev := PositionEvent{Position: p, Source: SourcePush, Time: time.Now()}
	switch {
	case p.Flat():
		if !had {
			m.mu.Unlock()
			return
		}
		delete(m.positions, p.Ticker)
		ev.Type = PositionClosed
		ev.Previous = &prev
	case !had:
		m.positions[p.Ticker] = p
		ev.Type = PositionAdded
	case !prev.Equal(p):
		m.positions[p.Ticker] = p
		ev.Type = PositionUpdated
		ev.Previous = &prev
	default:
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.publish(ev)
}

// mergePush overlays a streamed update on the last known position. The
// stream carries no resting order count, and its position_cost and volume
// are not the REST market_exposure and total_traded, so those stay as polled.
func mergePush(prev, push model.Position) model.Position {
	out := prev
	out.Contracts = push.Contracts
	out.RealizedPnL = push.RealizedPnL
	out.FeesPaid = push.FeesPaid
	out.LastUpdated = push.LastUpdated
	return out
}

func (m *PositionManager) publish(ev PositionEvent) {
	_ = m.bus.Publish(ev)
}

// Position returns the current non-flat position for ticker.
func (m *PositionManager) Position(ticker string) (model.Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[ticker]
	return p, ok
}

// GetAll returns every non-flat position ordered by ticker.
func (m *PositionManager) GetAll() []model.Position {
	m.mu.RLock()
	out := make([]model.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

func (m *PositionManager) AddPositionChangeListener(fn func(PositionEvent)) eventbus.ListenerID {
	return m.bus.Subscribe(fn)
}

func (m *PositionManager) RemovePositionChangeListener(id eventbus.ListenerID) bool {
	return m.bus.Unsubscribe(id)
}
