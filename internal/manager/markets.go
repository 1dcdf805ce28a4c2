package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goerajat/online-betting-sub000/internal/market"
	"github.com/goerajat/online-betting-sub000/internal/model"
	"github.com/goerajat/online-betting-sub000/internal/pkg/eventbus"
	"github.com/goerajat/online-betting-sub000/internal/pkg/logger"
)

const DefaultEventTTL = time.Minute

var ErrManagerClosed = errors.New("manager is shut down")

// MarketSource provides static reference data over REST.
type MarketSource interface {
	GetMarket(ctx context.Context, ticker string) (model.Market, error)
	GetEvent(ctx context.Context, eventTicker string) (model.Event, error)
}

// PositionSink receives streamed position updates.
type PositionSink interface {
	ApplyPush(model.Position)
}

type MarketOption func(*MarketManager)

func WithTransport(t market.Transport) MarketOption {
	return func(m *MarketManager) { m.transport = t }
}

func WithPositionSink(p PositionSink) MarketOption {
	return func(m *MarketManager) { m.positions = p }
}

func WithEventTTL(d time.Duration) MarketOption {
	return func(m *MarketManager) { m.eventTTL = d }
}

type cachedEvent struct {
	event   model.Event
	fetched time.Time
}

// MarketManager owns every ManagedMarket, the reference data cache and the
// streaming transport. It implements market.StreamHandler.
type MarketManager struct {
	src       MarketSource
	transport market.Transport
	positions PositionSink
	eventTTL  time.Duration
	log       *slog.Logger
	bus       *eventbus.Bus[MarketEvent]

	mu      sync.RWMutex
	markets map[string]*market.ManagedMarket
	refs    map[string]int
	info    map[string]model.Market
	events  map[string]cachedEvent

	connected atomic.Bool
	closed    atomic.Bool
}

var _ market.StreamHandler = (*MarketManager)(nil)

func NewMarketManager(src MarketSource, opts ...MarketOption) *MarketManager {
	m := &MarketManager{
		src:      src,
		eventTTL: DefaultEventTTL,
		log:      logger.Component("market_manager"),
		bus:      eventbus.New[MarketEvent]("markets", 1024),
		markets:  make(map[string]*market.ManagedMarket),
		refs:     make(map[string]int),
		info:     make(map[string]model.Market),
		events:   make(map[string]cachedEvent),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start connects the streaming transport, if one is configured.
func (m *MarketManager) Start(ctx context.Context) error {
	if m.closed.Load() {
		return ErrManagerClosed
	}
	if m.transport == nil {
		m.log.Warn("no streaming transport configured, books will stay empty")
		return nil
	}
	return m.transport.Start(ctx, m)
}

// Subscribe takes one reference on each ticker. The first reference creates
// the managed market, loads its reference data and opens the stream feed.
func (m *MarketManager) Subscribe(ctx context.Context, tickers []string) error {
	if m.closed.Load() {
		return ErrManagerClosed
	}
	taken := dedupe(tickers)
	m.mu.Lock()
	var fresh []string
	cached := make(map[string]bool)
	for _, t := range taken {
		m.refs[t]++
		if m.refs[t] > 1 {
			continue
		}
		mm := market.NewManagedMarket(t)
		if info, ok := m.info[t]; ok {
			mm.SetInfo(info)
			cached[t] = true
		}
		m.markets[t] = mm
		fresh = append(fresh, t)
	}
	m.mu.Unlock()

	for _, t := range fresh {
		if cached[t] {
			info, _ := m.MarketInfo(t)
			m.publish(MarketEvent{Type: MarketInfoUpdated, Ticker: t, Market: &info})
			continue
		}
		if _, err := m.RefreshMarket(ctx, t); err != nil {
			m.log.Warn("market metadata fetch failed", "ticker", t, "error", err)
			m.publish(MarketEvent{Type: Error, Ticker: t, Err: err})
		}
	}

	if m.transport != nil && len(fresh) > 0 {
		if err := m.transport.Subscribe(fresh); err != nil {
			m.release(taken)
			return fmt.Errorf("stream subscribe: %w", err)
		}
	}
	return nil
}

// release undoes the references taken by a failed Subscribe so a retry
// reaches the transport again.
func (m *MarketManager) release(tickers []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tickers {
		if m.refs[t]--; m.refs[t] <= 0 {
			delete(m.refs, t)
			delete(m.markets, t)
		}
	}
}

// Unsubscribe releases one reference per ticker. The last reference closes
// the feed and drops the managed market.
func (m *MarketManager) Unsubscribe(tickers []string) error {
	m.mu.Lock()
	var gone []string
	for _, t := range dedupe(tickers) {
		n, ok := m.refs[t]
		if !ok {
			continue
		}
		if n > 1 {
			m.refs[t] = n - 1
			continue
		}
		delete(m.refs, t)
		delete(m.markets, t)
		gone = append(gone, t)
	}
	m.mu.Unlock()

	if m.transport != nil && len(gone) > 0 && !m.closed.Load() {
		if err := m.transport.Unsubscribe(gone); err != nil {
			return fmt.Errorf("stream unsubscribe: %w", err)
		}
	}
	return nil
}

func dedupe(tickers []string) []string {
	seen := make(map[string]struct{}, len(tickers))
	out := make([]string, 0, len(tickers))
	for _, t := range tickers {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// RefreshMarket re-fetches reference data for ticker.
func (m *MarketManager) RefreshMarket(ctx context.Context, ticker string) (model.Market, error) {
	info, err := m.src.GetMarket(ctx, ticker)
	if err != nil {
		return model.Market{}, err
	}
	if m.storeInfo(info) {
		m.publish(MarketEvent{Type: MarketInfoUpdated, Ticker: ticker, Market: &info})
	}
	return info, nil
}

// storeInfo caches info and reports whether a managed market was updated.
func (m *MarketManager) storeInfo(info model.Market) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.info[info.Ticker] = info
	mm, ok := m.markets[info.Ticker]
	if ok {
		mm.SetInfo(info)
	}
	return ok
}

// GetEvent returns the event with its nested markets, cached for the event TTL.
func (m *MarketManager) GetEvent(ctx context.Context, eventTicker string) (model.Event, error) {
	m.mu.RLock()
	c, ok := m.events[eventTicker]
	m.mu.RUnlock()
	if ok && time.Since(c.fetched) < m.eventTTL {
		return c.event, nil
	}

	ev, err := m.src.GetEvent(ctx, eventTicker)
	if err != nil {
		return model.Event{}, err
	}
	m.mu.Lock()
	m.events[eventTicker] = cachedEvent{event: ev, fetched: time.Now()}
	m.mu.Unlock()
	for _, mk := range ev.Markets {
		info := mk
		if m.storeInfo(info) {
			m.publish(MarketEvent{Type: MarketInfoUpdated, Ticker: info.Ticker, Market: &info})
		}
	}
	return ev, nil
}

// MarketInfo returns cached reference data for ticker.
func (m *MarketManager) MarketInfo(ticker string) (model.Market, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.info[ticker]
	return info, ok
}

func (m *MarketManager) Market(ticker string) (*market.ManagedMarket, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mm, ok := m.markets[ticker]
	return mm, ok
}

func (m *MarketManager) Book(ticker string) (*market.OrderBook, bool) {
	mm, ok := m.Market(ticker)
	if !ok {
		return nil, false
	}
	return mm.Book(), true
}

// Markets returns every managed market ordered by ticker.
func (m *MarketManager) Markets() []*market.ManagedMarket {
	m.mu.RLock()
	out := make([]*market.ManagedMarket, 0, len(m.markets))
	for _, mm := range m.markets {
		out = append(out, mm)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker() < out[j].Ticker() })
	return out
}

func (m *MarketManager) Tickers() []string {
	markets := m.Markets()
	out := make([]string, len(markets))
	for i, mm := range markets {
		out[i] = mm.Ticker()
	}
	return out
}

// RefCount reports how many subscribers hold ticker.
func (m *MarketManager) RefCount(ticker string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.refs[ticker]
}

func (m *MarketManager) Connected() bool {
	return m.connected.Load()
}

func (m *MarketManager) AddMarketChangeListener(fn func(MarketEvent)) eventbus.ListenerID {
	return m.bus.Subscribe(fn)
}

func (m *MarketManager) RemoveMarketChangeListener(id eventbus.ListenerID) bool {
	return m.bus.Unsubscribe(id)
}

// Shutdown stops the transport and clears every listener. Idempotent.
func (m *MarketManager) Shutdown() {
	if !m.closed.CompareAndSwap(false, true) {
		return
	}
	if m.transport != nil {
		m.transport.Stop()
	}
	m.bus.Close()
}

func (m *MarketManager) publish(ev MarketEvent) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	_ = m.bus.Publish(ev)
}

func (m *MarketManager) invalidateAll() {
	for _, mm := range m.Markets() {
		mm.Book().Invalidate()
	}
}

func (m *MarketManager) OnSnapshot(s market.Snapshot) {
	mm, ok := m.Market(s.Ticker)
	if !ok {
		return
	}
	mm.Book().ApplySnapshot(s.Yes, s.No)
	m.publish(MarketEvent{Type: OrderbookSnapshot, Ticker: s.Ticker})
}

func (m *MarketManager) OnDelta(d market.Delta) {
	mm, ok := m.Market(d.Ticker)
	if !ok {
		return
	}
	if _, err := mm.Book().ApplyDelta(d.Side, d.Price, d.Delta); err != nil {
		if errors.Is(err, market.ErrBookNotReady) {
			m.log.Debug("delta before snapshot ignored", "ticker", d.Ticker)
			return
		}
		m.publish(MarketEvent{Type: Error, Ticker: d.Ticker, Err: err})
		return
	}
	delta := d
	m.publish(MarketEvent{Type: OrderbookDelta, Ticker: d.Ticker, Delta: &delta})
}

func (m *MarketManager) OnPosition(p model.Position) {
	if m.positions != nil {
		m.positions.ApplyPush(p)
	}
}

func (m *MarketManager) OnConnected() {
	m.connected.Store(true)
	m.log.Info("stream connected")
	m.publish(MarketEvent{Type: Connected})
}

func (m *MarketManager) OnDisconnected(err error) {
	m.connected.Store(false)
	m.invalidateAll()
	if err != nil {
		m.log.Warn("stream disconnected", "error", err)
	}
	m.publish(MarketEvent{Type: Disconnected, Err: err})
}

func (m *MarketManager) OnError(err error) {
	m.publish(MarketEvent{Type: Error, Err: err})
}

func (m *MarketManager) OnResync() {
	m.invalidateAll()
}
