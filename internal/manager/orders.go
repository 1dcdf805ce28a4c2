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

const DefaultOrderPollInterval = 2 * time.Second

// OrderSource lists the account's resting orders.
type OrderSource interface {
	GetOrders(ctx context.Context) ([]model.Order, error)
}

// OrderManager keeps the last known set of resting orders and emits a change
// event per order on every poll or push.
type OrderManager struct {
	src OrderSource
	log *slog.Logger
	bus *eventbus.Bus[OrderEvent]

	loop      *poller
	refreshMu sync.Mutex

	mu     sync.RWMutex
	orders map[string]model.Order
	pushed map[string]struct{}

	closed atomic.Bool
}

func NewOrderManager(src OrderSource, interval time.Duration) *OrderManager {
	if interval <= 0 {
		interval = DefaultOrderPollInterval
	}
	m := &OrderManager{
		src:    src,
		log:    logger.Component("order_manager"),
		bus:    eventbus.New[OrderEvent]("orders", 0),
		orders: make(map[string]model.Order),
		pushed: make(map[string]struct{}),
	}
	m.loop = &poller{name: "orders", interval: interval, fn: m.Refresh, log: m.log}
	return m
}

// Start launches the polling loop. It is a no-op when already running.
func (m *OrderManager) Start(ctx context.Context) {
	if m.closed.Load() {
		return
	}
	if m.loop.start(ctx) {
		m.log.Info("order polling started", "interval", m.loop.interval)
	}
}

// Stop halts the polling loop. Listeners stay registered.
func (m *OrderManager) Stop() {
	m.loop.stop()
}

func (m *OrderManager) Running() bool {
	return m.loop.running()
}

// Shutdown stops polling and clears every listener. Idempotent.
func (m *OrderManager) Shutdown() {
	if !m.closed.CompareAndSwap(false, true) {
		return
	}
	m.loop.stop()
	m.bus.Close()
}

// Refresh performs one poll and emits the resulting changes.
func (m *OrderManager) Refresh(ctx context.Context) error {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	orders, err := m.src.GetOrders(ctx)
	if err != nil {
		return err
	}
	next := make(map[string]model.Order, len(orders))
	for _, o := range orders {
		if o.Resting() {
			next[o.OrderID] = o
		}
	}

	m.mu.Lock()
	skip := m.pushed
	m.pushed = make(map[string]struct{})
	for k := range skip {
		if cur, ok := m.orders[k]; ok {
			next[k] = cur
		} else {
			delete(next, k)
		}
	}
	changes := diffSets(m.orders, next, model.Order.Equal, skip)
	m.orders = next
	m.mu.Unlock()

	now := time.Now()
	for _, c := range changes {
		m.publish(orderEvent(c, now))
	}
	return nil
}

func orderEvent(c change[model.Order], now time.Time) OrderEvent {
	ev := OrderEvent{Order: c.cur, Source: SourcePoll, Time: now}
	switch c.kind {
	case changeAdded:
		ev.Type = OrderAdded
	case changeModified:
		ev.Type = OrderModified
		prev := c.prev
		ev.Previous = &prev
	default:
		ev.Type = OrderRemoved
	}
	return ev
}

// Upsert applies an order acknowledged by the exchange ahead of the next
// poll. The next poll does not diff this order again.
func (m *OrderManager) Upsert(o model.Order) {
	if o.OrderID == "" {
		return
	}
	m.mu.Lock()
	prev, had := m.orders[o.OrderID]
	m.pushed[o.OrderID] = struct{}{}
	ev := OrderEvent{Order: o, Source: SourcePush, Time: time.Now()}
	switch {
	case !o.Resting():
		if !had {
			m.mu.Unlock()
			return
		}
		delete(m.orders, o.OrderID)
		ev.Type = OrderRemoved
		ev.Previous = &prev
	case !had:
		m.orders[o.OrderID] = o
		ev.Type = OrderAdded
	case !prev.Equal(o):
		m.orders[o.OrderID] = o
		ev.Type = OrderModified
		ev.Previous = &prev
	default:
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.publish(ev)
}

// Remove drops an order known to be gone, e.g. after a cancel acknowledgement.
func (m *OrderManager) Remove(orderID string) {
	m.mu.Lock()
	prev, had := m.orders[orderID]
	if had {
		delete(m.orders, orderID)
	}
	m.pushed[orderID] = struct{}{}
	m.mu.Unlock()
	if !had {
		return
	}
	gone := prev
	gone.Status = model.OrderStatusCanceled
	gone.RemainingCount = 0
	m.publish(OrderEvent{Type: OrderRemoved, Order: gone, Previous: &prev, Source: SourcePush, Time: time.Now()})
}

func (m *OrderManager) publish(ev OrderEvent) {
	_ = m.bus.Publish(ev)
}

// GetAll returns the last known resting orders, oldest first.
func (m *OrderManager) GetAll() []model.Order {
	m.mu.RLock()
	out := make([]model.Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, o)
	}
	m.mu.RUnlock()
	sortOrders(out)
	return out
}

func (m *OrderManager) Get(orderID string) (model.Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[orderID]
	return o, ok
}

func (m *OrderManager) ForTicker(ticker string) []model.Order {
	m.mu.RLock()
	var out []model.Order
	for _, o := range m.orders {
		if o.Ticker == ticker {
			out = append(out, o)
		}
	}
	m.mu.RUnlock()
	sortOrders(out)
	return out
}

func sortOrders(orders []model.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedTime.Equal(orders[j].CreatedTime) {
			return orders[i].CreatedTime.Before(orders[j].CreatedTime)
		}
		return orders[i].OrderID < orders[j].OrderID
	})
}

func (m *OrderManager) AddOrderChangeListener(fn func(OrderEvent)) eventbus.ListenerID {
	return m.bus.Subscribe(fn)
}

func (m *OrderManager) RemoveOrderChangeListener(id eventbus.ListenerID) bool {
	return m.bus.Unsubscribe(id)
}
