package manager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goerajat/online-betting-sub000/internal/market"
	"github.com/goerajat/online-betting-sub000/internal/model"
)

type recorder[T any] struct {
	mu     sync.Mutex
	events []T
}

func (r *recorder[T]) add(ev T) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder[T]) all() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.events...)
}

func (r *recorder[T]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type fakeOrders struct {
	mu     sync.Mutex
	orders []model.Order
	err    error
}

func (f *fakeOrders) set(orders ...model.Order) {
	f.mu.Lock()
	f.orders = orders
	f.mu.Unlock()
}

func (f *fakeOrders) GetOrders(context.Context) ([]model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Order(nil), f.orders...), f.err
}

type fakePositions struct {
	mu        sync.Mutex
	positions []model.Position
}

func (f *fakePositions) set(ps ...model.Position) {
	f.mu.Lock()
	f.positions = ps
	f.mu.Unlock()
}

func (f *fakePositions) GetPositions(context.Context) ([]model.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Position(nil), f.positions...), nil
}

func resting(id string, remaining int) model.Order {
	return model.Order{
		OrderID: id, Ticker: "KX-A", Side: model.SideYes, Action: model.ActionBuy,
		Status: model.OrderStatusResting, YesPrice: 40, NoPrice: 60,
		InitialCount: remaining, RemainingCount: remaining,
	}
}

func TestOrderManagerDiffsPolls(t *testing.T) {
	src := &fakeOrders{}
	m := NewOrderManager(src, time.Hour)
	defer m.Shutdown()
	rec := &recorder[OrderEvent]{}
	m.AddOrderChangeListener(rec.add)
	ctx := context.Background()

	src.set(resting("o1", 10), resting("o2", 5))
	require.NoError(t, m.Refresh(ctx))
	assert.Eventually(t, func() bool { return rec.len() == 2 }, time.Second, 5*time.Millisecond)

	// unchanged poll emits nothing
	require.NoError(t, m.Refresh(ctx))

	src.set(resting("o1", 7))
	require.NoError(t, m.Refresh(ctx))
	assert.Eventually(t, func() bool { return rec.len() == 4 }, time.Second, 5*time.Millisecond)

	evs := rec.all()
	assert.Equal(t, OrderAdded, evs[0].Type)
	assert.Equal(t, "o1", evs[0].Order.OrderID)
	assert.Equal(t, OrderAdded, evs[1].Type)
	assert.Equal(t, OrderModified, evs[2].Type)
	require.NotNil(t, evs[2].Previous)
	assert.Equal(t, 10, evs[2].Previous.RemainingCount)
	assert.Equal(t, 7, evs[2].Order.RemainingCount)
	assert.Equal(t, OrderRemoved, evs[3].Type)
	assert.Equal(t, "o2", evs[3].Order.OrderID)

	assert.Len(t, m.GetAll(), 1)
	assert.Len(t, m.ForTicker("KX-A"), 1)
}

func TestOrderManagerIgnoresNonResting(t *testing.T) {
	src := &fakeOrders{}
	m := NewOrderManager(src, time.Hour)
	defer m.Shutdown()

	done := resting("o1", 0)
	done.Status = model.OrderStatusExecuted
	src.set(done)
	require.NoError(t, m.Refresh(context.Background()))
	assert.Empty(t, m.GetAll())
}

func TestOrderManagerPushSkipsNextPoll(t *testing.T) {
	src := &fakeOrders{}
	m := NewOrderManager(src, time.Hour)
	defer m.Shutdown()
	rec := &recorder[OrderEvent]{}
	m.AddOrderChangeListener(rec.add)

	m.Upsert(resting("o1", 10))
	assert.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, 5*time.Millisecond)

	// the exchange listing lags behind the acknowledgement
	require.NoError(t, m.Refresh(context.Background()))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, rec.len())
	_, ok := m.Get("o1")
	assert.True(t, ok)

	src.set(resting("o1", 10))
	require.NoError(t, m.Refresh(context.Background()))
	m.Remove("o1")
	assert.Eventually(t, func() bool { return rec.len() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, OrderRemoved, rec.all()[1].Type)
	assert.Equal(t, SourcePush, rec.all()[1].Source)
}

func TestOrderManagerPollingLoop(t *testing.T) {
	src := &fakeOrders{err: errors.New("down")}
	m := NewOrderManager(src, 10*time.Millisecond)
	m.Start(context.Background())
	m.Start(context.Background())
	assert.True(t, m.Running())

	src.mu.Lock()
	src.err = nil
	src.orders = []model.Order{resting("o1", 1)}
	src.mu.Unlock()
	assert.Eventually(t, func() bool { return len(m.GetAll()) == 1 }, time.Second, 5*time.Millisecond)

	m.Stop()
	assert.False(t, m.Running())
	m.Shutdown()
	m.Shutdown()
	m.Start(context.Background())
	assert.False(t, m.Running())
}

func TestPositionManagerTreatsFlatAsAbsent(t *testing.T) {
	src := &fakePositions{}
	m := NewPositionManager(src, time.Hour)
	defer m.Shutdown()
	rec := &recorder[PositionEvent]{}
	m.AddPositionChangeListener(rec.add)
	ctx := context.Background()

	src.set(model.Position{Ticker: "KX-A", Contracts: 10}, model.Position{Ticker: "KX-B"})
	require.NoError(t, m.Refresh(ctx))
	assert.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, 5*time.Millisecond)
	_, ok := m.Position("KX-B")
	assert.False(t, ok)

	src.set(model.Position{Ticker: "KX-A", Contracts: -4})
	require.NoError(t, m.Refresh(ctx))
	src.set()
	require.NoError(t, m.Refresh(ctx))
	assert.Eventually(t, func() bool { return rec.len() == 3 }, time.Second, 5*time.Millisecond)

	evs := rec.all()
	assert.Equal(t, PositionAdded, evs[0].Type)
	assert.Equal(t, PositionUpdated, evs[1].Type)
	assert.Equal(t, -4, evs[1].Position.Contracts)
	assert.Equal(t, PositionClosed, evs[2].Type)
	assert.Zero(t, evs[2].Position.Contracts)
	require.NotNil(t, evs[2].Previous)
	assert.Equal(t, -4, evs[2].Previous.Contracts)
	assert.Empty(t, m.GetAll())
}

func TestPositionManagerApplyPush(t *testing.T) {
	src := &fakePositions{}
	m := NewPositionManager(src, time.Hour)
	defer m.Shutdown()
	rec := &recorder[PositionEvent]{}
	m.AddPositionChangeListener(rec.add)

	m.ApplyPush(model.Position{Ticker: "KX-A", Contracts: 3})
	m.ApplyPush(model.Position{Ticker: "KX-A", Contracts: 3})
	m.ApplyPush(model.Position{Ticker: "KX-A"})
	assert.Eventually(t, func() bool { return rec.len() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, PositionAdded, rec.all()[0].Type)
	assert.Equal(t, PositionClosed, rec.all()[1].Type)
	assert.Equal(t, SourcePush, rec.all()[1].Source)
}

func TestPositionManagerPushKeepsPolledFields(t *testing.T) {
	src := &fakePositions{}
	m := NewPositionManager(src, time.Hour)
	defer m.Shutdown()
	rec := &recorder[PositionEvent]{}
	m.AddPositionChangeListener(rec.add)
	ctx := context.Background()

	polled := model.Position{Ticker: "KX-A", Contracts: 5, Cost: 200, RestingOrders: 2, Volume: 900}
	src.set(polled)
	require.NoError(t, m.Refresh(ctx))

	// the stream reports cost and volume in its own units and no resting count
	m.ApplyPush(model.Position{Ticker: "KX-A", Contracts: 5, Cost: 2000, Volume: 9})
	require.NoError(t, m.Refresh(ctx))
	require.NoError(t, m.Refresh(ctx))

	m.ApplyPush(model.Position{Ticker: "KX-A", Contracts: 7, Cost: 2800, FeesPaid: 3})
	assert.Eventually(t, func() bool { return rec.len() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	evs := rec.all()
	require.Len(t, evs, 2)
	assert.Equal(t, PositionAdded, evs[0].Type)
	assert.Equal(t, PositionUpdated, evs[1].Type)
	assert.Equal(t, SourcePush, evs[1].Source)
	assert.Equal(t, 7, evs[1].Position.Contracts)
	assert.Equal(t, int64(3), evs[1].Position.FeesPaid)
	assert.Equal(t, 2, evs[1].Position.RestingOrders)
	assert.Equal(t, int64(200), evs[1].Position.Cost)

	got, ok := m.Position("KX-A")
	require.True(t, ok)
	assert.Equal(t, int64(900), got.Volume)
}

type fakeMarkets struct {
	mu     sync.Mutex
	calls  map[string]int
	events int
}

func (f *fakeMarkets) GetMarket(_ context.Context, ticker string) (model.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[ticker]++
	if ticker == "KX-MISSING" {
		return model.Market{}, errors.New("not found")
	}
	return model.Market{Ticker: ticker, EventTicker: "KX", Status: model.MarketStatusActive}, nil
}

func (f *fakeMarkets) GetEvent(_ context.Context, eventTicker string) (model.Event, error) {
	f.mu.Lock()
	f.events++
	f.mu.Unlock()
	return model.Event{
		EventTicker: eventTicker,
		Markets: []model.Market{
			{Ticker: "KX-A", EventTicker: eventTicker, Title: "A"},
			{Ticker: "KX-B", EventTicker: eventTicker, Title: "B"},
		},
	}, nil
}

type fakeTransport struct {
	mu           sync.Mutex
	handler      market.StreamHandler
	subscribed   [][]string
	unsubscribed [][]string
	stopped      int
	subErr       error
}

func (f *fakeTransport) Start(_ context.Context, h market.StreamHandler) error {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
	h.OnConnected()
	return nil
}

func (f *fakeTransport) Stop() {
	f.mu.Lock()
	f.stopped++
	f.mu.Unlock()
}

func (f *fakeTransport) Subscribe(tickers []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return f.subErr
	}
	f.subscribed = append(f.subscribed, tickers)
	return nil
}

func (f *fakeTransport) failSubscribe(err error) {
	f.mu.Lock()
	f.subErr = err
	f.mu.Unlock()
}

func (f *fakeTransport) Unsubscribe(tickers []string) error {
	f.mu.Lock()
	f.unsubscribed = append(f.unsubscribed, tickers)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Connected() bool { return true }

func TestMarketManagerRefcountedSubscribe(t *testing.T) {
	src := &fakeMarkets{}
	tr := &fakeTransport{}
	m := NewMarketManager(src, WithTransport(tr))
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	assert.Eventually(t, m.Connected, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Subscribe(ctx, []string{"KX-A", "KX-B", "KX-A"}))
	require.NoError(t, m.Subscribe(ctx, []string{"KX-A"}))
	assert.Equal(t, 2, m.RefCount("KX-A"))
	assert.Equal(t, []string{"KX-A", "KX-B"}, m.Tickers())
	assert.Equal(t, [][]string{{"KX-A", "KX-B"}}, tr.subscribed)
	assert.Equal(t, 1, src.calls["KX-A"])

	info, ok := m.MarketInfo("KX-A")
	require.True(t, ok)
	assert.Equal(t, "KX", info.EventTicker)

	require.NoError(t, m.Unsubscribe([]string{"KX-A", "KX-B"}))
	assert.Equal(t, [][]string{{"KX-B"}}, tr.unsubscribed)
	_, ok = m.Market("KX-A")
	assert.True(t, ok)

	require.NoError(t, m.Unsubscribe([]string{"KX-A"}))
	_, ok = m.Market("KX-A")
	assert.False(t, ok)

	m.Shutdown()
	m.Shutdown()
	assert.Equal(t, 1, tr.stopped)
	assert.ErrorIs(t, m.Subscribe(ctx, []string{"KX-C"}), ErrManagerClosed)
}

func TestMarketManagerSubscribeFailureReleasesRefs(t *testing.T) {
	tr := &fakeTransport{}
	m := NewMarketManager(&fakeMarkets{}, WithTransport(tr))
	defer m.Shutdown()
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.Subscribe(ctx, []string{"KX-A"}))

	tr.failSubscribe(errors.New("boom"))
	err := m.Subscribe(ctx, []string{"KX-A", "KX-B"})
	require.Error(t, err)
	assert.Equal(t, 1, m.RefCount("KX-A"))
	assert.Zero(t, m.RefCount("KX-B"))
	_, ok := m.Market("KX-B")
	assert.False(t, ok)

	tr.failSubscribe(nil)
	require.NoError(t, m.Subscribe(ctx, []string{"KX-B"}))
	assert.Equal(t, 1, m.RefCount("KX-B"))
	tr.mu.Lock()
	assert.Equal(t, [][]string{{"KX-A"}, {"KX-B"}}, tr.subscribed)
	tr.mu.Unlock()
}

func TestMarketManagerMetadataFailureDoesNotBlockSubscribe(t *testing.T) {
	m := NewMarketManager(&fakeMarkets{})
	defer m.Shutdown()
	rec := &recorder[MarketEvent]{}
	m.AddMarketChangeListener(rec.add)

	require.NoError(t, m.Subscribe(context.Background(), []string{"KX-MISSING"}))
	_, ok := m.Market("KX-MISSING")
	assert.True(t, ok)
	assert.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, Error, rec.all()[0].Type)
}

func TestMarketManagerAppliesStream(t *testing.T) {
	tr := &fakeTransport{}
	m := NewMarketManager(&fakeMarkets{}, WithTransport(tr))
	defer m.Shutdown()
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.Subscribe(ctx, []string{"KX-A"}))

	rec := &recorder[MarketEvent]{}
	m.AddMarketChangeListener(rec.add)

	m.OnDelta(market.Delta{Ticker: "KX-A", Side: model.SideYes, Price: 40, Delta: 5})
	m.OnSnapshot(market.Snapshot{
		Ticker: "KX-A",
		Yes:    []model.PriceLevel{{Price: 40, Quantity: 10}},
		No:     []model.PriceLevel{{Price: 55, Quantity: 20}},
	})
	m.OnDelta(market.Delta{Ticker: "KX-A", Side: model.SideYes, Price: 41, Delta: 3})
	m.OnDelta(market.Delta{Ticker: "KX-OTHER", Side: model.SideYes, Price: 41, Delta: 3})

	assert.Eventually(t, func() bool { return rec.len() == 2 }, time.Second, 5*time.Millisecond)
	evs := rec.all()
	assert.Equal(t, OrderbookSnapshot, evs[0].Type)
	assert.Equal(t, OrderbookDelta, evs[1].Type)
	require.NotNil(t, evs[1].Delta)
	assert.Equal(t, 41, evs[1].Delta.Price)

	mm, _ := m.Market("KX-A")
	bid, ok := mm.YesBid()
	require.True(t, ok)
	assert.Equal(t, 41, bid)
	ask, ok := mm.YesAsk()
	require.True(t, ok)
	assert.Equal(t, 45, ask)

	m.OnResync()
	book, _ := m.Book("KX-A")
	assert.False(t, book.Ready())
}

func TestMarketManagerForwardsPositions(t *testing.T) {
	positions := NewPositionManager(&fakePositions{}, time.Hour)
	defer positions.Shutdown()
	m := NewMarketManager(&fakeMarkets{}, WithPositionSink(positions))
	defer m.Shutdown()

	m.OnPosition(model.Position{Ticker: "KX-A", Contracts: 2})
	p, ok := positions.Position("KX-A")
	require.True(t, ok)
	assert.Equal(t, 2, p.Contracts)
}

func TestMarketManagerEventCache(t *testing.T) {
	src := &fakeMarkets{}
	m := NewMarketManager(src, WithEventTTL(time.Hour))
	defer m.Shutdown()
	ctx := context.Background()

	ev, err := m.GetEvent(ctx, "KX")
	require.NoError(t, err)
	assert.Len(t, ev.Markets, 2)
	_, err = m.GetEvent(ctx, "KX")
	require.NoError(t, err)
	assert.Equal(t, 1, src.events)

	info, ok := m.MarketInfo("KX-B")
	require.True(t, ok)
	assert.Equal(t, "B", info.Title)

	// cached metadata spares the REST call on subscribe
	require.NoError(t, m.Subscribe(ctx, []string{"KX-B"}))
	assert.Zero(t, src.calls["KX-B"])
	mm, _ := m.Market("KX-B")
	got, ok := mm.Info()
	require.True(t, ok)
	assert.Equal(t, "B", got.Title)
}
