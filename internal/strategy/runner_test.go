package strategy

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goerajat/online-betting-sub000/internal/manager"
	"github.com/goerajat/online-betting-sub000/internal/market"
	"github.com/goerajat/online-betting-sub000/internal/model"
)

type fakeSource struct {
	mu     sync.Mutex
	events map[string]model.Event
}

func (f *fakeSource) GetMarket(_ context.Context, ticker string) (model.Market, error) {
	return model.Market{Ticker: ticker, Status: model.MarketStatusOpen}, nil
}

func (f *fakeSource) GetEvent(_ context.Context, eventTicker string) (model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[eventTicker]
	if !ok {
		return model.Event{}, errors.New("event not found")
	}
	return ev, nil
}

type fakeTransport struct {
	mu     sync.Mutex
	subs   [][]string
	unsubs [][]string
}

func (f *fakeTransport) Start(context.Context, market.StreamHandler) error { return nil }
func (f *fakeTransport) Stop()                                             {}
func (f *fakeTransport) Connected() bool                                   { return true }

func (f *fakeTransport) Subscribe(tickers []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, append([]string(nil), tickers...))
	return nil
}

func (f *fakeTransport) Unsubscribe(tickers []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubs = append(f.unsubs, append([]string(nil), tickers...))
	return nil
}

func (f *fakeTransport) subscribeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

type nopOrderSource struct{}

func (nopOrderSource) GetOrders(context.Context) ([]model.Order, error) { return nil, nil }

// hookStrategy counts every hook it receives.
type hookStrategy struct {
	name      string
	minVolume int64
	initErr   error

	inits, activations, deactivations, shutdowns atomic.Int32
	ticks, created, marketUpdates, noMarkets     atomic.Int32
	panicOnTick                                  atomic.Bool
}

func (s *hookStrategy) Name() string { return s.name }

func (s *hookStrategy) ShouldTrackMarket(m model.Market) bool {
	return m.Volume >= s.minVolume
}

func (s *hookStrategy) OnInitialized(*Env) error {
	s.inits.Add(1)
	return s.initErr
}

func (s *hookStrategy) OnTimer(context.Context, *Env) {
	s.ticks.Add(1)
	if s.panicOnTick.Load() {
		panic("tick failed")
	}
}

func (s *hookStrategy) OnActivated(*Env)   { s.activations.Add(1) }
func (s *hookStrategy) OnDeactivated(*Env) { s.deactivations.Add(1) }
func (s *hookStrategy) OnShutdown(*Env)    { s.shutdowns.Add(1) }

func (s *hookStrategy) OnOrderCreated(*Env, model.Order)               { s.created.Add(1) }
func (s *hookStrategy) OnOrderModified(*Env, model.Order, model.Order) {}
func (s *hookStrategy) OnOrderRemoved(*Env, model.Order)               {}

func (s *hookStrategy) OnMarketUpdate(*Env, manager.MarketEvent) { s.marketUpdates.Add(1) }

func (s *hookStrategy) OnNoMarkets(*Env, *NoMarketsError) { s.noMarkets.Add(1) }

type harness struct {
	src       *fakeSource
	transport *fakeTransport
	markets   *manager.MarketManager
	orders    *manager.OrderManager
	svc       Services
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		src: &fakeSource{events: map[string]model.Event{
			"KXHIGH-26OCT18": {
				EventTicker: "KXHIGH-26OCT18",
				Markets: []model.Market{
					{Ticker: "KXHIGH-26OCT18-T60", Status: model.MarketStatusOpen, Volume: 10},
					{Ticker: "KXHIGH-26OCT18-T65", Status: model.MarketStatusOpen, Volume: 500},
					{Ticker: "KXHIGH-26OCT18-T70", Status: model.MarketStatusOpen, Volume: 20},
				},
			},
		}},
		transport: &fakeTransport{},
	}
	h.markets = manager.NewMarketManager(h.src, manager.WithTransport(h.transport))
	h.orders = manager.NewOrderManager(nopOrderSource{}, time.Hour)
	h.svc = Services{Markets: h.markets, Orders: h.orders}
	t.Cleanup(func() {
		h.markets.Shutdown()
		h.orders.Shutdown()
	})
	return h
}

func scope(failFast bool) Option {
	return WithEventScope(EventScope{
		EventTicker:         "KXHIGH-26OCT18",
		FilterDescription:   "volume >= min_volume",
		ContinueOnNoMarkets: !failFast,
	})
}

func TestInitializeFiltersEventMarkets(t *testing.T) {
	h := newHarness(t)
	s := &hookStrategy{name: "spread", minVolume: 15}
	r := NewRunner(s, scope(true))

	require.NoError(t, r.Initialize(context.Background(), h.svc))
	assert.Equal(t, []string{"KXHIGH-26OCT18-T65", "KXHIGH-26OCT18-T70"}, r.Tracked())
	assert.Equal(t, r.Tracked(), r.Display().List())
	assert.Equal(t, StateInitialized, r.State())
	assert.EqualValues(t, 1, s.inits.Load())
	// event-scoped runners wait for activation before ticking
	assert.False(t, r.TimerRunning())

	assert.ErrorIs(t, r.Initialize(context.Background(), h.svc), ErrAlreadyInitialized)
}

func TestInitializeFailsFastWhenNoMarketsMatch(t *testing.T) {
	h := newHarness(t)
	s := &hookStrategy{name: "spread", minVolume: 1000}
	r := NewRunner(s, scope(true))

	err := r.Initialize(context.Background(), h.svc)
	require.Error(t, err)
	var nm *NoMarketsError
	require.ErrorAs(t, err, &nm)
	assert.Equal(t, "KXHIGH-26OCT18", nm.EventTicker)
	assert.Equal(t, 3, nm.TotalMarkets)
	assert.Equal(t, "volume >= min_volume", nm.FilterDescription)
	assert.Equal(t, StateUninitialized, r.State())
	assert.Zero(t, s.inits.Load())
}

func TestEventScopeFailsByDefault(t *testing.T) {
	h := newHarness(t)
	s := &hookStrategy{name: "spread", minVolume: 1000}
	r := NewRunner(s, WithEventScope(EventScope{EventTicker: "KXHIGH-26OCT18"}))

	err := r.Initialize(context.Background(), h.svc)
	assert.True(t, IsNoMarkets(err))
	assert.Zero(t, s.noMarkets.Load())
}

func TestInitializeContinuesWithoutMarkets(t *testing.T) {
	h := newHarness(t)
	s := &hookStrategy{name: "spread", minVolume: 1000}
	r := NewRunner(s, scope(false))

	require.NoError(t, r.Initialize(context.Background(), h.svc))
	assert.Equal(t, 0, r.TrackedCount())
	assert.EqualValues(t, 1, s.noMarkets.Load())
	assert.EqualValues(t, 1, s.inits.Load())

	// activation with nothing tracked is a no-op
	require.NoError(t, r.MakeActive(context.Background()))
	assert.Equal(t, StateInitialized, r.State())
	assert.Zero(t, h.transport.subscribeCalls())
	assert.Zero(t, s.activations.Load())
}

func TestInitializeHookErrorAborts(t *testing.T) {
	h := newHarness(t)
	s := &hookStrategy{name: "broken", initErr: errors.New("bad params")}
	r := NewRunner(s, WithTickers("A"))

	err := r.Initialize(context.Background(), h.svc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad params")
	assert.Equal(t, StateUninitialized, r.State())
}

func TestMakeActiveIsIdempotent(t *testing.T) {
	h := newHarness(t)
	s := &hookStrategy{name: "fixed"}
	r := NewRunner(s, WithTickers("A", "B", "A"), WithTimerInterval(time.Hour))
	ctx := context.Background()

	require.NoError(t, r.Initialize(ctx, h.svc))
	assert.True(t, r.TimerRunning())
	require.NoError(t, r.MakeActive(ctx))
	require.NoError(t, r.MakeActive(ctx))

	assert.Equal(t, StateActive, r.State())
	assert.Equal(t, 1, h.transport.subscribeCalls())
	assert.EqualValues(t, 1, s.activations.Load())
	assert.Equal(t, 1, h.markets.RefCount("A"))

	require.NoError(t, r.MakeInactive())
	require.NoError(t, r.MakeInactive())
	assert.Equal(t, StateInitialized, r.State())
	assert.EqualValues(t, 1, s.deactivations.Load())
	assert.Equal(t, 0, h.markets.RefCount("A"))
	assert.False(t, r.TimerRunning())
}

func TestMakeActiveBeforeInitialize(t *testing.T) {
	r := NewRunner(&hookStrategy{name: "early"})
	assert.ErrorIs(t, r.MakeActive(context.Background()), ErrNotInitialized)
}

func TestEventsRouteOnlyWhileActive(t *testing.T) {
	h := newHarness(t)
	s := &hookStrategy{name: "router"}
	r := NewRunner(s, WithTickers("A"), WithTimerInterval(time.Hour))
	ctx := context.Background()
	require.NoError(t, r.Initialize(ctx, h.svc))

	h.orders.Upsert(model.Order{OrderID: "o1", Ticker: "A", RemainingCount: 1, Status: model.OrderStatusResting})
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, s.created.Load())

	require.NoError(t, r.MakeActive(ctx))
	h.orders.Upsert(model.Order{OrderID: "o2", Ticker: "A", RemainingCount: 1, Status: model.OrderStatusResting})
	assert.Eventually(t, func() bool { return s.created.Load() == 1 }, time.Second, 5*time.Millisecond)

	h.markets.OnSnapshot(market.Snapshot{Ticker: "A", Yes: []model.PriceLevel{{Price: 40, Quantity: 5}}})
	h.markets.OnSnapshot(market.Snapshot{Ticker: "Z", Yes: []model.PriceLevel{{Price: 40, Quantity: 5}}})
	assert.Eventually(t, func() bool { return s.marketUpdates.Load() >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	// Z is not tracked, and metadata for A may also have arrived
	assert.LessOrEqual(t, s.marketUpdates.Load(), int32(2))

	require.NoError(t, r.MakeInactive())
	h.orders.Upsert(model.Order{OrderID: "o3", Ticker: "A", RemainingCount: 1, Status: model.OrderStatusResting})
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, s.created.Load())
}

func TestTimerPanicDoesNotStopSchedule(t *testing.T) {
	h := newHarness(t)
	s := &hookStrategy{name: "panicky"}
	s.panicOnTick.Store(true)
	r := NewRunner(s, WithTickers("A"), WithTimerInterval(5*time.Millisecond))

	require.NoError(t, r.Initialize(context.Background(), h.svc))
	assert.Eventually(t, func() bool { return s.ticks.Load() >= 3 }, time.Second, 5*time.Millisecond)
	assert.True(t, r.TimerRunning())
	require.NoError(t, r.Shutdown(context.Background()))
}

func TestShutdownIsIdempotent(t *testing.T) {
	h := newHarness(t)
	s := &hookStrategy{name: "done"}
	r := NewRunner(s, WithTickers("A"), WithTimerInterval(time.Hour))
	ctx := context.Background()
	require.NoError(t, r.Initialize(ctx, h.svc))
	require.NoError(t, r.MakeActive(ctx))

	require.NoError(t, r.Shutdown(ctx))
	require.NoError(t, r.Shutdown(ctx))
	assert.Equal(t, StateShutdown, r.State())
	assert.EqualValues(t, 1, s.shutdowns.Load())
	assert.EqualValues(t, 1, s.deactivations.Load())
	assert.False(t, r.TimerRunning())
	assert.Error(t, r.Context().Err())

	assert.ErrorIs(t, r.Initialize(ctx, h.svc), ErrShutdown)
	assert.ErrorIs(t, r.MakeActive(ctx), ErrShutdown)
}
