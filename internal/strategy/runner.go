package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goerajat/online-betting-sub000/internal/manager"
	"github.com/goerajat/online-betting-sub000/internal/model"
	"github.com/goerajat/online-betting-sub000/internal/pkg/logger"
	"github.com/goerajat/online-betting-sub000/internal/pkg/metrics"
)

type State int32

const (
	StateUninitialized State = iota
	StateInitialized
	StateActive
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateInitialized:
		return "INITIALIZED"
	case StateActive:
		return "ACTIVE"
	case StateShutdown:
		return "SHUTDOWN"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

type Option func(*Runner)

func WithTimerInterval(d time.Duration) Option {
	return func(r *Runner) { r.interval = d }
}

// WithEventScope restricts tracking to one event. The timer then waits for
// activation unless WithAutoTimer says otherwise.
func WithEventScope(scope EventScope) Option {
	return func(r *Runner) { r.scope = &scope }
}

// WithTickers adds fixed tickers to the tracked set.
func WithTickers(tickers ...string) Option {
	return func(r *Runner) { r.static = append(r.static, tickers...) }
}

// WithAutoTimer controls whether Initialize starts the timer.
func WithAutoTimer(on bool) Option {
	return func(r *Runner) { r.autoTimer = &on }
}

func WithDisplayTickers(tickers ...string) Option {
	return func(r *Runner) { r.displayCfg = append(r.displayCfg, tickers...) }
}

func WithQuoteSymbol(symbol string) Option {
	return func(r *Runner) { r.quoteSymbol = symbol }
}

func WithActivityCapacity(n int) Option {
	return func(r *Runner) { r.activityCap = n }
}

func WithStopGrace(d time.Duration) Option {
	return func(r *Runner) { r.grace = d }
}

// Runner drives one strategy instance through
// UNINITIALIZED -> INITIALIZED <-> ACTIVE -> SHUTDOWN.
// Hooks of one strategy never run concurrently.
type Runner struct {
	strategy Strategy
	name     string
	log      *slog.Logger

	interval    time.Duration
	grace       time.Duration
	scope       *EventScope
	static      []string
	autoTimer   *bool
	displayCfg  []string
	quoteSymbol string
	activityCap int

	activity *ActivityLog
	display  *DisplaySet
	timer    *Timer
	quote    atomic.Pointer[QuoteLabel] // set during Initialize, read by Status

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex // lifecycle transitions
	hookMu    sync.Mutex
	state     atomic.Int32
	env       *Env
	tracked   atomic.Pointer[[]string]
	trackedIx atomic.Pointer[map[string]struct{}]
	unsubs    []func()
}

func NewRunner(s Strategy, opts ...Option) *Runner {
	r := &Runner{
		strategy: s,
		name:     s.Name(),
		interval: DefaultTimerInterval,
		grace:    DefaultStopGrace,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = logger.Component("strategy").With("strategy", r.name)
	r.activity = NewActivityLog(r.name, r.activityCap, r.log)
	r.display = NewDisplaySet(MaxDisplayTickers)
	r.timer = NewTimer(r.name, r.interval, r.onTick, r.log)
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.setTracked(nil)
	return r
}

func (r *Runner) Name() string            { return r.name }
func (r *Runner) Strategy() Strategy      { return r.strategy }
func (r *Runner) Activity() *ActivityLog  { return r.activity }
func (r *Runner) Display() *DisplaySet    { return r.display }
func (r *Runner) State() State            { return State(r.state.Load()) }
func (r *Runner) TimerRunning() bool      { return r.timer.Running() }
func (r *Runner) Interval() time.Duration { return r.timer.Interval() }

// Tracked returns the tracked tickers in resolution order.
func (r *Runner) Tracked() []string {
	return append([]string(nil), (*r.tracked.Load())...)
}

func (r *Runner) TrackedCount() int {
	return len(*r.tracked.Load())
}

func (r *Runner) isTracked(ticker string) bool {
	_, ok := (*r.trackedIx.Load())[ticker]
	return ok
}

func (r *Runner) setTracked(tickers []string) {
	ix := make(map[string]struct{}, len(tickers))
	for _, t := range tickers {
		ix[t] = struct{}{}
	}
	r.tracked.Store(&tickers)
	r.trackedIx.Store(&ix)
}

// Context is cancelled when the runner shuts down.
func (r *Runner) Context() context.Context {
	return r.ctx
}

func (r *Runner) Status() model.StrategyStatus {
	st := model.StrategyStatus{
		Name:           r.name,
		State:          r.State().String(),
		TrackedTickers: r.Tracked(),
		DisplayTickers: r.display.List(),
		TimerRunning:   r.timer.Running(),
	}
	if q := r.quote.Load(); q != nil {
		st.QuoteLabel = q.Label()
	}
	return st
}

func (r *Runner) autoTimerEnabled() bool {
	if r.autoTimer != nil {
		return *r.autoTimer
	}
	return r.scope == nil
}

// Initialize wires the runner to svc, resolves the tracked set and runs
// OnInitialized. It succeeds at most once.
func (r *Runner) Initialize(ctx context.Context, svc Services) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.State() {
	case StateUninitialized:
	case StateShutdown:
		return ErrShutdown
	default:
		return ErrAlreadyInitialized
	}

	env := &Env{r: r, svc: svc}
	tracked := dedupe(r.static)

	if r.scope != nil {
		if svc.Markets == nil {
			return fmt.Errorf("strategy %s: event scope needs a market source", r.name)
		}
		tickers, total, err := r.scope.resolve(ctx, svc.Markets, r.strategy)
		if err != nil {
			return fmt.Errorf("strategy %s: %w", r.name, err)
		}
		if len(tickers) == 0 {
			nm := &NoMarketsError{
				EventTicker:       r.scope.EventTicker,
				TotalMarkets:      total,
				FilterDescription: r.scope.FilterDescription,
			}
			if !r.scope.ContinueOnNoMarkets {
				return nm
			}
			r.env = env
			r.activity.Warn("%s", nm.Error())
			if h, ok := r.strategy.(NoMarketsHandler); ok {
				_ = r.call("OnNoMarkets", func() { h.OnNoMarkets(env, nm) })
			}
		}
		tracked = dedupe(append(tracked, tickers...))
	}

	r.setTracked(tracked)
	r.env = env
	if len(r.displayCfg) > 0 {
		r.display.Set(r.displayCfg)
	} else {
		r.display.Fill(tracked)
	}

	if svc.Quotes != nil && r.quoteSymbol != "" {
		q := NewQuoteLabel(svc.Quotes, r.quoteSymbol, r.log)
		if err := q.Bind(ctx); err != nil {
			r.log.Warn("quote label unavailable", "error", err)
		}
		r.quote.Store(q)
	}

	if h, ok := r.strategy.(Initializer); ok {
		var hookErr error
		err := r.call("OnInitialized", func() { hookErr = h.OnInitialized(env) })
		if err == nil {
			err = hookErr
		}
		if err != nil {
			if q := r.quote.Swap(nil); q != nil {
				q.Unbind()
			}
			return fmt.Errorf("strategy %s: initialize: %w", r.name, err)
		}
	}

	r.state.Store(int32(StateInitialized))
	if r.autoTimerEnabled() {
		r.timer.Start()
	}
	r.activity.Info("initialized with %d tracked markets", len(tracked))
	return nil
}

// MakeActive subscribes every tracked ticker, starts the timer and fires
// OnActivated. It does nothing when already active or when nothing is tracked.
func (r *Runner) MakeActive(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.State() {
	case StateInitialized:
	case StateActive:
		return nil
	case StateShutdown:
		return ErrShutdown
	default:
		return ErrNotInitialized
	}

	tracked := r.Tracked()
	if len(tracked) == 0 {
		r.log.Warn("no tracked markets, staying inactive")
		r.activity.Warn("activation skipped: no tracked markets")
		return nil
	}
	markets := r.env.svc.Markets
	if markets == nil {
		return fmt.Errorf("strategy %s: no market source to subscribe", r.name)
	}
	if err := markets.Subscribe(ctx, tracked); err != nil {
		_ = markets.Unsubscribe(tracked)
		return fmt.Errorf("strategy %s: subscribe: %w", r.name, err)
	}

	r.subscribeEvents()
	r.timer.Start()
	r.state.Store(int32(StateActive))
	metrics.ActiveStrategies.Inc()

	if h, ok := r.strategy.(Activator); ok {
		_ = r.call("OnActivated", func() { h.OnActivated(r.env) })
	}
	r.activity.Info("activated on %d markets", len(tracked))
	return nil
}

// MakeInactive reverses MakeActive. No-op unless active.
func (r *Runner) MakeInactive() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.State() != StateActive {
		return nil
	}
	r.deactivateLocked()
	return nil
}

func (r *Runner) deactivateLocked() {
	r.unsubscribeEvents()
	r.timer.Stop(r.grace)
	if err := r.env.svc.Markets.Unsubscribe(r.Tracked()); err != nil {
		r.log.Warn("unsubscribe failed", "error", err)
	}
	r.state.Store(int32(StateInitialized))
	metrics.ActiveStrategies.Dec()

	if h, ok := r.strategy.(Deactivator); ok {
		_ = r.call("OnDeactivated", func() { h.OnDeactivated(r.env) })
	}
	r.activity.Info("deactivated")
}

// Shutdown deactivates, stops the timer and fires OnShutdown. Idempotent.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.State()
	if prev == StateShutdown {
		return nil
	}
	if prev == StateActive {
		r.deactivateLocked()
	}
	if !r.timer.Stop(r.grace) {
		r.log.Warn("timer still running at shutdown")
	}
	if prev != StateUninitialized {
		if h, ok := r.strategy.(ShutdownHandler); ok {
			_ = r.call("OnShutdown", func() { h.OnShutdown(r.env) })
		}
	}
	if q := r.quote.Load(); q != nil {
		q.Unbind()
	}
	r.state.Store(int32(StateShutdown))
	r.cancel()
	r.activity.Info("shut down")
	r.activity.Close()
	return nil
}

// call runs a hook under the hook lock and turns a panic into an error.
func (r *Runner) call(hook string, fn func()) (err error) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%s panicked: %v", hook, p)
			r.log.Error("strategy hook panic recovered", "hook", hook, "panic", fmt.Sprint(p))
			r.activity.Error("%s failed: %v", hook, p)
		}
	}()
	fn()
	return nil
}

// onTick is the timer callback. Panics are left to the timer.
func (r *Runner) onTick(ctx context.Context) {
	h, ok := r.strategy.(TimerHandler)
	if !ok {
		return
	}
	switch r.State() {
	case StateInitialized, StateActive:
	default:
		return
	}
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	h.OnTimer(ctx, r.env)
}

func (r *Runner) subscribeEvents() {
	svc := r.env.svc
	if svc.Orders != nil {
		if _, ok := r.strategy.(OrderHandler); ok {
			id := svc.Orders.AddOrderChangeListener(r.routeOrder)
			r.unsubs = append(r.unsubs, func() { svc.Orders.RemoveOrderChangeListener(id) })
		}
	}
	if svc.Positions != nil {
		if _, ok := r.strategy.(PositionHandler); ok {
			id := svc.Positions.AddPositionChangeListener(r.routePosition)
			r.unsubs = append(r.unsubs, func() { svc.Positions.RemovePositionChangeListener(id) })
		}
	}
	if _, ok := r.strategy.(MarketHandler); ok {
		id := svc.Markets.AddMarketChangeListener(r.routeMarket)
		r.unsubs = append(r.unsubs, func() { svc.Markets.RemoveMarketChangeListener(id) })
	}
}

func (r *Runner) unsubscribeEvents() {
	for _, fn := range r.unsubs {
		fn()
	}
	r.unsubs = nil
}

func (r *Runner) routeOrder(ev manager.OrderEvent) {
	h, ok := r.strategy.(OrderHandler)
	if !ok || r.State() != StateActive {
		return
	}
	_ = r.call("order event", func() {
		switch ev.Type {
		case manager.OrderAdded:
			h.OnOrderCreated(r.env, ev.Order)
		case manager.OrderModified:
			var prev model.Order
			if ev.Previous != nil {
				prev = *ev.Previous
			}
			h.OnOrderModified(r.env, ev.Order, prev)
		case manager.OrderRemoved:
			h.OnOrderRemoved(r.env, ev.Order)
		}
	})
}

func (r *Runner) routePosition(ev manager.PositionEvent) {
	h, ok := r.strategy.(PositionHandler)
	if !ok || r.State() != StateActive {
		return
	}
	_ = r.call("position event", func() {
		switch ev.Type {
		case manager.PositionAdded:
			h.OnPositionOpened(r.env, ev.Position)
		case manager.PositionUpdated:
			var prev model.Position
			if ev.Previous != nil {
				prev = *ev.Previous
			}
			h.OnPositionUpdated(r.env, ev.Position, prev)
		case manager.PositionClosed:
			h.OnPositionClosed(r.env, ev.Position)
		}
	})
}

func (r *Runner) routeMarket(ev manager.MarketEvent) {
	h, ok := r.strategy.(MarketHandler)
	if !ok || r.State() != StateActive {
		return
	}
	if ev.Ticker != "" && !r.isTracked(ev.Ticker) {
		return
	}
	_ = r.call("market event", func() { h.OnMarketUpdate(r.env, ev) })
}
