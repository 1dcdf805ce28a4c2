package strategy

import (
	"context"
	"log/slog"

	"github.com/goerajat/online-betting-sub000/internal/manager"
	"github.com/goerajat/online-betting-sub000/internal/market"
	"github.com/goerajat/online-betting-sub000/internal/model"
	"github.com/goerajat/online-betting-sub000/internal/pkg/eventbus"
)

// Markets is the slice of the MarketManager strategies use.
type Markets interface {
	EventSource
	Subscribe(ctx context.Context, tickers []string) error
	Unsubscribe(tickers []string) error
	Market(ticker string) (*market.ManagedMarket, bool)
	AddMarketChangeListener(fn func(manager.MarketEvent)) eventbus.ListenerID
	RemoveMarketChangeListener(id eventbus.ListenerID) bool
}

type Orders interface {
	GetAll() []model.Order
	ForTicker(ticker string) []model.Order
	AddOrderChangeListener(fn func(manager.OrderEvent)) eventbus.ListenerID
	RemoveOrderChangeListener(id eventbus.ListenerID) bool
}

type Positions interface {
	Position(ticker string) (model.Position, bool)
	GetAll() []model.Position
	AddPositionChangeListener(fn func(manager.PositionEvent)) eventbus.ListenerID
	RemovePositionChangeListener(id eventbus.ListenerID) bool
}

// Trader is the risk-checked order entry point, normally service.OrderService.
type Trader interface {
	PlaceOrder(ctx context.Context, strategy string, req model.OrderRequest) (model.Order, error)
	AmendOrder(ctx context.Context, strategy, orderID string, amend model.AmendRequest) (model.Order, error)
	CancelOrder(ctx context.Context, strategy, orderID string) (model.Order, error)
	CancelAll(ctx context.Context, strategy string) (int, error)
	OwnerOf(o model.Order) (string, bool)
}

// Services are the shared components handed to every runner.
type Services struct {
	Markets   Markets
	Orders    Orders
	Positions Positions
	Trader    Trader
	Quotes    QuoteProvider
}

// Env is what a strategy sees from inside its hooks. Order entry is bound to
// the strategy's name so risk overrides and attribution follow it.
type Env struct {
	r   *Runner
	svc Services
}

func (e *Env) Name() string           { return e.r.name }
func (e *Env) Logger() *slog.Logger   { return e.r.log }
func (e *Env) Activity() *ActivityLog { return e.r.activity }
func (e *Env) Display() *DisplaySet   { return e.r.display }

func (e *Env) Info(format string, args ...any)  { e.r.activity.Info(format, args...) }
func (e *Env) Warn(format string, args ...any)  { e.r.activity.Warn(format, args...) }
func (e *Env) Error(format string, args ...any) { e.r.activity.Error(format, args...) }
func (e *Env) Trade(format string, args ...any) { e.r.activity.Trade(format, args...) }

// Context lives until the strategy shuts down. Use it for work started
// from event hooks.
func (e *Env) Context() context.Context {
	return e.r.ctx
}

// Tracked returns the tickers this strategy trades.
func (e *Env) Tracked() []string {
	return e.r.Tracked()
}

func (e *Env) IsTracked(ticker string) bool {
	return e.r.isTracked(ticker)
}

// QuoteLabel returns the reference price label, or "" when none is bound.
func (e *Env) QuoteLabel() string {
	if q := e.r.quote.Load(); q != nil {
		return q.Label()
	}
	return ""
}

func (e *Env) Market(ticker string) (*market.ManagedMarket, bool) {
	if e.svc.Markets == nil {
		return nil, false
	}
	return e.svc.Markets.Market(ticker)
}

func (e *Env) Book(ticker string) (*market.OrderBook, bool) {
	mm, ok := e.Market(ticker)
	if !ok {
		return nil, false
	}
	return mm.Book(), true
}

func (e *Env) Position(ticker string) (model.Position, bool) {
	if e.svc.Positions == nil {
		return model.Position{}, false
	}
	return e.svc.Positions.Position(ticker)
}

// RestingOrders returns every resting order on ticker, whoever placed it.
func (e *Env) RestingOrders(ticker string) []model.Order {
	if e.svc.Orders == nil {
		return nil
	}
	return e.svc.Orders.ForTicker(ticker)
}

// OwnOrders returns the resting orders on ticker placed by this strategy.
func (e *Env) OwnOrders(ticker string) []model.Order {
	var out []model.Order
	for _, o := range e.RestingOrders(ticker) {
		if e.IsOwn(o) {
			out = append(out, o)
		}
	}
	return out
}

func (e *Env) IsOwn(o model.Order) bool {
	if e.svc.Trader == nil {
		return false
	}
	owner, ok := e.svc.Trader.OwnerOf(o)
	return ok && owner == e.r.name
}

func (e *Env) PlaceOrder(ctx context.Context, req model.OrderRequest) (model.Order, error) {
	if e.svc.Trader == nil {
		return model.Order{}, ErrNoTrader
	}
	return e.svc.Trader.PlaceOrder(ctx, e.r.name, req)
}

func (e *Env) AmendOrder(ctx context.Context, orderID string, amend model.AmendRequest) (model.Order, error) {
	if e.svc.Trader == nil {
		return model.Order{}, ErrNoTrader
	}
	return e.svc.Trader.AmendOrder(ctx, e.r.name, orderID, amend)
}

func (e *Env) CancelOrder(ctx context.Context, orderID string) (model.Order, error) {
	if e.svc.Trader == nil {
		return model.Order{}, ErrNoTrader
	}
	return e.svc.Trader.CancelOrder(ctx, e.r.name, orderID)
}

// CancelAll cancels every resting order this strategy placed.
func (e *Env) CancelAll(ctx context.Context) (int, error) {
	if e.svc.Trader == nil {
		return 0, ErrNoTrader
	}
	return e.svc.Trader.CancelAll(ctx, e.r.name)
}
