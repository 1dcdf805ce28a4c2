// Package spread is a sample market-making strategy: it joins wide yes
// spreads one cent inside the best bid.
package spread

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"github.com/goerajat/online-betting-sub000/internal/config"
	"github.com/goerajat/online-betting-sub000/internal/model"
	"github.com/goerajat/online-betting-sub000/internal/strategy"
)

const Type = "spread"

type Params struct {
	MinVolume int64
	MinSpread int
	Quantity  int
	PostOnly  bool
}

func DefaultParams() Params {
	return Params{MinSpread: 3, Quantity: 1, PostOnly: true}
}

// ParseParams reads the strategy's params block. Unknown keys are ignored.
func ParseParams(raw map[string]interface{}) (Params, error) {
	p := DefaultParams()
	var err error
	if v, ok := raw["min_volume"]; ok {
		if p.MinVolume, err = cast.ToInt64E(v); err != nil {
			return p, fmt.Errorf("min_volume: %w", err)
		}
	}
	if v, ok := raw["min_spread"]; ok {
		if p.MinSpread, err = cast.ToIntE(v); err != nil {
			return p, fmt.Errorf("min_spread: %w", err)
		}
	}
	if v, ok := raw["quantity"]; ok {
		if p.Quantity, err = cast.ToIntE(v); err != nil {
			return p, fmt.Errorf("quantity: %w", err)
		}
	}
	if v, ok := raw["post_only"]; ok {
		if p.PostOnly, err = cast.ToBoolE(v); err != nil {
			return p, fmt.Errorf("post_only: %w", err)
		}
	}
	if p.Quantity <= 0 {
		return p, fmt.Errorf("quantity must be positive, got %d", p.Quantity)
	}
	if p.MinSpread < 2 {
		return p, fmt.Errorf("min_spread must be at least 2, got %d", p.MinSpread)
	}
	return p, nil
}

type Strategy struct {
	name   string
	params Params
}

func New(name string, p Params) *Strategy {
	return &Strategy{name: name, params: p}
}

func (s *Strategy) Name() string { return s.name }

func (s *Strategy) ShouldTrackMarket(m model.Market) bool {
	return m.IsOpen() && m.Volume >= s.params.MinVolume
}

func (s *Strategy) OnInitialized(env *strategy.Env) error {
	env.Info("spread params: min_volume=%d min_spread=%d qty=%d post_only=%t",
		s.params.MinVolume, s.params.MinSpread, s.params.Quantity, s.params.PostOnly)
	return nil
}

func (s *Strategy) OnTimer(ctx context.Context, env *strategy.Env) {
	for _, ticker := range env.Tracked() {
		s.quote(ctx, env, ticker)
	}
}

func (s *Strategy) quote(ctx context.Context, env *strategy.Env, ticker string) {
	mm, ok := env.Market(ticker)
	if !ok || !mm.Book().Ready() {
		return
	}
	bid, hasBid := mm.YesBid()
	ask, hasAsk := mm.YesAsk()
	if !hasBid || !hasAsk || ask-bid < s.params.MinSpread {
		return
	}
	if len(env.OwnOrders(ticker)) > 0 {
		return
	}
	price := bid + 1
	if price >= ask || !model.ValidPrice(price) {
		return
	}

	o, err := env.PlaceOrder(ctx, model.OrderRequest{
		Ticker:   ticker,
		Side:     model.SideYes,
		Action:   model.ActionBuy,
		Count:    s.params.Quantity,
		Price:    price,
		PostOnly: s.params.PostOnly,
	})
	if err != nil {
		env.Error("place %s @%d failed: %v", ticker, price, err)
		return
	}
	env.Trade("bid %d %s yes @ %s (spread %d)", s.params.Quantity, ticker, dollars(price), ask-bid)
	env.Logger().Debug("order placed", "order_id", o.OrderID, "ticker", ticker)
}

func (s *Strategy) OnOrderCreated(env *strategy.Env, o model.Order) {
	if env.IsOwn(o) {
		env.Trade("order %s resting: %d %s %s @ %s", o.OrderID, o.RemainingCount, o.Ticker, o.Side, dollars(o.Price()))
	}
}

func (s *Strategy) OnOrderModified(env *strategy.Env, o, prev model.Order) {
	if !env.IsOwn(o) {
		return
	}
	if filled := o.FillCount - prev.FillCount; filled > 0 {
		env.Trade("order %s filled %d @ %s", o.OrderID, filled, dollars(o.Price()))
	}
}

func (s *Strategy) OnOrderRemoved(env *strategy.Env, o model.Order) {
	if env.IsOwn(o) {
		env.Trade("order %s done: %s", o.OrderID, o.Status)
	}
}

// OnDeactivated pulls every resting quote.
func (s *Strategy) OnDeactivated(env *strategy.Env) {
	n, err := env.CancelAll(env.Context())
	if err != nil {
		env.Error("cancel on deactivate: %v", err)
		return
	}
	if n > 0 {
		env.Info("cancelled %d resting orders", n)
	}
}

func (s *Strategy) OnNoMarkets(env *strategy.Env, err *strategy.NoMarketsError) {
	env.Warn("idle: %v", err)
}

func dollars(cents int) string {
	return "$" + decimal.New(int64(cents), -2).StringFixed(2)
}

// Register adds the spread factory to reg.
func Register(reg *strategy.Registry) error {
	return reg.Register(Type, func(cfg config.StrategyConfig) (*strategy.Runner, error) {
		p, err := ParseParams(cfg.Params)
		if err != nil {
			return nil, err
		}
		return strategy.NewRunner(New(cfg.Name, p), strategy.OptionsFromConfig(cfg)...), nil
	})
}
