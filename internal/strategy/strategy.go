// Package strategy hosts trading strategies: lifecycle, timer, activity log,
// market scoping and event routing. A strategy implements Strategy plus any
// of the optional hook interfaces below.
package strategy

import (
	"context"

	"github.com/goerajat/online-betting-sub000/internal/manager"
	"github.com/goerajat/online-betting-sub000/internal/model"
)

type Strategy interface {
	Name() string
}

// Initializer runs once after the tracked set is resolved. An error aborts
// initialization.
type Initializer interface {
	OnInitialized(env *Env) error
}

type TimerHandler interface {
	OnTimer(ctx context.Context, env *Env)
}

type Activator interface {
	OnActivated(env *Env)
}

type Deactivator interface {
	OnDeactivated(env *Env)
}

// OrderHandler receives every order change while the strategy is active,
// including orders on tickers it does not track.
type OrderHandler interface {
	OnOrderCreated(env *Env, o model.Order)
	OnOrderModified(env *Env, o, prev model.Order)
	OnOrderRemoved(env *Env, o model.Order)
}

type PositionHandler interface {
	OnPositionOpened(env *Env, p model.Position)
	OnPositionUpdated(env *Env, p, prev model.Position)
	OnPositionClosed(env *Env, p model.Position)
}

// MarketHandler receives book and metadata changes for tracked tickers and
// connection signals.
type MarketHandler interface {
	OnMarketUpdate(env *Env, ev manager.MarketEvent)
}

// MarketFilter narrows an event scope. It is combined with the scope's own filter.
type MarketFilter interface {
	ShouldTrackMarket(m model.Market) bool
}

// NoMarketsHandler fires when an event scope resolves to nothing and the
// runner is configured to continue anyway.
type NoMarketsHandler interface {
	OnNoMarkets(env *Env, err *NoMarketsError)
}

type ShutdownHandler interface {
	OnShutdown(env *Env)
}
