package manager

import (
	"time"

	"github.com/goerajat/online-betting-sub000/internal/market"
	"github.com/goerajat/online-betting-sub000/internal/model"
)

// Source tells where a change was observed.
type Source string

const (
	SourcePoll Source = "poll"
	SourcePush Source = "push"
)

type OrderEventType string

const (
	OrderAdded    OrderEventType = "ORDER_ADDED"
	OrderModified OrderEventType = "ORDER_MODIFIED"
	OrderRemoved  OrderEventType = "ORDER_REMOVED"
)

type OrderEvent struct {
	Type     OrderEventType
	Order    model.Order
	Previous *model.Order
	Source   Source
	Time     time.Time
}

type PositionEventType string

const (
	PositionAdded   PositionEventType = "POSITION_ADDED"
	PositionUpdated PositionEventType = "POSITION_UPDATED"
	PositionClosed  PositionEventType = "POSITION_CLOSED"
)

type PositionEvent struct {
	Type     PositionEventType
	Position model.Position
	Previous *model.Position
	Source   Source
	Time     time.Time
}

type MarketEventType string

const (
	OrderbookSnapshot MarketEventType = "ORDERBOOK_SNAPSHOT"
	OrderbookDelta    MarketEventType = "ORDERBOOK_DELTA"
	MarketInfoUpdated MarketEventType = "MARKET_INFO_UPDATED"
	Connected         MarketEventType = "CONNECTED"
	Disconnected      MarketEventType = "DISCONNECTED"
	Error             MarketEventType = "ERROR"
)

// MarketEvent carries a change to one ticker, or a connection-level signal
// with an empty Ticker.
type MarketEvent struct {
	Type   MarketEventType
	Ticker string
	Delta  *market.Delta
	Market *model.Market
	Err    error
	Time   time.Time
}
