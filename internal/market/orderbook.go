package market

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goerajat/online-betting-sub000/internal/model"
)

var (
	ErrInvalidPrice = errors.New("price outside 1-99")
	ErrInvalidSide  = errors.New("invalid side")
	ErrBookNotReady = errors.New("order book has no snapshot")
)

// ladder holds resting quantity indexed by price in cents. Index 0 is unused.
type ladder [model.MaxPrice + 1]int

func sideIndex(s model.Side) (int, bool) {
	switch s {
	case model.SideYes:
		return 0, true
	case model.SideNo:
		return 1, true
	default:
		return 0, false
	}
}

// OrderBook is the bid ladder pair for one ticker. Only bids are tracked;
// the ask on each side is derived from the opposite side's best bid.
type OrderBook struct {
	ticker string

	mu          sync.RWMutex
	sides       [2]ladder
	ready       bool
	lastUpdated time.Time
}

func NewOrderBook(ticker string) *OrderBook {
	return &OrderBook{ticker: ticker}
}

func (b *OrderBook) Ticker() string {
	return b.ticker
}

// ApplySnapshot replaces both ladders atomically. Invalid levels are skipped.
func (b *OrderBook) ApplySnapshot(yes, no []model.PriceLevel) {
	var next [2]ladder
	fill(&next[0], yes)
	fill(&next[1], no)

	b.mu.Lock()
	b.sides = next
	b.ready = true
	b.lastUpdated = time.Now()
	b.mu.Unlock()
}

func fill(l *ladder, levels []model.PriceLevel) {
	for _, lv := range levels {
		if !model.ValidPrice(lv.Price) || lv.Quantity <= 0 {
			continue
		}
		l[lv.Price] = lv.Quantity
	}
}

// ApplyDelta adds delta to the quantity at price and returns the new
// quantity. A result of zero or less removes the level.
func (b *OrderBook) ApplyDelta(side model.Side, price, delta int) (int, error) {
	idx, ok := sideIndex(side)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSide, side)
	}
	if !model.ValidPrice(price) {
		return 0, fmt.Errorf("%w: %d", ErrInvalidPrice, price)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.ready {
		return 0, ErrBookNotReady
	}
	qty := b.sides[idx][price] + delta
	if qty <= 0 {
		qty = 0
	}
	b.sides[idx][price] = qty
	b.lastUpdated = time.Now()
	return qty, nil
}

// Invalidate marks the book stale until the next snapshot.
func (b *OrderBook) Invalidate() {
	b.mu.Lock()
	b.ready = false
	b.mu.Unlock()
}

func (b *OrderBook) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ready
}

func (b *OrderBook) LastUpdated() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdated
}

// BestBid returns the highest bid on side.
func (b *OrderBook) BestBid(side model.Side) (model.PriceLevel, bool) {
	idx, ok := sideIndex(side)
	if !ok {
		return model.PriceLevel{}, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return best(&b.sides[idx])
}

func best(l *ladder) (model.PriceLevel, bool) {
	for p := model.MaxPrice; p >= model.MinPrice; p-- {
		if l[p] > 0 {
			return model.PriceLevel{Price: p, Quantity: l[p]}, true
		}
	}
	return model.PriceLevel{}, false
}

// BestAsk derives the ask on side as 100 minus the best bid on the other side.
func (b *OrderBook) BestAsk(side model.Side) (model.PriceLevel, bool) {
	if _, ok := sideIndex(side); !ok {
		return model.PriceLevel{}, false
	}
	bid, ok := b.BestBid(side.Opposite())
	if !ok {
		return model.PriceLevel{}, false
	}
	return model.PriceLevel{Price: model.ContractValue - bid.Price, Quantity: bid.Quantity}, true
}

// Spread is ask minus bid on side. Both must exist.
func (b *OrderBook) Spread(side model.Side) (int, bool) {
	idx, ok := sideIndex(side)
	if !ok {
		return 0, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	bid, ok := best(&b.sides[idx])
	if !ok {
		return 0, false
	}
	opp, ok := best(&b.sides[1-idx])
	if !ok {
		return 0, false
	}
	return model.ContractValue - opp.Price - bid.Price, true
}

// Depth returns up to n levels on side, best price first. n <= 0 returns all.
func (b *OrderBook) Depth(side model.Side, n int) []model.PriceLevel {
	idx, ok := sideIndex(side)
	if !ok {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return levels(&b.sides[idx], n)
}

func levels(l *ladder, n int) []model.PriceLevel {
	out := make([]model.PriceLevel, 0, 8)
	for p := model.MaxPrice; p >= model.MinPrice; p-- {
		if l[p] <= 0 {
			continue
		}
		out = append(out, model.PriceLevel{Price: p, Quantity: l[p]})
		if n > 0 && len(out) == n {
			break
		}
	}
	return out
}

// Quantity returns the resting quantity at price on side.
func (b *OrderBook) Quantity(side model.Side, price int) int {
	idx, ok := sideIndex(side)
	if !ok || !model.ValidPrice(price) {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sides[idx][price]
}

// BookSnapshot is a consistent copy of both ladders.
type BookSnapshot struct {
	Ticker      string
	Yes         []model.PriceLevel
	No          []model.PriceLevel
	Ready       bool
	LastUpdated time.Time
}

func (b *OrderBook) Snapshot() BookSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return BookSnapshot{
		Ticker:      b.ticker,
		Yes:         levels(&b.sides[0], 0),
		No:          levels(&b.sides[1], 0),
		Ready:       b.ready,
		LastUpdated: b.lastUpdated,
	}
}
