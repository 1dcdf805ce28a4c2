package market

import (
	"sync/atomic"

	"github.com/goerajat/online-betting-sub000/internal/model"
)

// ManagedMarket is the live view of one ticker: reference data plus book.
type ManagedMarket struct {
	ticker string
	book   *OrderBook
	info   atomic.Pointer[model.Market]
}

func NewManagedMarket(ticker string) *ManagedMarket {
	return &ManagedMarket{ticker: ticker, book: NewOrderBook(ticker)}
}

func (m *ManagedMarket) Ticker() string {
	return m.ticker
}

func (m *ManagedMarket) Book() *OrderBook {
	return m.book
}

// Info returns the cached reference data, if any has been fetched.
func (m *ManagedMarket) Info() (model.Market, bool) {
	p := m.info.Load()
	if p == nil {
		return model.Market{}, false
	}
	return *p, true
}

func (m *ManagedMarket) SetInfo(info model.Market) {
	m.info.Store(&info)
}

func (m *ManagedMarket) YesBid() (int, bool) { return price(m.book.BestBid(model.SideYes)) }
func (m *ManagedMarket) NoBid() (int, bool)  { return price(m.book.BestBid(model.SideNo)) }
func (m *ManagedMarket) YesAsk() (int, bool) { return price(m.book.BestAsk(model.SideYes)) }
func (m *ManagedMarket) NoAsk() (int, bool)  { return price(m.book.BestAsk(model.SideNo)) }

func price(l model.PriceLevel, ok bool) (int, bool) {
	return l.Price, ok
}

// View renders the market for the operations API.
func (m *ManagedMarket) View() model.BookView {
	snap := m.book.Snapshot()
	v := model.BookView{
		Ticker:    m.ticker,
		Ready:     snap.Ready,
		Yes:       snap.Yes,
		No:        snap.No,
		UpdatedAt: snap.LastUpdated,
	}
	if p, ok := m.YesBid(); ok {
		v.YesBid = &p
	}
	if p, ok := m.YesAsk(); ok {
		v.YesAsk = &p
	}
	if p, ok := m.NoBid(); ok {
		v.NoBid = &p
	}
	if p, ok := m.NoAsk(); ok {
		v.NoAsk = &p
	}
	if info, ok := m.Info(); ok {
		v.Market = &info
	}
	return v
}
