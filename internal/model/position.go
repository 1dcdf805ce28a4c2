package model

import "time"

// Position is the net exposure in one market. Contracts is signed:
// positive is long yes, negative is long no.
type Position struct {
	Ticker        string    `json:"ticker"`
	Contracts     int       `json:"contracts"`
	Cost          int64     `json:"cost"`
	RealizedPnL   int64     `json:"realized_pnl"`
	FeesPaid      int64     `json:"fees_paid"`
	Volume        int64     `json:"volume"`
	RestingOrders int       `json:"resting_orders"`
	LastUpdated   time.Time `json:"last_updated"`
}

func (p Position) Flat() bool {
	return p.Contracts == 0
}

func (p Position) Equal(other Position) bool {
	return p.Ticker == other.Ticker &&
		p.Contracts == other.Contracts &&
		p.Cost == other.Cost &&
		p.RealizedPnL == other.RealizedPnL &&
		p.FeesPaid == other.FeesPaid &&
		p.Volume == other.Volume &&
		p.RestingOrders == other.RestingOrders
}
