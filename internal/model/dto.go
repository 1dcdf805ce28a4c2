package model

import "time"

// SetEnabledRequest toggles the risk engine from the operations API.
type SetEnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// StrategyStatus is the operations view of one strategy instance.
type StrategyStatus struct {
	Name           string   `json:"name"`
	State          string   `json:"state"`
	TrackedTickers []string `json:"tracked_tickers"`
	DisplayTickers []string `json:"display_tickers"`
	QuoteLabel     string   `json:"quote_label,omitempty"`
	TimerRunning   bool     `json:"timer_running"`
}

// BookView is the operations view of one order book.
type BookView struct {
	Ticker    string       `json:"ticker"`
	Ready     bool         `json:"ready"`
	Yes       []PriceLevel `json:"yes"`
	No        []PriceLevel `json:"no"`
	YesBid    *int         `json:"yes_bid,omitempty"`
	YesAsk    *int         `json:"yes_ask,omitempty"`
	NoBid     *int         `json:"no_bid,omitempty"`
	NoAsk     *int         `json:"no_ask,omitempty"`
	UpdatedAt time.Time    `json:"updated_at"`
	Market    *Market      `json:"market,omitempty"`
}
