package model

import "time"

// Side is one of the two complementary contract sides of a binary market.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

// Opposite returns the complementary side.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

func (a Action) Valid() bool {
	return a == ActionBuy || a == ActionSell
}

// Contract prices are whole cents. A yes price p and a no price 100-p
// describe the same trade.
const (
	MinPrice      = 1
	MaxPrice      = 99
	ContractValue = 100
)

func ValidPrice(p int) bool {
	return p >= MinPrice && p <= MaxPrice
}

// PriceLevel is one rung of a bid ladder.
type PriceLevel struct {
	Price    int `json:"price"`
	Quantity int `json:"quantity"`
}

// Market statuses reported by the exchange.
const (
	MarketStatusInitialized = "initialized"
	MarketStatusActive      = "active"
	MarketStatusOpen        = "open"
	MarketStatusClosed      = "closed"
	MarketStatusSettled     = "settled"
)

// Market is the static reference data for one ticker.
type Market struct {
	Ticker       string    `json:"ticker"`
	EventTicker  string    `json:"event_ticker"`
	Title        string    `json:"title"`
	Subtitle     string    `json:"subtitle,omitempty"`
	Status       string    `json:"status"`
	YesBid       int       `json:"yes_bid"`
	YesAsk       int       `json:"yes_ask"`
	NoBid        int       `json:"no_bid"`
	NoAsk        int       `json:"no_ask"`
	LastPrice    int       `json:"last_price"`
	Volume       int64     `json:"volume"`
	Volume24h    int64     `json:"volume_24h"`
	OpenInterest int64     `json:"open_interest"`
	StrikeDate   time.Time `json:"strike_date,omitempty"`
	CloseTime    time.Time `json:"close_time,omitempty"`
}

func (m Market) IsOpen() bool {
	return m.Status == MarketStatusActive || m.Status == MarketStatusOpen
}

// Event groups the markets that settle on the same underlying question.
type Event struct {
	EventTicker  string    `json:"event_ticker"`
	SeriesTicker string    `json:"series_ticker"`
	Title        string    `json:"title"`
	SubTitle     string    `json:"sub_title,omitempty"`
	Category     string    `json:"category,omitempty"`
	StrikeDate   time.Time `json:"strike_date,omitempty"`
	Markets      []Market  `json:"markets"`
}
