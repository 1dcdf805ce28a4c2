package exchange

import (
	"time"

	"github.com/goerajat/online-betting-sub000/internal/model"
	"github.com/shopspring/decimal"
)

// The REST API is moving from integer cent fields to fixed-point dollar
// strings. Both are decoded; the dollar string wins when present.

var hundred = decimal.NewFromInt(100)

func cents(legacy int, dollars string) int {
	if dollars == "" {
		return legacy
	}
	d, err := decimal.NewFromString(dollars)
	if err != nil {
		return legacy
	}
	return int(d.Mul(hundred).Round(0).IntPart())
}

func cents64(legacy int64, dollars string) int64 {
	if dollars == "" {
		return legacy
	}
	d, err := decimal.NewFromString(dollars)
	if err != nil {
		return legacy
	}
	return d.Mul(hundred).Round(0).IntPart()
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

type marketDTO struct {
	Ticker                 string `json:"ticker"`
	EventTicker            string `json:"event_ticker"`
	Title                  string `json:"title"`
	Subtitle               string `json:"subtitle"`
	Status                 string `json:"status"`
	YesBid                 int    `json:"yes_bid"`
	YesBidDollars          string `json:"yes_bid_dollars"`
	YesAsk                 int    `json:"yes_ask"`
	YesAskDollars          string `json:"yes_ask_dollars"`
	NoBid                  int    `json:"no_bid"`
	NoBidDollars           string `json:"no_bid_dollars"`
	NoAsk                  int    `json:"no_ask"`
	NoAskDollars           string `json:"no_ask_dollars"`
	LastPrice              int    `json:"last_price"`
	LastPriceDollars       string `json:"last_price_dollars"`
	Volume                 int64  `json:"volume"`
	Volume24h              int64  `json:"volume_24h"`
	OpenInterest           int64  `json:"open_interest"`
	CloseTime              string `json:"close_time"`
	ExpectedExpirationTime string `json:"expected_expiration_time"`
}

func (m marketDTO) toModel() model.Market {
	return model.Market{
		Ticker:       m.Ticker,
		EventTicker:  m.EventTicker,
		Title:        m.Title,
		Subtitle:     m.Subtitle,
		Status:       m.Status,
		YesBid:       cents(m.YesBid, m.YesBidDollars),
		YesAsk:       cents(m.YesAsk, m.YesAskDollars),
		NoBid:        cents(m.NoBid, m.NoBidDollars),
		NoAsk:        cents(m.NoAsk, m.NoAskDollars),
		LastPrice:    cents(m.LastPrice, m.LastPriceDollars),
		Volume:       m.Volume,
		Volume24h:    m.Volume24h,
		OpenInterest: m.OpenInterest,
		StrikeDate:   parseTime(m.ExpectedExpirationTime),
		CloseTime:    parseTime(m.CloseTime),
	}
}

type eventDTO struct {
	EventTicker  string      `json:"event_ticker"`
	SeriesTicker string      `json:"series_ticker"`
	Title        string      `json:"title"`
	SubTitle     string      `json:"sub_title"`
	Category     string      `json:"category"`
	StrikeDate   string      `json:"strike_date"`
	Markets      []marketDTO `json:"markets"`
}

type orderDTO struct {
	OrderID         string `json:"order_id"`
	ClientOrderID   string `json:"client_order_id"`
	Ticker          string `json:"ticker"`
	Side            string `json:"side"`
	Action          string `json:"action"`
	Type            string `json:"type"`
	Status          string `json:"status"`
	YesPrice        int    `json:"yes_price"`
	YesPriceDollars string `json:"yes_price_dollars"`
	NoPrice         int    `json:"no_price"`
	NoPriceDollars  string `json:"no_price_dollars"`
	InitialCount    int    `json:"initial_count"`
	RemainingCount  int    `json:"remaining_count"`
	FillCount       int    `json:"fill_count"`
	CreatedTime     string `json:"created_time"`
	LastUpdateTime  string `json:"last_update_time"`
}

func (o orderDTO) toModel() model.Order {
	return model.Order{
		OrderID:        o.OrderID,
		ClientOrderID:  o.ClientOrderID,
		Ticker:         o.Ticker,
		Side:           model.Side(o.Side),
		Action:         model.Action(o.Action),
		Type:           o.Type,
		Status:         model.OrderStatus(o.Status),
		YesPrice:       cents(o.YesPrice, o.YesPriceDollars),
		NoPrice:        cents(o.NoPrice, o.NoPriceDollars),
		InitialCount:   o.InitialCount,
		RemainingCount: o.RemainingCount,
		FillCount:      o.FillCount,
		CreatedTime:    parseTime(o.CreatedTime),
		LastUpdateTime: parseTime(o.LastUpdateTime),
	}
}

type positionDTO struct {
	Ticker                string `json:"ticker"`
	Position              int    `json:"position"`
	MarketExposure        int64  `json:"market_exposure"`
	MarketExposureDollars string `json:"market_exposure_dollars"`
	RealizedPnL           int64  `json:"realized_pnl"`
	RealizedPnLDollars    string `json:"realized_pnl_dollars"`
	FeesPaid              int64  `json:"fees_paid"`
	FeesPaidDollars       string `json:"fees_paid_dollars"`
	TotalTraded           int64  `json:"total_traded"`
	RestingOrdersCount    int    `json:"resting_orders_count"`
	LastUpdatedTs         string `json:"last_updated_ts"`
}

func (p positionDTO) toModel() model.Position {
	return model.Position{
		Ticker:        p.Ticker,
		Contracts:     p.Position,
		Cost:          cents64(p.MarketExposure, p.MarketExposureDollars),
		RealizedPnL:   cents64(p.RealizedPnL, p.RealizedPnLDollars),
		FeesPaid:      cents64(p.FeesPaid, p.FeesPaidDollars),
		Volume:        p.TotalTraded,
		RestingOrders: p.RestingOrdersCount,
		LastUpdated:   parseTime(p.LastUpdatedTs),
	}
}

type createOrderBody struct {
	Ticker        string `json:"ticker"`
	ClientOrderID string `json:"client_order_id,omitempty"`
	Side          string `json:"side"`
	Action        string `json:"action"`
	Count         int    `json:"count"`
	Type          string `json:"type"`
	YesPrice      *int   `json:"yes_price,omitempty"`
	NoPrice       *int   `json:"no_price,omitempty"`
	PostOnly      bool   `json:"post_only,omitempty"`
	TimeInForce   string `json:"time_in_force,omitempty"`
	ExpirationTs  int64  `json:"expiration_ts,omitempty"`
}

func newCreateOrderBody(req model.OrderRequest) createOrderBody {
	body := createOrderBody{
		Ticker:        req.Ticker,
		ClientOrderID: req.ClientOrderID,
		Side:          string(req.Side),
		Action:        string(req.Action),
		Count:         req.Count,
		Type:          req.Type,
		PostOnly:      req.PostOnly,
		TimeInForce:   req.TimeInForce,
		ExpirationTs:  req.Expiration,
	}
	if body.Type == "" {
		body.Type = model.OrderTypeLimit
	}
	price := req.Price
	if req.Side == model.SideNo {
		body.NoPrice = &price
	} else {
		body.YesPrice = &price
	}
	return body
}

type amendOrderBody struct {
	Ticker               string `json:"ticker"`
	Side                 string `json:"side"`
	Action               string `json:"action"`
	Count                int    `json:"count"`
	ClientOrderID        string `json:"client_order_id,omitempty"`
	UpdatedClientOrderID string `json:"updated_client_order_id,omitempty"`
	YesPrice             *int   `json:"yes_price,omitempty"`
	NoPrice              *int   `json:"no_price,omitempty"`
}

type apiErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details string `json:"details"`
	} `json:"error"`
}
