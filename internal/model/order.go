package model

import (
	"errors"
	"fmt"
	"time"
)

type OrderStatus string

const (
	OrderStatusResting  OrderStatus = "resting"
	OrderStatusCanceled OrderStatus = "canceled"
	OrderStatusExecuted OrderStatus = "executed"
	OrderStatusPending  OrderStatus = "pending"
)

// Order is one order known to the exchange. Prices are in cents for the
// order's own side.
type Order struct {
	OrderID        string      `json:"order_id"`
	ClientOrderID  string      `json:"client_order_id,omitempty"`
	Ticker         string      `json:"ticker"`
	Side           Side        `json:"side"`
	Action         Action      `json:"action"`
	Type           string      `json:"type"`
	Status         OrderStatus `json:"status"`
	YesPrice       int         `json:"yes_price"`
	NoPrice        int         `json:"no_price"`
	InitialCount   int         `json:"initial_count"`
	RemainingCount int         `json:"remaining_count"`
	FillCount      int         `json:"fill_count"`
	CreatedTime    time.Time   `json:"created_time"`
	LastUpdateTime time.Time   `json:"last_update_time"`
}

// Price returns the limit price on the order's side.
func (o Order) Price() int {
	if o.Side == SideNo {
		return o.NoPrice
	}
	return o.YesPrice
}

func (o Order) Notional() int64 {
	return int64(o.RemainingCount) * int64(o.Price())
}

// Resting reports whether the order still has quantity on the book.
func (o Order) Resting() bool {
	if o.RemainingCount <= 0 {
		return false
	}
	return o.Status == "" || o.Status == OrderStatusResting || o.Status == OrderStatusPending
}

// Equal compares the fields that matter for change detection.
func (o Order) Equal(other Order) bool {
	return o.OrderID == other.OrderID &&
		o.ClientOrderID == other.ClientOrderID &&
		o.Ticker == other.Ticker &&
		o.Side == other.Side &&
		o.Action == other.Action &&
		o.Status == other.Status &&
		o.YesPrice == other.YesPrice &&
		o.NoPrice == other.NoPrice &&
		o.InitialCount == other.InitialCount &&
		o.RemainingCount == other.RemainingCount &&
		o.FillCount == other.FillCount
}

const OrderTypeLimit = "limit"

// OrderRequest describes a new limit order. Price is in cents on Side.
type OrderRequest struct {
	Ticker        string `json:"ticker" binding:"required"`
	Side          Side   `json:"side" binding:"required,oneof=yes no"`
	Action        Action `json:"action" binding:"required,oneof=buy sell"`
	Count         int    `json:"count" binding:"required,gt=0"`
	Price         int    `json:"price" binding:"required,gte=1,lte=99"`
	Type          string `json:"type,omitempty"`
	ClientOrderID string `json:"client_order_id,omitempty"`
	PostOnly      bool   `json:"post_only,omitempty"`
	TimeInForce   string `json:"time_in_force,omitempty"`
	Expiration    int64  `json:"expiration_ts,omitempty"`
}

var ErrInvalidOrder = errors.New("invalid order")

func (r OrderRequest) Validate() error {
	switch {
	case r.Ticker == "":
		return fmt.Errorf("%w: ticker is required", ErrInvalidOrder)
	case !r.Side.Valid():
		return fmt.Errorf("%w: side %q", ErrInvalidOrder, r.Side)
	case !r.Action.Valid():
		return fmt.Errorf("%w: action %q", ErrInvalidOrder, r.Action)
	case r.Count <= 0:
		return fmt.Errorf("%w: count must be positive", ErrInvalidOrder)
	case !ValidPrice(r.Price):
		return fmt.Errorf("%w: price %d outside [%d,%d]", ErrInvalidOrder, r.Price, MinPrice, MaxPrice)
	}
	return nil
}

func (r OrderRequest) Notional() int64 {
	return int64(r.Count) * int64(r.Price)
}

// YesPrice expresses the limit price on the yes side.
func (r OrderRequest) YesPrice() int {
	if r.Side == SideNo {
		return ContractValue - r.Price
	}
	return r.Price
}

// AmendRequest changes the remaining quantity and/or price of a resting
// order. Nil fields keep the current value.
type AmendRequest struct {
	Count *int `json:"count,omitempty"`
	Price *int `json:"price,omitempty"`
}
