package model

import (
	"fmt"
	"time"
)

// RiskLimits 定义一组可选的风控上限，nil 表示不限制
type RiskLimits struct {
	MaxOrderQuantity    *int64 `json:"max_order_quantity,omitempty"`    // 单笔最大合约数
	MaxOrderNotional    *int64 `json:"max_order_notional,omitempty"`    // 单笔最大名义金额 (cents)
	MaxPositionQuantity *int64 `json:"max_position_quantity,omitempty"` // 单市场最大持仓
	MaxPositionNotional *int64 `json:"max_position_notional,omitempty"` // 单市场最大持仓金额 (cents)
}

// Limit is a convenience for building RiskLimits literals.
func Limit(v int64) *int64 {
	return &v
}

// Overlay returns l with every limit set in o taking precedence.
func (l RiskLimits) Overlay(o RiskLimits) RiskLimits {
	out := l
	if o.MaxOrderQuantity != nil {
		out.MaxOrderQuantity = o.MaxOrderQuantity
	}
	if o.MaxOrderNotional != nil {
		out.MaxOrderNotional = o.MaxOrderNotional
	}
	if o.MaxPositionQuantity != nil {
		out.MaxPositionQuantity = o.MaxPositionQuantity
	}
	if o.MaxPositionNotional != nil {
		out.MaxPositionNotional = o.MaxPositionNotional
	}
	return out
}

// RiskConfig is the validation policy shared by every strategy.
type RiskConfig struct {
	Enabled    bool                  `json:"enabled"`
	Global     RiskLimits            `json:"global"`
	Strategies map[string]RiskLimits `json:"strategies,omitempty"`
}

// LimitsFor resolves each limit independently: strategy override, then
// global, then unlimited.
func (c RiskConfig) LimitsFor(strategy string) RiskLimits {
	if override, ok := c.Strategies[strategy]; ok {
		return c.Global.Overlay(override)
	}
	return c.Global
}

func (c RiskConfig) Clone() RiskConfig {
	out := RiskConfig{Enabled: c.Enabled, Global: c.Global}
	if len(c.Strategies) > 0 {
		out.Strategies = make(map[string]RiskLimits, len(c.Strategies))
		for k, v := range c.Strategies {
			out.Strategies[k] = v
		}
	}
	return out
}

type CheckKind string

const (
	CheckOrderQuantity    CheckKind = "ORDER_QUANTITY"
	CheckOrderNotional    CheckKind = "ORDER_NOTIONAL"
	CheckPositionQuantity CheckKind = "POSITION_QUANTITY"
	CheckPositionNotional CheckKind = "POSITION_NOTIONAL"
)

// PositionRelated reports whether the check looks at the projected position.
func (k CheckKind) PositionRelated() bool {
	return k == CheckPositionQuantity || k == CheckPositionNotional
}

// RiskViolation records one failed pre-trade check.
type RiskViolation struct {
	Check     CheckKind `json:"check"`
	Actual    int64     `json:"actual"`
	Limit     int64     `json:"limit"`
	Strategy  string    `json:"strategy"`
	Ticker    string    `json:"ticker,omitempty"`
	OrderID   string    `json:"order_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (v RiskViolation) String() string {
	msg := fmt.Sprintf("%s %d exceeds limit %d", v.Check, v.Actual, v.Limit)
	if v.Strategy != "" {
		msg += " strategy=" + v.Strategy
	}
	if v.Ticker != "" {
		msg += " ticker=" + v.Ticker
	}
	return msg
}
