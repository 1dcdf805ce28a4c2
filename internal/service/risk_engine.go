package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goerajat/online-betting-sub000/internal/model"
	"github.com/goerajat/online-betting-sub000/internal/pkg/apperrors"
	"github.com/goerajat/online-betting-sub000/internal/pkg/eventbus"
	"github.com/goerajat/online-betting-sub000/internal/pkg/logger"
	"github.com/goerajat/online-betting-sub000/internal/pkg/metrics"
)

// DefaultPrice is assumed when an amendment leaves the price unknown.
const DefaultPrice = 50

// PositionLookup supplies the current position for projected-exposure checks.
type PositionLookup interface {
	Position(ticker string) (model.Position, bool)
}

// ViolationRepo persists rejected checks.
type ViolationRepo interface {
	Record(ctx context.Context, v model.RiskViolation) error
	Recent(ctx context.Context, limit int) ([]model.RiskViolation, error)
	Counts(ctx context.Context) (map[model.CheckKind]int64, error)
}

type ViolationAuditor interface {
	RecordViolation(v model.RiskViolation)
}

// ViolationError is returned by a failed pre-trade check.
type ViolationError struct {
	Violation model.RiskViolation
	app       *apperrors.AppError
}

func newViolationError(v model.RiskViolation) *ViolationError {
	return &ViolationError{Violation: v, app: apperrors.NewRiskReject(v.String())}
}

func (e *ViolationError) Error() string {
	return "risk reject: " + e.Violation.String()
}

func (e *ViolationError) Unwrap() error {
	return e.app
}

type RiskOption func(*RiskEngine)

func WithPositionLookup(p PositionLookup) RiskOption {
	return func(e *RiskEngine) { e.positions = p }
}

func WithViolationRepo(r ViolationRepo) RiskOption {
	return func(e *RiskEngine) { e.repo = r }
}

func WithViolationAuditor(a ViolationAuditor) RiskOption {
	return func(e *RiskEngine) { e.audit = a }
}

// RiskEngine validates orders against the configured limits. The strategy
// whose overrides apply is passed on every call.
type RiskEngine struct {
	cfg       atomic.Pointer[model.RiskConfig]
	cfgMu     sync.Mutex
	positions PositionLookup
	repo      ViolationRepo
	audit     ViolationAuditor
	bus       *eventbus.Bus[model.RiskViolation]
	log       *slog.Logger
	now       func() time.Time
}

func NewRiskEngine(cfg model.RiskConfig, opts ...RiskOption) *RiskEngine {
	e := &RiskEngine{
		bus: eventbus.New[model.RiskViolation]("risk_violations", 0),
		log: logger.Component("risk"),
		now: time.Now,
	}
	c := cfg.Clone()
	e.cfg.Store(&c)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *RiskEngine) Config() model.RiskConfig {
	return e.cfg.Load().Clone()
}

// UpdateConfig swaps the whole policy. Checks already running keep the old one.
func (e *RiskEngine) UpdateConfig(cfg model.RiskConfig) {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	c := cfg.Clone()
	e.cfg.Store(&c)
	e.log.Info("risk config updated", "enabled", c.Enabled, "overrides", len(c.Strategies))
}

func (e *RiskEngine) SetEnabled(enabled bool) {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	c := e.cfg.Load().Clone()
	c.Enabled = enabled
	e.cfg.Store(&c)
	e.log.Info("risk checks toggled", "enabled", enabled)
}

func (e *RiskEngine) Enabled() bool {
	return e.cfg.Load().Enabled
}

// exposure is what one request adds, both on its own and to the position.
type exposure struct {
	strategy    string
	ticker      string
	orderID     string
	qty         int64
	notional    int64
	posQty      int64
	posNotional int64
}

// CheckOrder 下单前风控检查，返回 error 则必须拒绝
func (e *RiskEngine) CheckOrder(ctx context.Context, strategy string, req model.OrderRequest) error {
	qty := int64(req.Count)
	notional := req.Notional()
	return e.evaluate(ctx, exposure{
		strategy:    strategy,
		ticker:      req.Ticker,
		qty:         qty,
		notional:    notional,
		posQty:      qty,
		posNotional: notional,
	})
}

// CheckAmendment validates an amendment. Order limits use the new quantity
// and price; position limits only see the increase over the current order.
func (e *RiskEngine) CheckAmendment(ctx context.Context, strategy, orderID string, current model.Order, amend model.AmendRequest) error {
	curQty := int64(current.RemainingCount)
	curPrice := int64(current.Price())
	if curPrice <= 0 {
		curPrice = DefaultPrice
	}

	qty := curQty
	if amend.Count != nil {
		qty = int64(*amend.Count)
	}
	price := curPrice
	if amend.Price != nil {
		price = int64(*amend.Price)
	}
	notional := qty * price

	return e.evaluate(ctx, exposure{
		strategy:    strategy,
		ticker:      current.Ticker,
		orderID:     orderID,
		qty:         qty,
		notional:    notional,
		posQty:      max(0, qty-curQty),
		posNotional: max(0, notional-curQty*curPrice),
	})
}

func (e *RiskEngine) evaluate(ctx context.Context, x exposure) error {
	cfg := e.cfg.Load()
	if !cfg.Enabled {
		return nil
	}
	limits := cfg.LimitsFor(x.strategy)

	if l := limits.MaxOrderQuantity; l != nil && x.qty > *l {
		return e.reject(ctx, x, model.CheckOrderQuantity, x.qty, *l)
	}
	if l := limits.MaxOrderNotional; l != nil && x.notional > *l {
		return e.reject(ctx, x, model.CheckOrderNotional, x.notional, *l)
	}

	var pos model.Position
	if e.positions != nil {
		pos, _ = e.positions.Position(x.ticker)
		if l := limits.MaxPositionQuantity; l != nil {
			if projected := abs(int64(pos.Contracts)) + x.posQty; projected > *l {
				return e.reject(ctx, x, model.CheckPositionQuantity, projected, *l)
			}
		}
	}
	if l := limits.MaxPositionNotional; l != nil {
		if projected := abs(pos.Cost) + x.posNotional; projected > *l {
			return e.reject(ctx, x, model.CheckPositionNotional, projected, *l)
		}
	}
	return nil
}

func (e *RiskEngine) reject(ctx context.Context, x exposure, kind model.CheckKind, actual, limit int64) error {
	v := model.RiskViolation{
		Check:     kind,
		Actual:    actual,
		Limit:     limit,
		Strategy:  x.strategy,
		OrderID:   x.orderID,
		Timestamp: e.now(),
	}
	if kind.PositionRelated() {
		v.Ticker = x.ticker
	}

	metrics.RiskRejects.WithLabelValues(string(kind)).Inc()
	e.log.Warn("risk violation", "check", kind, "actual", actual, "limit", limit,
		"strategy", x.strategy, "ticker", x.ticker)

	if e.repo != nil {
		if err := e.repo.Record(ctx, v); err != nil {
			logger.LogError(ctx, err, "failed to record risk violation")
		}
	}
	if e.audit != nil {
		e.audit.RecordViolation(v)
	}
	_ = e.bus.Publish(v)
	return newViolationError(v)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// Violations returns the most recent recorded violations, newest first.
func (e *RiskEngine) Violations(ctx context.Context, limit int) ([]model.RiskViolation, error) {
	if e.repo == nil {
		return nil, nil
	}
	return e.repo.Recent(ctx, limit)
}

func (e *RiskEngine) ViolationCounts(ctx context.Context) (map[model.CheckKind]int64, error) {
	if e.repo == nil {
		return map[model.CheckKind]int64{}, nil
	}
	return e.repo.Counts(ctx)
}

func (e *RiskEngine) AddViolationListener(fn func(model.RiskViolation)) eventbus.ListenerID {
	return e.bus.Subscribe(fn)
}

func (e *RiskEngine) RemoveViolationListener(id eventbus.ListenerID) bool {
	return e.bus.Unsubscribe(id)
}

func (e *RiskEngine) Close() {
	e.bus.Close()
}
