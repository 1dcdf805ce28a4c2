package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/goerajat/online-betting-sub000/internal/model"
	"github.com/goerajat/online-betting-sub000/internal/pkg/apperrors"
	"github.com/goerajat/online-betting-sub000/internal/pkg/logger"
	"github.com/goerajat/online-betting-sub000/internal/pkg/metrics"
)

// OrderGateway is the write half of the exchange REST API.
type OrderGateway interface {
	CreateOrder(ctx context.Context, req model.OrderRequest) (model.Order, error)
	AmendOrder(ctx context.Context, orderID string, req model.OrderRequest) (model.Order, error)
	CancelOrder(ctx context.Context, orderID string) (model.Order, error)
}

// OrderTracker is the local order book of record, normally the OrderManager.
type OrderTracker interface {
	Upsert(o model.Order)
	Remove(orderID string)
	Get(orderID string) (model.Order, bool)
	GetAll() []model.Order
}

type OrderAuditor interface {
	RecordOrder(strategy, action string, order model.Order, err error)
	RecordLifecycle(strategy, event string, fields map[string]interface{})
}

// OrderJournal keeps a durable trail of acknowledged orders.
type OrderJournal interface {
	Record(ctx context.Context, kind string, o model.Order) error
}

type OrderServiceOption func(*OrderService)

func WithOrderAuditor(a OrderAuditor) OrderServiceOption {
	return func(s *OrderService) { s.audit = a }
}

func WithOrderJournal(j OrderJournal) OrderServiceOption {
	return func(s *OrderService) { s.journal = j }
}

// OrderService places, amends and cancels orders on behalf of strategies.
// Every placement and amendment passes the risk engine first.
type OrderService struct {
	gw      OrderGateway
	risk    *RiskEngine
	orders  OrderTracker
	audit   OrderAuditor
	journal OrderJournal
	log     *slog.Logger

	panicMode atomic.Bool

	mu      sync.RWMutex
	owners  map[string]string // order id -> strategy
	clients map[string]string // client order id -> strategy
}

func NewOrderService(gw OrderGateway, risk *RiskEngine, orders OrderTracker, opts ...OrderServiceOption) *OrderService {
	s := &OrderService{
		gw:      gw,
		risk:    risk,
		orders:  orders,
		log:     logger.Component("orders"),
		owners:  make(map[string]string),
		clients: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var errPanicMode = apperrors.New(apperrors.ErrSystemPanic, "trading suspended: panic mode active", nil)

func (s *OrderService) PlaceOrder(ctx context.Context, strategy string, req model.OrderRequest) (model.Order, error) {
	if s.panicMode.Load() {
		metrics.OrdersTotal.WithLabelValues("place", "panic").Inc()
		return model.Order{}, errPanicMode
	}
	if req.Type == "" {
		req.Type = model.OrderTypeLimit
	}
	if err := req.Validate(); err != nil {
		return model.Order{}, apperrors.New(apperrors.ErrInvalidRequest, err.Error(), err)
	}
	if req.ClientOrderID == "" {
		req.ClientOrderID = uuid.NewString()
	}

	if s.risk != nil {
		if err := s.risk.CheckOrder(ctx, strategy, req); err != nil {
			metrics.OrdersTotal.WithLabelValues("place", "risk_reject").Inc()
			return model.Order{}, err
		}
	}

	s.mu.Lock()
	s.clients[req.ClientOrderID] = strategy
	s.mu.Unlock()

	timer := prometheus.NewTimer(metrics.LatencyBucket.WithLabelValues("create_order"))
	order, err := s.gw.CreateOrder(ctx, req)
	timer.ObserveDuration()
	if err != nil {
		metrics.OrdersTotal.WithLabelValues("place", "error").Inc()
		s.auditOrder(strategy, "place", requestedOrder(req), err)
		s.log.Warn("order placement failed", "strategy", strategy, "ticker", req.Ticker, "error", err)
		return model.Order{}, err
	}
	if order.Ticker == "" {
		order.Ticker = req.Ticker
	}
	if order.ClientOrderID == "" {
		order.ClientOrderID = req.ClientOrderID
	}

	s.mu.Lock()
	s.owners[order.OrderID] = strategy
	s.mu.Unlock()

	metrics.OrdersTotal.WithLabelValues("place", "ok").Inc()
	s.acknowledge(ctx, strategy, "place", order)
	s.log.Info("order placed", "strategy", strategy, "order_id", order.OrderID, "ticker", order.Ticker,
		"side", order.Side, "action", order.Action, "price", order.Price(), "count", order.RemainingCount)
	return order, nil
}

// requestedOrder renders a request for audit before the exchange assigned an id.
func requestedOrder(req model.OrderRequest) model.Order {
	o := model.Order{
		ClientOrderID:  req.ClientOrderID,
		Ticker:         req.Ticker,
		Side:           req.Side,
		Action:         req.Action,
		Type:           req.Type,
		InitialCount:   req.Count,
		RemainingCount: req.Count,
	}
	if req.Side == model.SideNo {
		o.NoPrice = req.Price
		o.YesPrice = model.ContractValue - req.Price
	} else {
		o.YesPrice = req.Price
		o.NoPrice = model.ContractValue - req.Price
	}
	return o
}

// AmendOrder changes the remaining count and/or price of a resting order.
func (s *OrderService) AmendOrder(ctx context.Context, strategy, orderID string, amend model.AmendRequest) (model.Order, error) {
	if s.panicMode.Load() {
		metrics.OrdersTotal.WithLabelValues("amend", "panic").Inc()
		return model.Order{}, errPanicMode
	}
	if amend.Count == nil && amend.Price == nil {
		return model.Order{}, apperrors.NewInvalidRequest("amendment must change count or price")
	}
	if amend.Count != nil && *amend.Count <= 0 {
		return model.Order{}, apperrors.NewInvalidRequest("amended count must be positive")
	}
	if amend.Price != nil && !model.ValidPrice(*amend.Price) {
		return model.Order{}, apperrors.NewInvalidRequest(fmt.Sprintf("amended price %d outside [%d,%d]", *amend.Price, model.MinPrice, model.MaxPrice))
	}
	current, ok := s.orders.Get(orderID)
	if !ok {
		return model.Order{}, apperrors.NewNotFound("order " + orderID + " is not resting")
	}

	if s.risk != nil {
		if err := s.risk.CheckAmendment(ctx, strategy, orderID, current, amend); err != nil {
			metrics.OrdersTotal.WithLabelValues("amend", "risk_reject").Inc()
			return model.Order{}, err
		}
	}

	remaining := current.RemainingCount
	if amend.Count != nil {
		remaining = *amend.Count
	}
	price := current.Price()
	if amend.Price != nil {
		price = *amend.Price
	}
	req := model.OrderRequest{
		Ticker:        current.Ticker,
		Side:          current.Side,
		Action:        current.Action,
		Count:         remaining + current.FillCount,
		Price:         price,
		ClientOrderID: current.ClientOrderID,
	}

	timer := prometheus.NewTimer(metrics.LatencyBucket.WithLabelValues("amend_order"))
	order, err := s.gw.AmendOrder(ctx, orderID, req)
	timer.ObserveDuration()
	if err != nil {
		metrics.OrdersTotal.WithLabelValues("amend", "error").Inc()
		s.auditOrder(strategy, "amend", current, err)
		return model.Order{}, err
	}
	if order.OrderID == "" {
		order.OrderID = orderID
	}
	if order.OrderID != orderID {
		// the exchange may re-key an amended order
		s.orders.Remove(orderID)
	}
	s.mu.Lock()
	s.owners[order.OrderID] = strategy
	s.mu.Unlock()

	metrics.OrdersTotal.WithLabelValues("amend", "ok").Inc()
	s.acknowledge(ctx, strategy, "amend", order)
	return order, nil
}

func (s *OrderService) CancelOrder(ctx context.Context, strategy, orderID string) (model.Order, error) {
	timer := prometheus.NewTimer(metrics.LatencyBucket.WithLabelValues("cancel_order"))
	order, err := s.gw.CancelOrder(ctx, orderID)
	timer.ObserveDuration()
	if err != nil {
		metrics.OrdersTotal.WithLabelValues("cancel", "error").Inc()
		s.auditOrder(strategy, "cancel", model.Order{OrderID: orderID}, err)
		return model.Order{}, err
	}
	if order.OrderID == "" {
		order.OrderID = orderID
	}
	s.orders.Remove(orderID)

	s.mu.Lock()
	delete(s.owners, orderID)
	if order.ClientOrderID != "" {
		delete(s.clients, order.ClientOrderID)
	}
	s.mu.Unlock()

	metrics.OrdersTotal.WithLabelValues("cancel", "ok").Inc()
	s.journalOrder(ctx, "cancel", order)
	s.auditOrder(strategy, "cancel", order, nil)
	return order, nil
}

// CancelAll cancels every resting order owned by strategy, or every resting
// order when strategy is empty. It returns how many were cancelled.
func (s *OrderService) CancelAll(ctx context.Context, strategy string) (int, error) {
	var errs []error
	cancelled := 0
	for _, o := range s.orders.GetAll() {
		owner, ok := s.OwnerOf(o)
		if strategy != "" && (!ok || owner != strategy) {
			continue
		}
		if _, err := s.CancelOrder(ctx, owner, o.OrderID); err != nil {
			errs = append(errs, fmt.Errorf("cancel %s: %w", o.OrderID, err))
			continue
		}
		cancelled++
	}
	return cancelled, errors.Join(errs...)
}

// OwnerOf returns the strategy that placed o, if it was placed by this process.
func (s *OrderService) OwnerOf(o model.Order) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if owner, ok := s.owners[o.OrderID]; ok {
		return owner, true
	}
	if o.ClientOrderID != "" {
		owner, ok := s.clients[o.ClientOrderID]
		return owner, ok
	}
	return "", false
}

// ActivatePanicMode blocks new orders and cancels everything resting.
func (s *OrderService) ActivatePanicMode(ctx context.Context) (int, error) {
	s.panicMode.Store(true)
	s.log.Warn("panic mode activated")
	if s.audit != nil {
		s.audit.RecordLifecycle("", "panic_activated", nil)
	}
	return s.CancelAll(ctx, "")
}

func (s *OrderService) DeactivatePanicMode() {
	if s.panicMode.CompareAndSwap(true, false) {
		s.log.Info("panic mode cleared")
		if s.audit != nil {
			s.audit.RecordLifecycle("", "panic_cleared", nil)
		}
	}
}

func (s *OrderService) PanicMode() bool {
	return s.panicMode.Load()
}

func (s *OrderService) acknowledge(ctx context.Context, strategy, action string, order model.Order) {
	s.orders.Upsert(order)
	s.journalOrder(ctx, action, order)
	s.auditOrder(strategy, action, order, nil)
}

func (s *OrderService) journalOrder(ctx context.Context, kind string, order model.Order) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Record(ctx, kind, order); err != nil {
		logger.LogError(ctx, err, "order journal write failed", "order_id", order.OrderID)
	}
}

func (s *OrderService) auditOrder(strategy, action string, order model.Order, err error) {
	if s.audit != nil {
		s.audit.RecordOrder(strategy, action, order, err)
	}
}
