package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goerajat/online-betting-sub000/internal/manager"
	"github.com/goerajat/online-betting-sub000/internal/model"
	"github.com/goerajat/online-betting-sub000/internal/pkg/apperrors"
)

type fakeGateway struct {
	mu       sync.Mutex
	seq      int
	created  []model.OrderRequest
	amended  []model.OrderRequest
	canceled []string
	failWith error
}

func (g *fakeGateway) CreateOrder(_ context.Context, req model.OrderRequest) (model.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failWith != nil {
		return model.Order{}, g.failWith
	}
	g.seq++
	g.created = append(g.created, req)
	o := requestedOrder(req)
	o.OrderID = fmt.Sprintf("ord-%d", g.seq)
	o.Status = model.OrderStatusResting
	return o, nil
}

func (g *fakeGateway) AmendOrder(_ context.Context, orderID string, req model.OrderRequest) (model.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.amended = append(g.amended, req)
	o := requestedOrder(req)
	o.OrderID = orderID
	o.Status = model.OrderStatusResting
	return o, nil
}

func (g *fakeGateway) CancelOrder(_ context.Context, orderID string) (model.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.canceled = append(g.canceled, orderID)
	return model.Order{OrderID: orderID, Status: model.OrderStatusCanceled}, nil
}

type noOrders struct{}

func (noOrders) GetOrders(context.Context) ([]model.Order, error) { return nil, nil }

type memJournal struct {
	mu    sync.Mutex
	kinds []string
}

func (j *memJournal) Record(_ context.Context, kind string, _ model.Order) error {
	j.mu.Lock()
	j.kinds = append(j.kinds, kind)
	j.mu.Unlock()
	return nil
}

func newTestOrderService(t *testing.T, cfg model.RiskConfig) (*OrderService, *fakeGateway, *manager.OrderManager, *memJournal) {
	t.Helper()
	gw := &fakeGateway{}
	om := manager.NewOrderManager(noOrders{}, time.Hour)
	risk := NewRiskEngine(cfg)
	j := &memJournal{}
	t.Cleanup(func() {
		om.Shutdown()
		risk.Close()
	})
	return NewOrderService(gw, risk, om, WithOrderJournal(j)), gw, om, j
}

func TestPlaceOrderTracksAndAttributes(t *testing.T) {
	svc, gw, om, j := newTestOrderService(t, model.RiskConfig{})
	ctx := context.Background()

	o, err := svc.PlaceOrder(ctx, "alpha", buyYes("KX-A", 5, 40))
	require.NoError(t, err)
	assert.Equal(t, "ord-1", o.OrderID)
	assert.NotEmpty(t, gw.created[0].ClientOrderID)
	assert.Equal(t, model.OrderTypeLimit, gw.created[0].Type)

	_, ok := om.Get("ord-1")
	assert.True(t, ok)
	owner, ok := svc.OwnerOf(o)
	require.True(t, ok)
	assert.Equal(t, "alpha", owner)
	assert.Equal(t, []string{"place"}, j.kinds)
}

func TestPlaceOrderRejectsInvalidAndRisky(t *testing.T) {
	svc, gw, _, _ := newTestOrderService(t, model.RiskConfig{
		Enabled: true,
		Global:  model.RiskLimits{MaxOrderQuantity: model.Limit(10)},
	})
	ctx := context.Background()

	_, err := svc.PlaceOrder(ctx, "alpha", buyYes("KX-A", 5, 100))
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperrors.ErrInvalidRequest, appErr.Type)

	_, err = svc.PlaceOrder(ctx, "alpha", buyYes("KX-A", 11, 40))
	var ve *ViolationError
	require.True(t, errors.As(err, &ve))
	assert.Empty(t, gw.created)
}

func TestPlaceOrderSurfacesExchangeErrors(t *testing.T) {
	svc, gw, om, _ := newTestOrderService(t, model.RiskConfig{})
	gw.failWith = &apperrors.APIError{Status: 429, Message: "slow down"}

	_, err := svc.PlaceOrder(context.Background(), "alpha", buyYes("KX-A", 1, 40))
	require.Error(t, err)
	assert.True(t, apperrors.IsRateLimited(err))
	assert.Empty(t, om.GetAll())
}

func TestAmendOrderSendsTotalCount(t *testing.T) {
	svc, gw, om, _ := newTestOrderService(t, model.RiskConfig{})
	om.Upsert(model.Order{
		OrderID: "o1", Ticker: "KX-A", Side: model.SideNo, Action: model.ActionBuy,
		Status: model.OrderStatusResting, NoPrice: 30, YesPrice: 70,
		InitialCount: 10, RemainingCount: 6, FillCount: 4,
	})

	n, p := 8, 32
	o, err := svc.AmendOrder(context.Background(), "alpha", "o1", model.AmendRequest{Count: &n, Price: &p})
	require.NoError(t, err)
	require.Len(t, gw.amended, 1)
	assert.Equal(t, 12, gw.amended[0].Count)
	assert.Equal(t, 32, gw.amended[0].Price)
	assert.Equal(t, model.SideNo, gw.amended[0].Side)
	assert.Equal(t, "o1", o.OrderID)

	_, err = svc.AmendOrder(context.Background(), "alpha", "missing", model.AmendRequest{Count: &n})
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperrors.ErrNotFound, appErr.Type)

	_, err = svc.AmendOrder(context.Background(), "alpha", "o1", model.AmendRequest{})
	require.Error(t, err)
}

func TestCancelAllScopesToStrategy(t *testing.T) {
	svc, gw, om, _ := newTestOrderService(t, model.RiskConfig{})
	ctx := context.Background()

	_, err := svc.PlaceOrder(ctx, "alpha", buyYes("KX-A", 1, 40))
	require.NoError(t, err)
	_, err = svc.PlaceOrder(ctx, "beta", buyYes("KX-B", 1, 40))
	require.NoError(t, err)

	n, err := svc.CancelAll(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"ord-1"}, gw.canceled)
	assert.Len(t, om.GetAll(), 1)
}

func TestPanicModeBlocksAndCancels(t *testing.T) {
	svc, gw, om, _ := newTestOrderService(t, model.RiskConfig{})
	ctx := context.Background()

	_, err := svc.PlaceOrder(ctx, "alpha", buyYes("KX-A", 1, 40))
	require.NoError(t, err)

	n, err := svc.ActivatePanicMode(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, svc.PanicMode())
	assert.Empty(t, om.GetAll())

	_, err = svc.PlaceOrder(ctx, "alpha", buyYes("KX-A", 1, 40))
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperrors.ErrSystemPanic, appErr.Type)
	assert.Len(t, gw.created, 1)

	svc.DeactivatePanicMode()
	_, err = svc.PlaceOrder(ctx, "alpha", buyYes("KX-A", 1, 40))
	require.NoError(t, err)
}
