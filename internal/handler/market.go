package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/goerajat/online-betting-sub000/internal/market"
	"github.com/goerajat/online-betting-sub000/internal/model"
	"github.com/goerajat/online-betting-sub000/internal/pkg/apperrors"
)

type MarketReader interface {
	Market(ticker string) (*market.ManagedMarket, bool)
	Tickers() []string
	Connected() bool
}

type OrderReader interface {
	GetAll() []model.Order
	ForTicker(ticker string) []model.Order
}

type PositionReader interface {
	GetAll() []model.Position
	Position(ticker string) (model.Position, bool)
}

// MarketHandler serves the managers' current state read-only.
type MarketHandler struct {
	markets   MarketReader
	orders    OrderReader
	positions PositionReader
}

func NewMarketHandler(markets MarketReader, orders OrderReader, positions PositionReader) *MarketHandler {
	return &MarketHandler{markets: markets, orders: orders, positions: positions}
}

func (h *MarketHandler) Markets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected": h.markets.Connected(),
		"tickers":   h.markets.Tickers(),
	})
}

func (h *MarketHandler) Book(c *gin.Context) {
	ticker := c.Param("ticker")
	mm, ok := h.markets.Market(ticker)
	if !ok {
		c.Error(apperrors.NewNotFound("market " + ticker + " is not subscribed"))
		return
	}
	c.JSON(http.StatusOK, mm.View())
}

// Orders lists resting orders, optionally for one ticker.
func (h *MarketHandler) Orders(c *gin.Context) {
	var orders []model.Order
	if ticker := c.Query("ticker"); ticker != "" {
		orders = h.orders.ForTicker(ticker)
	} else {
		orders = h.orders.GetAll()
	}
	if orders == nil {
		orders = []model.Order{}
	}
	c.JSON(http.StatusOK, orders)
}

func (h *MarketHandler) Positions(c *gin.Context) {
	if ticker := c.Query("ticker"); ticker != "" {
		p, ok := h.positions.Position(ticker)
		if !ok {
			c.Error(apperrors.NewNotFound("no open position in " + ticker))
			return
		}
		c.JSON(http.StatusOK, []model.Position{p})
		return
	}
	positions := h.positions.GetAll()
	if positions == nil {
		positions = []model.Position{}
	}
	c.JSON(http.StatusOK, positions)
}
