package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/goerajat/online-betting-sub000/internal/middleware"
	"github.com/goerajat/online-betting-sub000/internal/model"
	"github.com/goerajat/online-betting-sub000/internal/pkg/apperrors"
	"github.com/goerajat/online-betting-sub000/internal/strategy"
)

// StrategyController is the part of strategy.Manager the API drives.
type StrategyController interface {
	Get(name string) (*strategy.Runner, bool)
	Statuses() []model.StrategyStatus
	Activate(ctx context.Context, name string) error
	Deactivate(name string) error
}

type StrategyHandler struct {
	mgr StrategyController
}

func NewStrategyHandler(mgr StrategyController) *StrategyHandler {
	return &StrategyHandler{mgr: mgr}
}

func (h *StrategyHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, h.mgr.Statuses())
}

func (h *StrategyHandler) Get(c *gin.Context) {
	r, ok := h.runner(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, r.Status())
}

// Activity returns the newest activity entries, oldest first.
func (h *StrategyHandler) Activity(c *gin.Context) {
	r, ok := h.runner(c)
	if !ok {
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.Error(apperrors.NewInvalidRequest("limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}
	c.JSON(http.StatusOK, gin.H{
		"strategy": r.Name(),
		"entries":  r.Activity().Entries(limit),
	})
}

func (h *StrategyHandler) Activate(c *gin.Context) {
	name := c.Param("name")
	if err := h.mgr.Activate(c.Request.Context(), name); err != nil {
		c.Error(strategyError(err))
		return
	}
	middleware.AddAuditContext(c, "strategy", name)
	middleware.AddAuditContext(c, "action", "activate")
	h.Get(c)
}

func (h *StrategyHandler) Deactivate(c *gin.Context) {
	name := c.Param("name")
	if err := h.mgr.Deactivate(name); err != nil {
		c.Error(strategyError(err))
		return
	}
	middleware.AddAuditContext(c, "strategy", name)
	middleware.AddAuditContext(c, "action", "deactivate")
	h.Get(c)
}

func (h *StrategyHandler) runner(c *gin.Context) (*strategy.Runner, bool) {
	name := c.Param("name")
	r, ok := h.mgr.Get(name)
	if !ok {
		c.Error(apperrors.NewNotFound("strategy " + name + " not found"))
		return nil, false
	}
	return r, true
}

func strategyError(err error) *apperrors.AppError {
	switch {
	case errors.Is(err, strategy.ErrNotFound):
		return apperrors.NewNotFound(err.Error())
	case errors.Is(err, strategy.ErrShutdown), errors.Is(err, strategy.ErrNotInitialized):
		return apperrors.New(apperrors.ErrConflict, err.Error(), err)
	default:
		return apperrors.Wrap(err)
	}
}
