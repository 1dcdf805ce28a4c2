package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/goerajat/online-betting-sub000/internal/middleware"
	"github.com/goerajat/online-betting-sub000/internal/model"
	"github.com/goerajat/online-betting-sub000/internal/pkg/apperrors"
	"github.com/goerajat/online-betting-sub000/internal/pkg/logger"
)

type RiskController interface {
	Enabled() bool
	SetEnabled(enabled bool)
	Config() model.RiskConfig
	Violations(ctx context.Context, limit int) ([]model.RiskViolation, error)
	ViolationCounts(ctx context.Context) (map[model.CheckKind]int64, error)
}

type PanicController interface {
	ActivatePanicMode(ctx context.Context) (int, error)
	DeactivatePanicMode()
	PanicMode() bool
}

type RiskHandler struct {
	risk RiskController
	halt PanicController
}

func NewRiskHandler(risk RiskController, halt PanicController) *RiskHandler {
	return &RiskHandler{risk: risk, halt: halt}
}

func (h *RiskHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"enabled":    h.risk.Enabled(),
		"panic_mode": h.halt.PanicMode(),
		"config":     h.risk.Config(),
	})
}

func (h *RiskHandler) Violations(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	ctx := c.Request.Context()
	recent, err := h.risk.Violations(ctx, limit)
	if err != nil {
		c.Error(apperrors.Wrap(err))
		return
	}
	counts, err := h.risk.ViolationCounts(ctx)
	if err != nil {
		c.Error(apperrors.Wrap(err))
		return
	}
	if recent == nil {
		recent = []model.RiskViolation{}
	}
	c.JSON(http.StatusOK, gin.H{
		"recent": recent,
		"counts": counts,
	})
}

func (h *RiskHandler) SetEnabled(c *gin.Context) {
	var req model.SetEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	h.risk.SetEnabled(*req.Enabled)
	middleware.AddAuditContext(c, "risk_enabled", *req.Enabled)
	logger.Warn("risk checks toggled", "enabled", *req.Enabled)
	c.JSON(http.StatusOK, gin.H{"enabled": h.risk.Enabled()})
}

// ActivatePanic blocks new orders and cancels everything resting.
func (h *RiskHandler) ActivatePanic(c *gin.Context) {
	cancelled, err := h.halt.ActivatePanicMode(c.Request.Context())
	middleware.AddAuditContext(c, "action", "panic_on")
	middleware.AddAuditContext(c, "cancelled", cancelled)
	if err != nil {
		// 已进入 panic 模式，只是部分撤单失败
		middleware.AddAuditContext(c, "error", err.Error())
		c.JSON(http.StatusMultiStatus, gin.H{
			"panic_mode": true,
			"cancelled":  cancelled,
			"error":      err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"panic_mode": true, "cancelled": cancelled})
}

func (h *RiskHandler) DeactivatePanic(c *gin.Context) {
	h.halt.DeactivatePanicMode()
	middleware.AddAuditContext(c, "action", "panic_off")
	c.JSON(http.StatusOK, gin.H{"panic_mode": h.halt.PanicMode()})
}
