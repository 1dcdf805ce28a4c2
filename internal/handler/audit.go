package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/goerajat/online-betting-sub000/internal/model"
	"github.com/goerajat/online-betting-sub000/internal/pkg/apperrors"
)

type AuditLister interface {
	List(ctx context.Context, filter model.AuditFilter) ([]*model.AuditLog, error)
}

type AuditHandler struct {
	svc AuditLister
}

func NewAuditHandler(svc AuditLister) *AuditHandler {
	return &AuditHandler{svc: svc}
}

type auditQuery struct {
	Kind     string `form:"kind"`
	Strategy string `form:"strategy"`
	Limit    int    `form:"limit,default=100" binding:"gte=0,lte=1000"`
	From     string `form:"from"`
	To       string `form:"to"`
}

// List serves GET /v1/audit. from/to accept RFC3339 or unix seconds.
func (h *AuditHandler) List(c *gin.Context) {
	var q auditQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	filter := model.AuditFilter{Kind: q.Kind, Strategy: q.Strategy, Limit: q.Limit}
	var err error
	if filter.From, err = optionalTime(q.From); err != nil {
		c.Error(apperrors.NewInvalidRequest("from: " + err.Error()))
		return
	}
	if filter.To, err = optionalTime(q.To); err != nil {
		c.Error(apperrors.NewInvalidRequest("to: " + err.Error()))
		return
	}

	records, err := h.svc.List(c.Request.Context(), filter)
	if err != nil {
		c.Error(apperrors.New(apperrors.ErrInternal, "list audit", err))
		return
	}
	if records == nil {
		records = []*model.AuditLog{}
	}
	c.JSON(http.StatusOK, records)
}

func optionalTime(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid time %q", raw)
	}
	t := time.Unix(secs, 0).UTC()
	return &t, nil
}
