package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/goerajat/online-betting-sub000/internal/config"
	"github.com/goerajat/online-betting-sub000/internal/middleware"
)

// Deps are the components behind the operations API.
type Deps struct {
	Strategies StrategyController
	Markets    MarketReader
	Orders     OrderReader
	Positions  PositionReader
	Risk       RiskController
	Panic      PanicController
	Audit      interface {
		AuditLister
		middleware.AuditLogger
	}
}

func NewRouter(cfg *config.Config, d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.MetricsMiddleware())
	if d.Audit != nil {
		r.Use(middleware.AuditMiddleware(d.Audit))
	}
	r.Use(middleware.ErrorHandler())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "trader"})
	})
	if cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(promhttp.Handler()))
	}

	strategies := NewStrategyHandler(d.Strategies)
	markets := NewMarketHandler(d.Markets, d.Orders, d.Positions)
	risk := NewRiskHandler(d.Risk, d.Panic)

	v1 := r.Group("/v1")
	v1.Use(middleware.AdminMiddleware(cfg))
	v1.Use(middleware.RateLimitMiddleware(cfg.Server.RateLimitQPS, cfg.Server.RateLimitBurst))
	{
		v1.GET("/strategies", strategies.List)
		v1.GET("/strategies/:name", strategies.Get)
		v1.GET("/strategies/:name/activity", strategies.Activity)
		v1.POST("/strategies/:name/activate", strategies.Activate)
		v1.POST("/strategies/:name/deactivate", strategies.Deactivate)

		v1.GET("/markets", markets.Markets)
		v1.GET("/markets/:ticker/book", markets.Book)
		v1.GET("/orders", markets.Orders)
		v1.GET("/positions", markets.Positions)

		v1.GET("/risk", risk.Status)
		v1.GET("/risk/violations", risk.Violations)
		v1.PUT("/risk/enabled", risk.SetEnabled)
		v1.POST("/panic", risk.ActivatePanic)
		v1.DELETE("/panic", risk.DeactivatePanic)

		if d.Audit != nil {
			v1.GET("/audit", NewAuditHandler(d.Audit).List)
		}
	}
	return r
}
