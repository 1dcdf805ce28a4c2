package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/goerajat/online-betting-sub000/internal/pkg/metrics"
)

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start).Seconds()

		// 用路由模板做标签，避免 ticker 撑爆基数
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.LatencyBucket.WithLabelValues(endpoint).Observe(duration)
	}
}
