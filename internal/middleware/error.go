package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/goerajat/online-betting-sub000/internal/pkg/apperrors"
	"github.com/goerajat/online-betting-sub000/internal/pkg/logger"
)

// ErrorHandler renders the last error attached with c.Error as an AppError.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil {
			return
		}
		appErr := apperrors.Wrap(last.Err)
		fields := []any{
			"method", c.Request.Method,
			"route", c.FullPath(),
			"code", appErr.Type,
			"client_ip", c.ClientIP(),
		}
		if appErr.HTTPStatus >= 500 {
			logger.LogError(c.Request.Context(), appErr, "request failed", fields...)
		} else {
			logger.Warn(appErr.Message, fields...)
		}

		// handler 已经写过响应就不再覆盖
		if !c.Writer.Written() {
			AddAuditContext(c, "error", appErr.Message)
			c.JSON(appErr.HTTPStatus, appErr)
		}
	}
}
