package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/goerajat/online-betting-sub000/internal/config"
)

const HeaderAdminKey = "X-Admin-Key"

// AdminMiddleware guards the operations API. With no admin key configured
// every request passes; the process should then only listen on loopback.
func AdminMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg == nil || cfg.Auth.AdminKey == "" {
			c.Next()
			return
		}
		got := c.GetHeader(HeaderAdminKey)
		if subtle.ConstantTimeCompare([]byte(got), []byte(cfg.Auth.AdminKey)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid admin key"})
			c.Abort()
			return
		}
		c.Next()
	}
}
