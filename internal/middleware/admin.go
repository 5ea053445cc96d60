package middleware

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"
)

const AdminKeyHeader = "X-Admin-Key"

// AdminKeyMiddleware admits requests carrying the configured admin key.
func AdminKeyMiddleware(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(AdminKeyHeader)
		if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			abort(c, "invalid admin key", "")
			return
		}
		c.Next()
	}
}
