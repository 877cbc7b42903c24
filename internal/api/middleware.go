package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// adminAuth checks the X-Admin-Token header on admin routes.
func adminAuth(adminToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("X-Admin-Token")

		if token == "" {
			respondError(c, http.StatusUnauthorized, "unauthorized", "Admin token required")
			c.Abort()
			return
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(adminToken)) != 1 {
			respondError(c, http.StatusForbidden, "forbidden", "Invalid admin token")
			c.Abort()
			return
		}

		c.Next()
	}
}
