package middleware

import (
	"net/http"                  // HTTP status codes
	"gamebridge/internal/store" // Storage contract

	"github.com/gin-gonic/gin" // Gin web framework
)

// AdminOnlyMiddleware checks the account's role on each request
func AdminOnlyMiddleware(st store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		wallet, exists := c.Get("wallet") // Get wallet from context
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "AUTH_REQUIRED", "error": "Unauthorized"})
			return
		}
		acct, err := st.GetAccount(c.Request.Context(), wallet.(string))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			return
		}
		if acct.Role != "admin" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			return
		}
		c.Next()
	}
}
