package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tradesys/exchange/internal/store"
)

// RoleMiddleware restricts a route to callers whose token role matches
// requiredRole, grounded on the teacher's internal/auth/role.go. It
// must run after Middleware, which is what populates "role".
func RoleMiddleware(requiredRole string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get("role")
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "user role not found"})
			c.Abort()
			return
		}

		if role != requiredRole {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "admin only"})
			c.Abort()
			return
		}

		c.Next()
	}
}

// AdminOnly is RoleMiddleware(store.RoleAdmin), the gate spec.md §6
// requires on GET /orders/recent-trades.
func AdminOnly() gin.HandlerFunc {
	return RoleMiddleware(store.RoleAdmin)
}
