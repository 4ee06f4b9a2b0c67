package middleware

import (
	"net/http"
	"strings"

	"github.com/bezhas/chat-gatekeeper/internal/service"
	"github.com/gin-gonic/gin"
)

// TokenValidator verifies a bearer token and returns the caller's identity.
type TokenValidator interface {
	ValidateToken(token string) (*service.Identity, error)
}

// Validates the bearer token and stores the caller's identity in the context
func RequireAuth(auth TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header required. Use: Bearer <token>",
			})
			return
		}

		id, err := auth.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired token",
			})
			return
		}

		c.Set("user_id", id.UserID)
		c.Set("email", id.Email)
		c.Set("role", id.Role)

		c.Next()
	}
}

// Requires an authenticated user with the admin role
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString("role") != "admin" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Admin access required",
			})
			return
		}

		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
