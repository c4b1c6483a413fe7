// Package middleware provides HTTP middleware for the presentation layer.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/security"
)

// AdminSubjectKey is the gin context key holding the authenticated admin subject.
const AdminSubjectKey = "adminSubject"

// AdminAuthMiddleware requires a bearer JWT signed with secret and carrying
// role=admin. With no secret configured every request is rejected.
func AdminAuthMiddleware(secret string, logger *logging.ChanneledLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "admin access not configured"})
			c.Abort()
			return
		}

		authHeader := c.GetHeader("Authorization")
		token := ""
		if len(authHeader) > 7 && strings.HasPrefix(authHeader, "Bearer ") {
			token = authHeader[7:]
		}

		claims, err := security.ValidateJWT(token, secret)
		if err != nil || claims["role"] != "admin" {
			logger.HTTP().Warn("Rejected admin request", "path", c.Request.URL.Path, "clientIp", c.ClientIP())
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			c.Abort()
			return
		}

		if sub, ok := claims["sub"].(string); ok {
			c.Set(AdminSubjectKey, sub)
		}
		c.Next()
	}
}
