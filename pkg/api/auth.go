package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const identityKey = "identity"

// extractIdentity returns the authenticated username set by the auth proxy.
// Priority: X-Forwarded-User (oauth2-proxy) > X-Remote-User (kube-rbac-proxy)
// > ?username= when allowQuery is set.
func extractIdentity(c *gin.Context, allowQuery bool) string {
	if user := strings.TrimSpace(c.GetHeader("X-Forwarded-User")); user != "" {
		return user
	}
	if user := strings.TrimSpace(c.GetHeader("X-Remote-User")); user != "" {
		return user
	}
	if allowQuery {
		return strings.TrimSpace(c.Query("username"))
	}
	return ""
}

// requireIdentity rejects requests without an identity and stores it for
// handlers.
func (s *Server) requireIdentity(allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := extractIdentity(c, allowQuery)
		if user == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "authentication required"})
			return
		}
		c.Set(identityKey, user)
		c.Next()
	}
}

func identity(c *gin.Context) string {
	return c.GetString(identityKey)
}
