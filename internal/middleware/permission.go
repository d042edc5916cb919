package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/datakite/steward/internal/permissions"
	"github.com/datakite/steward/pkg/errors"
	"github.com/datakite/steward/pkg/metrics"
	"github.com/datakite/steward/pkg/response"
)

// RequirePermission checks that the request role holds the given permission
// kind. A store failure during the check denies the request; it never allows.
func RequirePermission(checker *permissions.Checker, kind permissions.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := PrincipalFrom(c)
		if !ok {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		allowed, err := checker.Has(c.Request.Context(), principal.Role, kind)
		if err != nil {
			metrics.PermissionChecks.WithLabelValues(string(kind), "error").Inc()
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": gin.H{"code": errors.ErrInternalServer.Code, "message": "permission check failed"}})
			return
		}
		if !allowed {
			metrics.PermissionChecks.WithLabelValues(string(kind), "denied").Inc()
			response.Error(c, errors.ErrForbidden)
			c.Abort()
			return
		}
		metrics.PermissionChecks.WithLabelValues(string(kind), "allowed").Inc()
		c.Next()
	}
}
