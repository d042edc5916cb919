package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/datakite/steward/internal/identity"
	"github.com/datakite/steward/pkg/response"
)

// CtxPrincipalKey holds the composed request principal on the gin context.
const CtxPrincipalKey = "principal"

// Identity composes the effective credential for the request from the service
// credential and the platform-injected caller headers. Composition failure
// fails the request closed.
func Identity(composer *identity.Composer) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := identity.EffectiveRole(
			c.GetHeader(identity.HeaderAccountRole),
			c.GetHeader(identity.HeaderCurrentRole),
		)

		principal, err := composer.Compose(
			c.GetHeader(identity.HeaderCurrentUser),
			role,
			c.GetHeader(identity.HeaderCurrentUserToken),
		)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(CtxPrincipalKey, principal)
		c.Next()
	}
}

// PrincipalFrom extracts the composed principal from the gin context.
func PrincipalFrom(c *gin.Context) (identity.Principal, bool) {
	v, ok := c.Get(CtxPrincipalKey)
	if !ok {
		return identity.Principal{}, false
	}
	principal, ok := v.(identity.Principal)
	return principal, ok
}
