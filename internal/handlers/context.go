package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/datakite/steward/internal/identity"
	"github.com/datakite/steward/internal/middleware"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// principalFrom returns the composed principal set by the identity middleware.
func principalFrom(c *gin.Context) (identity.Principal, bool) {
	return middleware.PrincipalFrom(c)
}
