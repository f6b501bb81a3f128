package auth

import (
	"context"

	"github.com/gin-gonic/gin"
)

type ctxKey int

const claimsKey ctxKey = 1

func WithClaims(ctx context.Context, c Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	if ctx == nil {
		return Claims{}, false
	}
	c, ok := ctx.Value(claimsKey).(Claims)
	return c, ok
}

// Owner returns the authenticated owner id, or "" for anonymous requests.
func Owner(c *gin.Context) string {
	if c == nil || c.Request == nil {
		return ""
	}
	claims, ok := ClaimsFromContext(c.Request.Context())
	if !ok {
		return ""
	}
	return claims.Subject
}
