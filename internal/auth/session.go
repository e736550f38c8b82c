package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/your-org/faceattend/internal/session"
)

const (
	sessionHeader = "Authorization"
	claimsKey     = "session_claims"
)

// TokenFromRequest extracts the bearer token from the Authorization header.
func TokenFromRequest(c *gin.Context) string {
	h := c.GetHeader(sessionHeader)
	if after, ok := strings.CutPrefix(h, "Bearer "); ok {
		return after
	}
	return h
}

// RequireSession validates the caller's session token and stores the claims
// in the request context for the handler.
func RequireSession(authority *session.Authority) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, _, err := authority.Validate(TokenFromRequest(c))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// SessionClaims returns the claims stored by RequireSession.
func SessionClaims(c *gin.Context) (session.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return session.Claims{}, false
	}
	claims, ok := v.(session.Claims)
	return claims, ok
}
