package identity

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const ctxClaims = "ledger_claims"

// DevClaims are injected by RequireToken when authentication is disabled.
var DevClaims = &Claims{
	RegisteredClaims: jwt.RegisteredClaims{Subject: "dev"},
	Name:             "development",
	Role:             RoleAdmin,
}

// RequireToken returns a Gin middleware that enforces a valid Bearer token.
//
// On success it injects the *Claims into the context under the
// "ledger_claims" key. A nil tokens disables authentication: every request
// proceeds as DevClaims.
func RequireToken(tokens *TokenIssuer) gin.HandlerFunc {
	if tokens == nil {
		return func(c *gin.Context) {
			c.Set(ctxClaims, DevClaims)
			c.Next()
		}
	}
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer token required",
			})
			return
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		claims, err := tokens.Verify(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token: " + err.Error(),
			})
			return
		}

		c.Set(ctxClaims, claims)
		c.Next()
	}
}

// RequireRole returns a Gin middleware that admits only callers holding one
// of roles. It must run after RequireToken.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := ClaimsFromCtx(c)
		if claims == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer token required",
			})
			return
		}
		if !claims.HasRole(roles...) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "one of roles [" + strings.Join(roles, ", ") + "] required",
			})
			return
		}
		c.Next()
	}
}

// ClaimsFromCtx retrieves the claims injected by RequireToken.
// Returns nil if no token is present in the context.
func ClaimsFromCtx(c *gin.Context) *Claims {
	v, _ := c.Get(ctxClaims)
	claims, _ := v.(*Claims)
	return claims
}
