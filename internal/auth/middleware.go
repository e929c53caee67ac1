package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ContextKeyClaims holds the validated *Claims on the gin context
const ContextKeyClaims = "auth_claims"

// Middleware rejects requests without a valid bearer token granting scope.
// An empty scope only checks the signature.
func Middleware(tm *TokenManager, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abort(c, http.StatusUnauthorized, ErrUnauthorized, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			abort(c, http.StatusUnauthorized, ErrUnauthorized, "invalid authorization header format")
			return
		}

		claims, err := tm.Validate(parts[1])
		if err != nil {
			var authErr AuthError
			if !errors.As(err, &authErr) {
				authErr = ErrInvalidToken
			}
			abort(c, http.StatusUnauthorized, authErr, authErr.Message)
			return
		}
		if scope != "" && !claims.HasScope(scope) {
			abort(c, http.StatusForbidden, ErrMissingScope, ErrMissingScope.Message)
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// GetClaims extracts the validated claims from the gin context
func GetClaims(c *gin.Context) *Claims {
	if v, ok := c.Get(ContextKeyClaims); ok {
		if claims, ok := v.(*Claims); ok {
			return claims
		}
	}
	return nil
}

func abort(c *gin.Context, status int, err AuthError, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error":   err.Code,
		"message": message,
	})
}
