package middleware

import (
	"strings"

	"github.com/convoyhq/gateway/internal/identity"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Claims surfaces the authenticated user id from the bearer token so the
// rate limiter can key on it. The auth service in front of the gateway has
// already validated the token; this stage only reads claims and never
// rejects. Anything malformed just means the request stays anonymous.
func Claims() gin.HandlerFunc {
	parser := jwt.NewParser()

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Next()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.Next()
			return
		}

		claims := jwt.MapClaims{}
		if _, _, err := parser.ParseUnverified(parts[1], claims); err != nil {
			c.Next()
			return
		}

		if userID := userIDFromClaims(claims); userID != "" {
			c.Set(identity.ContextKeyUserID, userID)
		}

		c.Next()
	}
}

func userIDFromClaims(claims jwt.MapClaims) string {
	if v, ok := claims["user_id"].(string); ok && v != "" {
		return v
	}

	if sub, err := claims.GetSubject(); err == nil {
		return sub
	}

	return ""
}
