package identity

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"
)

// ContextKeyUserID is where the claims middleware stashes the
// authenticated user id, if any.
const ContextKeyUserID = "user_id"

// Identity is what the rate limiter keys on: always an IP, plus a user id
// when the request carries authenticated claims.
type Identity struct {
	IP     string
	UserID string
}

func (i Identity) Authenticated() bool {
	return i.UserID != ""
}

// Resolve derives the rate-limit identity from the inbound request. The
// first X-Forwarded-For value wins when present, otherwise the socket peer
// address. Never fails; a request with no user claims is simply anonymous.
func Resolve(c *gin.Context) Identity {
	id := Identity{IP: clientIP(c)}

	if userID, exists := c.Get(ContextKeyUserID); exists {
		if s, ok := userID.(string); ok {
			id.UserID = s
		}
	}

	return id
}

func clientIP(c *gin.Context) string {
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if first != "" {
			return first
		}
	}

	host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		return c.Request.RemoteAddr
	}
	return host
}
