package mw

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// UserIDHeader carries the caller's user id. Authentication happens in front
// of the service; the header is trusted as is.
const UserIDHeader = "X-User-ID"

const userIDKey = "user_id"

// Identity rejects requests without a caller id and stores it on the context.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(UserIDHeader))
		if id == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + UserIDHeader + " header"})
			return
		}
		c.Set(userIDKey, id)
		c.Next()
	}
}

// UserID returns the caller id stored by Identity.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}
