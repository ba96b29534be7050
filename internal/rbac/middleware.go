package rbac

import (
	"errors"
	"net/http"

	"call-platform/internal/auth"
	"call-platform/internal/chat"

	"github.com/gin-gonic/gin"
)

// MemberKey is the gin context key holding the caller's chat.Member.
const MemberKey = "chat_member"

// RequireUser enforces that an authenticated user id exists in context.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, err := auth.UserID(c.Request.Context())
		if err != nil || uid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
			return
		}
		c.Next()
	}
}

// RequireChatMember allows access only to members of the chat named by the
// path parameter param. The resolved member is stored under MemberKey.
// Membership is checked on every request and never cached.
func RequireChatMember(members chat.Membership, param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, err := auth.UserID(c.Request.Context())
		if err != nil || uid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
			return
		}
		chatID := c.Param(param)
		if chatID == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": param + " required"})
			return
		}

		m, err := members.Member(c.Request.Context(), chatID, uid)
		if errors.Is(err, chat.ErrNotMember) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "membership unavailable"})
			return
		}
		c.Set(MemberKey, m)
		c.Next()
	}
}

// Member returns the member stored by RequireChatMember.
func Member(c *gin.Context) (chat.Member, bool) {
	v, ok := c.Get(MemberKey)
	if !ok {
		return chat.Member{}, false
	}
	m, ok := v.(chat.Member)
	return m, ok
}
