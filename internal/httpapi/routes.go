package httpapi

import (
	"call-platform/internal/chat"
	"call-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

// MountCalls registers the call REST surface on an authenticated group.
func (h Handlers) MountCalls(rg *gin.RouterGroup, members chat.Membership) {
	g := rg.Group("/calls")
	g.Use(rbac.RequireUser())
	{
		g.POST("", h.InitiateCall)
		g.GET("/active/:chatId", h.ActiveCall)
		g.GET("/chat/:chatId", h.ChatHistory)
		g.GET("/chat/:chatId/summary", rbac.RequireChatMember(members, "chatId"), h.ChatSummary)
		g.GET("/:id", h.GetCall)
		g.POST("/:id/end", h.EndCall)
		g.DELETE("/:id", h.DeleteCall)
	}
}
