package main

import (
	"context"
	"net/http"

	"call-platform/internal/auth"
	"call-platform/internal/chat"
	"call-platform/internal/gateway"
	"call-platform/internal/httpapi"
	"call-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	auth     *auth.Manager
	handlers httpapi.Handlers
	members  chat.Membership
	ws       *gateway.Handler
	health   func(ctx context.Context) error
	devLogin bool
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := d.health(c.Request.Context()); err != nil {
			logger.FromGin(c).Warn("health check failed", "err", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authMW := auth.RequireAccessToken(d.auth)

	// websocket upgrade; browsers pass the token as ?access_token=
	r.GET("/ws", authMW, d.ws.ServeWS)

	v1 := r.Group("/v1")
	if d.devLogin {
		v1.POST("/auth/login", d.handlers.Login)
	}

	protected := v1.Group("")
	protected.Use(authMW)
	{
		protected.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			c.JSON(http.StatusOK, gin.H{"user_id": uid})
		})
		d.handlers.MountCalls(protected, d.members)
	}
}
