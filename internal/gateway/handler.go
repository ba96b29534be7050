package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"call-platform/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Handler upgrades authenticated requests to websockets.
type Handler struct {
	hub        *Hub
	dispatcher *Dispatcher
	upgrader   websocket.Upgrader
	log        *slog.Logger

	conns sync.WaitGroup
}

type HandlerOptions struct {
	// AllowedOrigins lists accepted Origin values. Empty means same-origin
	// only unless AllowAnyOrigin is set.
	AllowedOrigins []string
	AllowAnyOrigin bool
	Logger         *slog.Logger
}

func NewHandler(hub *Hub, d *Dispatcher, opts HandlerOptions) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Handler{
		hub:        hub,
		dispatcher: d,
		log:        opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(opts.AllowedOrigins, opts.AllowAnyOrigin),
		},
	}
}

// ServeWS must run behind auth.RequireAccessToken.
func (h *Handler) ServeWS(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.log.Debug("websocket upgrade failed", "user_id", userID, "err", err)
		return
	}

	h.conns.Add(1)
	defer h.conns.Done()

	client := newClient(h.hub, conn, userID, h.log)
	h.hub.Register(client)
	client.log.Info("socket connected")

	go client.writePump()
	// The request context ends with the handler, so handlers get their own.
	ctx := context.WithoutCancel(c.Request.Context())
	last := client.readPump(func(cl *Client, raw []byte) {
		if reply := h.dispatcher.Handle(ctx, cl.userID, raw); reply != nil {
			cl.sendJSON(reply)
		}
	})
	client.log.Info("socket disconnected", "last", last)
	if last {
		h.dispatcher.Offline(ctx, userID)
	}
}

// Drain waits for every socket handler, including its disconnect cleanup, to
// return. Close the hub first.
func (h *Handler) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func originChecker(allowed []string, allowAll bool) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowAll {
			return true
		}
		if _, ok := set[origin]; ok {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}
