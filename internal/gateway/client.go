package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"call-platform/internal/signaling"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 96 << 10
	sendBuffer     = 64
)

var (
	ErrClosed       = errors.New("gateway: socket closed")
	ErrSlowConsumer = errors.New("gateway: send buffer full")
)

// Client is one websocket connection of an authenticated user. Writes go
// through a buffered queue drained by writePump, so Send never blocks on the
// network and frames leave in the order they were queued.
type Client struct {
	id     string
	userID string
	conn   *websocket.Conn
	hub    *Hub
	log    *slog.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newClient(hub *Hub, conn *websocket.Conn, userID string, log *slog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:     id,
		userID: userID,
		conn:   conn,
		hub:    hub,
		log:    log.With("socket_id", id, "user_id", userID),
		send:   make(chan []byte, sendBuffer),
	}
}

func (c *Client) ID() string     { return c.id }
func (c *Client) UserID() string { return c.userID }

// Send implements signaling.Socket.
func (c *Client) Send(f signaling.Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return c.enqueue(b)
}

func (c *Client) sendJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		c.log.Error("encode frame", "err", err)
		return
	}
	if err := c.enqueue(b); err != nil {
		c.log.Debug("reply dropped", "err", err)
	}
}

// enqueue drops the connection when the client cannot keep up; a peer that
// misses negotiation frames has to reconnect anyway.
func (c *Client) enqueue(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- b:
		return nil
	default:
		c.closeLocked()
		return ErrSlowConsumer
	}
}

// Close stops the write pump, which closes the connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug("write failed", "err", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames until the connection fails and hands each one to
// handle on this goroutine, so one socket's requests are processed in order.
// It reports whether this was the user's last open socket.
func (c *Client) readPump(handle func(*Client, []byte)) (lastSocket bool) {
	defer func() {
		lastSocket = c.hub.Unregister(c)
		c.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		typ, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Warn("unexpected close", "err", err)
			}
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		handle(c, msg)
	}
}
