// Package gateway terminates client websockets. It tracks which users are
// connected (the presence directory the relay fans out through) and turns
// inbound frames into coordinator calls.
package gateway

import (
	"sort"
	"sync"

	"call-platform/internal/signaling"
)

// Hub is the presence directory: user id to that user's open sockets.
// Presence is never used for authorization.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[string]*Client
}

func NewHub() *Hub {
	return &Hub{clients: map[string]map[string]*Client{}}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.userID]
	if !ok {
		set = map[string]*Client{}
		h.clients[c.userID] = set
	}
	set[c.id] = c
}

// Unregister removes c and reports whether it was its user's last socket.
func (h *Hub) Unregister(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.userID]
	if !ok {
		return false
	}
	if _, ok := set[c.id]; !ok {
		return false
	}
	delete(set, c.id)
	if len(set) == 0 {
		delete(h.clients, c.userID)
		return true
	}
	return false
}

// Sockets implements signaling.Directory. Order is stable by socket id.
func (h *Hub) Sockets(userID string) []signaling.Socket {
	h.mu.RLock()
	set := h.clients[userID]
	out := make([]signaling.Socket, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Online reports whether userID has at least one open socket.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// Len returns the number of open sockets.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

// Close closes every socket. Their read loops unregister them.
func (h *Hub) Close() {
	h.mu.RLock()
	var all []*Client
	for _, set := range h.clients {
		for _, c := range set {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range all {
		c.Close()
	}
}
