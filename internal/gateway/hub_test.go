package gateway

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"call-platform/internal/signaling"
)

func detachedClient(h *Hub, userID string) *Client {
	return newClient(h, nil, userID, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHub_RegisterAndSockets(t *testing.T) {
	h := NewHub()
	a1 := detachedClient(h, "a")
	a2 := detachedClient(h, "a")
	b := detachedClient(h, "b")
	for _, c := range []*Client{a1, a2, b} {
		h.Register(c)
	}

	if h.Len() != 3 || !h.Online("a") || h.Online("z") {
		t.Fatalf("unexpected presence: len=%d", h.Len())
	}
	got := h.Sockets("a")
	if len(got) != 2 || got[0].ID() > got[1].ID() {
		t.Fatalf("expected both of a's sockets in id order, got %v", got)
	}

	if h.Unregister(a1) {
		t.Fatalf("a still has a socket open")
	}
	if h.Unregister(a1) {
		t.Fatalf("unregistering twice must not report a last socket")
	}
	if len(h.Sockets("a")) != 1 {
		t.Fatalf("expected one socket left for a")
	}
	if !h.Unregister(a2) {
		t.Fatalf("a2 was a's last socket")
	}
	if h.Online("a") {
		t.Fatalf("a should be offline")
	}
}

func TestClient_SlowConsumerIsClosed(t *testing.T) {
	c := detachedClient(NewHub(), "a")
	f := signaling.Frame{Event: "call_updated"}

	for i := 0; i < sendBuffer; i++ {
		if err := c.Send(f); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if err := c.Send(f); !errors.Is(err, ErrSlowConsumer) {
		t.Fatalf("expected ErrSlowConsumer, got %v", err)
	}
	if err := c.Send(f); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after overflow, got %v", err)
	}
	c.Close()
}

func TestClient_SendPreservesOrder(t *testing.T) {
	c := detachedClient(NewHub(), "a")
	for _, ev := range []string{"offer_sdp", "ice_candidate", "ice_candidate"} {
		if err := c.Send(signaling.Frame{Event: ev}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	want := []string{`"offer_sdp"`, `"ice_candidate"`, `"ice_candidate"`}
	for i, w := range want {
		b := <-c.send
		if !strings.Contains(string(b), w) {
			t.Fatalf("frame %d = %s, want event %s", i, b, w)
		}
	}
}
