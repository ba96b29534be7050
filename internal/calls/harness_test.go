package calls

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"call-platform/internal/audit"
	"call-platform/internal/chat"
	"call-platform/internal/signaling"
)

const testChat = "chat-1"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recSocket struct {
	id     string
	userID string

	mu     sync.Mutex
	frames []signaling.Frame
}

func (s *recSocket) ID() string     { return s.id }
func (s *recSocket) UserID() string { return s.userID }

func (s *recSocket) Send(f signaling.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return nil
}

func (s *recSocket) events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.frames))
	for _, f := range s.frames {
		out = append(out, f.Event)
	}
	return out
}

func (s *recSocket) last(event string) (signaling.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.frames) - 1; i >= 0; i-- {
		if s.frames[i].Event == event {
			return s.frames[i], true
		}
	}
	return signaling.Frame{}, false
}

type presence struct {
	mu      sync.Mutex
	sockets map[string][]signaling.Socket
}

func (p *presence) Sockets(userID string) []signaling.Socket {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]signaling.Socket(nil), p.sockets[userID]...)
}

// harness wires a coordinator to in-memory stores, the real relay and one
// recording socket per user. User "x" has member id "m-x".
type harness struct {
	t        *testing.T
	ctx      context.Context
	clock    *fakeClock
	dir      *chat.MemoryDirectory
	msgs     *chat.MemoryMessages
	store    *MemoryRepo
	registry *Registry
	audit    *audit.MemoryRepo
	presence *presence
	sockets  map[string]*recSocket
	coord    *Coordinator
}

func newHarness(t *testing.T, opts Options, users ...string) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		ctx:      context.Background(),
		clock:    newFakeClock(),
		dir:      chat.NewMemoryDirectory(),
		msgs:     chat.NewMemoryMessages(),
		store:    NewMemoryRepo(),
		registry: NewRegistry(),
		audit:    audit.NewMemoryRepo(),
		presence: &presence{sockets: map[string][]signaling.Socket{}},
		sockets:  map[string]*recSocket{},
	}
	h.store.clock = h.clock.Now
	h.registry.clock = h.clock.Now
	for _, u := range users {
		h.dir.Add(testChat, "m-"+u, u)
		h.connect(u, "s-"+u)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	if opts.Logger == nil {
		opts.Logger = log
	}
	if opts.Audit == nil {
		opts.Audit = audit.NewService(h.audit)
	}
	relay := signaling.NewRelay(h.dir, h.presence, log)
	h.coord = NewCoordinator(h.registry, h.store, h.dir, h.msgs, relay, opts)
	h.coord.clock = h.clock.Now
	return h
}

func (h *harness) withStore(repo Repository) {
	h.coord.store = repo
}

func (h *harness) connect(userID, socketID string) *recSocket {
	s := &recSocket{id: socketID, userID: userID}
	h.presence.mu.Lock()
	h.presence.sockets[userID] = append(h.presence.sockets[userID], s)
	h.presence.mu.Unlock()
	if _, ok := h.sockets[userID]; !ok {
		h.sockets[userID] = s
	}
	return s
}

func (h *harness) events(userID string) []string {
	return h.sockets[userID].events()
}

func (h *harness) count(userID, event string) int {
	n := 0
	for _, e := range h.events(userID) {
		if e == event {
			n++
		}
	}
	return n
}

func (h *harness) notice(userID, event string) Notice {
	h.t.Helper()
	f, ok := h.sockets[userID].last(event)
	if !ok {
		h.t.Fatalf("%s did not receive %s; got %v", userID, event, h.events(userID))
	}
	var n Notice
	if err := json.Unmarshal(f.Data.Payload, &n); err != nil {
		h.t.Fatalf("decode %s payload: %v", event, err)
	}
	return n
}

func (h *harness) initiate(userID string, video, group bool) Call {
	h.t.Helper()
	res, err := h.coord.Initiate(h.ctx, testChat, userID, video, group)
	if err != nil {
		h.t.Fatalf("initiate by %s: %v", userID, err)
	}
	return res.Call
}

func (h *harness) mustCall(id string) Call {
	h.t.Helper()
	c, ok, err := h.store.FindByID(h.ctx, id)
	if err != nil || !ok {
		h.t.Fatalf("load call %s: ok=%v err=%v", id, ok, err)
	}
	return c
}

func sorted(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}

func sameIDs(got []string, want ...string) bool {
	return fmt.Sprint(sorted(got)) == fmt.Sprint(sorted(want))
}

const iceCandidate = `{"candidate":"candidate:1 1 udp 2122260223 192.168.1.2 54321 typ host","sdpMid":"0","sdpMLineIndex":0}`
