package calls

import (
	"errors"
	"testing"
	"time"
)

func TestHistory_ForChat(t *testing.T) {
	h := newHarness(t, Options{}, "a", "b")
	call := h.initiate("a", false, false)
	if _, err := h.coord.Decline(h.ctx, call.ID, testChat, "b", false); err != nil {
		t.Fatalf("decline: %v", err)
	}
	hist := NewHistory(h.store, h.dir)

	out, err := hist.ForChat(h.ctx, testChat, "b", HistoryQuery{})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(out) != 1 || out[0].ID != call.ID || out[0].Status != StatusDeclined {
		t.Fatalf("unexpected history %+v", out)
	}

	if _, err := hist.ForChat(h.ctx, testChat, "stranger", HistoryQuery{}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestHistory_ForChatEmptyAndBadRange(t *testing.T) {
	h := newHarness(t, Options{}, "a")
	hist := NewHistory(h.store, h.dir)

	out, err := hist.ForChat(h.ctx, testChat, "a", HistoryQuery{})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if out == nil || len(out) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", out)
	}

	now := time.Now()
	_, err = hist.ForChat(h.ctx, testChat, "a", HistoryQuery{FromDate: now, ToDate: now.Add(-time.Hour)})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestHistory_DetailRequiresAttendance(t *testing.T) {
	h := newHarness(t, Options{}, "a", "b", "c")
	call := h.initiate("a", false, true)
	if _, err := h.coord.Accept(h.ctx, call.ID, testChat, "b"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	hist := NewHistory(h.store, h.dir)

	for _, u := range []string{"a", "b"} {
		if _, err := hist.Detail(h.ctx, call.ID, u); err != nil {
			t.Fatalf("detail for %s: %v", u, err)
		}
	}
	if _, err := hist.Detail(h.ctx, call.ID, "c"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for a member who never joined, got %v", err)
	}
	if _, err := hist.Detail(h.ctx, "missing", "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
