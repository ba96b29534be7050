package chat

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryDirectory(t *testing.T) {
	d := NewMemoryDirectory()
	d.Add("c1", "m2", "u2")
	d.Add("c1", "m1", "u1")
	ctx := context.Background()

	m, err := d.Member(ctx, "c1", "u1")
	if err != nil || m.ID != "m1" || m.ChatID != "c1" {
		t.Fatalf("unexpected member %+v err=%v", m, err)
	}
	if _, err := d.Member(ctx, "c1", "u3"); !errors.Is(err, ErrNotMember) {
		t.Fatalf("expected ErrNotMember, got %v", err)
	}

	all, _ := d.Members(ctx, "c1")
	if len(all) != 2 || all[0].ID != "m1" || all[1].ID != "m2" {
		t.Fatalf("expected members sorted by id, got %+v", all)
	}

	d.Remove("c1", "u1")
	if _, err := d.Member(ctx, "c1", "u1"); !errors.Is(err, ErrNotMember) {
		t.Fatalf("expected removal, got %v", err)
	}
}

func TestMemoryMessages(t *testing.T) {
	s := NewMemoryMessages()
	ctx := context.Background()

	if _, err := s.CreateCallMessage(ctx, "", "m1", CallMarker{CallID: "k"}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}

	id, err := s.CreateCallMessage(ctx, "c1", "m1", CallMarker{CallID: "k", Status: "dialing"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	d := 12
	if err := s.UpdateCallMessage(ctx, id, CallMarker{CallID: "k", Status: "completed", DurationSeconds: &d}); err != nil {
		t.Fatalf("update: %v", err)
	}
	msg, ok := s.Get(id)
	if !ok || msg.Marker.Status != "completed" || *msg.Marker.DurationSeconds != 12 {
		t.Fatalf("unexpected message %+v", msg)
	}

	if err := s.DeleteMessage(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteMessage(ctx, id); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
	if err := s.UpdateCallMessage(ctx, id, CallMarker{}); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("expected empty store")
	}
}
