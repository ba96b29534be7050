package reporting

import (
	"context"
	"errors"
	"testing"
	"time"

	"call-platform/internal/calls"
)

func secs(n int) *int { return &n }

func TestReporting_ChatIsolation(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	repo.Calls = []calls.Call{
		{ID: "c1", ChatID: "chat-1", Status: calls.StatusCompleted, DurationSeconds: secs(30), StartedAt: now},
		{ID: "c2", ChatID: "chat-2", Status: calls.StatusCompleted, DurationSeconds: secs(50), StartedAt: now},
	}
	svc := NewService(repo)

	out, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{ChatID: "chat-1"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCalls != 1 || out.TotalDurationSeconds != 30 {
		t.Fatalf("unexpected summary: %+v", out)
	}
}

func TestReporting_SummaryAggregates(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	repo.Calls = []calls.Call{
		{ID: "c1", ChatID: "chat", Status: calls.StatusCompleted, IsVideo: true, DurationSeconds: secs(60), StartedAt: now},
		{ID: "c2", ChatID: "chat", Status: calls.StatusCompleted, IsGroup: true, DurationSeconds: secs(20), StartedAt: now.Add(time.Minute)},
		{ID: "c3", ChatID: "chat", Status: calls.StatusDeclined, DurationSeconds: secs(0), StartedAt: now.Add(2 * time.Minute)},
		{ID: "c4", ChatID: "chat", Status: calls.StatusFailed, DurationSeconds: secs(0), StartedAt: now.Add(3 * time.Minute)},
		{ID: "c5", ChatID: "chat", Status: calls.StatusInProgress, StartedAt: now.Add(4 * time.Minute)},
		{ID: "c6", ChatID: "chat", Status: calls.StatusCompleted, DurationSeconds: secs(99), StartedAt: now.Add(-time.Hour)},
	}
	svc := NewService(repo)

	out, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{
		ChatID: "chat",
		Range:  TimeRange{From: now, To: now.Add(time.Hour)},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCalls != 5 {
		t.Fatalf("expected 5 calls in range, got %d", out.TotalCalls)
	}
	if out.CompletedCalls != 2 || out.DeclinedCalls != 1 || out.FailedCalls != 1 || out.InProgressCalls != 1 {
		t.Fatalf("unexpected status counts: %+v", out)
	}
	if out.VideoCalls != 1 || out.GroupCalls != 1 {
		t.Fatalf("unexpected kind counts: %+v", out)
	}
	if out.TotalDurationSeconds != 80 || out.LongestDurationSeconds != 60 || out.AverageDurationSeconds != 20 {
		t.Fatalf("unexpected durations: %+v", out)
	}
	if out.AnswerRate != 0.5 {
		t.Fatalf("expected answer rate 0.5, got %v", out.AnswerRate)
	}
	if out.Range == nil {
		t.Fatalf("expected range to be echoed")
	}
}

func TestReporting_RejectsInvertedRange(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	now := time.Now()
	_, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{ChatID: "chat", Range: TimeRange{From: now, To: now.Add(-time.Second)}})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if _, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for missing chat, got %v", err)
	}
}
