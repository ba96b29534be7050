package calls

import (
	"encoding/json"
	"testing"

	"call-platform/internal/signaling"
)

func TestLifecycle_PayloadIsTheNotice(t *testing.T) {
	d := 12
	n := noticeFor(Call{
		ID:                "k1",
		ChatID:            "c1",
		Status:            StatusCompleted,
		InitiatorMemberID: "m1",
		DurationSeconds:   &d,
	}, "timeout")
	n.Member = &MemberState{IsMuted: true}

	o := lifecycle(signaling.KindHangup, "m1", n)
	if o.env.ChatID != "c1" || o.env.CallID != "k1" || o.env.FromMemberID != "m1" || !o.opts.IncludeSender {
		t.Fatalf("unexpected envelope %+v opts %+v", o.env, o.opts)
	}

	var got Notice
	if err := json.Unmarshal(o.env.Payload, &got); err != nil {
		t.Fatalf("payload is not a notice: %v", err)
	}
	if got.Reason != "timeout" || got.DurationSeconds == nil || *got.DurationSeconds != 12 || got.Member == nil || !got.Member.IsMuted {
		t.Fatalf("unexpected notice %+v", got)
	}
	if got.Participants == nil || len(got.Participants) != 0 {
		t.Fatalf("participants must encode as an empty list, got %v", got.Participants)
	}
}

func TestLifecycle_AcceptedExcludesSender(t *testing.T) {
	o := lifecycle(signaling.KindAccepted, "m2", noticeFor(Call{ID: "k1", ChatID: "c1"}, ""))
	if o.opts.IncludeSender {
		t.Fatalf("accepted must not echo to the sender")
	}
}
