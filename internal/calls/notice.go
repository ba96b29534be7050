package calls

import (
	"encoding/json"

	"call-platform/internal/chat"
	"call-platform/internal/signaling"
)

// Notice is the payload of lifecycle envelopes (incoming_call, call_accepted, ...).
type Notice struct {
	CallID            string       `json:"callId"`
	ChatID            string       `json:"chatId"`
	Status            Status       `json:"status"`
	IsVideo           bool         `json:"isVideo"`
	IsGroup           bool         `json:"isGroup"`
	InitiatorMemberID string       `json:"initiatorMemberId"`
	Participants      []string     `json:"participants"`
	DurationSeconds   *int         `json:"duration,omitempty"`
	Reason            string       `json:"reason,omitempty"`
	Member            *MemberState `json:"member,omitempty"`
}

func noticeFor(c Call, reason string) Notice {
	participants := c.ParticipantMemberIDs
	if participants == nil {
		participants = []string{}
	}
	return Notice{
		CallID:            c.ID,
		ChatID:            c.ChatID,
		Status:            c.Status,
		IsVideo:           c.IsVideo,
		IsGroup:           c.IsGroup,
		InitiatorMemberID: c.InitiatorMemberID,
		Participants:      participants,
		DurationSeconds:   c.DurationSeconds,
		Reason:            reason,
	}
}

func markerFor(c Call) chat.CallMarker {
	return chat.CallMarker{
		CallID:          c.ID,
		Status:          string(c.Status),
		IsVideo:         c.IsVideo,
		DurationSeconds: c.DurationSeconds,
	}
}

// outbound is a relay computed under the chat lock and sent after it is released.
type outbound struct {
	env  signaling.Envelope
	opts signaling.Options
}

func lifecycle(kind signaling.Kind, fromMemberID string, n Notice) outbound {
	// Notice holds only strings, bools, ints and slices or pointers of those;
	// Marshal cannot fail on it.
	raw, _ := json.Marshal(n)
	return outbound{
		env: signaling.Envelope{
			ChatID:       n.ChatID,
			CallID:       n.CallID,
			FromMemberID: fromMemberID,
			Kind:         kind,
			Payload:      raw,
		},
		opts: signaling.Options{IncludeSender: kind.EchoesSender()},
	}
}
