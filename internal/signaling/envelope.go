// Package signaling fans call events and WebRTC negotiation messages out to
// the live sockets of a chat's members.
package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownKind    = errors.New("signaling: unknown kind")
	ErrInvalidPayload = errors.New("signaling: invalid payload")
)

// Kind is the closed set of envelope kinds.
type Kind string

const (
	KindOffer         Kind = "offer"
	KindAnswer        Kind = "answer"
	KindICE           Kind = "ice"
	KindInitiated     Kind = "initiated"
	KindAccepted      Kind = "accepted"
	KindJoined        Kind = "joined"
	KindDeclined      Kind = "declined"
	KindUpdated       Kind = "updated"
	KindMemberUpdated Kind = "member_updated"
	KindLeft          Kind = "left"
	KindHangup        Kind = "hangup"
)

// Event returns the server-to-client event name for k.
func (k Kind) Event() (string, error) {
	switch k {
	case KindOffer:
		return "offer_sdp", nil
	case KindAnswer:
		return "answer_sdp", nil
	case KindICE:
		return "ice_candidate", nil
	case KindInitiated:
		return "incoming_call", nil
	case KindAccepted:
		return "call_accepted", nil
	case KindJoined:
		return "call_joined", nil
	case KindDeclined:
		return "call_declined", nil
	case KindUpdated:
		return "call_updated", nil
	case KindMemberUpdated:
		return "call_member_updated", nil
	case KindLeft:
		return "call_member_left", nil
	case KindHangup:
		return "call_ended", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, string(k))
	}
}

// Negotiation reports whether k carries WebRTC negotiation data. Negotiation
// messages are never echoed to the sender.
func (k Kind) Negotiation() bool {
	switch k {
	case KindOffer, KindAnswer, KindICE:
		return true
	default:
		return false
	}
}

// EchoesSender reports whether k describes shared state that the sender's own
// sockets also receive.
func (k Kind) EchoesSender() bool {
	switch k {
	case KindUpdated, KindMemberUpdated, KindHangup:
		return true
	default:
		return false
	}
}

// NegotiationKind maps a client event name to its negotiation kind.
func NegotiationKind(event string) (Kind, bool) {
	switch event {
	case "offer_sdp":
		return KindOffer, true
	case "answer_sdp":
		return KindAnswer, true
	case "ice_candidate":
		return KindICE, true
	default:
		return "", false
	}
}

// Envelope is one message to fan out. It is never persisted.
type Envelope struct {
	ChatID       string
	CallID       string
	FromMemberID string
	// ToMemberID narrows delivery to one member's sockets (peer-addressed negotiation).
	ToMemberID string
	Kind       Kind
	Payload    json.RawMessage
}

// Frame is the JSON shape written to a socket.
type Frame struct {
	Event string    `json:"event"`
	Data  FrameData `json:"data"`
}

type FrameData struct {
	ChatID   string          `json:"chatId"`
	CallID   string          `json:"callId"`
	MemberID string          `json:"memberId"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Frame renders e for the wire.
func (e Envelope) Frame() (Frame, error) {
	ev, err := e.Kind.Event()
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		Event: ev,
		Data: FrameData{
			ChatID:   e.ChatID,
			CallID:   e.CallID,
			MemberID: e.FromMemberID,
			Payload:  e.Payload,
		},
	}, nil
}
