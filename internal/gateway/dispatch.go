package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"call-platform/internal/calls"
	"call-platform/internal/signaling"
)

// Calls is the part of the coordinator the gateway drives.
type Calls interface {
	Initiate(ctx context.Context, chatID, userID string, isVideo, isGroup bool) (calls.Result, error)
	Accept(ctx context.Context, callID, chatID, userID string) (calls.Result, error)
	Join(ctx context.Context, callID, chatID, userID string) (calls.Result, error)
	Update(ctx context.Context, callID, chatID, userID string, patch calls.UpdatePatch) (calls.Result, error)
	UpdateMember(ctx context.Context, callID, chatID, userID string, st calls.MemberState) (calls.Result, error)
	Decline(ctx context.Context, callID, chatID, userID string, isCallerCancel bool) (calls.Result, error)
	Hangup(ctx context.Context, callID, chatID, userID string) (calls.Result, error)
	Signal(ctx context.Context, chatID, callID, userID, toMemberID string, kind signaling.Kind, payload []byte) error
	Disconnect(ctx context.Context, userID string) (int, error)
}

// Client event names.
const (
	EventInitiate     = "initiate_call"
	EventUpdate       = "update_call"
	EventUpdateMember = "update_call_member"
	EventAccept       = "accept_call"
	EventJoin         = "join_call"
	EventDecline      = "decline_call"
	EventHangup       = "hang_up"

	eventAck   = "ack"
	eventError = "error"
)

const requestTimeout = 10 * time.Second

// Inbound is a client frame.
type Inbound struct {
	Event     string      `json:"event"`
	RequestID string      `json:"requestId,omitempty"`
	Data      InboundData `json:"data"`
}

type InboundData struct {
	ChatID string `json:"chatId"`
	CallID string `json:"callId"`

	IsVideo        *bool `json:"isVideo,omitempty"`
	IsGroup        bool  `json:"isGroup,omitempty"`
	IsCallerCancel bool  `json:"isCallerCancel,omitempty"`

	IsMuted         bool `json:"isMuted,omitempty"`
	IsVideoOn       bool `json:"isVideoOn,omitempty"`
	IsScreenSharing bool `json:"isScreenSharing,omitempty"`

	ToMemberID string          `json:"toMemberId,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Reply is the ack or error frame sent back to the requesting socket only.
type Reply struct {
	Event string    `json:"event"`
	Data  ReplyData `json:"data"`
}

type ReplyData struct {
	Request   string        `json:"request"`
	RequestID string        `json:"requestId,omitempty"`
	Result    *calls.Result `json:"result,omitempty"`
	Code      string        `json:"code,omitempty"`
	Message   string        `json:"message,omitempty"`
}

// Dispatcher maps inbound frames onto coordinator operations.
type Dispatcher struct {
	calls Calls
	log   *slog.Logger
}

func NewDispatcher(c Calls, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{calls: c, log: log}
}

// Handle runs one frame for userID. It returns the reply for the requester,
// or nil when none is due (a successfully relayed negotiation message).
func (d *Dispatcher) Handle(ctx context.Context, userID string, raw []byte) *Reply {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return errorReply(in, fmt.Errorf("%w: malformed frame", calls.ErrInvalidArgument))
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	if kind, ok := signaling.NegotiationKind(in.Event); ok {
		err := d.calls.Signal(ctx, in.Data.ChatID, in.Data.CallID, userID, in.Data.ToMemberID, kind, in.Data.Payload)
		if err != nil {
			d.log.Debug("signal rejected", "user_id", userID, "event", in.Event, "chat_id", in.Data.ChatID, "err", err)
			return errorReply(in, err)
		}
		return nil
	}

	res, err := d.lifecycle(ctx, userID, in)
	if err != nil {
		if errors.Is(err, calls.ErrInfrastructure) {
			d.log.Error("call request failed", "user_id", userID, "event", in.Event, "chat_id", in.Data.ChatID, "err", err)
		}
		return errorReply(in, err)
	}
	return &Reply{Event: eventAck, Data: ReplyData{Request: in.Event, RequestID: in.RequestID, Result: &res}}
}

// Offline runs when userID has no sockets left and takes it out of its calls.
func (d *Dispatcher) Offline(ctx context.Context, userID string) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	n, err := d.calls.Disconnect(ctx, userID)
	if err != nil {
		d.log.Error("disconnect cleanup failed", "user_id", userID, "calls_left", n, "err", err)
		return
	}
	if n > 0 {
		d.log.Info("user went offline mid-call", "user_id", userID, "calls_left", n)
	}
}

func (d *Dispatcher) lifecycle(ctx context.Context, userID string, in Inbound) (calls.Result, error) {
	data := in.Data
	switch in.Event {
	case EventInitiate:
		video := data.IsVideo != nil && *data.IsVideo
		return d.calls.Initiate(ctx, data.ChatID, userID, video, data.IsGroup)
	case EventAccept:
		return d.calls.Accept(ctx, data.CallID, data.ChatID, userID)
	case EventJoin:
		return d.calls.Join(ctx, data.CallID, data.ChatID, userID)
	case EventUpdate:
		return d.calls.Update(ctx, data.CallID, data.ChatID, userID, calls.UpdatePatch{IsVideo: data.IsVideo})
	case EventUpdateMember:
		return d.calls.UpdateMember(ctx, data.CallID, data.ChatID, userID, calls.MemberState{
			IsMuted:         data.IsMuted,
			IsVideoOn:       data.IsVideoOn,
			IsScreenSharing: data.IsScreenSharing,
		})
	case EventDecline:
		return d.calls.Decline(ctx, data.CallID, data.ChatID, userID, data.IsCallerCancel)
	case EventHangup:
		return d.calls.Hangup(ctx, data.CallID, data.ChatID, userID)
	default:
		return calls.Result{}, fmt.Errorf("%w: unknown event %q", calls.ErrInvalidArgument, in.Event)
	}
}

func errorReply(in Inbound, err error) *Reply {
	code := calls.Code(err)
	msg := err.Error()
	if code == "infrastructure_failure" {
		msg = "temporarily unavailable"
	}
	return &Reply{Event: eventError, Data: ReplyData{Request: in.Event, RequestID: in.RequestID, Code: code, Message: msg}}
}
