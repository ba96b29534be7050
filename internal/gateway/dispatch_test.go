package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"call-platform/internal/calls"
	"call-platform/internal/signaling"
)

type fakeCalls struct {
	last   string
	args   []any
	err    error
	result calls.Result
}

func (f *fakeCalls) record(op string, args ...any) (calls.Result, error) {
	f.last, f.args = op, args
	return f.result, f.err
}

func (f *fakeCalls) Initiate(ctx context.Context, chatID, userID string, isVideo, isGroup bool) (calls.Result, error) {
	return f.record("initiate", chatID, userID, isVideo, isGroup)
}

func (f *fakeCalls) Accept(ctx context.Context, callID, chatID, userID string) (calls.Result, error) {
	return f.record("accept", callID, chatID, userID)
}

func (f *fakeCalls) Join(ctx context.Context, callID, chatID, userID string) (calls.Result, error) {
	return f.record("join", callID, chatID, userID)
}

func (f *fakeCalls) Update(ctx context.Context, callID, chatID, userID string, patch calls.UpdatePatch) (calls.Result, error) {
	return f.record("update", callID, chatID, userID, patch.IsVideo != nil && *patch.IsVideo)
}

func (f *fakeCalls) UpdateMember(ctx context.Context, callID, chatID, userID string, st calls.MemberState) (calls.Result, error) {
	return f.record("update_member", callID, chatID, userID, st)
}

func (f *fakeCalls) Decline(ctx context.Context, callID, chatID, userID string, isCallerCancel bool) (calls.Result, error) {
	return f.record("decline", callID, chatID, userID, isCallerCancel)
}

func (f *fakeCalls) Hangup(ctx context.Context, callID, chatID, userID string) (calls.Result, error) {
	return f.record("hangup", callID, chatID, userID)
}

func (f *fakeCalls) Signal(ctx context.Context, chatID, callID, userID, toMemberID string, kind signaling.Kind, payload []byte) error {
	_, err := f.record("signal", chatID, callID, userID, toMemberID, kind, string(payload))
	return err
}

func (f *fakeCalls) Disconnect(ctx context.Context, userID string) (int, error) {
	_, err := f.record("disconnect", userID)
	return 1, err
}

func newTestDispatcher(f *fakeCalls) *Dispatcher {
	return NewDispatcher(f, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestDispatcher_LifecycleEvents(t *testing.T) {
	cases := []struct {
		frame string
		op    string
		args  string
	}{
		{`{"event":"initiate_call","data":{"chatId":"c1","isVideo":true,"isGroup":true}}`, "initiate", "[c1 u1 true true]"},
		{`{"event":"initiate_call","data":{"chatId":"c1"}}`, "initiate", "[c1 u1 false false]"},
		{`{"event":"accept_call","data":{"chatId":"c1","callId":"k1"}}`, "accept", "[k1 c1 u1]"},
		{`{"event":"join_call","data":{"chatId":"c1","callId":"k1"}}`, "join", "[k1 c1 u1]"},
		{`{"event":"update_call","data":{"chatId":"c1","callId":"k1","isVideo":true}}`, "update", "[k1 c1 u1 true]"},
		{`{"event":"update_call_member","data":{"chatId":"c1","callId":"k1","isMuted":true,"isScreenSharing":true}}`, "update_member", "[k1 c1 u1 {true false true}]"},
		{`{"event":"decline_call","data":{"chatId":"c1","callId":"k1","isCallerCancel":true}}`, "decline", "[k1 c1 u1 true]"},
		{`{"event":"hang_up","data":{"chatId":"c1","callId":"k1"}}`, "hangup", "[k1 c1 u1]"},
	}
	for _, tc := range cases {
		f := &fakeCalls{result: calls.Result{MemberID: "m1"}}
		reply := newTestDispatcher(f).Handle(context.Background(), "u1", []byte(tc.frame))

		if f.last != tc.op || fmt.Sprint(f.args) != tc.args {
			t.Fatalf("%s: got %s %v, want %s %s", tc.frame, f.last, f.args, tc.op, tc.args)
		}
		if reply == nil || reply.Event != eventAck || reply.Data.Result == nil || reply.Data.Result.MemberID != "m1" {
			t.Fatalf("%s: unexpected reply %+v", tc.frame, reply)
		}
	}
}

func TestDispatcher_RequestIDIsEchoed(t *testing.T) {
	f := &fakeCalls{}
	reply := newTestDispatcher(f).Handle(context.Background(), "u1", []byte(`{"event":"hang_up","requestId":"r-7","data":{"chatId":"c1","callId":"k1"}}`))

	raw, _ := json.Marshal(reply)
	var out struct {
		Event string `json:"event"`
		Data  struct {
			Request   string `json:"request"`
			RequestID string `json:"requestId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Event != "ack" || out.Data.Request != "hang_up" || out.Data.RequestID != "r-7" {
		t.Fatalf("unexpected reply %s", raw)
	}
}

func TestDispatcher_NegotiationHasNoAck(t *testing.T) {
	f := &fakeCalls{}
	d := newTestDispatcher(f)

	reply := d.Handle(context.Background(), "u1", []byte(`{"event":"offer_sdp","data":{"chatId":"c1","callId":"k1","toMemberId":"m2","payload":{"type":"offer","sdp":"v=0"}}}`))
	if reply != nil {
		t.Fatalf("expected no reply for a relayed offer, got %+v", reply)
	}
	want := fmt.Sprint([]any{"c1", "k1", "u1", "m2", signaling.KindOffer, `{"type":"offer","sdp":"v=0"}`})
	if f.last != "signal" || fmt.Sprint(f.args) != want {
		t.Fatalf("unexpected signal call %s %v", f.last, f.args)
	}

	f.err = calls.ErrForbidden
	reply = d.Handle(context.Background(), "u1", []byte(`{"event":"ice_candidate","data":{"chatId":"c1","callId":"k1","payload":{}}}`))
	if reply == nil || reply.Event != eventError || reply.Data.Code != "forbidden" || reply.Data.Request != "ice_candidate" {
		t.Fatalf("expected forbidden error reply, got %+v", reply)
	}
}

func TestDispatcher_Errors(t *testing.T) {
	cases := []struct {
		name  string
		frame string
		err   error
		code  string
		msg   string
	}{
		{"malformed", `{"event":`, nil, "invalid_argument", ""},
		{"unknown event", `{"event":"dance"}`, nil, "invalid_argument", ""},
		{"already active", `{"event":"initiate_call","data":{"chatId":"c1"}}`, calls.ErrAlreadyActive, "already_active", ""},
		{"ended", `{"event":"accept_call","data":{"chatId":"c1","callId":"k"}}`, fmt.Errorf("%w: call is declined", calls.ErrInvalidTransition), "invalid_transition", ""},
		{"infrastructure", `{"event":"accept_call","data":{"chatId":"c1","callId":"k"}}`, fmt.Errorf("%w: dial tcp: refused", calls.ErrInfrastructure), "infrastructure_failure", "temporarily unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := &fakeCalls{err: tc.err}
			reply := newTestDispatcher(f).Handle(context.Background(), "u1", []byte(tc.frame))
			if reply == nil || reply.Event != eventError || reply.Data.Code != tc.code {
				t.Fatalf("unexpected reply %+v", reply)
			}
			if tc.msg != "" && reply.Data.Message != tc.msg {
				t.Fatalf("message %q, want %q", reply.Data.Message, tc.msg)
			}
			if reply.Data.Result != nil {
				t.Fatalf("error replies carry no result")
			}
		})
	}
}

func TestDispatcher_OfflineDisconnectsUser(t *testing.T) {
	f := &fakeCalls{}
	newTestDispatcher(f).Offline(context.Background(), "u1")
	if f.last != "disconnect" || fmt.Sprint(f.args) != "[u1]" {
		t.Fatalf("unexpected call %s %v", f.last, f.args)
	}

	f.err = calls.ErrInfrastructure
	newTestDispatcher(f).Offline(context.Background(), "u2")
	if fmt.Sprint(f.args) != "[u2]" {
		t.Fatalf("disconnect not attempted for u2")
	}
}

func TestErrorReplyHidesInfrastructureDetail(t *testing.T) {
	r := errorReply(Inbound{Event: EventHangup}, errors.New("pq: connection reset"))
	if r.Data.Code != "infrastructure_failure" || r.Data.Message != "temporarily unavailable" {
		t.Fatalf("unexpected reply %+v", r.Data)
	}
}
