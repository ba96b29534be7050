package signaling

import (
	"encoding/json"
	"testing"
)

func TestKindEventNames(t *testing.T) {
	want := map[Kind]string{
		KindOffer:         "offer_sdp",
		KindAnswer:        "answer_sdp",
		KindICE:           "ice_candidate",
		KindInitiated:     "incoming_call",
		KindAccepted:      "call_accepted",
		KindJoined:        "call_joined",
		KindDeclined:      "call_declined",
		KindUpdated:       "call_updated",
		KindMemberUpdated: "call_member_updated",
		KindLeft:          "call_member_left",
		KindHangup:        "call_ended",
	}
	for k, ev := range want {
		got, err := k.Event()
		if err != nil || got != ev {
			t.Fatalf("%s: got %q err=%v, want %q", k, got, err, ev)
		}
	}
	if _, err := Kind("nope").Event(); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestNegotiationNeverEchoes(t *testing.T) {
	for _, k := range []Kind{KindOffer, KindAnswer, KindICE} {
		if !k.Negotiation() || k.EchoesSender() {
			t.Fatalf("%s: negotiation=%v echoes=%v", k, k.Negotiation(), k.EchoesSender())
		}
		ev, _ := k.Event()
		if back, ok := NegotiationKind(ev); !ok || back != k {
			t.Fatalf("NegotiationKind(%q) = %q, %v", ev, back, ok)
		}
	}
	if _, ok := NegotiationKind("hang_up"); ok {
		t.Fatalf("lifecycle event mapped to a negotiation kind")
	}
}

func TestEnvelopeFrame(t *testing.T) {
	env := Envelope{ChatID: "c1", CallID: "k1", FromMemberID: "m1", ToMemberID: "m2", Kind: KindLeft, Payload: json.RawMessage(`{"x":1}`)}
	f, err := env.Frame()
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	raw, _ := json.Marshal(f)
	want := `{"event":"call_member_left","data":{"chatId":"c1","callId":"k1","memberId":"m1","payload":{"x":1}}}`
	if string(raw) != want {
		t.Fatalf("got %s\nwant %s", raw, want)
	}
}
