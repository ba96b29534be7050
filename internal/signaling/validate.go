package signaling

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

const maxPayloadBytes = 64 << 10

// ValidatePayload checks negotiation payloads before they are fanned out:
// offers and answers must be a webrtc.SessionDescription of the matching type
// whose SDP parses; ICE payloads must be a webrtc.ICECandidateInit. An empty
// candidate string is the end-of-candidates marker and is accepted.
// Lifecycle kinds carry server-built payloads and are not checked here.
func ValidatePayload(kind Kind, payload json.RawMessage) error {
	if !kind.Negotiation() {
		return nil
	}
	if len(payload) == 0 {
		return fmt.Errorf("%w: empty %s payload", ErrInvalidPayload, kind)
	}
	if len(payload) > maxPayloadBytes {
		return fmt.Errorf("%w: %s payload exceeds %d bytes", ErrInvalidPayload, kind, maxPayloadBytes)
	}

	switch kind {
	case KindOffer, KindAnswer:
		var sd webrtc.SessionDescription
		if err := json.Unmarshal(payload, &sd); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		want := webrtc.SDPTypeOffer
		if kind == KindAnswer {
			want = webrtc.SDPTypeAnswer
		}
		if sd.Type != want {
			return fmt.Errorf("%w: expected sdp type %s, got %s", ErrInvalidPayload, want, sd.Type)
		}
		if _, err := sd.Unmarshal(); err != nil {
			return fmt.Errorf("%w: sdp: %v", ErrInvalidPayload, err)
		}
	case KindICE:
		var c webrtc.ICECandidateInit
		if err := json.Unmarshal(payload, &c); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		cand := strings.TrimPrefix(c.Candidate, "a=")
		if cand != "" && !strings.HasPrefix(cand, "candidate:") {
			return fmt.Errorf("%w: malformed ice candidate", ErrInvalidPayload)
		}
	}
	return nil
}
