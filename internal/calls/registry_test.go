package calls

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRegistry_CreateRejectsSecondCallInChat(t *testing.T) {
	r := NewRegistry()
	if err := r.Create("c1", "call-1", "m1", true, false); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := r.Create("c1", "call-2", "m2", false, false); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}
	if err := r.Create("c2", "call-3", "m3", false, false); err != nil {
		t.Fatalf("other chat must be independent: %v", err)
	}

	s, ok := r.Get("c1")
	if !ok || s.CallID != "call-1" || !s.IsVideoCall {
		t.Fatalf("unexpected session %+v", s)
	}
	if st := s.Members["m1"]; !st.IsVideoOn {
		t.Fatalf("initiator should start with video on for a video call")
	}
}

func TestRegistry_MembersAndDeclines(t *testing.T) {
	r := NewRegistry()
	if err := r.Create("c1", "call-1", "m1", false, true); err != nil {
		t.Fatalf("create: %v", err)
	}

	if n, _ := r.MarkDeclined("c1", "m2"); n != 1 {
		t.Fatalf("expected 1 decliner, got %d", n)
	}
	if n, _ := r.MarkDeclined("c1", "m2"); n != 1 {
		t.Fatalf("repeated decline must not count twice, got %d", n)
	}

	added, err := r.AddMember("c1", "m2")
	if err != nil || !added {
		t.Fatalf("add member: added=%v err=%v", added, err)
	}
	if added, _ := r.AddMember("c1", "m2"); added {
		t.Fatalf("second add must report no change")
	}
	s, _ := r.Get("c1")
	if len(s.Declined) != 0 {
		t.Fatalf("joining clears a previous decline, got %v", s.Declined)
	}

	if n, _ := r.RemoveMember("c1", "m1"); n != 1 {
		t.Fatalf("expected one remaining member, got %d", n)
	}
	if _, err := r.RemoveMember("nope", "m1"); !errors.Is(err, ErrNoActiveCall) {
		t.Fatalf("expected ErrNoActiveCall, got %v", err)
	}
}

func TestRegistry_MarkAcceptedOnce(t *testing.T) {
	r := NewRegistry()
	_ = r.Create("c1", "call-1", "m1", false, false)

	first, _ := r.MarkAccepted("c1")
	second, _ := r.MarkAccepted("c1")
	if !first || second {
		t.Fatalf("expected only the first MarkAccepted to win: %v %v", first, second)
	}
}

func TestRegistry_SetMemberStateRequiresMember(t *testing.T) {
	r := NewRegistry()
	_ = r.Create("c1", "call-1", "m1", false, false)

	if err := r.SetMemberState("c1", "m9", MemberState{IsMuted: true}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := r.SetMemberState("c1", "m1", MemberState{IsMuted: true}); err != nil {
		t.Fatalf("set state: %v", err)
	}
	if s, _ := r.Get("c1"); !s.Members["m1"].IsMuted {
		t.Fatalf("state not stored")
	}
}

func TestRegistry_SnapshotIsIsolated(t *testing.T) {
	r := NewRegistry()
	_ = r.Create("c1", "call-1", "m1", false, false)

	s, _ := r.Get("c1")
	s.Members["m9"] = MemberState{}
	if again, _ := r.Get("c1"); again.HasMember("m9") {
		t.Fatalf("snapshot mutation leaked into registry")
	}
}

func TestRegistry_RingTimerTokens(t *testing.T) {
	r := NewRegistry()
	_ = r.Create("c1", "call-1", "m1", false, false)

	fired := make(chan uint64, 1)
	token, err := r.ArmRing("c1", 10*time.Millisecond, func(tok uint64) { fired <- tok })
	if err != nil {
		t.Fatalf("arm: %v", err)
	}
	if !r.RingArmed("c1", token) {
		t.Fatalf("expected token armed")
	}

	select {
	case got := <-fired:
		if got != token {
			t.Fatalf("fired with %d, want %d", got, token)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("ring timer never fired")
	}

	if !r.DisarmRing("c1") {
		t.Fatalf("expected disarm to report an armed timer")
	}
	if r.RingArmed("c1", token) {
		t.Fatalf("token must be stale after disarm")
	}
	if r.DisarmRing("c1") {
		t.Fatalf("second disarm must report nothing armed")
	}
}

func TestRegistry_ClearStopsRing(t *testing.T) {
	r := NewRegistry()
	_ = r.Create("c1", "call-1", "m1", false, false)

	var fired atomic.Bool
	if _, err := r.ArmRing("c1", 30*time.Millisecond, func(uint64) { fired.Store(true) }); err != nil {
		t.Fatalf("arm: %v", err)
	}
	r.Clear("c1")
	time.Sleep(80 * time.Millisecond)

	if fired.Load() {
		t.Fatalf("cleared session's timer fired")
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty registry")
	}
}

func TestKeyedMutex_SerializesPerKey(t *testing.T) {
	k := newKeyedMutex()

	var (
		wg      sync.WaitGroup
		inside  atomic.Int32
		overlap atomic.Bool
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("chat")
			defer unlock()
			if inside.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(100 * time.Microsecond)
			inside.Add(-1)
		}()
	}
	wg.Wait()

	if overlap.Load() {
		t.Fatalf("two holders inside the same key")
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if len(k.locks) != 0 {
		t.Fatalf("expected idle keys to be forgotten, got %d", len(k.locks))
	}
}

func TestKeyedMutex_UnlockIsIdempotent(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("a")
	unlock()
	unlock()

	done := make(chan struct{})
	go func() {
		k.Lock("a")()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("lock not released")
	}
}
