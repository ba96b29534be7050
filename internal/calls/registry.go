package calls

import (
	"sort"
	"sync"
	"time"
)

// MemberState is the ephemeral media state a participant publishes.
type MemberState struct {
	IsMuted         bool `json:"isMuted"`
	IsVideoOn       bool `json:"isVideoOn"`
	IsScreenSharing bool `json:"isScreenSharing"`
}

// Session is a snapshot of a live call's volatile state.
type Session struct {
	ChatID            string
	CallID            string
	InitiatorMemberID string
	IsVideoCall       bool
	IsGroupCall       bool
	RingingSince      time.Time
	Accepted          bool

	MemberIDs []string
	Members   map[string]MemberState
	Declined  []string
}

func (s Session) HasMember(memberID string) bool {
	_, ok := s.Members[memberID]
	return ok
}

type session struct {
	chatID            string
	callID            string
	initiatorMemberID string
	isVideo           bool
	isGroup           bool
	ringingSince      time.Time
	accepted          bool

	members  map[string]MemberState
	declined map[string]struct{}

	ring      *time.Timer
	ringToken uint64
}

func (s *session) snapshot() Session {
	out := Session{
		ChatID:            s.chatID,
		CallID:            s.callID,
		InitiatorMemberID: s.initiatorMemberID,
		IsVideoCall:       s.isVideo,
		IsGroupCall:       s.isGroup,
		RingingSince:      s.ringingSince,
		Accepted:          s.accepted,
		MemberIDs:         make([]string, 0, len(s.members)),
		Members:           make(map[string]MemberState, len(s.members)),
		Declined:          make([]string, 0, len(s.declined)),
	}
	for id, st := range s.members {
		out.MemberIDs = append(out.MemberIDs, id)
		out.Members[id] = st
	}
	for id := range s.declined {
		out.Declined = append(out.Declined, id)
	}
	sort.Strings(out.MemberIDs)
	sort.Strings(out.Declined)
	return out
}

// Registry maps chat id to the volatile state of that chat's live call.
//
// An entry exists iff a non-terminal call row exists for the chat. Callers that
// need check-then-act semantics hold Lock(chatID) around the sequence; the
// registry's own mutex only guards the map. Unrelated chats never contend on
// the per-chat locks.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*session
	nextRing uint64

	locks *keyedMutex
	clock func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: map[string]*session{},
		locks:    newKeyedMutex(),
		clock:    time.Now,
	}
}

// Lock serializes state transitions for one chat and returns the unlock func.
func (r *Registry) Lock(chatID string) func() {
	return r.locks.Lock(chatID)
}

func (r *Registry) Create(chatID, callID, initiatorMemberID string, isVideo, isGroup bool) error {
	if chatID == "" || callID == "" || initiatorMemberID == "" {
		return ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[chatID]; ok {
		return ErrAlreadyActive
	}
	r.sessions[chatID] = &session{
		chatID:            chatID,
		callID:            callID,
		initiatorMemberID: initiatorMemberID,
		isVideo:           isVideo,
		isGroup:           isGroup,
		ringingSince:      r.clock().UTC(),
		members:           map[string]MemberState{initiatorMemberID: {IsVideoOn: isVideo}},
		declined:          map[string]struct{}{},
	}
	return nil
}

// AddMember returns false when the member was already present.
func (r *Registry) AddMember(chatID, memberID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[chatID]
	if !ok {
		return false, ErrNoActiveCall
	}
	if _, ok := s.members[memberID]; ok {
		return false, nil
	}
	s.members[memberID] = MemberState{IsVideoOn: s.isVideo}
	delete(s.declined, memberID)
	return true, nil
}

// RemoveMember returns how many members remain in the call.
func (r *Registry) RemoveMember(chatID, memberID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[chatID]
	if !ok {
		return 0, ErrNoActiveCall
	}
	delete(s.members, memberID)
	return len(s.members), nil
}

func (r *Registry) Get(chatID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[chatID]
	if !ok {
		return Session{}, false
	}
	return s.snapshot(), true
}

// Chats lists the chats that currently have a live call, sorted.
func (r *Registry) Chats() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	r.mu.Unlock()
	sort.Strings(out)
	return out
}

// Clear drops the chat's entry and stops its ring timer, if any.
func (r *Registry) Clear(chatID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[chatID]
	if !ok {
		return
	}
	stopRing(s)
	delete(r.sessions, chatID)
}

// MarkAccepted flips the session to accepted and reports whether this call did it.
func (r *Registry) MarkAccepted(chatID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[chatID]
	if !ok {
		return false, ErrNoActiveCall
	}
	if s.accepted {
		return false, nil
	}
	s.accepted = true
	return true, nil
}

// MarkDeclined records a member's decline and returns the number of distinct decliners.
func (r *Registry) MarkDeclined(chatID, memberID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[chatID]
	if !ok {
		return 0, ErrNoActiveCall
	}
	s.declined[memberID] = struct{}{}
	return len(s.declined), nil
}

func (r *Registry) SetVideo(chatID string, isVideo bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[chatID]
	if !ok {
		return ErrNoActiveCall
	}
	s.isVideo = isVideo
	return nil
}

func (r *Registry) SetMemberState(chatID, memberID string, st MemberState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[chatID]
	if !ok {
		return ErrNoActiveCall
	}
	if _, ok := s.members[memberID]; !ok {
		return ErrForbidden
	}
	s.members[memberID] = st
	return nil
}

// ArmRing starts the ring timer for the chat's call. fire receives the token
// that must still be armed (see RingArmed) for the expiry to take effect.
func (r *Registry) ArmRing(chatID string, d time.Duration, fire func(token uint64)) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[chatID]
	if !ok {
		return 0, ErrNoActiveCall
	}
	stopRing(s)
	r.nextRing++
	token := r.nextRing
	s.ringToken = token
	s.ring = time.AfterFunc(d, func() { fire(token) })
	return token, nil
}

// DisarmRing stops the ring timer and reports whether one was armed.
func (r *Registry) DisarmRing(chatID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[chatID]
	if !ok {
		return false
	}
	return stopRing(s)
}

// RingArmed reports whether token is the chat's current, undisarmed ring timer.
func (r *Registry) RingArmed(chatID string, token uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[chatID]
	if !ok {
		return false
	}
	return token != 0 && s.ringToken == token
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func stopRing(s *session) bool {
	if s.ringToken == 0 {
		return false
	}
	if s.ring != nil {
		s.ring.Stop()
	}
	s.ring = nil
	s.ringToken = 0
	return true
}

// keyedMutex hands out one mutex per key and forgets it when nobody holds or waits on it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: map[string]*refMutex{}}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Unlock()
			k.mu.Lock()
			m.refs--
			if m.refs == 0 {
				delete(k.locks, key)
			}
			k.mu.Unlock()
		})
	}
}
