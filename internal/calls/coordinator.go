package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"call-platform/internal/chat"
	"call-platform/internal/media"
	"call-platform/internal/signaling"

	"github.com/google/uuid"
)

const DefaultRingTimeout = 60 * time.Second

// Relayer delivers an envelope to a chat's connected members.
type Relayer interface {
	Relay(ctx context.Context, env signaling.Envelope, opts signaling.Options) (signaling.Delivery, error)
}

// Auditor records destructive call operations.
type Auditor interface {
	LogCallDeleted(ctx context.Context, chatID, callID, actorUserID, reason string) error
}

type Options struct {
	// RingTimeout bounds how long a call may stay dialing. Defaults to 60s.
	RingTimeout time.Duration
	// TimeoutStatus is the terminal status of an unanswered call: failed (default) or canceled.
	TimeoutStatus Status

	Guard  ActiveCallGuard
	Media  media.Rooms
	Audit  Auditor
	Logger *slog.Logger
}

// Result is the outcome of a lifecycle operation for the requesting member.
type Result struct {
	Call     Call         `json:"call"`
	MemberID string       `json:"member_id"`
	Grant    *media.Grant `json:"grant,omitempty"`
	// NoOp is set when the request raced with an earlier transition and changed nothing.
	NoOp bool `json:"no_op,omitempty"`
	// Deleted is set when the call row was hard-deleted.
	Deleted bool `json:"deleted,omitempty"`
}

// UpdatePatch is the mutable part of a live call.
type UpdatePatch struct {
	IsVideo *bool `json:"isVideo,omitempty"`
}

// Coordinator is the call state machine. It is the only writer of the session
// registry and of call status, and the only component that triggers system
// messages and lifecycle relays.
//
// Every transition runs as: lock chat, validate, commit to the store, update
// the registry, unlock, relay. Relays never happen under the chat lock.
type Coordinator struct {
	registry *Registry
	store    Repository
	members  chat.Membership
	messages chat.SystemMessages
	relay    Relayer

	guard ActiveCallGuard
	media media.Rooms
	audit Auditor
	log   *slog.Logger

	ringTimeout   time.Duration
	timeoutStatus Status
	clock         func() time.Time
}

func NewCoordinator(registry *Registry, store Repository, members chat.Membership, messages chat.SystemMessages, relay Relayer, opts Options) *Coordinator {
	if opts.RingTimeout <= 0 {
		opts.RingTimeout = DefaultRingTimeout
	}
	if opts.TimeoutStatus != StatusCanceled {
		opts.TimeoutStatus = StatusFailed
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &Coordinator{
		registry:      registry,
		store:         store,
		members:       members,
		messages:      messages,
		relay:         relay,
		guard:         opts.Guard,
		media:         opts.Media,
		audit:         opts.Audit,
		log:           opts.Logger,
		ringTimeout:   opts.RingTimeout,
		timeoutStatus: opts.TimeoutStatus,
		clock:         time.Now,
	}
}

// Initiate starts a dialing call in chatID on behalf of userID.
func (c *Coordinator) Initiate(ctx context.Context, chatID, userID string, isVideo, isGroup bool) (Result, error) {
	if chatID == "" || userID == "" {
		return Result{}, ErrInvalidArgument
	}
	member, err := c.member(ctx, chatID, userID)
	if err != nil {
		return Result{}, err
	}

	unlock := c.registry.Lock(chatID)
	call, out, err := c.initiateLocked(ctx, chatID, userID, member.ID, isVideo, isGroup)
	unlock()
	if err != nil {
		return Result{}, err
	}
	c.flush(ctx, out)

	c.log.Info("call initiated", "chat_id", chatID, "call_id", call.ID, "member_id", member.ID, "video", isVideo, "group", isGroup)
	return Result{Call: call, MemberID: member.ID, Grant: c.grant(ctx, call, member.ID)}, nil
}

func (c *Coordinator) initiateLocked(ctx context.Context, chatID, userID, memberID string, isVideo, isGroup bool) (Call, []outbound, error) {
	if _, live := c.registry.Get(chatID); live {
		return Call{}, nil, ErrAlreadyActive
	}
	if _, ok, err := c.store.FindActiveByChat(ctx, chatID); err != nil {
		return Call{}, nil, infra("find active call", err)
	} else if ok {
		return Call{}, nil, ErrAlreadyActive
	}

	callID := uuid.NewString()
	if c.guard != nil {
		ok, err := c.guard.Acquire(ctx, chatID, callID)
		if err != nil {
			return Call{}, nil, infra("acquire call guard", err)
		}
		if !ok {
			return Call{}, nil, ErrAlreadyActive
		}
	}

	call, err := c.store.CreateCall(ctx, Call{
		ID:                   callID,
		ChatID:               chatID,
		InitiatorID:          userID,
		InitiatorMemberID:    memberID,
		IsVideo:              isVideo,
		IsGroup:              isGroup,
		Status:               StatusDialing,
		StartedAt:            c.clock().UTC(),
		ParticipantMemberIDs: []string{memberID},
	})
	if err != nil {
		c.releaseGuard(ctx, chatID, callID)
		if errors.Is(err, ErrAlreadyActive) {
			return Call{}, nil, ErrAlreadyActive
		}
		return Call{}, nil, infra("create call", err)
	}

	if msgID, err := c.messages.CreateCallMessage(ctx, chatID, memberID, markerFor(call)); err != nil {
		c.log.Warn("call marker create failed", "chat_id", chatID, "call_id", callID, "err", err)
	} else if err := c.store.SetMessageID(ctx, callID, msgID); err != nil {
		c.log.Warn("call marker link failed", "chat_id", chatID, "call_id", callID, "err", err)
	} else {
		call.MessageID = msgID
	}

	if err := c.registry.Create(chatID, callID, memberID, isVideo, isGroup); err != nil {
		return Call{}, nil, err
	}
	if _, err := c.registry.ArmRing(chatID, c.ringTimeout, func(token uint64) { c.expire(chatID, callID, token) }); err != nil {
		return Call{}, nil, err
	}

	return call, []outbound{lifecycle(signaling.KindInitiated, memberID, noticeFor(call, ""))}, nil
}

// Accept admits userID into a ringing or running call. The first acceptor moves
// the call to in_progress; later acceptors join.
func (c *Coordinator) Accept(ctx context.Context, callID, chatID, userID string) (Result, error) {
	return c.admit(ctx, callID, chatID, userID, false)
}

// Join admits a late joiner into a call that is already in progress.
func (c *Coordinator) Join(ctx context.Context, callID, chatID, userID string) (Result, error) {
	return c.admit(ctx, callID, chatID, userID, true)
}

func (c *Coordinator) admit(ctx context.Context, callID, chatID, userID string, joinOnly bool) (Result, error) {
	if callID == "" || chatID == "" || userID == "" {
		return Result{}, ErrInvalidArgument
	}
	member, err := c.member(ctx, chatID, userID)
	if err != nil {
		return Result{}, err
	}

	unlock := c.registry.Lock(chatID)
	call, out, noop, err := c.admitLocked(ctx, callID, chatID, member.ID, joinOnly)
	unlock()
	c.flush(ctx, out)
	if err != nil {
		return Result{}, err
	}

	if !noop {
		c.log.Info("call member admitted", "chat_id", chatID, "call_id", callID, "member_id", member.ID, "status", string(call.Status))
	}
	return Result{Call: call, MemberID: member.ID, NoOp: noop, Grant: c.grant(ctx, call, member.ID)}, nil
}

func (c *Coordinator) admitLocked(ctx context.Context, callID, chatID, memberID string, joinOnly bool) (Call, []outbound, bool, error) {
	sess, ok := c.registry.Get(chatID)
	if !ok || sess.CallID != callID {
		return Call{}, nil, false, c.notLive(ctx, callID)
	}
	if joinOnly && !sess.Accepted {
		return Call{}, nil, false, fmt.Errorf("%w: call is still dialing", ErrInvalidTransition)
	}
	if sess.HasMember(memberID) {
		// Duplicate accept, e.g. from a second device.
		call, found, err := c.store.FindByID(ctx, callID)
		if err != nil {
			return Call{}, nil, false, infra("load call", err)
		}
		if !found {
			return Call{}, nil, false, ErrNotFound
		}
		return call, nil, true, nil
	}

	kind := signaling.KindJoined
	if !sess.Accepted {
		_, changed, err := c.store.UpdateStatus(ctx, callID, StatusInProgress, StatusPatch{})
		if err != nil {
			return Call{}, c.failLocked(ctx, sess, err), false, infra("accept call", err)
		}
		c.registry.DisarmRing(chatID)
		if _, err := c.registry.MarkAccepted(chatID); err != nil {
			return Call{}, nil, false, err
		}
		if changed {
			kind = signaling.KindAccepted
		}
	}

	call, err := c.store.AppendParticipant(ctx, callID, memberID)
	if err != nil {
		return Call{}, c.failLocked(ctx, sess, err), false, infra("append participant", err)
	}
	if _, err := c.registry.AddMember(chatID, memberID); err != nil {
		return Call{}, nil, false, err
	}
	if kind == signaling.KindAccepted {
		c.updateMarker(ctx, call)
	}
	return call, []outbound{lifecycle(kind, memberID, noticeFor(call, ""))}, false, nil
}

// Update changes shared call state (currently the video flag). Only current
// participants may update; every member including the sender receives the echo.
func (c *Coordinator) Update(ctx context.Context, callID, chatID, userID string, patch UpdatePatch) (Result, error) {
	if callID == "" || chatID == "" || userID == "" {
		return Result{}, ErrInvalidArgument
	}
	member, err := c.member(ctx, chatID, userID)
	if err != nil {
		return Result{}, err
	}

	unlock := c.registry.Lock(chatID)
	call, out, err := c.updateLocked(ctx, callID, chatID, member.ID, patch)
	unlock()
	c.flush(ctx, out)
	if err != nil {
		return Result{}, err
	}
	return Result{Call: call, MemberID: member.ID}, nil
}

func (c *Coordinator) updateLocked(ctx context.Context, callID, chatID, memberID string, patch UpdatePatch) (Call, []outbound, error) {
	sess, ok := c.registry.Get(chatID)
	if !ok || sess.CallID != callID {
		return Call{}, nil, c.notLive(ctx, callID)
	}
	if !sess.HasMember(memberID) {
		return Call{}, nil, ErrForbidden
	}
	if patch.IsVideo == nil {
		return Call{}, nil, fmt.Errorf("%w: empty update", ErrInvalidArgument)
	}
	call, err := c.store.SetVideo(ctx, callID, *patch.IsVideo)
	if err != nil {
		return Call{}, c.failLocked(ctx, sess, err), infra("update call", err)
	}
	if err := c.registry.SetVideo(chatID, *patch.IsVideo); err != nil {
		return Call{}, nil, err
	}
	return call, []outbound{lifecycle(signaling.KindUpdated, memberID, noticeFor(call, ""))}, nil
}

// UpdateMember publishes a participant's own media state. It lives only in the
// registry and is echoed to every member.
func (c *Coordinator) UpdateMember(ctx context.Context, callID, chatID, userID string, st MemberState) (Result, error) {
	if callID == "" || chatID == "" || userID == "" {
		return Result{}, ErrInvalidArgument
	}
	member, err := c.member(ctx, chatID, userID)
	if err != nil {
		return Result{}, err
	}

	unlock := c.registry.Lock(chatID)
	sess, ok := c.registry.Get(chatID)
	if !ok || sess.CallID != callID {
		unlock()
		return Result{}, c.notLive(ctx, callID)
	}
	if err := c.registry.SetMemberState(chatID, member.ID, st); err != nil {
		unlock()
		return Result{}, err
	}
	unlock()

	n := Notice{
		CallID:            callID,
		ChatID:            chatID,
		Status:            StatusInProgress,
		IsVideo:           sess.IsVideoCall,
		IsGroup:           sess.IsGroupCall,
		InitiatorMemberID: sess.InitiatorMemberID,
		Participants:      sess.MemberIDs,
		Member:            &st,
	}
	if !sess.Accepted {
		n.Status = StatusDialing
	}
	c.flush(ctx, []outbound{lifecycle(signaling.KindMemberUpdated, member.ID, n)})
	return Result{MemberID: member.ID, Call: Call{ID: callID, ChatID: chatID, Status: n.Status}}, nil
}

// Decline rejects a ringing call. A caller cancel before anyone accepted erases
// the call entirely; any other terminal decline keeps history. Declining a call
// that is no longer live is a no-op.
func (c *Coordinator) Decline(ctx context.Context, callID, chatID, userID string, isCallerCancel bool) (Result, error) {
	if callID == "" || chatID == "" || userID == "" {
		return Result{}, ErrInvalidArgument
	}
	member, err := c.member(ctx, chatID, userID)
	if err != nil {
		return Result{}, err
	}

	unlock := c.registry.Lock(chatID)
	res, out, err := c.declineLocked(ctx, callID, chatID, userID, member.ID, isCallerCancel)
	unlock()
	c.flush(ctx, out)
	if err != nil {
		return Result{}, err
	}
	res.MemberID = member.ID
	return res, nil
}

func (c *Coordinator) declineLocked(ctx context.Context, callID, chatID, userID, memberID string, isCallerCancel bool) (Result, []outbound, error) {
	sess, ok := c.registry.Get(chatID)
	if !ok || sess.CallID != callID {
		return c.noop(ctx, callID)
	}
	isInitiator := memberID == sess.InitiatorMemberID

	if isInitiator && isCallerCancel && !sess.Accepted {
		return c.cancelLocked(ctx, sess, userID)
	}
	if sess.Accepted {
		// The call is running; a decline from inside it is a hang-up.
		if !sess.HasMember(memberID) {
			return c.noop(ctx, callID)
		}
		return c.leaveLocked(ctx, sess, memberID)
	}

	if isInitiator {
		call, out, err := c.finishLocked(ctx, sess, StatusDeclined, memberID, "declined")
		return Result{Call: call}, out, err
	}

	// The chat size is read under the lock so it belongs to this session.
	chatSize := 2
	if sess.IsGroupCall {
		ms, err := c.members.Members(ctx, chatID)
		if err != nil {
			return Result{}, nil, infra("list chat members", err)
		}
		chatSize = len(ms)
	}
	declined, err := c.registry.MarkDeclined(chatID, memberID)
	if err != nil {
		return Result{}, nil, err
	}
	if declined >= chatSize-1 {
		call, out, err := c.finishLocked(ctx, sess, StatusDeclined, memberID, "declined")
		return Result{Call: call}, out, err
	}

	call, found, err := c.store.FindByID(ctx, callID)
	if err != nil {
		return Result{}, nil, infra("load call", err)
	}
	if !found {
		return Result{}, nil, ErrNotFound
	}
	return Result{Call: call}, []outbound{lifecycle(signaling.KindDeclined, memberID, noticeFor(call, "declined"))}, nil
}

// cancelLocked erases a call nobody else has observed yet: the row, its system
// message, and the registry entry.
func (c *Coordinator) cancelLocked(ctx context.Context, sess Session, actorUserID string) (Result, []outbound, error) {
	call, found, err := c.store.FindByID(ctx, sess.CallID)
	if err != nil {
		return Result{}, c.failLocked(ctx, sess, err), infra("load call", err)
	}
	if !found {
		c.registry.Clear(sess.ChatID)
		c.releaseGuard(ctx, sess.ChatID, sess.CallID)
		return Result{NoOp: true}, nil, nil
	}
	if err := c.store.HardDelete(ctx, sess.CallID); err != nil {
		return Result{}, c.failLocked(ctx, sess, err), infra("delete call", err)
	}
	c.registry.Clear(sess.ChatID)
	c.releaseGuard(ctx, sess.ChatID, sess.CallID)
	c.deleteMarker(ctx, call)
	if c.audit != nil {
		if err := c.audit.LogCallDeleted(ctx, call.ChatID, call.ID, actorUserID, "caller_cancel"); err != nil {
			c.log.Warn("audit append failed", "call_id", call.ID, "err", err)
		}
	}

	c.log.Info("call canceled", "chat_id", call.ChatID, "call_id", call.ID)
	call.Status = StatusCanceled
	call.ParticipantMemberIDs = nil
	return Result{Call: call, Deleted: true}, []outbound{lifecycle(signaling.KindHangup, sess.InitiatorMemberID, noticeFor(call, "canceled"))}, nil
}

// Hangup removes userID from the call. Hanging up a call that already ended is
// a no-op.
//
// A group call completes when its last participant leaves. A one-to-one call
// completes as soon as either side leaves, since one person cannot hold a
// call; it does not wait for the count to reach zero.
func (c *Coordinator) Hangup(ctx context.Context, callID, chatID, userID string) (Result, error) {
	if callID == "" || chatID == "" || userID == "" {
		return Result{}, ErrInvalidArgument
	}
	member, err := c.member(ctx, chatID, userID)
	if err != nil {
		return Result{}, err
	}

	unlock := c.registry.Lock(chatID)
	res, out, err := c.hangupLocked(ctx, callID, chatID, member.ID)
	unlock()
	c.flush(ctx, out)
	if err != nil {
		return Result{}, err
	}
	res.MemberID = member.ID
	return res, nil
}

func (c *Coordinator) hangupLocked(ctx context.Context, callID, chatID, memberID string) (Result, []outbound, error) {
	sess, ok := c.registry.Get(chatID)
	if !ok || sess.CallID != callID {
		return c.noop(ctx, callID)
	}
	if !sess.HasMember(memberID) {
		if !sess.Accepted {
			// A ringing member hanging up is declining.
			return c.declineLocked(ctx, callID, chatID, "", memberID, false)
		}
		return c.noop(ctx, callID)
	}
	if !sess.Accepted && memberID == sess.InitiatorMemberID {
		call, out, err := c.finishLocked(ctx, sess, StatusCanceled, memberID, "canceled")
		return Result{Call: call}, out, err
	}
	return c.leaveLocked(ctx, sess, memberID)
}

func (c *Coordinator) leaveLocked(ctx context.Context, sess Session, memberID string) (Result, []outbound, error) {
	call, err := c.store.RemoveParticipant(ctx, sess.CallID, memberID)
	if err != nil {
		return Result{}, c.failLocked(ctx, sess, err), infra("remove participant", err)
	}
	remaining, err := c.registry.RemoveMember(sess.ChatID, memberID)
	if err != nil {
		return Result{}, nil, err
	}
	if remaining == 0 || (!sess.IsGroupCall && remaining < 2) {
		call, out, err := c.finishLocked(ctx, sess, StatusCompleted, memberID, "")
		return Result{Call: call}, out, err
	}
	return Result{Call: call}, []outbound{lifecycle(signaling.KindLeft, memberID, noticeFor(call, ""))}, nil
}

// finishLocked applies a terminal status and tears down the live state. Side
// effects only fire when the store reports the transition actually happened.
func (c *Coordinator) finishLocked(ctx context.Context, sess Session, status Status, actorMemberID, reason string) (Call, []outbound, error) {
	ended := c.clock().UTC()
	call, changed, err := c.store.UpdateStatus(ctx, sess.CallID, status, StatusPatch{EndedAt: &ended})
	if err != nil {
		return Call{}, c.failLocked(ctx, sess, err), infra("finish call", err)
	}
	c.registry.Clear(sess.ChatID)
	c.releaseGuard(ctx, sess.ChatID, sess.CallID)
	if !changed {
		return call, nil, nil
	}
	c.updateMarker(ctx, call)
	c.log.Info("call ended", "chat_id", call.ChatID, "call_id", call.ID, "status", string(call.Status), "duration", derefInt(call.DurationSeconds))

	out := make([]outbound, 0, 2)
	if status == StatusDeclined {
		out = append(out, lifecycle(signaling.KindDeclined, actorMemberID, noticeFor(call, reason)))
	}
	out = append(out, lifecycle(signaling.KindHangup, actorMemberID, noticeFor(call, reason)))
	return call, out, nil
}

// failLocked is the best-effort response to an infrastructure error inside a
// transition: mark the call failed, drop the live state, tell everyone.
func (c *Coordinator) failLocked(ctx context.Context, sess Session, cause error) []outbound {
	c.log.Error("call transition failed", "chat_id", sess.ChatID, "call_id", sess.CallID, "err", cause)

	ended := c.clock().UTC()
	call, changed, err := c.store.UpdateStatus(ctx, sess.CallID, StatusFailed, StatusPatch{EndedAt: &ended})
	if err != nil {
		c.log.Error("mark call failed", "chat_id", sess.ChatID, "call_id", sess.CallID, "err", err)
		call = Call{
			ID:                sess.CallID,
			ChatID:            sess.ChatID,
			Status:            StatusFailed,
			IsVideo:           sess.IsVideoCall,
			IsGroup:           sess.IsGroupCall,
			InitiatorMemberID: sess.InitiatorMemberID,
			EndedAt:           &ended,
		}
	} else if changed {
		c.updateMarker(ctx, call)
	}
	c.registry.Clear(sess.ChatID)
	c.releaseGuard(ctx, sess.ChatID, sess.CallID)
	return []outbound{lifecycle(signaling.KindHangup, sess.InitiatorMemberID, noticeFor(call, "infrastructure_failure"))}
}

// expire runs when a ring timer fires. It only acts if the timer is still the
// armed one, so an accept that disarmed it a moment earlier wins.
func (c *Coordinator) expire(chatID, callID string, token uint64) {
	ctx := context.Background()
	unlock := c.registry.Lock(chatID)
	if !c.registry.RingArmed(chatID, token) {
		unlock()
		return
	}
	sess, ok := c.registry.Get(chatID)
	if !ok || sess.CallID != callID || sess.Accepted {
		unlock()
		return
	}
	_, out, err := c.finishLocked(ctx, sess, c.timeoutStatus, sess.InitiatorMemberID, "timeout")
	unlock()
	if err != nil {
		c.log.Error("ring timeout transition failed", "chat_id", chatID, "call_id", callID, "err", err)
	}
	c.flush(ctx, out)
}

// Disconnect hangs userID up from every live call it is taking part in. The
// gateway calls it once the user's last socket has closed; without it a call
// whose participants all dropped would stay live and block the chat. Calls the
// user is only being rung for are left to the ring timer. It returns how many
// calls the user was removed from.
func (c *Coordinator) Disconnect(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, ErrInvalidArgument
	}
	var errs []error
	left := 0
	for _, chatID := range c.registry.Chats() {
		member, err := c.members.Member(ctx, chatID, userID)
		if err != nil {
			if !errors.Is(err, chat.ErrNotMember) {
				errs = append(errs, infra("membership", err))
			}
			continue
		}

		unlock := c.registry.Lock(chatID)
		sess, ok := c.registry.Get(chatID)
		if !ok || !sess.HasMember(member.ID) {
			unlock()
			continue
		}
		res, out, err := c.hangupLocked(ctx, sess.CallID, chatID, member.ID)
		unlock()
		c.flush(ctx, out)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !res.NoOp {
			left++
			c.log.Info("member dropped from call", "chat_id", chatID, "call_id", sess.CallID, "member_id", member.ID, "status", string(res.Call.Status))
		}
	}
	return left, errors.Join(errs...)
}

// Signal relays a WebRTC negotiation message from a participant. It runs on
// the sender's read goroutine so per-sender order is preserved.
func (c *Coordinator) Signal(ctx context.Context, chatID, callID, userID, toMemberID string, kind signaling.Kind, payload []byte) error {
	if !kind.Negotiation() {
		return fmt.Errorf("%w: %s is not a negotiation kind", ErrInvalidArgument, kind)
	}
	member, err := c.member(ctx, chatID, userID)
	if err != nil {
		return err
	}
	sess, ok := c.registry.Get(chatID)
	if !ok || sess.CallID != callID {
		return ErrNotFound
	}
	if !sess.HasMember(member.ID) {
		return ErrForbidden
	}
	if toMemberID != "" && !sess.HasMember(toMemberID) {
		return fmt.Errorf("%w: target is not in the call", ErrNotFound)
	}
	if err := signaling.ValidatePayload(kind, payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	_, err = c.relay.Relay(ctx, signaling.Envelope{
		ChatID:       chatID,
		CallID:       callID,
		FromMemberID: member.ID,
		ToMemberID:   toMemberID,
		Kind:         kind,
		Payload:      payload,
	}, signaling.Options{})
	if err != nil {
		return infra("relay signal", err)
	}
	return nil
}

// End hangs userID up from callID and stores optional client stats. It is the
// REST entry point, which does not carry the chat id.
func (c *Coordinator) End(ctx context.Context, callID, userID string, stats *Stats) (Result, error) {
	call, found, err := c.store.FindByID(ctx, callID)
	if err != nil {
		return Result{}, infra("load call", err)
	}
	if !found {
		return Result{}, ErrNotFound
	}
	member, err := c.member(ctx, call.ChatID, userID)
	if err != nil {
		return Result{}, err
	}
	if !call.Attended(member.ID) {
		return Result{}, ErrForbidden
	}
	if stats != nil {
		if err := c.store.SaveStats(ctx, callID, *stats); err != nil {
			c.log.Warn("save call stats failed", "call_id", callID, "err", err)
		}
	}
	if call.Status.IsTerminal() {
		if stats != nil {
			if refreshed, ok, err := c.store.FindByID(ctx, callID); err == nil && ok {
				call = refreshed
			}
		}
		return Result{Call: call, MemberID: member.ID, NoOp: true}, nil
	}
	return c.Hangup(ctx, callID, call.ChatID, userID)
}

// Delete hard-deletes a call on behalf of its initiator, tearing down live
// state first if the call is still running.
func (c *Coordinator) Delete(ctx context.Context, callID, userID string) error {
	call, found, err := c.store.FindByID(ctx, callID)
	if err != nil {
		return infra("load call", err)
	}
	if !found {
		return ErrNotFound
	}
	if call.InitiatorID != userID {
		return ErrForbidden
	}

	unlock := c.registry.Lock(call.ChatID)
	var out []outbound
	if sess, ok := c.registry.Get(call.ChatID); ok && sess.CallID == callID {
		c.registry.Clear(call.ChatID)
		c.releaseGuard(ctx, call.ChatID, callID)
		ended := call
		ended.Status = StatusCanceled
		ended.ParticipantMemberIDs = nil
		out = append(out, lifecycle(signaling.KindHangup, call.InitiatorMemberID, noticeFor(ended, "deleted")))
	}
	err = c.store.HardDelete(ctx, callID)
	unlock()
	if err != nil && !errors.Is(err, ErrNotFound) {
		return infra("delete call", err)
	}
	c.flush(ctx, out)

	c.deleteMarker(ctx, call)
	if c.audit != nil {
		if err := c.audit.LogCallDeleted(ctx, call.ChatID, call.ID, userID, "initiator_delete"); err != nil {
			c.log.Warn("audit append failed", "call_id", call.ID, "err", err)
		}
	}
	return nil
}

// Active returns the live call for chatID, if any.
func (c *Coordinator) Active(ctx context.Context, chatID, userID string) (Call, error) {
	if _, err := c.member(ctx, chatID, userID); err != nil {
		return Call{}, err
	}
	sess, ok := c.registry.Get(chatID)
	if !ok {
		return Call{}, ErrNoActiveCall
	}
	call, found, err := c.store.FindByID(ctx, sess.CallID)
	if err != nil {
		return Call{}, infra("load call", err)
	}
	if !found || call.Status.IsTerminal() {
		return Call{}, ErrNoActiveCall
	}
	return call, nil
}

// Recover rebuilds the registry from calls the store still considers live,
// typically after a restart. Dialing calls still inside their ring window are
// restored with a fresh timer. Everything else is failed: a running call's
// sockets died with the old process and nobody is left to hang it up.
func (c *Coordinator) Recover(ctx context.Context) (restored, failed int, err error) {
	live, err := c.store.ListActive(ctx)
	if err != nil {
		return 0, 0, infra("list active calls", err)
	}
	now := c.clock()
	for _, call := range live {
		unlock := c.registry.Lock(call.ChatID)
		ok := c.restoreLocked(ctx, call, now)
		unlock()
		if ok {
			restored++
		} else {
			failed++
		}
	}
	if restored+failed > 0 {
		c.log.Info("call registry recovered", "restored", restored, "failed", failed)
	}
	return restored, failed, nil
}

func (c *Coordinator) restoreLocked(ctx context.Context, call Call, now time.Time) bool {
	ringLeft := c.ringTimeout - now.Sub(call.StartedAt)
	if call.Status == StatusDialing && ringLeft > 0 {
		if err := c.registry.Create(call.ChatID, call.ID, call.InitiatorMemberID, call.IsVideo, call.IsGroup); err != nil {
			c.log.Warn("restore call skipped", "chat_id", call.ChatID, "call_id", call.ID, "err", err)
			return false
		}
		if !call.HasParticipant(call.InitiatorMemberID) {
			_, _ = c.registry.RemoveMember(call.ChatID, call.InitiatorMemberID)
		}
		for _, id := range call.ParticipantMemberIDs {
			_, _ = c.registry.AddMember(call.ChatID, id)
		}
		if c.guard != nil {
			if _, err := c.guard.Acquire(ctx, call.ChatID, call.ID); err != nil {
				c.log.Warn("restore call guard failed", "chat_id", call.ChatID, "call_id", call.ID, "err", err)
			}
		}
		chatID, callID := call.ChatID, call.ID
		if _, err := c.registry.ArmRing(chatID, ringLeft, func(token uint64) { c.expire(chatID, callID, token) }); err != nil {
			c.log.Warn("restore ring timer failed", "chat_id", chatID, "call_id", callID, "err", err)
		}
		return true
	}

	ended := now.UTC()
	updated, changed, err := c.store.UpdateStatus(ctx, call.ID, StatusFailed, StatusPatch{EndedAt: &ended})
	if err != nil {
		c.log.Error("fail stale call", "chat_id", call.ChatID, "call_id", call.ID, "err", err)
		return false
	}
	c.releaseGuard(ctx, call.ChatID, call.ID)
	if changed {
		c.updateMarker(ctx, updated)
	}
	return false
}

// Session exposes a snapshot of the chat's live state.
func (c *Coordinator) Session(chatID string) (Session, bool) {
	return c.registry.Get(chatID)
}

func (c *Coordinator) member(ctx context.Context, chatID, userID string) (chat.Member, error) {
	m, err := c.members.Member(ctx, chatID, userID)
	if err != nil {
		if errors.Is(err, chat.ErrNotMember) {
			return chat.Member{}, ErrForbidden
		}
		return chat.Member{}, infra("membership", err)
	}
	return m, nil
}

// notLive explains why callID has no live session: it ended, or never existed.
func (c *Coordinator) notLive(ctx context.Context, callID string) error {
	call, found, err := c.store.FindByID(ctx, callID)
	if err != nil {
		return infra("load call", err)
	}
	if found && call.Status.IsTerminal() {
		return fmt.Errorf("%w: call is %s", ErrInvalidTransition, call.Status)
	}
	return ErrNotFound
}

func (c *Coordinator) noop(ctx context.Context, callID string) (Result, []outbound, error) {
	call, _, err := c.store.FindByID(ctx, callID)
	if err != nil {
		c.log.Warn("load call for no-op", "call_id", callID, "err", err)
	}
	return Result{Call: call, NoOp: true}, nil, nil
}

func (c *Coordinator) grant(ctx context.Context, call Call, memberID string) *media.Grant {
	if c.media == nil || call.Status.IsTerminal() {
		return nil
	}
	g, err := c.media.Grant(ctx, call.ID, memberID, call.IsVideo)
	if err != nil {
		c.log.Warn("media grant failed", "call_id", call.ID, "member_id", memberID, "err", err)
		return nil
	}
	return &g
}

func (c *Coordinator) updateMarker(ctx context.Context, call Call) {
	if call.MessageID == "" {
		return
	}
	if err := c.messages.UpdateCallMessage(ctx, call.MessageID, markerFor(call)); err != nil {
		c.log.Warn("call marker update failed", "call_id", call.ID, "message_id", call.MessageID, "err", err)
	}
}

func (c *Coordinator) deleteMarker(ctx context.Context, call Call) {
	if call.MessageID == "" {
		return
	}
	if err := c.messages.DeleteMessage(ctx, call.MessageID); err != nil && !errors.Is(err, chat.ErrMessageNotFound) {
		c.log.Warn("call marker delete failed", "call_id", call.ID, "message_id", call.MessageID, "err", err)
	}
}

func (c *Coordinator) releaseGuard(ctx context.Context, chatID, callID string) {
	if c.guard == nil {
		return
	}
	if err := c.guard.Release(ctx, chatID, callID); err != nil {
		c.log.Warn("release call guard failed", "chat_id", chatID, "call_id", callID, "err", err)
	}
}

// flush relays outbound envelopes after the chat lock has been released.
func (c *Coordinator) flush(ctx context.Context, out []outbound) {
	if len(out) == 0 || c.relay == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, o := range out {
		if _, err := c.relay.Relay(ctx, o.env, o.opts); err != nil {
			c.log.Warn("relay failed", "chat_id", o.env.ChatID, "call_id", o.env.CallID, "kind", string(o.env.Kind), "err", err)
		}
	}
}

func infra(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrInfrastructure, op, err)
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
