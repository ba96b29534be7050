package signaling

import (
	"context"
	"fmt"
	"log/slog"

	"call-platform/internal/chat"
)

// Socket is one live client connection.
type Socket interface {
	ID() string
	UserID() string
	// Send queues f for delivery. It must not block on the network.
	Send(f Frame) error
}

// Directory resolves a user's currently connected sockets.
type Directory interface {
	Sockets(userID string) []Socket
}

// Options tune a single relay.
type Options struct {
	// IncludeSender also delivers to the sender's own sockets. Ignored for
	// negotiation kinds, which never reach the sender.
	IncludeSender bool
}

// Delivery summarizes one fan-out.
type Delivery struct {
	Members   int
	Sockets   int
	Delivered int
}

// Relay is stateless fan-out: chat members via the membership oracle, their
// sockets via the presence directory. Delivery is best-effort with no queueing
// or retry; an offline member simply misses the message.
//
// Per-sender FIFO holds as long as one sender's envelopes are relayed from a
// single goroutine, since Socket.Send only enqueues.
type Relay struct {
	members  chat.Membership
	presence Directory
	log      *slog.Logger
}

func NewRelay(members chat.Membership, presence Directory, log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{members: members, presence: presence, log: log}
}

func (r *Relay) Relay(ctx context.Context, env Envelope, opts Options) (Delivery, error) {
	frame, err := env.Frame()
	if err != nil {
		return Delivery{}, err
	}
	if err := ValidatePayload(env.Kind, env.Payload); err != nil {
		return Delivery{}, err
	}

	members, err := r.members.Members(ctx, env.ChatID)
	if err != nil {
		return Delivery{}, fmt.Errorf("signaling: resolve members of %s: %w", env.ChatID, err)
	}

	includeSender := opts.IncludeSender && !env.Kind.Negotiation()

	// A sender's user may hold several sockets; all of them count as the sender.
	senderUserID := ""
	for _, m := range members {
		if m.ID == env.FromMemberID {
			senderUserID = m.UserID
			break
		}
	}

	var out Delivery
	seen := map[string]struct{}{}
	for _, m := range members {
		if env.ToMemberID != "" && m.ID != env.ToMemberID {
			continue
		}
		isSender := m.ID == env.FromMemberID || (senderUserID != "" && m.UserID == senderUserID)
		if isSender && !includeSender {
			continue
		}
		out.Members++
		for _, s := range r.presence.Sockets(m.UserID) {
			if _, dup := seen[s.ID()]; dup {
				continue
			}
			seen[s.ID()] = struct{}{}
			out.Sockets++
			if err := s.Send(frame); err != nil {
				r.log.Debug("relay drop",
					"chat_id", env.ChatID,
					"call_id", env.CallID,
					"kind", string(env.Kind),
					"socket_id", s.ID(),
					"err", err,
				)
				continue
			}
			out.Delivered++
		}
	}
	return out, nil
}
