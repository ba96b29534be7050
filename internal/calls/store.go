package calls

import (
	"context"
	"fmt"
)

// Repository is the durable call record store.
//
// UpdateStatus to a terminal status is idempotent: once a row is terminal, later
// calls return it unchanged with changed=false, so callers trigger side effects
// only on changed=true. Rows are never deleted except through HardDelete, which
// is reserved for the caller-cancel-before-accept path.
type Repository interface {
	CreateCall(ctx context.Context, c Call) (Call, error)
	FindActiveByChat(ctx context.Context, chatID string) (Call, bool, error)
	FindByID(ctx context.Context, id string) (Call, bool, error)
	UpdateStatus(ctx context.Context, id string, status Status, patch StatusPatch) (call Call, changed bool, err error)
	SetVideo(ctx context.Context, id string, isVideo bool) (Call, error)
	SetMessageID(ctx context.Context, id, messageID string) error
	SaveStats(ctx context.Context, id string, stats Stats) error
	AppendParticipant(ctx context.Context, id, memberID string) (Call, error)
	RemoveParticipant(ctx context.Context, id, memberID string) (Call, error)
	HardDelete(ctx context.Context, id string) error
	History(ctx context.Context, chatID string, q HistoryQuery) ([]Call, error)
	ListActive(ctx context.Context) ([]Call, error)
}

// checkTransition enforces the status machine:
// dialing -> in_progress | completed | declined | canceled | failed
// in_progress -> completed | failed
func checkTransition(from, to Status) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, to)
	}
	switch from {
	case StatusDialing:
		if to == StatusDialing {
			break
		}
		return nil
	case StatusInProgress:
		if to == StatusCompleted || to == StatusFailed {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
