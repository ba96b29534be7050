package reporting

import (
	"context"
	"errors"
	"time"

	"call-platform/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
//
// Implementations must filter by chat and read call records, never live state.
type Repository interface {
	ListCalls(ctx context.Context, chatID string, from, to time.Time) ([]calls.Call, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.ChatID == "" {
		return CallsSummary{}, ErrInvalidRequest
	}
	if !req.Range.From.IsZero() && !req.Range.To.IsZero() && !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListCalls(ctx, req.ChatID, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{ChatID: req.ChatID}
	if !req.Range.From.IsZero() || !req.Range.To.IsZero() {
		r := req.Range
		out.Range = &r
	}
	ended, timed := 0, 0
	for _, c := range rows {
		out.TotalCalls++
		if c.IsVideo {
			out.VideoCalls++
		}
		if c.IsGroup {
			out.GroupCalls++
		}
		if c.DurationSeconds != nil {
			d := *c.DurationSeconds
			out.TotalDurationSeconds += d
			timed++
			if d > out.LongestDurationSeconds {
				out.LongestDurationSeconds = d
			}
		}
		if c.Status.IsTerminal() {
			ended++
		}
		switch c.Status {
		case calls.StatusCompleted:
			out.CompletedCalls++
		case calls.StatusDeclined:
			out.DeclinedCalls++
		case calls.StatusFailed:
			out.FailedCalls++
		case calls.StatusCanceled:
			out.CanceledCalls++
		case calls.StatusInProgress:
			out.InProgressCalls++
		case calls.StatusDialing:
			out.DialingCalls++
		}
	}
	if timed > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / timed
	}
	if ended > 0 {
		out.AnswerRate = float64(out.CompletedCalls) / float64(ended)
	}
	return out, nil
}
