package reporting

import (
	"context"
	"errors"
	"time"

	"callbroker/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting. Sessions are returned
// whatever their status; terminal ones are immutable.
type Repository interface {
	ListSessions(ctx context.Context, restaurantID, screenID string, from, to time.Time) ([]calls.Session, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func validRange(r TimeRange) bool {
	return !r.From.IsZero() && !r.To.IsZero() && r.To.After(r.From)
}

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if !validRange(req.Range) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListSessions(ctx, req.RestaurantID, req.ScreenID, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{RestaurantID: req.RestaurantID, ScreenID: req.ScreenID}
	for _, c := range rows {
		out.TotalCalls++
		if c.RecordingRef != "" {
			out.RecordedCalls++
		}
		if c.OrderNumber != "" {
			out.OrdersTaken++
		}
		switch c.Status {
		case calls.StatusEnded:
			out.EndedCalls++
			if c.DurationSec != nil {
				out.TotalDurationSeconds += *c.DurationSec
			}
		case calls.StatusMissed:
			out.MissedCalls++
		case calls.StatusRejected:
			out.RejectedCalls++
		default:
			out.OpenCalls++
		}
	}
	if out.EndedCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.EndedCalls
	}
	return out, nil
}

// AnswerMetrics counts a call as answered once it reached ACTIVE.
func (s *Service) AnswerMetrics(ctx context.Context, restaurantID string, r TimeRange) (AnswerMetrics, error) {
	if restaurantID == "" || !validRange(r) {
		return AnswerMetrics{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return AnswerMetrics{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListSessions(ctx, restaurantID, "", r.From, r.To)
	if err != nil {
		return AnswerMetrics{}, err
	}

	out := AnswerMetrics{RestaurantID: restaurantID, CallsAttempted: len(rows)}
	for _, c := range rows {
		if c.Status == calls.StatusEnded || c.Status == calls.StatusActive {
			out.CallsAnswered++
		}
		if c.OrderNumber != "" {
			out.OrdersTaken++
		}
	}
	if out.CallsAttempted > 0 {
		out.AnswerRate = float64(out.CallsAnswered) / float64(out.CallsAttempted)
	}
	if out.CallsAnswered > 0 {
		out.OrderRate = float64(out.OrdersTaken) / float64(out.CallsAnswered)
	}
	return out, nil
}
