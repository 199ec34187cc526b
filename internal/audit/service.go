package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
// It is append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Reader serves the admin view of a restaurant's trail.
type Reader interface {
	ByRestaurant(ctx context.Context, restaurantID string) ([]Event, error)
}

// Service records operator interventions and automatic recoveries on
// restaurant locks. Callers treat it as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.RestaurantID == "" || e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogAdminAction records a manual lock release or restaurant reset.
func (s *Service) LogAdminAction(ctx context.Context, restaurantID, actorUserID, actorRole, ip, message, callID, metadata string) error {
	return s.Append(ctx, Event{
		RestaurantID: restaurantID,
		Type:         EventTypeAdminAction,
		ActorUserID:  actorUserID,
		ActorRole:    actorRole,
		IPAddress:    ip,
		CallID:       callID,
		Message:      message,
		Metadata:     metadata,
	})
}

// LogStaleCleanup records a session force-ended by the staleness sweep.
func (s *Service) LogStaleCleanup(ctx context.Context, restaurantID, callID, message string) error {
	return s.Append(ctx, Event{
		RestaurantID: restaurantID,
		Type:         EventTypeStaleCleanup,
		CallID:       callID,
		Message:      message,
	})
}
