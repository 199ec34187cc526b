package reporting

import (
	"context"
	"sync"
	"time"

	"callbroker/internal/calls"
)

// MemoryRepo is a fixed set of sessions for tests.
type MemoryRepo struct {
	mu       sync.Mutex
	Sessions []calls.Session
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) ListSessions(_ context.Context, restaurantID, screenID string, from, to time.Time) ([]calls.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]calls.Session, 0)
	for _, s := range r.Sessions {
		if restaurantID != "" && s.RestaurantID != restaurantID {
			continue
		}
		if screenID != "" && s.CallerID != screenID {
			continue
		}
		if s.StartTime.Before(from) || !s.StartTime.Before(to) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}
