package audit

import (
	"context"
	"sync"
)

// MemoryRepo keeps the audit trail in process, in append order. It backs
// tests and single-node local runs.
type MemoryRepo struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// ByRestaurant mirrors SQLRepo.ByRestaurant: one restaurant's interventions,
// oldest first.
func (r *MemoryRepo) ByRestaurant(_ context.Context, restaurantID string) ([]Event, error) {
	return r.filter(func(e Event) bool { return e.RestaurantID == restaurantID }), nil
}

// Events returns the whole trail.
func (r *MemoryRepo) Events() []Event {
	return r.filter(func(Event) bool { return true })
}

func (r *MemoryRepo) filter(keep func(Event) bool) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
