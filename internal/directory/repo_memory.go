package directory

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory directory useful for tests.
type MemoryRepo struct {
	mu          sync.Mutex
	restaurants map[string]Restaurant
	screens     map[string]Screen
	assigned    map[string]map[string]struct{} // screen id -> restaurant ids
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		restaurants: map[string]Restaurant{},
		screens:     map[string]Screen{},
		assigned:    map[string]map[string]struct{}{},
	}
}

func (r *MemoryRepo) PutRestaurant(_ context.Context, rest Restaurant) error {
	if rest.Status == "" {
		rest.Status = StatusAvailable
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.restaurants[rest.ID] = rest
	return nil
}

func (r *MemoryRepo) PutScreen(_ context.Context, s Screen, restaurantIDs ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.screens[s.ID] = s
	set := r.assigned[s.ID]
	if set == nil {
		set = map[string]struct{}{}
		r.assigned[s.ID] = set
	}
	for _, id := range restaurantIDs {
		set[id] = struct{}{}
	}
	return nil
}

func (r *MemoryRepo) Restaurant(_ context.Context, id string) (Restaurant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rest, ok := r.restaurants[id]
	if !ok {
		return Restaurant{}, ErrNotFound
	}
	return rest, nil
}

func (r *MemoryRepo) Screen(_ context.Context, id string) (Screen, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.screens[id]
	if !ok {
		return Screen{}, ErrNotFound
	}
	return s, nil
}

func (r *MemoryRepo) AssignedScreens(_ context.Context, restaurantID string) ([]Screen, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Screen
	for sid, set := range r.assigned {
		if _, ok := set[restaurantID]; ok {
			out = append(out, r.screens[sid])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepo) ScreenRestaurants(_ context.Context, screenID string) ([]Restaurant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Restaurant
	for rid := range r.assigned[screenID] {
		if rest, ok := r.restaurants[rid]; ok {
			out = append(out, rest)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepo) ListRestaurants(_ context.Context) ([]Restaurant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Restaurant, 0, len(r.restaurants))
	for _, rest := range r.restaurants {
		out = append(out, rest)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepo) ListScreens(_ context.Context) ([]Screen, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Screen, 0, len(r.screens))
	for _, s := range r.screens {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepo) SetRestaurantStatus(_ context.Context, id string, status RestaurantStatus) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rest, ok := r.restaurants[id]
	if !ok {
		return ErrNotFound
	}
	rest.Status = status
	r.restaurants[id] = rest
	return nil
}
