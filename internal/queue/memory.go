package queue

import (
	"context"
	"sync"
)

// Memory is a single-process queue for tests and local runs.
type Memory struct {
	mu     sync.Mutex
	queues map[string][]Entry
}

func NewMemory() *Memory { return &Memory{queues: map[string][]Entry{}} }

func (q *Memory) Enqueue(_ context.Context, e Entry) (int, error) {
	if err := e.validate(); err != nil {
		return 0, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.queues[e.RestaurantID]
	for i, it := range items {
		if it.CallerID == e.CallerID {
			return i + 1, nil
		}
	}
	q.queues[e.RestaurantID] = append(items, e)
	return len(items) + 1, nil
}

func (q *Memory) Dequeue(_ context.Context, restaurantID string) (Entry, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.queues[restaurantID]
	if len(items) == 0 {
		return Entry{}, false, nil
	}
	head := items[0]
	q.queues[restaurantID] = items[1:]
	return head, true, nil
}

func (q *Memory) PushFront(_ context.Context, e Entry) error {
	if err := e.validate(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queues[e.RestaurantID] = append([]Entry{e}, q.queues[e.RestaurantID]...)
	return nil
}

func (q *Memory) PositionOf(_ context.Context, restaurantID, callerID string) (int, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, it := range q.queues[restaurantID] {
		if it.CallerID == callerID {
			return i + 1, true, nil
		}
	}
	return 0, false, nil
}

func (q *Memory) Remove(_ context.Context, restaurantID, callerID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.queues[restaurantID]
	for i, it := range items {
		if it.CallerID == callerID {
			q.queues[restaurantID] = append(items[:i:i], items[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (q *Memory) List(_ context.Context, restaurantID string) ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, len(q.queues[restaurantID]))
	copy(out, q.queues[restaurantID])
	return out, nil
}

func (q *Memory) Len(_ context.Context, restaurantID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[restaurantID]), nil
}
