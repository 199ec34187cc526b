package lock

import (
	"context"
	"sync"
	"time"
)

// Memory is a single-process lock manager for tests and local runs.
type Memory struct {
	mu    sync.Mutex
	locks map[string]memEntry
	clock func() time.Time
}

type memEntry struct {
	holder  string
	expires time.Time
}

func NewMemory() *Memory {
	return &Memory{locks: map[string]memEntry{}, clock: time.Now}
}

// SetClock replaces the time source used for expiry.
func (m *Memory) SetClock(clock func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = clock
}

// live returns the unexpired entry for resource. Callers hold m.mu.
func (m *Memory) live(resource string) (memEntry, bool) {
	e, ok := m.locks[resource]
	if !ok {
		return memEntry{}, false
	}
	if !m.clock().Before(e.expires) {
		delete(m.locks, resource)
		return memEntry{}, false
	}
	return e, true
}

func (m *Memory) Acquire(_ context.Context, resource, holder string, ttl time.Duration) (bool, error) {
	if err := validate(resource, holder, ttl); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.live(resource); held {
		return false, nil
	}
	m.locks[resource] = memEntry{holder: holder, expires: m.clock().Add(ttl)}
	return true, nil
}

func (m *Memory) Release(_ context.Context, resource, holder string) (bool, error) {
	if resource == "" || holder == "" {
		return false, ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, held := m.live(resource)
	if !held || e.holder != holder {
		return false, nil
	}
	delete(m.locks, resource)
	return true, nil
}

func (m *Memory) Extend(_ context.Context, resource, holder string, ttl time.Duration) (bool, error) {
	if err := validate(resource, holder, ttl); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, held := m.live(resource)
	if !held || e.holder != holder {
		return false, nil
	}
	e.expires = m.clock().Add(ttl)
	m.locks[resource] = e
	return true, nil
}

func (m *Memory) ForceRelease(_ context.Context, resource string) error {
	if resource == "" {
		return ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, resource)
	return nil
}

func (m *Memory) IsLocked(_ context.Context, resource string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, held := m.live(resource)
	return held, nil
}

func (m *Memory) Holder(_ context.Context, resource string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, held := m.live(resource)
	return e.holder, held, nil
}
