package calls

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory session store for tests and local runs.
type MemoryRepo struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{sessions: map[string]Session{}} }

func (r *MemoryRepo) Create(_ context.Context, s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.sessions[s.ID]; dup {
		return errors.New("calls: duplicate session id")
	}
	r.sessions[s.ID] = s
	return nil
}

func (r *MemoryRepo) Get(_ context.Context, id string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, ErrCallNotFound
	}
	return s, nil
}

func (r *MemoryRepo) OpenByCaller(_ context.Context, callerID string) ([]Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Session
	for _, s := range r.sessions {
		if s.CallerID == callerID && !s.Status.Terminal() {
			out = append(out, s)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *MemoryRepo) Transition(_ context.Context, id string, from []Status, u Update) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || !statusIn(s.Status, from) {
		return false, nil
	}
	s.Status = u.Status
	if u.EndTime != nil {
		s.EndTime = u.EndTime
	}
	if u.DurationSec != nil {
		s.DurationSec = u.DurationSec
	}
	if u.OrderNumber != "" {
		s.OrderNumber = u.OrderNumber
	}
	r.sessions[id] = s
	return true, nil
}

func (r *MemoryRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

func (r *MemoryRepo) List(_ context.Context, f ListFilter) ([]Session, int, error) {
	r.mu.Lock()
	var all []Session
	for _, s := range r.sessions {
		if f.matches(s) {
			all = append(all, s)
		}
	}
	r.mu.Unlock()

	sortNewestFirst(all)
	total := len(all)
	if f.Offset >= total {
		return []Session{}, total, nil
	}
	end := total
	if f.Limit > 0 && f.Offset+f.Limit < total {
		end = f.Offset + f.Limit
	}
	return all[f.Offset:end], total, nil
}

func (r *MemoryRepo) SetRecording(_ context.Context, id, ref string, size *int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return false, ErrCallNotFound
	}
	if s.RecordingRef != "" {
		return false, nil
	}
	s.RecordingRef = ref
	s.RecordingSize = size
	r.sessions[id] = s
	return true, nil
}

func statusIn(s Status, set []Status) bool {
	for _, x := range set {
		if x == s {
			return true
		}
	}
	return false
}

func sortNewestFirst(ss []Session) {
	sort.Slice(ss, func(i, j int) bool {
		if !ss[i].StartTime.Equal(ss[j].StartTime) {
			return ss[i].StartTime.After(ss[j].StartTime)
		}
		return ss[i].ID > ss[j].ID
	})
}
