// Package queue implements the per-restaurant FIFO wait list of callers.
package queue

import (
	"errors"
	"time"
)

// DefaultPrefix namespaces queue keys in the shared store.
const DefaultPrefix = "restaurant:queue:"

var ErrInvalidEntry = errors.New("queue: invalid entry")

// Entry is one waiting caller. Entries are stored as JSON so any process
// sharing the store can read them.
type Entry struct {
	RestaurantID string    `json:"restaurantId"`
	CallerID     string    `json:"callerId"`
	CallerLabel  string    `json:"callerLabel"`
	EnqueuedAt   time.Time `json:"enqueuedAt"`
}

func (e Entry) validate() error {
	if e.RestaurantID == "" || e.CallerID == "" {
		return ErrInvalidEntry
	}
	return nil
}
