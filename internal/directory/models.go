// Package directory is the read side of restaurants, screens and their
// assignments, plus the restaurant availability flag.
package directory

import "errors"

type RestaurantStatus string

const (
	StatusAvailable RestaurantStatus = "AVAILABLE"
	StatusBusy      RestaurantStatus = "BUSY"
	StatusOffline   RestaurantStatus = "OFFLINE"
)

func (s RestaurantStatus) Valid() bool {
	switch s {
	case StatusAvailable, StatusBusy, StatusOffline:
		return true
	}
	return false
}

type Restaurant struct {
	ID     string           `json:"id"`
	Name   string           `json:"name"`
	Status RestaurantStatus `json:"status"`
}

type Screen struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
}

var (
	ErrNotFound      = errors.New("directory: not found")
	ErrInvalidStatus = errors.New("directory: invalid status")
)
