package calls

import "time"

// Session is one call attempt between a caller screen and a restaurant.
//
// Status moves forward only:
//
//	INITIATED -> RINGING -> ACTIVE -> ENDED
//	INITIATED/RINGING -> MISSED | REJECTED
//
// Terminal sessions never change again, except that a recording may be
// attached once.
type Session struct {
	ID             string      `json:"id"`
	CallerID       string      `json:"screenId"`
	CallerName     string      `json:"screenName,omitempty"`
	RestaurantID   string      `json:"restaurantId"`
	RestaurantName string      `json:"restaurantName,omitempty"`
	Status         Status      `json:"status"`
	InitiatedBy    InitiatedBy `json:"initiatedBy"`
	StartTime      time.Time   `json:"startTime"`
	EndTime        *time.Time  `json:"endTime,omitempty"`
	DurationSec    *int        `json:"duration,omitempty"`
	OrderNumber    string      `json:"orderNumber,omitempty"`
	RecordingRef   string      `json:"recordingUrl,omitempty"`
	RecordingSize  *int64      `json:"recordingSize,omitempty"`
}

type Status string

const (
	StatusInitiated Status = "INITIATED"
	StatusRinging   Status = "RINGING"
	StatusActive    Status = "ACTIVE"
	StatusEnded     Status = "ENDED"
	StatusMissed    Status = "MISSED"
	StatusRejected  Status = "REJECTED"
)

// OpenStatuses are the non-terminal statuses.
var OpenStatuses = []Status{StatusInitiated, StatusRinging, StatusActive}

func (s Status) Valid() bool {
	switch s {
	case StatusInitiated, StatusRinging, StatusActive, StatusEnded, StatusMissed, StatusRejected:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusEnded || s == StatusMissed || s == StatusRejected
}

// allowedFrom lists the statuses a session may be in to move to s.
func allowedFrom(s Status) []Status {
	switch s {
	case StatusRinging:
		return []Status{StatusInitiated}
	case StatusActive:
		return []Status{StatusInitiated, StatusRinging}
	case StatusEnded:
		return []Status{StatusActive}
	case StatusMissed, StatusRejected:
		return []Status{StatusInitiated, StatusRinging}
	}
	return nil
}

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to Status) bool {
	for _, s := range allowedFrom(to) {
		if s == from {
			return true
		}
	}
	return false
}

type InitiatedBy string

const (
	InitiatedByScreen     InitiatedBy = "SCREEN"
	InitiatedByRestaurant InitiatedBy = "RESTAURANT"
)

func (b InitiatedBy) Valid() bool {
	return b == InitiatedByScreen || b == InitiatedByRestaurant
}

// Update is the set of columns a status change writes.
type Update struct {
	Status      Status
	EndTime     *time.Time
	DurationSec *int
	OrderNumber string
	UpdatedAt   time.Time
}

// ListFilter selects sessions for history pages. Zero values mean no filter.
type ListFilter struct {
	CallerID     string
	RestaurantID string
	From         time.Time
	To           time.Time
	Offset       int
	Limit        int
}

func (f ListFilter) matches(s Session) bool {
	if f.CallerID != "" && s.CallerID != f.CallerID {
		return false
	}
	if f.RestaurantID != "" && s.RestaurantID != f.RestaurantID {
		return false
	}
	if !f.From.IsZero() && s.StartTime.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && s.StartTime.After(f.To) {
		return false
	}
	return true
}

// Page is one page of call history.
type Page struct {
	Items      []Session `json:"items"`
	Total      int       `json:"total"`
	Page       int       `json:"page"`
	Limit      int       `json:"limit"`
	TotalPages int       `json:"totalPages"`
}
