package calls

import "callbroker/internal/directory"

// Realtime event names emitted by the orchestrator.
const (
	EventCallIncoming     = "call:incoming"
	EventCallStatus       = "call:status"
	EventCallAccepted     = "call:accepted"
	EventCallEnded        = "call:ended"
	EventQueuePosition    = "queue:positionUpdate"
	EventAdminCallStarted = "admin:call-started"
	EventAdminCallEnded   = "admin:call-ended"
	EventRestaurantStatus = "admin:restaurant-status"
)

type IncomingPayload struct {
	CallID       string  `json:"callId"`
	RestaurantID string  `json:"restaurantId"`
	ScreenID     string  `json:"screenId"`
	ScreenName   string  `json:"screenName,omitempty"`
	Session      Session `json:"session"`
}

// CallStatusPayload reports progress of a call request to the caller.
// Status is a session status or one of BUSY / FAILED.
type CallStatusPayload struct {
	Status       string `json:"status"`
	CallID       string `json:"callId,omitempty"`
	RestaurantID string `json:"restaurantId"`
	Position     int    `json:"position,omitempty"`
	Code         string `json:"code,omitempty"`
	Message      string `json:"message,omitempty"`
}

type AcceptedPayload struct {
	CallID       string `json:"callId"`
	RestaurantID string `json:"restaurantId"`
	ScreenID     string `json:"screenId"`
}

type EndedPayload struct {
	CallID       string `json:"callId"`
	RestaurantID string `json:"restaurantId"`
	ScreenID     string `json:"screenId"`
	Status       Status `json:"status"`
	OrderNumber  string `json:"orderNumber,omitempty"`
	DurationSec  *int   `json:"duration,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

type QueuePositionPayload struct {
	RestaurantID string `json:"restaurantId"`
	Position     int    `json:"position"`
	QueueLength  int    `json:"queueLength,omitempty"`
}

type AdminCallPayload struct {
	Session Session `json:"session"`
}

type RestaurantStatusPayload struct {
	RestaurantID string                     `json:"restaurantId"`
	Status       directory.RestaurantStatus `json:"status"`
}
