package realtime

import (
	"encoding/json"

	"callbroker/internal/directory"
	"callbroker/internal/presence"
)

// Inbound event names.
const (
	evJoin          = "join"
	evLeave         = "leave"
	evPresenceSync  = "presence:sync"
	evCallRequest   = "call:request"
	evCallAccept    = "call:accept"
	evCallReject    = "call:reject"
	evCallCancel    = "call:cancel"
	evCallEnd       = "call:end"
	evQueueLeave    = "queue:leave"
	evStatusRequest = "globalStatusRequest"
)

// Outbound event names owned by the gateway. Call events come from the
// orchestrator.
const (
	EventPresenceOnline  = "presence:online"
	EventPresenceOffline = "presence:offline"
	EventStatusResponse  = "globalStatusResponse"
	EventJoined          = "joined"
	EventError           = "error"
)

type joinRequest struct {
	PartyType presence.PartyType `json:"partyType"`
	PartyID   string             `json:"partyId"`
}

type callRequest struct {
	RestaurantID string `json:"restaurantId"`
	ScreenID     string `json:"screenId,omitempty"`
}

type callRef struct {
	CallID      string `json:"callId"`
	OrderNumber string `json:"orderNumber,omitempty"`
}

type queueLeaveRequest struct {
	RestaurantID string `json:"restaurantId"`
	ScreenID     string `json:"screenId,omitempty"`
}

type signalRequest struct {
	TargetType presence.PartyType `json:"targetType"`
	TargetID   string             `json:"targetId"`
	CallID     string             `json:"callId"`
	Payload    json.RawMessage    `json:"payload"`
}

type PresencePayload struct {
	PartyType presence.PartyType `json:"partyType"`
	PartyID   string             `json:"partyId"`
	Online    bool               `json:"online"`
}

// JoinedPayload acknowledges a join. ConnID is the sender id peers see on
// relayed signals.
type JoinedPayload struct {
	PartyType presence.PartyType `json:"partyType"`
	PartyID   string             `json:"partyId"`
	ConnID    string             `json:"connId"`
}

type ErrorPayload struct {
	Event   string `json:"event,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type RestaurantState struct {
	directory.Restaurant
	Online bool `json:"online"`
}

type ScreenState struct {
	directory.Screen
	Online bool `json:"online"`
}

type GlobalStatus struct {
	Restaurants []RestaurantState `json:"restaurants"`
	Screens     []ScreenState     `json:"screens"`
}
