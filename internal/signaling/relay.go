// Package signaling forwards WebRTC negotiation messages between parties.
// It keeps no state and never inspects payloads.
package signaling

import (
	"context"
	"encoding/json"
	"errors"

	"callbroker/internal/presence"
)

type MessageType string

const (
	Offer     MessageType = "offer"
	Answer    MessageType = "answer"
	Candidate MessageType = "candidate"
)

func (t MessageType) Valid() bool {
	switch t {
	case Offer, Answer, Candidate:
		return true
	}
	return false
}

// Event is the realtime event name a message of type t travels under.
func (t MessageType) Event() string { return "signal:" + string(t) }

var (
	ErrInvalidType   = errors.New("signaling: invalid message type")
	ErrInvalidTarget = errors.New("signaling: invalid target")
)

// Message is what a sender asks to have forwarded.
type Message struct {
	Type       MessageType
	TargetType presence.PartyType
	TargetID   string
	CallID     string
	Payload    json.RawMessage
}

// Forwarded is what the target receives.
type Forwarded struct {
	Type     MessageType     `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	CallID   string          `json:"callId"`
	SenderID string          `json:"senderId"`
}

// Emitter is the delivery side the relay needs.
type Emitter interface {
	EmitExcept(ctx context.Context, p presence.Party, exceptHandleID, event string, payload any) int
}

type Relay struct {
	out Emitter
}

func NewRelay(out Emitter) *Relay { return &Relay{out: out} }

// Relay forwards msg to every live handle of the target except the sender's
// own connection, and returns how many handles received it. Zero means the
// target is offline; the caller decides whether that matters.
//
// The sender's handle is skipped so a client addressing its own party (a
// restaurant with two tabs open, say) never gets its own offer or ICE
// candidate echoed back and applied to its own peer connection. Other
// handles of that party still receive it.
func (r *Relay) Relay(ctx context.Context, sender presence.Handle, senderID string, msg Message) (int, error) {
	if !msg.Type.Valid() {
		return 0, ErrInvalidType
	}
	if !msg.TargetType.Valid() || msg.TargetType == presence.SuperAdmin || msg.TargetID == "" {
		return 0, ErrInvalidTarget
	}
	payload := msg.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	fwd := Forwarded{Type: msg.Type, Payload: payload, CallID: msg.CallID, SenderID: senderID}
	return r.out.EmitExcept(ctx, presence.NewParty(msg.TargetType, msg.TargetID), sender.ID(), msg.Type.Event(), fwd), nil
}
