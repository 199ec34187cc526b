package presence

import (
	"context"

	"callbroker/pkg/logger"
)

// Broadcaster delivers events to every live handle of a party.
// Delivery is best-effort; a handle that cannot take the event is logged
// and skipped.
type Broadcaster struct {
	reg *Registry
}

func NewBroadcaster(reg *Registry) *Broadcaster { return &Broadcaster{reg: reg} }

func (b *Broadcaster) EmitTo(ctx context.Context, t PartyType, id, event string, payload any) {
	b.emit(ctx, NewParty(t, id), "", event, payload)
}

// EmitExcept is EmitTo skipping one handle, usually the sender.
func (b *Broadcaster) EmitExcept(ctx context.Context, p Party, exceptHandleID, event string, payload any) int {
	return b.emit(ctx, p, exceptHandleID, event, payload)
}

func (b *Broadcaster) emit(ctx context.Context, p Party, except, event string, payload any) int {
	sent := 0
	for _, h := range b.reg.MembersOf(p) {
		if h.ID() == except {
			continue
		}
		if err := h.Send(event, payload); err != nil {
			logger.From(ctx).Warn("event dropped",
				"event", event,
				"party_type", p.Type,
				"party_id", p.ID,
				"conn_id", h.ID(),
				"err", err,
			)
			continue
		}
		sent++
	}
	return sent
}
