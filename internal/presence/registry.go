// Package presence tracks which parties have live connections.
//
// A party is online while at least one connection handle has joined it.
// Listeners registered with OnChange see only online/offline transitions,
// never repeated joins from additional devices. Membership is
// connection-scoped; clients re-announce themselves after reconnecting.
package presence

import (
	"sort"
	"sync"
)

type PartyType string

const (
	Restaurant PartyType = "RESTAURANT"
	Screen     PartyType = "SCREEN"
	SuperAdmin PartyType = "SUPERADMIN"
)

// superAdminRoom is the single shared id of the super admin party.
const superAdminRoom = "global"

func (t PartyType) Valid() bool {
	switch t {
	case Restaurant, Screen, SuperAdmin:
		return true
	}
	return false
}

type Party struct {
	Type PartyType `json:"partyType"`
	ID   string    `json:"partyId"`
}

// NewParty normalizes the id of the super admin party.
func NewParty(t PartyType, id string) Party {
	if t == SuperAdmin {
		id = superAdminRoom
	}
	return Party{Type: t, ID: id}
}

// Admins is the super admin party.
var Admins = NewParty(SuperAdmin, "")

// Handle is one live connection.
type Handle interface {
	ID() string
	Send(event string, payload any) error
}

// Change is an online/offline transition of a party.
type Change struct {
	Party  Party
	Online bool
}

type Registry struct {
	mu        sync.RWMutex
	rooms     map[Party]map[string]Handle
	joined    map[string]map[Party]struct{}
	listeners []func(Change)
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:  map[Party]map[string]Handle{},
		joined: map[string]map[Party]struct{}{},
	}
}

// OnChange registers fn for online/offline transitions. fn runs on the
// goroutine that caused the change, after the registry lock is released.
func (r *Registry) OnChange(fn func(Change)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Join adds h to p. It reports whether p came online.
func (r *Registry) Join(h Handle, p Party) bool {
	p = NewParty(p.Type, p.ID)
	r.mu.Lock()
	members := r.rooms[p]
	if members == nil {
		members = map[string]Handle{}
		r.rooms[p] = members
	}
	if _, dup := members[h.ID()]; dup {
		r.mu.Unlock()
		return false
	}
	cameOnline := len(members) == 0
	members[h.ID()] = h
	parties := r.joined[h.ID()]
	if parties == nil {
		parties = map[Party]struct{}{}
		r.joined[h.ID()] = parties
	}
	parties[p] = struct{}{}
	listeners := r.listeners
	r.mu.Unlock()

	if cameOnline {
		notify(listeners, Change{Party: p, Online: true})
	}
	return cameOnline
}

// Leave removes h from p. It reports whether p went offline.
func (r *Registry) Leave(h Handle, p Party) bool {
	p = NewParty(p.Type, p.ID)
	r.mu.Lock()
	wentOffline := r.removeLocked(h.ID(), p)
	listeners := r.listeners
	r.mu.Unlock()

	if wentOffline {
		notify(listeners, Change{Party: p, Online: false})
	}
	return wentOffline
}

// LeaveAll removes h from every party it joined, typically on disconnect,
// and returns the parties that went offline.
func (r *Registry) LeaveAll(h Handle) []Party {
	r.mu.Lock()
	var offline []Party
	for p := range r.joined[h.ID()] {
		if r.removeLocked(h.ID(), p) {
			offline = append(offline, p)
		}
	}
	listeners := r.listeners
	r.mu.Unlock()

	sortParties(offline)
	for _, p := range offline {
		notify(listeners, Change{Party: p, Online: false})
	}
	return offline
}

func (r *Registry) removeLocked(handleID string, p Party) bool {
	members := r.rooms[p]
	if _, ok := members[handleID]; !ok {
		return false
	}
	delete(members, handleID)
	if parties := r.joined[handleID]; parties != nil {
		delete(parties, p)
		if len(parties) == 0 {
			delete(r.joined, handleID)
		}
	}
	if len(members) == 0 {
		delete(r.rooms, p)
		return true
	}
	return false
}

func (r *Registry) IsOnline(p Party) bool {
	p = NewParty(p.Type, p.ID)
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[p]) > 0
}

// MembersOf returns a snapshot of the live handles of p.
func (r *Registry) MembersOf(p Party) []Handle {
	p = NewParty(p.Type, p.ID)
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.rooms[p]
	out := make([]Handle, 0, len(members))
	for _, h := range members {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Online returns the ids of online parties of type t, sorted.
func (r *Registry) Online(t PartyType) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for p, members := range r.rooms {
		if p.Type == t && len(members) > 0 {
			out = append(out, p.ID)
		}
	}
	sort.Strings(out)
	return out
}

// PartiesOf returns the parties a handle has joined.
func (r *Registry) PartiesOf(h Handle) []Party {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Party, 0, len(r.joined[h.ID()]))
	for p := range r.joined[h.ID()] {
		out = append(out, p)
	}
	sortParties(out)
	return out
}

func notify(listeners []func(Change), c Change) {
	for _, fn := range listeners {
		fn(c)
	}
}

func sortParties(ps []Party) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Type != ps[j].Type {
			return ps[i].Type < ps[j].Type
		}
		return ps[i].ID < ps[j].ID
	})
}
