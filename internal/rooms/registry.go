// Package rooms keeps named broadcast groups of live connections and the
// rules deciding which rooms a connection belongs to.
package rooms

import (
	"errors"
	"sort"
	"sync"

	"github.com/example/ride-dispatch/internal/observability"
)

// Message is the envelope written to subscribers.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Subscriber is a connection handle. Send must not block on the network.
type Subscriber interface {
	ID() string
	Send(msg Message) error
}

type PublishResult struct {
	Room      string
	Delivered int
	Failed    int
	Err       error
}

// Registry maps room keys to subscriber sets. Safe for concurrent use; the
// lock is never held while sending.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[Subscriber]struct{}
	subs  map[Subscriber]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]map[Subscriber]struct{}),
		subs:  make(map[Subscriber]map[string]struct{}),
	}
}

// Join adds sub to room. Joining twice is a no-op.
func (r *Registry) Join(room string, sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[Subscriber]struct{})
		r.rooms[room] = members
	}
	members[sub] = struct{}{}
	joined, ok := r.subs[sub]
	if !ok {
		joined = make(map[string]struct{})
		r.subs[sub] = joined
	}
	joined[room] = struct{}{}
}

func (r *Registry) Leave(room string, sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(room, sub)
}

// LeaveAll drops every membership of sub and returns the rooms it left.
func (r *Registry) LeaveAll(sub Subscriber) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	left := make([]string, 0, len(r.subs[sub]))
	for room := range r.subs[sub] {
		left = append(left, room)
	}
	for _, room := range left {
		r.leaveLocked(room, sub)
	}
	sort.Strings(left)
	return left
}

func (r *Registry) leaveLocked(room string, sub Subscriber) {
	if members, ok := r.rooms[room]; ok {
		delete(members, sub)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	if joined, ok := r.subs[sub]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(r.subs, sub)
		}
	}
}

// Members returns a snapshot of the subscribers currently in room.
func (r *Registry) Members(room string) []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Subscriber, 0, len(r.rooms[room]))
	for s := range r.rooms[room] {
		out = append(out, s)
	}
	return out
}

// Rooms returns the sorted room keys sub belongs to.
func (r *Registry) Rooms(sub Subscriber) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.subs[sub]))
	for room := range r.subs[sub] {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

// Publish delivers msg to every current member of room. Failed sends are
// counted and joined into Err; they never stop delivery to other members.
func (r *Registry) Publish(room string, msg Message) PublishResult {
	res := PublishResult{Room: room}
	var errs []error
	for _, s := range r.Members(room) {
		if err := s.Send(msg); err != nil {
			res.Failed++
			errs = append(errs, err)
			continue
		}
		res.Delivered++
	}
	res.Err = errors.Join(errs...)
	observability.RoomDeliveries.WithLabelValues("delivered").Add(float64(res.Delivered))
	observability.RoomDeliveries.WithLabelValues("failed").Add(float64(res.Failed))
	return res
}
