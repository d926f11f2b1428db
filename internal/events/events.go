// Package events publishes booking lifecycle transitions to the rest of the
// platform. Delivery is best effort; the gateway never waits on consumers.
package events

import (
	"context"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

const (
	BookingRequested = "booking.requested"
	BookingAccepted  = "booking.accepted"
	BookingCanceled  = "booking.canceled"
)

// Event is the wire shape shared by every backend.
type Event struct {
	Type       string         `json:"type"`
	BookingID  string         `json:"bookingId"`
	Booking    models.Booking `json:"booking"`
	ActorRole  models.Role    `json:"actorRole,omitempty"`
	ActorID    string         `json:"actorId,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}

func New(typ string, b models.Booking, role models.Role, actorID string) Event {
	return Event{Type: typ, BookingID: b.ID, Booking: b, ActorRole: role, ActorID: actorID, OccurredAt: time.Now().UTC()}
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(ctx context.Context, e Event) error { return nil }
func (Nop) Close() error                               { return nil }
