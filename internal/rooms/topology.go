package rooms

import (
	"context"
	"fmt"

	"github.com/example/ride-dispatch/internal/models"
)

// DriversRoom receives every offer regardless of distance.
const DriversRoom = "drivers"

func DriverRoom(id string) string    { return "driver:" + id }
func PassengerRoom(id string) string { return "passenger:" + id }
func BookingRoom(id string) string   { return "booking:" + id }

// IdentityRoom is the private room of a user.
func IdentityRoom(role models.Role, id string) string {
	if role == models.RoleDriver {
		return DriverRoom(id)
	}
	return PassengerRoom(id)
}

type ActiveBookings interface {
	ListActiveBookings(ctx context.Context, role models.Role, userID string) ([]models.Booking, error)
}

// Topology derives room membership from identity and booking state.
type Topology struct {
	Registry *Registry
	Bookings ActiveBookings
}

// JoinBaseRooms joins the identity room, plus the drivers room for drivers.
func (t *Topology) JoinBaseRooms(sub Subscriber, role models.Role, userID string) {
	t.Registry.Join(IdentityRoom(role, userID), sub)
	if role == models.RoleDriver {
		t.Registry.Join(DriversRoom, sub)
	}
}

// SyncActiveBookingRooms joins the booking room of every active booking the
// user is a party to and returns the booking ids joined.
func (t *Topology) SyncActiveBookingRooms(ctx context.Context, sub Subscriber, role models.Role, userID string) ([]string, error) {
	bookings, err := t.Bookings.ListActiveBookings(ctx, role, userID)
	if err != nil {
		return nil, fmt.Errorf("sync booking rooms: %w", err)
	}
	ids := make([]string, 0, len(bookings))
	for _, b := range bookings {
		t.Registry.Join(BookingRoom(b.ID), sub)
		ids = append(ids, b.ID)
	}
	return ids, nil
}

func (t *Topology) JoinBookingRoom(sub Subscriber, bookingID string) {
	t.Registry.Join(BookingRoom(bookingID), sub)
}
