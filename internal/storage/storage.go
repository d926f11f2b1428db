package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/example/ride-dispatch/internal/models"
)

// ErrNotFound is returned when no document matches, including when a
// conditional update's precondition does not hold.
var ErrNotFound = errors.New("storage: not found")

// Field names a directory lookup key.
type Field string

const (
	FieldID         Field = "id"
	FieldExternalID Field = "externalId"
	FieldPhone      Field = "phone"
	FieldEmail      Field = "email"
)

// BookingStore persists bookings. AcceptIfRequested must be atomic: of any
// number of concurrent callers for one booking at most one succeeds.
type BookingStore interface {
	CreateBooking(ctx context.Context, b *models.Booking) error
	GetBooking(ctx context.Context, id string) (models.Booking, error)
	AcceptIfRequested(ctx context.Context, id, driverID string, at time.Time) (models.Booking, error)
	CancelBooking(ctx context.Context, id string, by models.Role, reason string, at time.Time) (models.Booking, error)
	ListActiveBookings(ctx context.Context, role models.Role, userID string) ([]models.Booking, error)
}

// Directory is the read side of the driver and passenger collections.
type Directory interface {
	FindDriver(ctx context.Context, field Field, value string) (models.Driver, error)
	FindPassenger(ctx context.Context, field Field, value string) (models.Passenger, error)
	AvailableDrivers(ctx context.Context) ([]models.Driver, error)
}

// LocationWriter records the latest position reported by a driver.
type LocationWriter interface {
	UpdateDriverLocation(ctx context.Context, loc models.DriverLocation) error
}

type Store interface {
	BookingStore
	Directory
	LocationWriter
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// NewID returns a fresh booking identifier.
func NewID() string { return primitive.NewObjectID().Hex() }

// ValidID reports whether id is a well-formed booking identifier.
func ValidID(id string) bool {
	_, err := primitive.ObjectIDFromHex(id)
	return err == nil
}

// NormalizeID returns the canonical lowercase form of a booking id. Stores
// compare ids as strings, so "65AB..." must become "65ab..." first.
func NormalizeID(id string) (string, bool) {
	oid, err := primitive.ObjectIDFromHex(strings.TrimSpace(id))
	if err != nil {
		return "", false
	}
	return oid.Hex(), true
}

func prepareBooking(b *models.Booking, now time.Time) {
	if b.ID == "" {
		b.ID = NewID()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
}
