package dispatch

import (
	"time"

	"github.com/example/ride-dispatch/internal/identity"
	"github.com/example/ride-dispatch/internal/models"
)

// Outbound event names.
const (
	EventBookingCreated   = "booking:created"
	EventBookingNew       = "booking:new"
	EventBookingUpdate    = "booking:update"
	EventBookingAccepted  = "booking:accepted"
	EventBookingCancelled = "booking:cancelled"
)

type PassengerBrief struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type DriverBrief struct {
	ID          string          `json:"id"`
	Name        string          `json:"name,omitempty"`
	Phone       string          `json:"phone,omitempty"`
	VehicleType string          `json:"vehicleType,omitempty"`
	Vehicle     *models.Vehicle `json:"vehicle,omitempty"`
}

// NewBookingPatch is the offer sent to drivers. DistanceKm and ETASeconds
// are only set on the copy addressed to a matched driver.
type NewBookingPatch struct {
	ID          string               `json:"id"`
	Status      models.BookingStatus `json:"status"`
	PassengerID string               `json:"passengerId"`
	Pickup      models.Place         `json:"pickup"`
	Dropoff     models.Place         `json:"dropoff"`
	VehicleType string               `json:"vehicleType"`
	CreatedAt   time.Time            `json:"createdAt"`
	Passenger   PassengerBrief       `json:"passenger"`
	DistanceKm  *float64             `json:"distanceKm,omitempty"`
	ETASeconds  *float64             `json:"etaSeconds,omitempty"`
}

type AcceptedPatch struct {
	ID         string               `json:"id"`
	Status     models.BookingStatus `json:"status"`
	DriverID   string               `json:"driverId"`
	AcceptedAt *time.Time           `json:"acceptedAt,omitempty"`
	Driver     DriverBrief          `json:"driver"`
}

type CanceledPatch struct {
	ID             string               `json:"id"`
	Status         models.BookingStatus `json:"status"`
	CanceledBy     models.Role          `json:"canceledBy"`
	CanceledReason string               `json:"canceledReason,omitempty"`
}

// StatusPatch announces a status written by someone other than this
// gateway, or tells the drivers room an offer is gone.
type StatusPatch struct {
	ID        string               `json:"id"`
	Status    models.BookingStatus `json:"status"`
	DriverID  string               `json:"driverId,omitempty"`
	UpdatedAt time.Time            `json:"updatedAt"`
}

func newBookingPatch(b models.Booking, p identity.Identity) NewBookingPatch {
	return NewBookingPatch{
		ID:          b.ID,
		Status:      b.Status,
		PassengerID: b.PassengerID,
		Pickup:      b.Pickup,
		Dropoff:     b.Dropoff,
		VehicleType: b.VehicleType,
		CreatedAt:   b.CreatedAt,
		Passenger:   PassengerBrief{ID: p.UserID, Name: p.Name, Phone: p.Phone},
	}
}

func acceptedPatch(b models.Booking, d identity.Identity) AcceptedPatch {
	brief := DriverBrief{ID: d.UserID, Name: d.Name, Phone: d.Phone, VehicleType: d.VehicleType}
	if !d.Vehicle.Empty() {
		v := d.Vehicle
		brief.Vehicle = &v
	}
	return AcceptedPatch{ID: b.ID, Status: b.Status, DriverID: b.DriverID, AcceptedAt: b.AcceptedAt, Driver: brief}
}

func canceledPatch(b models.Booking) CanceledPatch {
	return CanceledPatch{ID: b.ID, Status: b.Status, CanceledBy: b.CanceledBy, CanceledReason: b.CanceledReason}
}

func statusPatch(b models.Booking) StatusPatch {
	return StatusPatch{ID: b.ID, Status: b.Status, DriverID: b.DriverID, UpdatedAt: b.UpdatedAt}
}
