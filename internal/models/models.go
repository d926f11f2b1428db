package models

import (
	"math"
	"strings"
	"time"
)

type Role string

const (
	RoleDriver    Role = "driver"
	RolePassenger Role = "passenger"
)

// ParseRole normalizes a role claim. ok is false for anything other than
// driver or passenger.
func ParseRole(v string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(v))) {
	case RoleDriver:
		return RoleDriver, true
	case RolePassenger:
		return RolePassenger, true
	}
	return "", false
}

type BookingStatus string

const (
	StatusRequested BookingStatus = "requested"
	StatusAccepted  BookingStatus = "accepted"
	StatusOngoing   BookingStatus = "ongoing"
	StatusCanceled  BookingStatus = "canceled"
	StatusCompleted BookingStatus = "completed"
)

// ActiveStatuses are the statuses whose booking rooms a party rejoins on connect.
var ActiveStatuses = []BookingStatus{StatusRequested, StatusAccepted, StatusOngoing}

func (s BookingStatus) Active() bool {
	for _, a := range ActiveStatuses {
		if s == a {
			return true
		}
	}
	return false
}

type Coord struct {
	Lat float64 `json:"latitude" bson:"latitude"`
	Lon float64 `json:"longitude" bson:"longitude"`
}

// Valid reports whether both components are finite and inside WGS84 bounds.
func (c Coord) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsInf(c.Lat, 0) || math.IsNaN(c.Lon) || math.IsInf(c.Lon, 0) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

type Place struct {
	Latitude  float64 `json:"latitude" bson:"latitude"`
	Longitude float64 `json:"longitude" bson:"longitude"`
	Address   string  `json:"address,omitempty" bson:"address,omitempty"`
}

func (p Place) Coord() Coord { return Coord{Lat: p.Latitude, Lon: p.Longitude} }

type Vehicle struct {
	Make  string `json:"make,omitempty" bson:"make,omitempty"`
	Model string `json:"model,omitempty" bson:"model,omitempty"`
	Plate string `json:"plate,omitempty" bson:"plate,omitempty"`
	Color string `json:"color,omitempty" bson:"color,omitempty"`
}

func (v Vehicle) Empty() bool { return v == Vehicle{} }

type Booking struct {
	ID             string        `json:"id" bson:"_id"`
	PassengerID    string        `json:"passengerId" bson:"passengerId"`
	DriverID       string        `json:"driverId,omitempty" bson:"driverId,omitempty"`
	Status         BookingStatus `json:"status" bson:"status"`
	Pickup         Place         `json:"pickup" bson:"pickup"`
	Dropoff        Place         `json:"dropoff" bson:"dropoff"`
	VehicleType    string        `json:"vehicleType" bson:"vehicleType"`
	AcceptedAt     *time.Time    `json:"acceptedAt,omitempty" bson:"acceptedAt,omitempty"`
	CanceledBy     Role          `json:"canceledBy,omitempty" bson:"canceledBy,omitempty"`
	CanceledReason string        `json:"canceledReason,omitempty" bson:"canceledReason,omitempty"`
	CreatedAt      time.Time     `json:"createdAt" bson:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt" bson:"updatedAt"`
}

// Involves reports whether userID is the booking's party for the given role.
func (b Booking) Involves(role Role, userID string) bool {
	if userID == "" {
		return false
	}
	switch role {
	case RoleDriver:
		return b.DriverID == userID
	case RolePassenger:
		return b.PassengerID == userID
	}
	return false
}

// Driver is the directory record and availability snapshot of a driver.
type Driver struct {
	ID                string    `json:"id" bson:"_id"`
	ExternalID        string    `json:"externalId,omitempty" bson:"externalId,omitempty"`
	Name              string    `json:"name,omitempty" bson:"name,omitempty"`
	Phone             string    `json:"phone,omitempty" bson:"phone,omitempty"`
	Email             string    `json:"email,omitempty" bson:"email,omitempty"`
	Available         bool      `json:"available" bson:"available"`
	LastKnownLocation *Coord    `json:"lastKnownLocation,omitempty" bson:"lastKnownLocation,omitempty"`
	VehicleType       string    `json:"vehicleType,omitempty" bson:"vehicleType,omitempty"`
	Vehicle           Vehicle   `json:"vehicle,omitempty" bson:"vehicle,omitempty"`
	Updated           time.Time `json:"updated,omitempty" bson:"updatedAt,omitempty"`
}

type Passenger struct {
	ID         string `json:"id" bson:"_id"`
	ExternalID string `json:"externalId,omitempty" bson:"externalId,omitempty"`
	Name       string `json:"name,omitempty" bson:"name,omitempty"`
	Phone      string `json:"phone,omitempty" bson:"phone,omitempty"`
	Email      string `json:"email,omitempty" bson:"email,omitempty"`
}

// DriverLocation is the message shape published on the location feed.
type DriverLocation struct {
	DriverID  string    `json:"driverId"`
	Loc       Coord     `json:"loc"`
	Available bool      `json:"available"`
	Timestamp time.Time `json:"timestamp"`
}

type Note struct {
	BookingID string    `json:"bookingId"`
	Sender    Role      `json:"sender"`
	SenderID  string    `json:"senderId,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
