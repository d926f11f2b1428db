// Package dispatch owns the booking lifecycle: creating requests, offering
// them to nearby drivers, and resolving the accept race with a single
// conditional write.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/ride-dispatch/internal/apperr"
	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/identity"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/matcher"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/rooms"
	"github.com/example/ride-dispatch/internal/storage"
)

const DefaultVehicleType = "mini"

const acceptConflictMessage = "Booking already accepted by another driver or not found"

// Conn is the live connection an operation runs on behalf of.
type Conn interface {
	rooms.Subscriber
	Identity() identity.Identity
}

type Matcher interface {
	Match(ctx context.Context, pickup models.Coord, radiusKm float64) ([]matcher.Candidate, error)
}

type Broadcaster interface {
	Join(room string, sub rooms.Subscriber)
	Publish(room string, msg rooms.Message) rooms.PublishResult
}

type Service struct {
	Bookings            storage.BookingStore
	Matcher             Matcher
	Rooms               Broadcaster
	Events              events.Publisher
	Logger              *slog.Logger
	DefaultVehicleType  string
	RadiusKm            float64
	BroadcastAllDrivers bool
	Now                 func() time.Time
}

type Options struct {
	DefaultVehicleType  string
	RadiusKm            float64
	BroadcastAllDrivers bool
}

func NewService(bookings storage.BookingStore, m Matcher, broadcaster Broadcaster, pub events.Publisher, logger *slog.Logger, opts Options) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	vt := strings.TrimSpace(opts.DefaultVehicleType)
	if vt == "" {
		vt = DefaultVehicleType
	}
	return &Service{
		Bookings:            bookings,
		Matcher:             m,
		Rooms:               broadcaster,
		Events:              pub,
		Logger:              logging.Component(logger, "dispatch"),
		DefaultVehicleType:  vt,
		RadiusKm:            opts.RadiusKm,
		BroadcastAllDrivers: opts.BroadcastAllDrivers,
		Now:                 time.Now,
	}
}

type RequestPayload struct {
	Pickup      *models.Place `json:"pickup"`
	Dropoff     *models.Place `json:"dropoff"`
	VehicleType string        `json:"vehicleType"`
}

// RequestResult reports what happened after the booking was stored.
// BroadcastErr collects matching and delivery failures; the booking exists
// regardless.
type RequestResult struct {
	Booking      models.Booking
	Matched      []matcher.Candidate
	BroadcastErr error
}

// Request creates a booking for a passenger and offers it to drivers.
func (s *Service) Request(ctx context.Context, conn Conn, p RequestPayload) (RequestResult, error) {
	caller := conn.Identity()
	if caller.Role != models.RolePassenger || caller.UserID == "" {
		return RequestResult{}, apperr.Forbidden("Unauthorized: passenger token required")
	}
	if p.Pickup == nil || !p.Pickup.Coord().Valid() {
		return RequestResult{}, apperr.Invalid("pickup latitude and longitude are required")
	}
	if p.Dropoff == nil || !p.Dropoff.Coord().Valid() {
		return RequestResult{}, apperr.Invalid("dropoff latitude and longitude are required")
	}
	vt := strings.TrimSpace(p.VehicleType)
	if vt == "" {
		vt = s.DefaultVehicleType
	}
	b := &models.Booking{
		PassengerID: caller.UserID,
		Status:      models.StatusRequested,
		Pickup:      *p.Pickup,
		Dropoff:     *p.Dropoff,
		VehicleType: vt,
	}
	if err := s.Bookings.CreateBooking(ctx, b); err != nil {
		return RequestResult{}, apperr.Failed("Failed to create booking", err)
	}
	observability.BookingsRequested.Inc()
	booking := *b

	s.Rooms.Join(rooms.BookingRoom(booking.ID), conn)
	patch := newBookingPatch(booking, caller)
	var errs []error
	if err := conn.Send(rooms.Message{Event: EventBookingCreated, Data: patch}); err != nil {
		errs = append(errs, fmt.Errorf("notify creator: %w", err))
	}

	res := RequestResult{Booking: booking}
	matched, err := s.Matcher.Match(ctx, booking.Pickup.Coord(), s.RadiusKm)
	if err != nil {
		errs = append(errs, fmt.Errorf("match drivers: %w", err))
	}
	res.Matched = matched
	for _, c := range matched {
		offer := patch
		dist, eta := c.DistanceKm, c.ETASeconds
		offer.DistanceKm = &dist
		if eta > 0 {
			offer.ETASeconds = &eta
		}
		if r := s.Rooms.Publish(rooms.DriverRoom(c.Driver.ID), rooms.Message{Event: EventBookingNew, Data: offer}); r.Err != nil {
			errs = append(errs, fmt.Errorf("offer to %s: %w", r.Room, r.Err))
		}
	}
	if s.BroadcastAllDrivers {
		if r := s.Rooms.Publish(rooms.DriversRoom, rooms.Message{Event: EventBookingNew, Data: patch}); r.Err != nil {
			errs = append(errs, fmt.Errorf("offer to %s: %w", r.Room, r.Err))
		}
	}
	res.BroadcastErr = errors.Join(errs...)
	// after the offers, so a slow broker never delays drivers
	s.emit(ctx, events.New(events.BookingRequested, booking, caller.Role, caller.UserID))
	return res, nil
}

// Accept assigns a requested booking to the calling driver. Of several
// concurrent accepts for one booking exactly one succeeds; the rest get a
// Conflict and are not retried.
func (s *Service) Accept(ctx context.Context, conn Conn, bookingID string) (models.Booking, error) {
	caller := conn.Identity()
	if caller.Role != models.RoleDriver || caller.UserID == "" {
		return models.Booking{}, apperr.Forbidden("Unauthorized: driver token required")
	}
	bookingID, err := validateID(bookingID)
	if err != nil {
		return models.Booking{}, err
	}
	b, err := s.Bookings.AcceptIfRequested(ctx, bookingID, caller.UserID, s.Now().UTC())
	if errors.Is(err, storage.ErrNotFound) {
		observability.AcceptConflicts.Inc()
		return models.Booking{}, apperr.Conflicted(acceptConflictMessage)
	}
	if err != nil {
		return models.Booking{}, apperr.Failed("Failed to accept booking", err)
	}

	s.Rooms.Join(rooms.BookingRoom(b.ID), conn)
	patch := acceptedPatch(b, caller)
	s.publish(rooms.BookingRoom(b.ID), EventBookingUpdate, patch)
	s.publish(rooms.DriverRoom(caller.UserID), EventBookingAccepted, patch)
	if s.BroadcastAllDrivers {
		// lets drivers who only saw the broadcast offer drop it
		s.publish(rooms.DriversRoom, EventBookingUpdate, statusPatch(b))
	}
	s.emit(ctx, events.New(events.BookingAccepted, b, caller.Role, caller.UserID))
	return b, nil
}

// Cancel cancels a booking regardless of its current status. Repeating a
// cancel re-applies the same fields.
func (s *Service) Cancel(ctx context.Context, conn Conn, bookingID, reason string) (models.Booking, error) {
	caller := conn.Identity()
	if (caller.Role != models.RoleDriver && caller.Role != models.RolePassenger) || caller.UserID == "" {
		return models.Booking{}, apperr.Forbidden("Unauthorized: user token required")
	}
	bookingID, err := validateID(bookingID)
	if err != nil {
		return models.Booking{}, err
	}
	b, err := s.Bookings.CancelBooking(ctx, bookingID, caller.Role, strings.TrimSpace(reason), s.Now().UTC())
	if errors.Is(err, storage.ErrNotFound) {
		return models.Booking{}, apperr.Missing("Booking not found")
	}
	if err != nil {
		return models.Booking{}, apperr.Failed("Failed to cancel booking", err)
	}
	patch := canceledPatch(b)
	s.publish(rooms.BookingRoom(b.ID), EventBookingUpdate, patch)
	s.publish(rooms.IdentityRoom(caller.Role, caller.UserID), EventBookingCancelled, patch)
	s.emit(ctx, events.New(events.BookingCanceled, b, caller.Role, caller.UserID))
	return b, nil
}

// RouteExternalTransition re-reads a booking changed by another writer and
// relays its status to the booking room.
func (s *Service) RouteExternalTransition(ctx context.Context, bookingID string) (models.Booking, error) {
	bookingID, err := validateID(bookingID)
	if err != nil {
		return models.Booking{}, err
	}
	b, err := s.Bookings.GetBooking(ctx, bookingID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.Booking{}, apperr.Missing("Booking not found")
	}
	if err != nil {
		return models.Booking{}, apperr.Failed("Failed to load booking", err)
	}
	s.publish(rooms.BookingRoom(b.ID), EventBookingUpdate, statusPatch(b))
	return b, nil
}

func validateID(id string) (string, error) {
	if strings.TrimSpace(id) == "" {
		return "", apperr.Invalid("bookingId is required")
	}
	norm, ok := storage.NormalizeID(id)
	if !ok {
		return "", apperr.Invalid("Invalid bookingId")
	}
	return norm, nil
}

func (s *Service) publish(room, event string, data any) {
	res := s.Rooms.Publish(room, rooms.Message{Event: event, Data: data})
	if res.Err != nil {
		s.Logger.Warn("room_publish_partial", "room", room, "event", event, "delivered", res.Delivered, "failed", res.Failed, "error", res.Err)
	}
}

func (s *Service) emit(ctx context.Context, e events.Event) {
	if err := s.Events.Publish(ctx, e); err != nil {
		observability.LifecycleEventErrors.Inc()
		s.Logger.Warn("lifecycle_event_failed", "type", e.Type, "booking_id", e.BookingID, "error", err)
	}
}
