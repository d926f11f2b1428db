package notes

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/example/ride-dispatch/internal/apperr"
	"github.com/example/ride-dispatch/internal/identity"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/rooms"
	"github.com/example/ride-dispatch/internal/storage"
)

const EventNote = "booking:note"

type BookingReader interface {
	GetBooking(ctx context.Context, id string) (models.Booking, error)
}

type Broadcaster interface {
	Publish(room string, msg rooms.Message) rooms.PublishResult
}

type Service struct {
	Store    Store
	Bookings BookingReader
	Rooms    Broadcaster
	Logger   *slog.Logger
	Now      func() time.Time
}

func NewService(store Store, bookings BookingReader, broadcaster Broadcaster, logger *slog.Logger) *Service {
	return &Service{Store: store, Bookings: bookings, Rooms: broadcaster, Logger: logging.Component(logger, "notes"), Now: time.Now}
}

// Post appends a note from a party of the booking and relays it to the
// booking room.
func (s *Service) Post(ctx context.Context, caller identity.Identity, bookingID, message string) (models.Note, error) {
	bookingID, ok := storage.NormalizeID(bookingID)
	if !ok {
		return models.Note{}, apperr.Invalid("Invalid bookingId")
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return models.Note{}, apperr.Invalid("message is required")
	}
	if err := s.authorize(ctx, caller, bookingID, "Failed to post note"); err != nil {
		return models.Note{}, err
	}
	n := models.Note{
		BookingID: bookingID,
		Sender:    caller.Role,
		SenderID:  caller.UserID,
		Message:   message,
		Timestamp: s.Now().UTC(),
	}
	if err := s.Store.Append(ctx, n); err != nil {
		return models.Note{}, apperr.Failed("Failed to post note", err)
	}
	observability.NotesPosted.Inc()
	res := s.Rooms.Publish(rooms.BookingRoom(bookingID), rooms.Message{Event: EventNote, Data: n})
	if res.Err != nil {
		s.Logger.Warn("note_broadcast_partial", "booking_id", bookingID, "failed", res.Failed, "error", res.Err)
	}
	return n, nil
}

// Fetch returns the buffered notes of a booking to one of its parties.
func (s *Service) Fetch(ctx context.Context, caller identity.Identity, bookingID string) ([]models.Note, error) {
	bookingID, ok := storage.NormalizeID(bookingID)
	if !ok {
		return nil, apperr.Invalid("Invalid bookingId")
	}
	if err := s.authorize(ctx, caller, bookingID, "Failed to fetch notes"); err != nil {
		return nil, err
	}
	out, err := s.Store.List(ctx, bookingID)
	if err != nil {
		return nil, apperr.Failed("Failed to fetch notes", err)
	}
	return out, nil
}

func (s *Service) authorize(ctx context.Context, caller identity.Identity, bookingID, failMsg string) error {
	b, err := s.Bookings.GetBooking(ctx, bookingID)
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.Missing("Booking not found")
	}
	if err != nil {
		return apperr.Failed(failMsg, err)
	}
	if !b.Involves(caller.Role, caller.UserID) {
		return apperr.Forbidden("Unauthorized: not a party to this booking")
	}
	return nil
}
