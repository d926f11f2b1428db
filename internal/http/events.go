package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/example/ride-dispatch/internal/apperr"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/proximity"
	"github.com/example/ride-dispatch/internal/rooms"
)

// Inbound event names.
const (
	EventRequest    = "booking_request"
	EventAccept     = "booking_accept"
	EventCancel     = "booking_cancel"
	EventNote       = "booking_note"
	EventNotesFetch = "booking_notes_fetch"
	EventNearby     = "booking:nearby"

	EventError        = "booking_error"
	EventNotesHistory = "booking:notes_history"
)

// failure messages shown when an error carries no client-safe text
var fallbackMessages = map[string]string{
	EventRequest:    "Failed to create booking",
	EventAccept:     "Failed to accept booking",
	EventCancel:     "Failed to cancel booking",
	EventNote:       "Failed to post note",
	EventNotesFetch: "Failed to fetch notes",
	EventNearby:     "Failed to query nearby",
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type bookingRef struct {
	BookingID string `json:"bookingId"`
	Reason    string `json:"reason,omitempty"`
	Message   string `json:"message,omitempty"`
}

type errorPayload struct {
	Event   string `json:"event"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type notesHistory struct {
	BookingID string        `json:"bookingId"`
	Notes     []models.Note `json:"notes"`
}

// decodeData unmarshals an event payload. Clients may send data as an object
// or as a JSON-encoded string holding the object.
func decodeData(raw json.RawMessage, v any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		raw = []byte(s)
	}
	return json.Unmarshal(raw, v)
}

func (s *Server) handleFrame(c *conn, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
		s.reply(c, "", apperr.Invalid("Malformed message"))
		return
	}
	label := env.Event
	if _, known := fallbackMessages[label]; !known {
		label = "unknown"
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.deps.EventTimeout)
	defer cancel()
	start := time.Now()
	err := s.route(ctx, c, env)
	observability.EventDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())

	outcome := "ok"
	if err != nil {
		// an expired deadline is not an *apperr.Error and so reports as
		// Upstream with the per-event message
		outcome = string(apperr.KindOf(err))
		s.reply(c, env.Event, err)
	}
	observability.EventsTotal.WithLabelValues(label, outcome).Inc()
}

func (s *Server) route(ctx context.Context, c *conn, env envelope) error {
	switch env.Event {
	case EventRequest:
		var p dispatch.RequestPayload
		if err := decodeData(env.Data, &p); err != nil {
			return apperr.Invalid("Malformed booking request")
		}
		res, err := s.deps.Dispatch.Request(ctx, c, p)
		if err != nil {
			return err
		}
		if res.BroadcastErr != nil {
			c.logger.Warn("booking_broadcast_partial", "booking_id", res.Booking.ID, "matched", len(res.Matched), "error", res.BroadcastErr)
		}
		c.logger.Info("booking_requested", "booking_id", res.Booking.ID, "matched", len(res.Matched))
		return nil

	case EventAccept:
		var ref bookingRef
		if err := decodeData(env.Data, &ref); err != nil {
			return apperr.Invalid("Malformed accept")
		}
		b, err := s.deps.Dispatch.Accept(ctx, c, ref.BookingID)
		if err != nil {
			return err
		}
		c.logger.Info("booking_accepted", "booking_id", b.ID)
		return nil

	case EventCancel:
		var ref bookingRef
		if err := decodeData(env.Data, &ref); err != nil {
			return apperr.Invalid("Malformed cancel")
		}
		b, err := s.deps.Dispatch.Cancel(ctx, c, ref.BookingID, ref.Reason)
		if err != nil {
			return err
		}
		c.logger.Info("booking_canceled", "booking_id", b.ID)
		return nil

	case EventNote:
		var ref bookingRef
		if err := decodeData(env.Data, &ref); err != nil {
			return apperr.Invalid("Malformed note")
		}
		_, err := s.deps.Notes.Post(ctx, c.who, ref.BookingID, ref.Message)
		return err

	case EventNotesFetch:
		var ref bookingRef
		if err := decodeData(env.Data, &ref); err != nil {
			return apperr.Invalid("Malformed notes fetch")
		}
		list, err := s.deps.Notes.Fetch(ctx, c.who, ref.BookingID)
		if err != nil {
			return err
		}
		return c.Send(rooms.Message{Event: EventNotesHistory, Data: notesHistory{BookingID: ref.BookingID, Notes: list}})

	case EventNearby:
		var p proximity.Params
		if err := decodeData(env.Data, &p); err != nil {
			return apperr.Invalid("Malformed nearby query")
		}
		res, err := s.deps.Proximity.Nearby(ctx, c.who, p, c.defaults)
		if err != nil {
			return err
		}
		return c.Send(rooms.Message{Event: EventNearby, Data: res})
	}
	return apperr.Invalid("Unknown event " + env.Event)
}

// reply converts a handler error into a booking_error for the caller only.
// Upstream causes are logged, never sent.
func (s *Server) reply(c *conn, event string, err error) {
	kind := apperr.KindOf(err)
	msg := apperr.PublicMessage(err, fallbackMessages[event])
	if msg == "" {
		msg = "Request failed"
	}
	switch {
	case apperr.TimedOut(err):
		c.logger.Error("event_timed_out", "event", event, "timeout", s.deps.EventTimeout, "error", err)
	case kind == apperr.Upstream:
		c.logger.Error("event_failed", "event", event, "error", err)
	default:
		c.logger.Debug("event_rejected", "event", event, "kind", string(kind), "error", err)
	}
	_ = c.Send(rooms.Message{Event: EventError, Data: errorPayload{Event: event, Message: msg, Code: string(kind)}})
}
