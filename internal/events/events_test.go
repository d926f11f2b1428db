package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/models"
)

func TestNewCarriesBookingAndActor(t *testing.T) {
	b := models.Booking{ID: "65f0c0ffee0000000000abcd", PassengerID: "p1", DriverID: "d1", Status: models.StatusAccepted}
	e := New(BookingAccepted, b, models.RoleDriver, "d1")
	if e.BookingID != b.ID || e.Type != BookingAccepted || e.ActorID != "d1" || e.OccurredAt.IsZero() {
		t.Fatalf("unexpected event %+v", e)
	}
	raw, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	_ = json.Unmarshal(raw, &got)
	if got["type"] != "booking.accepted" || got["bookingId"] != b.ID {
		t.Fatalf("unexpected wire shape %s", raw)
	}
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = Nop{}
	if err := p.Publish(context.Background(), Event{Type: BookingCanceled}); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestKafkaPublisherFlushesPromptly(t *testing.T) {
	k := NewKafkaPublisher([]string{"localhost:9092"}, "booking-events")
	defer k.Close()
	if k.writer.BatchTimeout <= 0 || k.writer.BatchTimeout > 50*time.Millisecond {
		t.Fatalf("expected a short batch timeout, got %s", k.writer.BatchTimeout)
	}
	if _, ok := k.writer.Balancer.(*kafka.Hash); !ok {
		t.Fatalf("expected hash balancer keyed by booking id, got %T", k.writer.Balancer)
	}
}

type fakeChannel struct {
	closed    bool
	fail      error
	published []string
}

func (c *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error {
	if c.fail != nil {
		return c.fail
	}
	c.published = append(c.published, key)
	return nil
}

func (c *fakeChannel) IsClosed() bool { return c.closed }

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func TestAMQPPublisherReopensChannel(t *testing.T) {
	var opened []*fakeChannel
	p := &AMQPPublisher{exchange: "bookings", open: func() (amqpChannel, error) {
		ch := &fakeChannel{}
		opened = append(opened, ch)
		return ch, nil
	}}
	ctx := context.Background()
	e := Event{Type: BookingRequested, BookingID: "b1"}

	if err := p.Publish(ctx, e); err != nil {
		t.Fatal(err)
	}
	// broker closed the channel
	opened[0].closed = true
	if err := p.Publish(ctx, e); err != nil {
		t.Fatalf("expected publish on a fresh channel, got %v", err)
	}
	if len(opened) != 2 || len(opened[1].published) != 1 {
		t.Fatalf("expected a second channel carrying the event, got %d channels", len(opened))
	}

	opened[1].fail = errors.New("channel/connection is not open")
	if err := p.Publish(ctx, e); err == nil {
		t.Fatal("expected failed publish to surface")
	}
	if !opened[1].closed {
		t.Fatal("expected failed channel to be dropped")
	}
	if err := p.Publish(ctx, e); err != nil || len(opened) != 3 {
		t.Fatalf("expected reopen after failure, got %d channels err=%v", len(opened), err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("expected clean close, got %v", err)
	}
}

func TestAMQPPublisherReportsReopenFailure(t *testing.T) {
	p := &AMQPPublisher{exchange: "bookings", open: func() (amqpChannel, error) {
		return nil, errors.New("amqp dial: connection refused")
	}}
	if err := p.Publish(context.Background(), Event{Type: BookingCanceled}); err == nil {
		t.Fatal("expected dial failure")
	}
}
