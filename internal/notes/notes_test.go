package notes

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/apperr"
	"github.com/example/ride-dispatch/internal/identity"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/rooms"
	"github.com/example/ride-dispatch/internal/storage"
)

type recorder struct {
	id  string
	mu  sync.Mutex
	got []rooms.Message
}

func (r *recorder) ID() string { return r.id }

func (r *recorder) Send(m rooms.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, m)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func TestMemoryStoreEvictsOldest(t *testing.T) {
	s := NewMemoryStore(DefaultCap, 0)
	ctx := context.Background()
	for i := 0; i < DefaultCap+1; i++ {
		if err := s.Append(ctx, models.Note{BookingID: "b1", Message: fmt.Sprintf("m%d", i)}); err != nil {
			t.Fatal(err)
		}
	}
	got, _ := s.List(ctx, "b1")
	if len(got) != DefaultCap {
		t.Fatalf("expected %d notes, got %d", DefaultCap, len(got))
	}
	if got[0].Message != "m1" || got[len(got)-1].Message != "m50" {
		t.Fatalf("expected m1..m50, got %s..%s", got[0].Message, got[len(got)-1].Message)
	}
	if other, _ := s.List(ctx, "b2"); len(other) != 0 {
		t.Fatalf("expected empty buffer for unknown booking, got %d", len(other))
	}
}

func TestMemoryStoreConcurrentAppends(t *testing.T) {
	s := NewMemoryStore(1000, 0)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Append(ctx, models.Note{BookingID: "b1", Message: "x"})
		}()
	}
	wg.Wait()
	if got, _ := s.List(ctx, "b1"); len(got) != 200 {
		t.Fatalf("expected 200 notes, got %d", len(got))
	}
}

func TestMemoryStoreExpiresIdleBuffers(t *testing.T) {
	s := NewMemoryStore(DefaultCap, time.Hour)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }
	ctx := context.Background()

	_ = s.Append(ctx, models.Note{BookingID: "b1", Message: "old"})
	// a sibling on the same shard, so its appends trigger the sweep
	sibling := ""
	for i := 0; sibling == ""; i++ {
		if id := fmt.Sprintf("s%d", i); s.shardFor(id) == s.shardFor("b1") {
			sibling = id
		}
	}
	clock = clock.Add(2 * time.Hour)
	for i := 0; i < sweepEvery; i++ {
		_ = s.Append(ctx, models.Note{BookingID: sibling, Message: "x"})
	}
	if s.Len() != 1 {
		t.Fatalf("expected expired buffer swept, got %d buffers", s.Len())
	}
	if got, _ := s.List(ctx, "b1"); len(got) != 0 {
		t.Fatalf("expected expired notes gone, got %v", got)
	}

	_ = s.Append(ctx, models.Note{BookingID: "b3", Message: "a"})
	clock = clock.Add(90 * time.Minute)
	if got, _ := s.List(ctx, "b3"); len(got) != 0 {
		t.Fatalf("expected idle buffer to read as empty, got %v", got)
	}
	_ = s.Append(ctx, models.Note{BookingID: "b3", Message: "b"})
	if got, _ := s.List(ctx, "b3"); len(got) != 1 || got[0].Message != "b" {
		t.Fatalf("expected fresh buffer after expiry, got %v", got)
	}
}

type fixture struct {
	svc     *Service
	reg     *rooms.Registry
	booking models.Booking
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	st := storage.NewMemoryStore()
	b := &models.Booking{PassengerID: "p1", Status: models.StatusRequested}
	if err := st.CreateBooking(context.Background(), b); err != nil {
		t.Fatal(err)
	}
	reg := rooms.NewRegistry()
	return fixture{svc: NewService(NewMemoryStore(DefaultCap, 0), st, reg, logging.Discard()), reg: reg, booking: *b}
}

func TestPostRelaysToBookingRoom(t *testing.T) {
	f := newFixture(t)
	member := &recorder{id: "c1"}
	f.reg.Join(rooms.BookingRoom(f.booking.ID), member)

	p := identity.Identity{Role: models.RolePassenger, UserID: "p1"}
	n, err := f.svc.Post(context.Background(), p, f.booking.ID, "  at the gate  ")
	if err != nil {
		t.Fatal(err)
	}
	if n.Message != "at the gate" || n.Sender != models.RolePassenger || n.Timestamp.IsZero() {
		t.Fatalf("unexpected note %+v", n)
	}
	if member.count() != 1 {
		t.Fatalf("expected one relayed note, got %d", member.count())
	}
	got, err := f.svc.Fetch(context.Background(), p, f.booking.ID)
	if err != nil || len(got) != 1 {
		t.Fatalf("expected one note in history, got %v err=%v", got, err)
	}
}

func TestPostRejectsNonParty(t *testing.T) {
	f := newFixture(t)
	stranger := identity.Identity{Role: models.RoleDriver, UserID: "d9"}
	_, err := f.svc.Post(context.Background(), stranger, f.booking.ID, "hello")
	if apperr.KindOf(err) != apperr.Authorization {
		t.Fatalf("expected authorization failure, got %v", err)
	}
	if _, err := f.svc.Fetch(context.Background(), stranger, f.booking.ID); apperr.KindOf(err) != apperr.Authorization {
		t.Fatalf("expected authorization failure on fetch, got %v", err)
	}
	got, _ := f.svc.Fetch(context.Background(), identity.Identity{Role: models.RolePassenger, UserID: "p1"}, f.booking.ID)
	if len(got) != 0 {
		t.Fatalf("rejected note must not be stored, got %v", got)
	}
}

func TestPostValidation(t *testing.T) {
	f := newFixture(t)
	p := identity.Identity{Role: models.RolePassenger, UserID: "p1"}
	ctx := context.Background()
	if _, err := f.svc.Post(ctx, p, f.booking.ID, "   "); apperr.KindOf(err) != apperr.Validation {
		t.Fatalf("expected validation failure for blank message, got %v", err)
	}
	if _, err := f.svc.Post(ctx, p, "not-an-id", "hi"); apperr.KindOf(err) != apperr.Validation {
		t.Fatalf("expected validation failure for bad id, got %v", err)
	}
	if _, err := f.svc.Post(ctx, p, storage.NewID(), "hi"); apperr.KindOf(err) != apperr.NotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPostNormalizesBookingID(t *testing.T) {
	f := newFixture(t)
	p := identity.Identity{Role: models.RolePassenger, UserID: "p1"}
	n, err := f.svc.Post(context.Background(), p, strings.ToUpper(f.booking.ID), "hi")
	if err != nil {
		t.Fatalf("expected uppercase id to post, got %v", err)
	}
	if n.BookingID != f.booking.ID {
		t.Fatalf("expected canonical id %s, got %s", f.booking.ID, n.BookingID)
	}
	got, _ := f.svc.Fetch(context.Background(), p, f.booking.ID)
	if len(got) != 1 {
		t.Fatalf("expected note under canonical id, got %v", got)
	}
}
