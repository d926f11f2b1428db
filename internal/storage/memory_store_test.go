package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/example/ride-dispatch/internal/models"
)

func newRequested(t *testing.T, s *MemoryStore, passengerID string) models.Booking {
	t.Helper()
	b := &models.Booking{PassengerID: passengerID, Status: models.StatusRequested, VehicleType: "mini"}
	if err := s.CreateBooking(context.Background(), b); err != nil {
		t.Fatalf("create: %v", err)
	}
	return *b
}

func TestCreateBookingAssignsValidID(t *testing.T) {
	s := NewMemoryStore()
	b := newRequested(t, s, "p1")
	if !ValidID(b.ID) {
		t.Fatalf("expected valid id, got %q", b.ID)
	}
	if b.CreatedAt.IsZero() || b.UpdatedAt.IsZero() {
		t.Fatalf("expected timestamps to be set")
	}
}

func TestAcceptIfRequestedSingleWinner(t *testing.T) {
	s := NewMemoryStore()
	b := newRequested(t, s, "p1")

	const drivers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		losers  int
	)
	for i := 0; i < drivers; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := s.AcceptIfRequested(context.Background(), b.ID, id, time.Now())
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners = append(winners, id)
				return
			}
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("unexpected error %v", err)
			}
			losers++
		}(fmt.Sprintf("d%d", i))
	}
	wg.Wait()
	if len(winners) != 1 || losers != drivers-1 {
		t.Fatalf("expected exactly one winner, got winners=%v losers=%d", winners, losers)
	}
	got, _ := s.GetBooking(context.Background(), b.ID)
	if got.DriverID != winners[0] || got.Status != models.StatusAccepted || got.AcceptedAt == nil {
		t.Fatalf("stored booking does not reflect winner: %+v", got)
	}
}

func TestCancelBookingIsRepeatable(t *testing.T) {
	s := NewMemoryStore()
	b := newRequested(t, s, "p1")
	for i := 0; i < 2; i++ {
		got, err := s.CancelBooking(context.Background(), b.ID, models.RolePassenger, "changed plans", time.Now())
		if err != nil {
			t.Fatalf("cancel %d: %v", i, err)
		}
		if got.Status != models.StatusCanceled || got.CanceledBy != models.RolePassenger || got.CanceledReason != "changed plans" {
			t.Fatalf("unexpected booking after cancel %d: %+v", i, got)
		}
	}
	if _, err := s.CancelBooking(context.Background(), NewID(), models.RoleDriver, "", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListActiveBookings(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	a := newRequested(t, s, "p1")
	c := newRequested(t, s, "p1")
	newRequested(t, s, "p2")
	if _, err := s.AcceptIfRequested(ctx, a.ID, "d1", time.Now()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CancelBooking(ctx, c.ID, models.RolePassenger, "", time.Now()); err != nil {
		t.Fatal(err)
	}

	got, _ := s.ListActiveBookings(ctx, models.RolePassenger, "p1")
	if len(got) != 1 || got[0].ID != a.ID {
		t.Fatalf("expected only accepted booking for p1, got %+v", got)
	}
	got, _ = s.ListActiveBookings(ctx, models.RoleDriver, "d1")
	if len(got) != 1 || got[0].ID != a.ID {
		t.Fatalf("expected accepted booking for d1, got %+v", got)
	}
}

func TestFindDriverByField(t *testing.T) {
	s := NewMemoryStore()
	s.PutDriver(models.Driver{ID: "d1", ExternalID: "ext-1", Phone: "+251911000000", Email: "d1@example.com"})
	ctx := context.Background()
	for _, tc := range []struct {
		field Field
		value string
	}{{FieldID, "d1"}, {FieldExternalID, "ext-1"}, {FieldPhone, "+251911000000"}, {FieldEmail, "d1@example.com"}} {
		d, err := s.FindDriver(ctx, tc.field, tc.value)
		if err != nil || d.ID != "d1" {
			t.Fatalf("lookup by %s: got %+v err=%v", tc.field, d, err)
		}
	}
	if _, err := s.FindDriver(ctx, FieldPhone, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty value must not match, got %v", err)
	}
}

func TestUpdateDriverLocation(t *testing.T) {
	s := NewMemoryStore()
	s.PutDriver(models.Driver{ID: "d1"})
	ctx := context.Background()
	if err := s.UpdateDriverLocation(ctx, models.DriverLocation{DriverID: "d1", Loc: models.Coord{Lat: 9, Lon: 38}, Available: true}); err != nil {
		t.Fatal(err)
	}
	ds, _ := s.AvailableDrivers(ctx)
	if len(ds) != 1 || ds[0].LastKnownLocation == nil || ds[0].LastKnownLocation.Lat != 9 {
		t.Fatalf("unexpected drivers %+v", ds)
	}
	if err := s.UpdateDriverLocation(ctx, models.DriverLocation{DriverID: "nope"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDirectoryFilterMatchesStringAndObjectIDs(t *testing.T) {
	hex := primitive.NewObjectID().Hex()
	f, err := directoryFilter(FieldID, hex)
	if err != nil {
		t.Fatal(err)
	}
	in, ok := f["_id"].(bson.M)["$in"].(bson.A)
	if !ok || len(in) != 2 {
		t.Fatalf("expected $in with both id forms, got %v", f)
	}
	f, _ = directoryFilter(FieldID, "driver-7")
	if f["_id"] != "driver-7" {
		t.Fatalf("expected plain string id, got %v", f)
	}
	if _, err := directoryFilter(Field("nickname"), "x"); err == nil {
		t.Fatal("expected unsupported field error")
	}
}

func TestLocationUpdateAddressesObjectIDDrivers(t *testing.T) {
	oid := primitive.NewObjectID()
	filter, update, err := locationUpdate(models.DriverLocation{DriverID: oid.Hex(), Loc: models.Coord{Lat: 9, Lon: 38}, Available: true}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	in, ok := filter["_id"].(bson.M)["$in"].(bson.A)
	if !ok || len(in) != 2 || in[1] != oid {
		t.Fatalf("expected filter to match the ObjectID form, got %v", filter)
	}
	set := update["$set"].(bson.M)
	if set["available"] != true || set["lastKnownLocation"] != (models.Coord{Lat: 9, Lon: 38}) {
		t.Fatalf("unexpected update %v", update)
	}
	if _, _, err := locationUpdate(models.DriverLocation{}, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for empty driver id, got %v", err)
	}
}

func TestNormalizeID(t *testing.T) {
	id := NewID()
	got, ok := NormalizeID(" " + strings.ToUpper(id) + " ")
	if !ok || got != id {
		t.Fatalf("expected %s, got %s ok=%v", id, got, ok)
	}
	if _, ok := NormalizeID("not-hex"); ok {
		t.Fatal("expected invalid id to be rejected")
	}
}
