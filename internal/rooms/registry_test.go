package rooms

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/example/ride-dispatch/internal/models"
)

type recorder struct {
	id   string
	fail bool
	mu   sync.Mutex
	got  []Message
}

func (r *recorder) ID() string { return r.id }

func (r *recorder) Send(m Message) error {
	if r.fail {
		return errors.New("queue full")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, m)
	return nil
}

func (r *recorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.got))
	for _, m := range r.got {
		out = append(out, m.Event)
	}
	return out
}

func TestPublishReachesOnlyMembers(t *testing.T) {
	reg := NewRegistry()
	a, b, c := &recorder{id: "a"}, &recorder{id: "b"}, &recorder{id: "c"}
	reg.Join("booking:1", a)
	reg.Join("booking:1", b)
	reg.Join("booking:1", b)
	reg.Join("booking:2", c)

	res := reg.Publish("booking:1", Message{Event: "booking:update"})
	if res.Delivered != 2 || res.Failed != 0 || res.Err != nil {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(a.events()) != 1 || len(b.events()) != 1 || len(c.events()) != 0 {
		t.Fatalf("unexpected deliveries a=%v b=%v c=%v", a.events(), b.events(), c.events())
	}
}

func TestPublishCountsFailures(t *testing.T) {
	reg := NewRegistry()
	ok, bad := &recorder{id: "ok"}, &recorder{id: "bad", fail: true}
	reg.Join(DriversRoom, ok)
	reg.Join(DriversRoom, bad)
	res := reg.Publish(DriversRoom, Message{Event: "booking:new"})
	if res.Delivered != 1 || res.Failed != 1 || res.Err == nil {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestLeaveAllDropsEveryMembership(t *testing.T) {
	reg := NewRegistry()
	a := &recorder{id: "a"}
	reg.Join("driver:1", a)
	reg.Join(DriversRoom, a)
	reg.Join("booking:9", a)
	left := reg.LeaveAll(a)
	if len(left) != 3 {
		t.Fatalf("expected to leave 3 rooms, got %v", left)
	}
	if n := len(reg.Members(DriversRoom)); n != 0 {
		t.Fatalf("expected empty drivers room, got %d", n)
	}
	if rs := reg.Rooms(a); len(rs) != 0 {
		t.Fatalf("expected no rooms, got %v", rs)
	}
}

type fakeActive struct {
	bookings []models.Booking
	err      error
}

func (f *fakeActive) ListActiveBookings(ctx context.Context, role models.Role, userID string) ([]models.Booking, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Booking
	for _, b := range f.bookings {
		if b.Involves(role, userID) && b.Status.Active() {
			out = append(out, b)
		}
	}
	return out, nil
}

func TestTopologyBaseAndActiveRooms(t *testing.T) {
	reg := NewRegistry()
	topo := &Topology{Registry: reg, Bookings: &fakeActive{bookings: []models.Booking{
		{ID: "b1", PassengerID: "p1", DriverID: "d1", Status: models.StatusAccepted},
		{ID: "b2", PassengerID: "p1", Status: models.StatusRequested},
		{ID: "b3", PassengerID: "p1", Status: models.StatusCompleted},
	}}}

	drv := &recorder{id: "conn-d"}
	topo.JoinBaseRooms(drv, models.RoleDriver, "d1")
	ids, err := topo.SyncActiveBookingRooms(context.Background(), drv, models.RoleDriver, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "b1" {
		t.Fatalf("expected driver to rejoin b1, got %v", ids)
	}
	want := []string{"booking:b1", "driver:d1", "drivers"}
	got := reg.Rooms(drv)
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	pas := &recorder{id: "conn-p"}
	topo.JoinBaseRooms(pas, models.RolePassenger, "p1")
	ids, _ = topo.SyncActiveBookingRooms(context.Background(), pas, models.RolePassenger, "p1")
	if len(ids) != 2 {
		t.Fatalf("expected passenger in b1 and b2, got %v", ids)
	}
	if len(reg.Members(DriversRoom)) != 1 {
		t.Fatalf("passenger must not join drivers room")
	}
}

func TestTopologySyncError(t *testing.T) {
	topo := &Topology{Registry: NewRegistry(), Bookings: &fakeActive{err: errors.New("down")}}
	if _, err := topo.SyncActiveBookingRooms(context.Background(), &recorder{id: "x"}, models.RolePassenger, "p"); err == nil {
		t.Fatal("expected error")
	}
}
