package matcher

import (
	"context"
	"errors"
	"testing"

	"github.com/example/ride-dispatch/internal/eta"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

type fakeDrivers struct {
	drivers []models.Driver
	err     error
}

func (f *fakeDrivers) AvailableDrivers(ctx context.Context) ([]models.Driver, error) {
	return f.drivers, f.err
}

func at(c models.Coord) *models.Coord { return &c }

var pickup = models.Coord{Lat: 9.03, Lon: 38.74}

func TestMatchFiltersByRadiusAndSorts(t *testing.T) {
	f := &fakeDrivers{drivers: []models.Driver{
		{ID: "far", Available: true, LastKnownLocation: at(geo.Offset(pickup, 6, 0))},
		{ID: "two", Available: true, LastKnownLocation: at(geo.Offset(pickup, 0, 2))},
		{ID: "one", Available: true, LastKnownLocation: at(geo.Offset(pickup, 1, 0))},
	}}
	s := &Service{Drivers: f, RadiusKm: 5}
	got, err := s.Match(context.Background(), pickup, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Driver.ID != "one" || got[1].Driver.ID != "two" {
		t.Fatalf("expected [one two], got %+v", got)
	}
	got, _ = s.Match(context.Background(), pickup, 10)
	if len(got) != 3 {
		t.Fatalf("expected override radius to include far driver, got %d", len(got))
	}
}

func TestMatchExcludesDriversWithoutLocation(t *testing.T) {
	f := &fakeDrivers{drivers: []models.Driver{
		{ID: "ghost", Available: true},
		{ID: "near", Available: true, LastKnownLocation: at(pickup)},
	}}
	got, err := (&Service{Drivers: f}).Match(context.Background(), pickup, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Driver.ID != "near" {
		t.Fatalf("expected only near, got %+v", got)
	}
}

func TestMatchSkipsUnavailableSnapshots(t *testing.T) {
	f := &fakeDrivers{drivers: []models.Driver{
		{ID: "D1", Available: true, LastKnownLocation: at(geo.Offset(pickup, 1, 0))},
		{ID: "D2", Available: false, LastKnownLocation: at(geo.Offset(pickup, 0.5, 0))},
	}}
	got, _ := (&Service{Drivers: f}).Match(context.Background(), pickup, 0)
	if len(got) != 1 || got[0].Driver.ID != "D1" {
		t.Fatalf("expected only D1, got %+v", got)
	}
}

func TestMatchAddsETA(t *testing.T) {
	f := &fakeDrivers{drivers: []models.Driver{{ID: "one", Available: true, LastKnownLocation: at(geo.Offset(pickup, 1, 0))}}}
	s := &Service{Drivers: f, ETA: &eta.Estimator{SpeedMps: 10}}
	got, _ := s.Match(context.Background(), pickup, 0)
	if len(got) != 1 || got[0].ETASeconds < 99 || got[0].ETASeconds > 101 {
		t.Fatalf("expected ~100s eta, got %+v", got)
	}
}

func TestMatchPropagatesSourceError(t *testing.T) {
	s := &Service{Drivers: &fakeDrivers{err: errors.New("db down")}}
	if _, err := s.Match(context.Background(), pickup, 0); err == nil {
		t.Fatal("expected error")
	}
}
