package geo

import (
	"math"
	"testing"

	"github.com/example/ride-dispatch/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestDistanceKmOneDegreeLatitude(t *testing.T) {
	d := DistanceKm(models.Coord{Lat: 0, Lon: 0}, models.Coord{Lat: 1, Lon: 0})
	if math.Abs(d-111.19) > 0.1 {
		t.Fatalf("expected ~111.19km, got %f", d)
	}
}

func TestOffsetRoundTrip(t *testing.T) {
	origin := models.Coord{Lat: 9.03, Lon: 38.74}
	for _, tc := range []struct{ north, east float64 }{{1, 0}, {0, 1}, {0.3, 0.4}} {
		p := Offset(origin, tc.north, tc.east)
		want := math.Hypot(tc.north, tc.east)
		if got := DistanceKm(origin, p); math.Abs(got-want) > 0.01 {
			t.Fatalf("offset(%v,%v): expected %fkm, got %fkm", tc.north, tc.east, want, got)
		}
	}
}
