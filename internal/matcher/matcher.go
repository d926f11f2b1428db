package matcher

import (
	"context"
	"fmt"
	"sort"

	"github.com/example/ride-dispatch/internal/eta"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

const DefaultRadiusKm = 5.0

// DriverSource yields the drivers currently flagged available.
type DriverSource interface {
	AvailableDrivers(ctx context.Context) ([]models.Driver, error)
}

type Candidate struct {
	Driver     models.Driver
	DistanceKm float64
	ETASeconds float64
}

type Service struct {
	Drivers  DriverSource
	RadiusKm float64
	ETA      *eta.Estimator // optional
}

// Match returns the available drivers whose last known location lies within
// radiusKm of pickup, nearest first. radiusKm <= 0 uses the service default.
// Drivers that never reported a location are never near.
func (s *Service) Match(ctx context.Context, pickup models.Coord, radiusKm float64) ([]Candidate, error) {
	if radiusKm <= 0 {
		radiusKm = s.RadiusKm
	}
	if radiusKm <= 0 {
		radiusKm = DefaultRadiusKm
	}
	drivers, err := s.Drivers.AvailableDrivers(ctx)
	if err != nil {
		return nil, fmt.Errorf("available drivers: %w", err)
	}
	out := make([]Candidate, 0, len(drivers))
	for _, d := range drivers {
		if !d.Available || d.LastKnownLocation == nil {
			continue
		}
		dist := geo.DistanceKm(*d.LastKnownLocation, pickup)
		if dist > radiusKm {
			continue
		}
		c := Candidate{Driver: d, DistanceKm: dist}
		if s.ETA != nil {
			c.ETASeconds = s.ETA.Estimate(ctx, *d.LastKnownLocation, pickup)
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	observability.MatchedDrivers.Observe(float64(len(out)))
	return out, nil
}
