package geo

import (
	"math"

	"github.com/example/ride-dispatch/internal/models"
)

const earthRadiusMeters = 6371000.0

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// DistanceKm is the great-circle distance between two coordinates in kilometers.
func DistanceKm(a, b models.Coord) float64 {
	return Haversine(a.Lat, a.Lon, b.Lat, b.Lon) / 1000
}

// Offset returns the point reached by moving north and east by the given
// kilometers from c. Accurate enough for the short hops used to seed tests
// and fixtures.
func Offset(c models.Coord, northKm, eastKm float64) models.Coord {
	dLat := northKm / (earthRadiusMeters / 1000) * 180 / math.Pi
	dLon := eastKm / (earthRadiusMeters / 1000 * math.Cos(c.Lat*math.Pi/180)) * 180 / math.Pi
	return models.Coord{Lat: c.Lat + dLat, Lon: c.Lon + dLon}
}
