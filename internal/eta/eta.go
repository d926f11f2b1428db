package eta

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

// DefaultSpeedMps is roughly 29 km/h, a city driving average.
const DefaultSpeedMps = 8.0

const defaultCacheEntries = 10000

// Client is a routing backend able to estimate drive time.
type Client interface {
	EstimateSeconds(ctx context.Context, from, to models.Coord) (float64, error)
}

// cell is a coordinate snapped to 4 decimals (~11m) so drivers reporting
// jittery positions still hit the cache.
type cell struct{ lat, lon int32 }

func snap(c models.Coord) cell {
	return cell{lat: int32(math.Round(c.Lat * 1e4)), lon: int32(math.Round(c.Lon * 1e4))}
}

type routeKey struct{ from, to cell }

type cacheEntry struct {
	seconds float64
	expires time.Time
}

// Cache holds routing answers for a TTL. Once MaxEntries is reached, expired
// entries are swept and, if still full, new answers are not cached.
type Cache struct {
	mu         sync.Mutex
	entries    map[routeKey]cacheEntry
	ttl        time.Duration
	MaxEntries int
	now        func() time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{entries: make(map[routeKey]cacheEntry), ttl: ttl, MaxEntries: defaultCacheEntries, now: time.Now}
}

func (c *Cache) Get(from, to models.Coord) (float64, bool) {
	k := routeKey{snap(from), snap(to)}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[k]
	if !ok {
		return 0, false
	}
	if c.now().After(e.expires) {
		delete(c.entries, k)
		return 0, false
	}
	return e.seconds, true
}

func (c *Cache) Set(from, to models.Coord, seconds float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if c.MaxEntries > 0 && len(c.entries) >= c.MaxEntries {
		for k, e := range c.entries {
			if now.After(e.expires) {
				delete(c.entries, k)
			}
		}
		if len(c.entries) >= c.MaxEntries {
			return
		}
	}
	c.entries[routeKey{snap(from), snap(to)}] = cacheEntry{seconds: seconds, expires: now.Add(c.ttl)}
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// EstimateSeconds is the straight-line distance over speedMps.
func EstimateSeconds(from, to models.Coord, speedMps float64) float64 {
	if speedMps <= 0 {
		speedMps = DefaultSpeedMps
	}
	return geo.Haversine(from.Lat, from.Lon, to.Lat, to.Lon) / speedMps
}

// Estimator combines an optional routing Client and Cache with the naive
// fallback. The zero value uses the naive estimate only.
type Estimator struct {
	Client   Client
	Cache    *Cache
	SpeedMps float64
}

// Estimate never fails: routing errors degrade to the naive estimate, which
// is not cached so the router is asked again next time.
func (e *Estimator) Estimate(ctx context.Context, from, to models.Coord) float64 {
	if e.Client == nil {
		return EstimateSeconds(from, to, e.SpeedMps)
	}
	if e.Cache != nil {
		if v, ok := e.Cache.Get(from, to); ok {
			return v
		}
	}
	v, err := e.Client.EstimateSeconds(ctx, from, to)
	if err != nil {
		return EstimateSeconds(from, to, e.SpeedMps)
	}
	if e.Cache != nil {
		e.Cache.Set(from, to, v)
	}
	return v
}
