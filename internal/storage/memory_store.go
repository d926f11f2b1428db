package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// MemoryStore is the in-process Store used for local runs and tests. The
// mutex makes AcceptIfRequested a compare-and-set, which is the same
// guarantee the database adapters get from a conditional update.
type MemoryStore struct {
	mu         sync.RWMutex
	bookings   map[string]models.Booking
	drivers    map[string]models.Driver
	passengers map[string]models.Passenger
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings:   make(map[string]models.Booking),
		drivers:    make(map[string]models.Driver),
		passengers: make(map[string]models.Passenger),
	}
}

func (m *MemoryStore) PutDriver(d models.Driver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[d.ID] = d
}

func (m *MemoryStore) PutPassenger(p models.Passenger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passengers[p.ID] = p
}

// PutBooking stores b as-is, overwriting any existing booking. It stands in
// for writers outside this service (the completion workflow).
func (m *MemoryStore) PutBooking(b models.Booking) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[b.ID] = b
}

func (m *MemoryStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prepareBooking(b, time.Now().UTC())
	if _, ok := m.bookings[b.ID]; ok {
		return fmt.Errorf("storage: booking %s already exists", b.ID)
	}
	m.bookings[b.ID] = *b
	return nil
}

func (m *MemoryStore) GetBooking(ctx context.Context, id string) (models.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return models.Booking{}, ErrNotFound
	}
	return b, nil
}

func (m *MemoryStore) AcceptIfRequested(ctx context.Context, id, driverID string, at time.Time) (models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok || b.Status != models.StatusRequested {
		return models.Booking{}, ErrNotFound
	}
	b.Status = models.StatusAccepted
	b.DriverID = driverID
	b.AcceptedAt = &at
	b.UpdatedAt = at
	m.bookings[id] = b
	return b, nil
}

func (m *MemoryStore) CancelBooking(ctx context.Context, id string, by models.Role, reason string, at time.Time) (models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return models.Booking{}, ErrNotFound
	}
	b.Status = models.StatusCanceled
	b.CanceledBy = by
	b.CanceledReason = reason
	b.UpdatedAt = at
	m.bookings[id] = b
	return b, nil
}

func (m *MemoryStore) ListActiveBookings(ctx context.Context, role models.Role, userID string) ([]models.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Booking
	for _, b := range m.bookings {
		if b.Status.Active() && b.Involves(role, userID) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) FindDriver(ctx context.Context, field Field, value string) (models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if field == FieldID {
		if d, ok := m.drivers[value]; ok {
			return d, nil
		}
		return models.Driver{}, ErrNotFound
	}
	for _, d := range m.drivers {
		if matchField(field, value, d.ExternalID, d.Phone, d.Email) {
			return d, nil
		}
	}
	return models.Driver{}, ErrNotFound
}

func (m *MemoryStore) FindPassenger(ctx context.Context, field Field, value string) (models.Passenger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if field == FieldID {
		if p, ok := m.passengers[value]; ok {
			return p, nil
		}
		return models.Passenger{}, ErrNotFound
	}
	for _, p := range m.passengers {
		if matchField(field, value, p.ExternalID, p.Phone, p.Email) {
			return p, nil
		}
	}
	return models.Passenger{}, ErrNotFound
}

func matchField(field Field, value, externalID, phone, email string) bool {
	if value == "" {
		return false
	}
	switch field {
	case FieldExternalID:
		return externalID == value
	case FieldPhone:
		return phone == value
	case FieldEmail:
		return email == value
	}
	return false
}

func (m *MemoryStore) AvailableDrivers(ctx context.Context) ([]models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Driver, 0, len(m.drivers))
	for _, d := range m.drivers {
		if d.Available {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateDriverLocation(ctx context.Context, loc models.DriverLocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[loc.DriverID]
	if !ok {
		return ErrNotFound
	}
	c := loc.Loc
	d.LastKnownLocation = &c
	d.Available = loc.Available
	d.Updated = time.Now().UTC()
	m.drivers[loc.DriverID] = d
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error  { return nil }
func (m *MemoryStore) Close(ctx context.Context) error { return nil }
