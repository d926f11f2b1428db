package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

//go:embed migrations/001_create_dispatch.sql
var createDispatchSQL string

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// Migrate applies the bundled schema. Statements are idempotent.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, createDispatchSQL)
	return err
}

const bookingColumns = `id, passenger_id, COALESCE(driver_id, ''), status,
	pickup_lat, pickup_lon, COALESCE(pickup_address, ''),
	dropoff_lat, dropoff_lon, COALESCE(dropoff_address, ''),
	vehicle_type, accepted_at, COALESCE(canceled_by, ''), COALESCE(canceled_reason, ''),
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (models.Booking, error) {
	var (
		b          models.Booking
		acceptedAt sql.NullTime
		canceledBy string
	)
	err := row.Scan(&b.ID, &b.PassengerID, &b.DriverID, &b.Status,
		&b.Pickup.Latitude, &b.Pickup.Longitude, &b.Pickup.Address,
		&b.Dropoff.Latitude, &b.Dropoff.Longitude, &b.Dropoff.Address,
		&b.VehicleType, &acceptedAt, &canceledBy, &b.CanceledReason,
		&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return models.Booking{}, err
	}
	if acceptedAt.Valid {
		t := acceptedAt.Time
		b.AcceptedAt = &t
	}
	b.CanceledBy = models.Role(canceledBy)
	return b, nil
}

func (p *PostgresStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	prepareBooking(b, time.Now().UTC())
	_, err := p.db.ExecContext(ctx, `INSERT INTO bookings(id, passenger_id, status, pickup_lat, pickup_lon, pickup_address,
		dropoff_lat, dropoff_lon, dropoff_address, vehicle_type, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,NULLIF($6,''),$7,$8,NULLIF($9,''),$10,$11,$12)`,
		b.ID, b.PassengerID, b.Status, b.Pickup.Latitude, b.Pickup.Longitude, b.Pickup.Address,
		b.Dropoff.Latitude, b.Dropoff.Longitude, b.Dropoff.Address, b.VehicleType, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres create booking: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetBooking(ctx context.Context, id string) (models.Booking, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id=$1`, id)
	return pgBooking("get booking", row)
}

func (p *PostgresStore) AcceptIfRequested(ctx context.Context, id, driverID string, at time.Time) (models.Booking, error) {
	row := p.db.QueryRowContext(ctx, `UPDATE bookings SET status=$2, driver_id=$3, accepted_at=$4, updated_at=$4
		WHERE id=$1 AND status=$5 RETURNING `+bookingColumns,
		id, models.StatusAccepted, driverID, at, models.StatusRequested)
	return pgBooking("accept booking", row)
}

func (p *PostgresStore) CancelBooking(ctx context.Context, id string, by models.Role, reason string, at time.Time) (models.Booking, error) {
	row := p.db.QueryRowContext(ctx, `UPDATE bookings SET status=$2, canceled_by=$3, canceled_reason=NULLIF($4,''), updated_at=$5
		WHERE id=$1 RETURNING `+bookingColumns,
		id, models.StatusCanceled, string(by), reason, at)
	return pgBooking("cancel booking", row)
}

func pgBooking(op string, row *sql.Row) (models.Booking, error) {
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Booking{}, ErrNotFound
	}
	if err != nil {
		return models.Booking{}, fmt.Errorf("postgres %s: %w", op, err)
	}
	return b, nil
}

func (p *PostgresStore) ListActiveBookings(ctx context.Context, role models.Role, userID string) ([]models.Booking, error) {
	col := "passenger_id"
	if role == models.RoleDriver {
		col = "driver_id"
	}
	statuses := make([]string, 0, len(models.ActiveStatuses))
	for _, s := range models.ActiveStatuses {
		statuses = append(statuses, string(s))
	}
	rows, err := p.db.QueryContext(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE `+col+`=$1 AND status = ANY($2) ORDER BY created_at`, userID, pq.Array(statuses))
	if err != nil {
		return nil, fmt.Errorf("postgres list active bookings: %w", err)
	}
	defer rows.Close()
	var out []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres list active bookings: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

var directoryColumns = map[Field]string{
	FieldID:         "id",
	FieldExternalID: "external_id",
	FieldPhone:      "phone",
	FieldEmail:      "email",
}

const driverColumns = `id, COALESCE(external_id, ''), COALESCE(name, ''), COALESCE(phone, ''), COALESCE(email, ''),
	available, last_lat, last_lon, COALESCE(vehicle_type, ''),
	COALESCE(vehicle_make, ''), COALESCE(vehicle_model, ''), COALESCE(vehicle_plate, ''), COALESCE(vehicle_color, ''),
	updated_at`

func scanDriver(row rowScanner) (models.Driver, error) {
	var (
		d        models.Driver
		lat, lon sql.NullFloat64
	)
	err := row.Scan(&d.ID, &d.ExternalID, &d.Name, &d.Phone, &d.Email,
		&d.Available, &lat, &lon, &d.VehicleType,
		&d.Vehicle.Make, &d.Vehicle.Model, &d.Vehicle.Plate, &d.Vehicle.Color,
		&d.Updated)
	if err != nil {
		return models.Driver{}, err
	}
	if lat.Valid && lon.Valid {
		d.LastKnownLocation = &models.Coord{Lat: lat.Float64, Lon: lon.Float64}
	}
	return d, nil
}

func (p *PostgresStore) FindDriver(ctx context.Context, field Field, value string) (models.Driver, error) {
	col, ok := directoryColumns[field]
	if !ok {
		return models.Driver{}, fmt.Errorf("storage: unsupported directory field %q", field)
	}
	if value == "" {
		return models.Driver{}, ErrNotFound
	}
	row := p.db.QueryRowContext(ctx, `SELECT `+driverColumns+` FROM drivers WHERE `+col+`=$1 LIMIT 1`, value)
	d, err := scanDriver(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Driver{}, ErrNotFound
	}
	if err != nil {
		return models.Driver{}, fmt.Errorf("postgres find driver: %w", err)
	}
	return d, nil
}

func (p *PostgresStore) FindPassenger(ctx context.Context, field Field, value string) (models.Passenger, error) {
	col, ok := directoryColumns[field]
	if !ok {
		return models.Passenger{}, fmt.Errorf("storage: unsupported directory field %q", field)
	}
	if value == "" {
		return models.Passenger{}, ErrNotFound
	}
	var ps models.Passenger
	err := p.db.QueryRowContext(ctx, `SELECT id, COALESCE(external_id, ''), COALESCE(name, ''), COALESCE(phone, ''), COALESCE(email, '')
		FROM passengers WHERE `+col+`=$1 LIMIT 1`, value).Scan(&ps.ID, &ps.ExternalID, &ps.Name, &ps.Phone, &ps.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Passenger{}, ErrNotFound
	}
	if err != nil {
		return models.Passenger{}, fmt.Errorf("postgres find passenger: %w", err)
	}
	return ps, nil
}

func (p *PostgresStore) AvailableDrivers(ctx context.Context) ([]models.Driver, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+driverColumns+` FROM drivers WHERE available`)
	if err != nil {
		return nil, fmt.Errorf("postgres available drivers: %w", err)
	}
	defer rows.Close()
	var out []models.Driver
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres available drivers: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *PostgresStore) UpdateDriverLocation(ctx context.Context, loc models.DriverLocation) error {
	res, err := p.db.ExecContext(ctx, `UPDATE drivers SET last_lat=$2, last_lon=$3, available=$4, updated_at=$5 WHERE id=$1`,
		loc.DriverID, loc.Loc.Lat, loc.Loc.Lon, loc.Available, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("postgres update driver location: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *PostgresStore) Close(ctx context.Context) error { return p.db.Close() }
