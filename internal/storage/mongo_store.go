package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/example/ride-dispatch/internal/models"
)

// MongoStore reads and writes the bookings, drivers and passengers
// collections. Booking ids are ObjectIDs; driver and passenger ids may be
// either ObjectIDs or strings, so lookups by id go through idFilter.
type MongoStore struct {
	client     *mongo.Client
	bookings   *mongo.Collection
	drivers    *mongo.Collection
	passengers *mongo.Collection
}

func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	db := client.Database(database)
	return &MongoStore{
		client:     client,
		bookings:   db.Collection("bookings"),
		drivers:    db.Collection("drivers"),
		passengers: db.Collection("passengers"),
	}, nil
}

type bookingDoc struct {
	ID             primitive.ObjectID   `bson:"_id"`
	PassengerID    string               `bson:"passengerId"`
	DriverID       string               `bson:"driverId,omitempty"`
	Status         models.BookingStatus `bson:"status"`
	Pickup         models.Place         `bson:"pickup"`
	Dropoff        models.Place         `bson:"dropoff"`
	VehicleType    string               `bson:"vehicleType"`
	AcceptedAt     *time.Time           `bson:"acceptedAt,omitempty"`
	CanceledBy     models.Role          `bson:"canceledBy,omitempty"`
	CanceledReason string               `bson:"canceledReason,omitempty"`
	CreatedAt      time.Time            `bson:"createdAt"`
	UpdatedAt      time.Time            `bson:"updatedAt"`
}

func (d bookingDoc) model() models.Booking {
	return models.Booking{
		ID:             d.ID.Hex(),
		PassengerID:    d.PassengerID,
		DriverID:       d.DriverID,
		Status:         d.Status,
		Pickup:         d.Pickup,
		Dropoff:        d.Dropoff,
		VehicleType:    d.VehicleType,
		AcceptedAt:     d.AcceptedAt,
		CanceledBy:     d.CanceledBy,
		CanceledReason: d.CanceledReason,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

func (s *MongoStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	prepareBooking(b, time.Now().UTC())
	oid, err := primitive.ObjectIDFromHex(b.ID)
	if err != nil {
		return fmt.Errorf("mongo create booking: %w", err)
	}
	doc := bookingDoc{
		ID:          oid,
		PassengerID: b.PassengerID,
		DriverID:    b.DriverID,
		Status:      b.Status,
		Pickup:      b.Pickup,
		Dropoff:     b.Dropoff,
		VehicleType: b.VehicleType,
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
	if _, err := s.bookings.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("mongo create booking: %w", err)
	}
	return nil
}

func (s *MongoStore) GetBooking(ctx context.Context, id string) (models.Booking, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return models.Booking{}, ErrNotFound
	}
	var doc bookingDoc
	if err := s.bookings.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		return models.Booking{}, mongoErr("get booking", err)
	}
	return doc.model(), nil
}

func (s *MongoStore) AcceptIfRequested(ctx context.Context, id, driverID string, at time.Time) (models.Booking, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return models.Booking{}, ErrNotFound
	}
	filter := bson.M{"_id": oid, "status": models.StatusRequested}
	update := bson.M{"$set": bson.M{
		"status":     models.StatusAccepted,
		"driverId":   driverID,
		"acceptedAt": at,
		"updatedAt":  at,
	}}
	return s.findOneAndUpdate(ctx, "accept booking", filter, update)
}

func (s *MongoStore) CancelBooking(ctx context.Context, id string, by models.Role, reason string, at time.Time) (models.Booking, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return models.Booking{}, ErrNotFound
	}
	update := bson.M{"$set": bson.M{
		"status":         models.StatusCanceled,
		"canceledBy":     by,
		"canceledReason": reason,
		"updatedAt":      at,
	}}
	return s.findOneAndUpdate(ctx, "cancel booking", bson.M{"_id": oid}, update)
}

func (s *MongoStore) findOneAndUpdate(ctx context.Context, op string, filter, update bson.M) (models.Booking, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc bookingDoc
	if err := s.bookings.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		return models.Booking{}, mongoErr(op, err)
	}
	return doc.model(), nil
}

func (s *MongoStore) ListActiveBookings(ctx context.Context, role models.Role, userID string) ([]models.Booking, error) {
	key := "passengerId"
	if role == models.RoleDriver {
		key = "driverId"
	}
	filter := bson.M{key: userID, "status": bson.M{"$in": models.ActiveStatuses}}
	cur, err := s.bookings.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("mongo list active bookings: %w", err)
	}
	defer cur.Close(ctx)
	var docs []bookingDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongo list active bookings: %w", err)
	}
	out := make([]models.Booking, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}

func (s *MongoStore) FindDriver(ctx context.Context, field Field, value string) (models.Driver, error) {
	filter, err := directoryFilter(field, value)
	if err != nil {
		return models.Driver{}, err
	}
	var d models.Driver
	if err := s.drivers.FindOne(ctx, filter).Decode(&d); err != nil {
		return models.Driver{}, mongoErr("find driver", err)
	}
	return d, nil
}

// passengers may carry either string or ObjectID ids
type passengerDoc struct {
	ID         any    `bson:"_id"`
	ExternalID string `bson:"externalId,omitempty"`
	Name       string `bson:"name,omitempty"`
	Phone      string `bson:"phone,omitempty"`
	Email      string `bson:"email,omitempty"`
}

func (s *MongoStore) FindPassenger(ctx context.Context, field Field, value string) (models.Passenger, error) {
	filter, err := directoryFilter(field, value)
	if err != nil {
		return models.Passenger{}, err
	}
	var doc passengerDoc
	if err := s.passengers.FindOne(ctx, filter).Decode(&doc); err != nil {
		return models.Passenger{}, mongoErr("find passenger", err)
	}
	id := fmt.Sprint(doc.ID)
	if oid, ok := doc.ID.(primitive.ObjectID); ok {
		id = oid.Hex()
	}
	return models.Passenger{ID: id, ExternalID: doc.ExternalID, Name: doc.Name, Phone: doc.Phone, Email: doc.Email}, nil
}

// idFilter matches a directory _id stored as a string or, when value is a
// hex ObjectID, as that ObjectID.
func idFilter(value string) bson.M {
	if oid, err := primitive.ObjectIDFromHex(value); err == nil {
		return bson.M{"_id": bson.M{"$in": bson.A{value, oid}}}
	}
	return bson.M{"_id": value}
}

func directoryFilter(field Field, value string) (bson.M, error) {
	if value == "" {
		return nil, ErrNotFound
	}
	switch field {
	case FieldID:
		return idFilter(value), nil
	case FieldExternalID:
		return bson.M{"externalId": value}, nil
	case FieldPhone:
		return bson.M{"phone": value}, nil
	case FieldEmail:
		return bson.M{"email": value}, nil
	}
	return nil, fmt.Errorf("storage: unsupported directory field %q", field)
}

func (s *MongoStore) AvailableDrivers(ctx context.Context) ([]models.Driver, error) {
	cur, err := s.drivers.Find(ctx, bson.M{"available": true})
	if err != nil {
		return nil, fmt.Errorf("mongo available drivers: %w", err)
	}
	defer cur.Close(ctx)
	var out []models.Driver
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("mongo available drivers: %w", err)
	}
	return out, nil
}

func (s *MongoStore) UpdateDriverLocation(ctx context.Context, loc models.DriverLocation) error {
	filter, update, err := locationUpdate(loc, time.Now().UTC())
	if err != nil {
		return err
	}
	res, err := s.drivers.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("mongo update driver location: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// locationUpdate addresses the driver the same way FindDriver does, so a
// driver found by its ObjectID also receives location updates.
func locationUpdate(loc models.DriverLocation, now time.Time) (filter, update bson.M, err error) {
	filter, err = directoryFilter(FieldID, loc.DriverID)
	if err != nil {
		return nil, nil, err
	}
	update = bson.M{"$set": bson.M{
		"lastKnownLocation": loc.Loc,
		"available":         loc.Available,
		"updatedAt":         now,
	}}
	return filter, update, nil
}

func (s *MongoStore) Ping(ctx context.Context) error { return s.client.Ping(ctx, nil) }

func (s *MongoStore) Close(ctx context.Context) error { return s.client.Disconnect(ctx) }

func mongoErr(op string, err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return fmt.Errorf("mongo %s: %w", op, err)
}
