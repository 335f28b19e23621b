package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"alcyxob/coaching-engine/internal/domain"
	"alcyxob/coaching-engine/internal/repository"
)

const (
	bookingCollectionName     = "bookings"
	bookingLockCollectionName = "booking_locks"
)

// mongoBookingRepository implements repository.BookingRepository
type mongoBookingRepository struct {
	collection *mongo.Collection
	locks      *mongo.Collection
}

// NewMongoBookingRepository creates a new Booking repository backed by MongoDB.
func NewMongoBookingRepository(db *mongo.Database) repository.BookingRepository {
	return &mongoBookingRepository{
		collection: db.Collection(bookingCollectionName),
		locks:      db.Collection(bookingLockCollectionName),
	}
}

// Lock increments a counter on the (coach, date) guard document. Two
// transactions that both lock the same coach day write the same document, so
// the second one fails with a write conflict and is retried after the first
// commits; its capacity check then sees the first booking.
func (r *mongoBookingRepository) Lock(ctx context.Context, coachID primitive.ObjectID, date time.Time) error {
	date = domain.DateOnly(date)
	key := coachID.Hex() + ":" + domain.FormatDate(date)
	update := bson.M{
		"$inc": bson.M{"seq": 1},
		"$set": bson.M{"coachId": coachID, "date": date},
	}
	_, err := r.locks.UpdateOne(ctx, bson.M{"_id": key}, update, options.Update().SetUpsert(true))
	return translateError(err)
}

// Create inserts a confirmed booking. Capacity is checked by the caller under Lock.
func (r *mongoBookingRepository) Create(ctx context.Context, b *domain.Booking) (primitive.ObjectID, error) {
	b.ID = primitive.NewObjectID()
	b.Date = domain.DateOnly(b.Date)
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	if b.Status == "" {
		b.Status = domain.BookingConfirmed
	}
	if _, err := r.collection.InsertOne(ctx, b); err != nil {
		return primitive.NilObjectID, translateError(err)
	}
	return b.ID, nil
}

// GetByID retrieves a booking by its ID.
func (r *mongoBookingRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*domain.Booking, error) {
	var b domain.Booking
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&b); err != nil {
		return nil, translateError(err)
	}
	return &b, nil
}

// GetConfirmedByCoach feeds capacity subtraction; cancelled rows are ignored.
func (r *mongoBookingRepository) GetConfirmedByCoach(ctx context.Context, coachID primitive.ObjectID, from, to time.Time) ([]domain.Booking, error) {
	filter := bson.M{"coachId": coachID, "status": domain.BookingConfirmed}
	if rng := dateRange(from, to); rng != nil {
		filter["date"] = rng
	}
	return r.find(ctx, filter)
}

func (r *mongoBookingRepository) GetByClientID(ctx context.Context, clientID primitive.ObjectID, from, to time.Time) ([]domain.Booking, error) {
	filter := bson.M{"clientId": clientID}
	if rng := dateRange(from, to); rng != nil {
		filter["date"] = rng
	}
	return r.find(ctx, filter)
}

func (r *mongoBookingRepository) GetByCoachID(ctx context.Context, coachID primitive.ObjectID, from, to time.Time) ([]domain.Booking, error) {
	filter := bson.M{"coachId": coachID}
	if rng := dateRange(from, to); rng != nil {
		filter["date"] = rng
	}
	return r.find(ctx, filter)
}

// Cancel flips a confirmed booking to cancelled. The status guard makes a
// second cancellation fail with repository.ErrConditionFailed instead of
// restoring a credit twice.
func (r *mongoBookingRepository) Cancel(ctx context.Context, id primitive.ObjectID, at time.Time, creditRestored bool) error {
	filter := bson.M{"_id": id, "status": domain.BookingConfirmed}
	update := bson.M{
		"$set": bson.M{
			"status":         domain.BookingCancelled,
			"cancelledAt":    at,
			"creditRestored": creditRestored,
		},
	}
	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return translateError(err)
	}
	if result.MatchedCount == 0 {
		return repository.ErrConditionFailed
	}
	return nil
}

func (r *mongoBookingRepository) find(ctx context.Context, filter bson.M) ([]domain.Booking, error) {
	findOptions := options.Find().SetSort(bson.D{{Key: "date", Value: 1}, {Key: "start", Value: 1}})
	cursor, err := r.collection.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, translateError(err)
	}
	defer cursor.Close(ctx)

	bookings := []domain.Booking{}
	if err = cursor.All(ctx, &bookings); err != nil {
		return nil, translateError(err)
	}
	return bookings, nil
}

// EnsureBookingIndexes creates the (coachId, date, start) lookup index and the client index.
func EnsureBookingIndexes(ctx context.Context, collection *mongo.Collection) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "coachId", Value: 1}, {Key: "date", Value: 1}, {Key: "start", Value: 1}},
			Options: options.Index(),
		},
		{
			Keys:    bson.D{{Key: "clientId", Value: 1}, {Key: "date", Value: 1}},
			Options: options.Index(),
		},
	}
	_, err := collection.Indexes().CreateMany(ctx, indexes)
	return err
}
