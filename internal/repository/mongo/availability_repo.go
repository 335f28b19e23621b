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

const availabilityCollectionName = "availability"

// mongoAvailabilityRepository implements repository.AvailabilityRepository
type mongoAvailabilityRepository struct {
	collection *mongo.Collection
}

// NewMongoAvailabilityRepository creates a new Availability repository backed by MongoDB.
func NewMongoAvailabilityRepository(db *mongo.Database) repository.AvailabilityRepository {
	return &mongoAvailabilityRepository{
		collection: db.Collection(availabilityCollectionName),
	}
}

// Create inserts a recurring slot, a date override or a blackout.
func (r *mongoAvailabilityRepository) Create(ctx context.Context, slot *domain.AvailabilitySlot) (primitive.ObjectID, error) {
	slot.ID = primitive.NewObjectID()
	slot.CreatedAt = time.Now().UTC()
	if _, err := r.collection.InsertOne(ctx, slot); err != nil {
		return primitive.NilObjectID, translateError(err)
	}
	return slot.ID, nil
}

// GetByCoachID returns every availability row of a coach: recurring rows
// first (by weekday), then date-specific ones.
func (r *mongoAvailabilityRepository) GetByCoachID(ctx context.Context, coachID primitive.ObjectID) ([]domain.AvailabilitySlot, error) {
	// Missing specificDate sorts before any date
	findOptions := options.Find().SetSort(bson.D{
		{Key: "specificDate", Value: 1},
		{Key: "dayOfWeek", Value: 1},
		{Key: "start", Value: 1},
	})
	cursor, err := r.collection.Find(ctx, bson.M{"coachId": coachID}, findOptions)
	if err != nil {
		return nil, translateError(err)
	}
	defer cursor.Close(ctx)

	slots := []domain.AvailabilitySlot{}
	if err = cursor.All(ctx, &slots); err != nil {
		return nil, translateError(err)
	}
	return slots, nil
}

// Delete removes a row only if it belongs to coachID.
func (r *mongoAvailabilityRepository) Delete(ctx context.Context, id primitive.ObjectID, coachID primitive.ObjectID) error {
	// Filter by owner so another coach's row looks like not found
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id, "coachId": coachID})
	if err != nil {
		return translateError(err)
	}
	if result.DeletedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// EnsureAvailabilityIndexes creates the weekly and per-date lookup indexes.
func EnsureAvailabilityIndexes(ctx context.Context, collection *mongo.Collection) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "coachId", Value: 1}, {Key: "dayOfWeek", Value: 1}},
			Options: options.Index(),
		},
		{
			Keys:    bson.D{{Key: "coachId", Value: 1}, {Key: "specificDate", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
	}
	_, err := collection.Indexes().CreateMany(ctx, indexes)
	return err
}
