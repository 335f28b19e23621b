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

const periodCollectionName = "periods"

// mongoPeriodRepository implements repository.PeriodRepository
type mongoPeriodRepository struct {
	collection *mongo.Collection
}

// NewMongoPeriodRepository creates a new Period repository backed by MongoDB.
func NewMongoPeriodRepository(db *mongo.Database) repository.PeriodRepository {
	return &mongoPeriodRepository{
		collection: db.Collection(periodCollectionName),
	}
}

// Create inserts the period row. The unique (enrollmentId, periodIndex) index
// turns a second materialization into repository.ErrDuplicate.
func (r *mongoPeriodRepository) Create(ctx context.Context, p *domain.Period) error {
	p.ID = primitive.NewObjectID()
	if p.MaterializedAt.IsZero() {
		p.MaterializedAt = time.Now().UTC()
	}
	_, err := r.collection.InsertOne(ctx, p)
	return translateError(err)
}

// Get retrieves one period by its natural key.
func (r *mongoPeriodRepository) Get(ctx context.Context, enrollmentID primitive.ObjectID, periodIndex int) (*domain.Period, error) {
	var p domain.Period
	filter := bson.M{"enrollmentId": enrollmentID, "periodIndex": periodIndex}
	if err := r.collection.FindOne(ctx, filter).Decode(&p); err != nil {
		return nil, translateError(err)
	}
	return &p, nil
}

// GetByEnrollmentID lists the materialized periods in index order.
func (r *mongoPeriodRepository) GetByEnrollmentID(ctx context.Context, enrollmentID primitive.ObjectID) ([]domain.Period, error) {
	findOptions := options.Find().SetSort(bson.D{{Key: "periodIndex", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{"enrollmentId": enrollmentID}, findOptions)
	if err != nil {
		return nil, translateError(err)
	}
	defer cursor.Close(ctx)

	periods := []domain.Period{} // Initialize to empty slice, not nil
	if err = cursor.All(ctx, &periods); err != nil {
		return nil, translateError(err)
	}
	return periods, nil
}

// EnsurePeriodIndexes creates the natural key index of periods.
func EnsurePeriodIndexes(ctx context.Context, collection *mongo.Collection) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "enrollmentId", Value: 1}, {Key: "periodIndex", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	_, err := collection.Indexes().CreateMany(ctx, indexes)
	return err
}
