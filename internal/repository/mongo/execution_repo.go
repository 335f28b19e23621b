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

const executionCollectionName = "executions"

// mongoExecutionRepository implements repository.ExecutionRepository
type mongoExecutionRepository struct {
	collection *mongo.Collection
}

// NewMongoExecutionRepository creates a new Execution repository backed by MongoDB.
func NewMongoExecutionRepository(db *mongo.Database) repository.ExecutionRepository {
	return &mongoExecutionRepository{
		collection: db.Collection(executionCollectionName),
	}
}

// naturalKey matches the execution_natural_key index.
func naturalKey(e *domain.Execution) bson.M {
	return bson.M{
		"enrollmentId": e.EnrollmentID,
		"periodIndex":  e.PeriodIndex,
		"week":         e.Week,
		"weekday":      e.Weekday,
		"itemRef":      e.ItemRef,
	}
}

// UpsertMany writes executions keyed by their natural key with $setOnInsert, so
// re-running a materialization never duplicates or overwrites tracked rows.
func (r *mongoExecutionRepository) UpsertMany(ctx context.Context, execs []domain.Execution) (int, error) {
	if len(execs) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	models := make([]mongo.WriteModel, 0, len(execs))
	for i := range execs {
		e := &execs[i]
		if e.ID == primitive.NilObjectID {
			e.ID = primitive.NewObjectID()
		}
		e.CreatedAt = now
		e.UpdatedAt = now
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(naturalKey(e)).
			SetUpdate(bson.M{"$setOnInsert": e}).
			SetUpsert(true))
	}

	// Ordered so a failure stops at the first bad row
	result, err := r.collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true))
	if err != nil {
		return 0, translateError(err)
	}
	return int(result.UpsertedCount), nil
}

// GetByID retrieves an execution by its ID.
func (r *mongoExecutionRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*domain.Execution, error) {
	var e domain.Execution
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&e); err != nil {
		return nil, translateError(err)
	}
	return &e, nil
}

// Update persists the tracking fields of one execution.
func (r *mongoExecutionRepository) Update(ctx context.Context, e *domain.Execution) error {
	e.UpdatedAt = time.Now().UTC()
	set := bson.M{
		"completed": e.Completed,
		"notes":     e.Notes,
		"updatedAt": e.UpdatedAt,
	}
	// Cleared optional fields are removed rather than stored as null
	unset := bson.M{}
	if e.CompletedAt != nil {
		set["completedAt"] = *e.CompletedAt
	} else {
		unset["completedAt"] = ""
	}
	if e.AppliedIntensity != nil {
		set["appliedIntensity"] = *e.AppliedIntensity
	} else {
		unset["appliedIntensity"] = ""
	}
	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": e.ID}, update)
	if err != nil {
		return translateError(err)
	}
	if result.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// GetByEnrollmentID lists executions in calendar order. Zero bounds are open.
func (r *mongoExecutionRepository) GetByEnrollmentID(ctx context.Context, enrollmentID primitive.ObjectID, from, to time.Time) ([]domain.Execution, error) {
	filter := bson.M{"enrollmentId": enrollmentID}
	if rng := dateRange(from, to); rng != nil {
		filter["scheduledDate"] = rng
	}
	return r.find(ctx, filter)
}

// GetByPeriod lists the executions of one period in calendar order.
func (r *mongoExecutionRepository) GetByPeriod(ctx context.Context, enrollmentID primitive.ObjectID, periodIndex int) ([]domain.Execution, error) {
	return r.find(ctx, bson.M{"enrollmentId": enrollmentID, "periodIndex": periodIndex})
}

// Count returns the total and completed executions of an enrollment.
func (r *mongoExecutionRepository) Count(ctx context.Context, enrollmentID primitive.ObjectID) (int64, int64, error) {
	total, err := r.collection.CountDocuments(ctx, bson.M{"enrollmentId": enrollmentID})
	if err != nil {
		return 0, 0, translateError(err)
	}
	completed, err := r.collection.CountDocuments(ctx, bson.M{"enrollmentId": enrollmentID, "completed": true})
	if err != nil {
		return 0, 0, translateError(err)
	}
	return total, completed, nil
}

// DeleteByEnrollmentID purges the raw rows of an archived enrollment.
func (r *mongoExecutionRepository) DeleteByEnrollmentID(ctx context.Context, enrollmentID primitive.ObjectID) (int64, error) {
	result, err := r.collection.DeleteMany(ctx, bson.M{"enrollmentId": enrollmentID})
	if err != nil {
		return 0, translateError(err)
	}
	return result.DeletedCount, nil
}

func (r *mongoExecutionRepository) find(ctx context.Context, filter bson.M) ([]domain.Execution, error) {
	findOptions := options.Find().SetSort(bson.D{
		{Key: "scheduledDate", Value: 1},
		{Key: "orderInBlock", Value: 1},
		{Key: "itemRef", Value: 1},
	})
	cursor, err := r.collection.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, translateError(err)
	}
	defer cursor.Close(ctx)

	execs := []domain.Execution{} // Initialize to empty slice, not nil
	if err = cursor.All(ctx, &execs); err != nil {
		return nil, translateError(err)
	}
	return execs, nil
}

// dateRange builds an inclusive range filter, nil when both bounds are zero.
func dateRange(from, to time.Time) bson.M {
	if from.IsZero() && to.IsZero() {
		return nil
	}
	rng := bson.M{}
	if !from.IsZero() {
		rng["$gte"] = from
	}
	if !to.IsZero() {
		rng["$lte"] = to
	}
	return rng
}

// EnsureExecutionIndexes creates the natural key index and the calendar index.
func EnsureExecutionIndexes(ctx context.Context, collection *mongo.Collection) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "enrollmentId", Value: 1},
				{Key: "periodIndex", Value: 1},
				{Key: "week", Value: 1},
				{Key: "weekday", Value: 1},
				{Key: "itemRef", Value: 1},
			},
			Options: options.Index().SetUnique(true).SetName("execution_natural_key"),
		},
		{
			// date range reads
			Keys:    bson.D{{Key: "enrollmentId", Value: 1}, {Key: "scheduledDate", Value: 1}},
			Options: options.Index(),
		},
		{
			// progress counts
			Keys:    bson.D{{Key: "enrollmentId", Value: 1}, {Key: "completed", Value: 1}},
			Options: options.Index(),
		},
	}
	_, err := collection.Indexes().CreateMany(ctx, indexes)
	return err
}
