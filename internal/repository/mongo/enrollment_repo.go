package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"alcyxob/coaching-engine/internal/domain"
	"alcyxob/coaching-engine/internal/repository"
)

const enrollmentCollectionName = "enrollments"

// mongoEnrollmentRepository implements repository.EnrollmentRepository
type mongoEnrollmentRepository struct {
	collection *mongo.Collection
}

// NewMongoEnrollmentRepository creates a new Enrollment repository backed by MongoDB.
func NewMongoEnrollmentRepository(db *mongo.Database) repository.EnrollmentRepository {
	return &mongoEnrollmentRepository{
		collection: db.Collection(enrollmentCollectionName),
	}
}

// Create inserts a new enrollment.
func (r *mongoEnrollmentRepository) Create(ctx context.Context, enr *domain.Enrollment) (primitive.ObjectID, error) {
	if enr.ClientID == primitive.NilObjectID || enr.ProgramID == primitive.NilObjectID {
		return primitive.NilObjectID, errors.New("enrollment requires clientId and programId")
	}
	if enr.ID == primitive.NilObjectID {
		enr.ID = primitive.NewObjectID()
	}
	now := time.Now().UTC()
	enr.CreatedAt = now
	enr.UpdatedAt = now
	if enr.Status == "" {
		enr.Status = domain.EnrollmentPending
	}
	enr.OpenKey = openKey(enr)

	// Duplicate on openKey means another open enrollment exists
	if _, err := r.collection.InsertOne(ctx, enr); err != nil {
		return primitive.NilObjectID, translateError(err)
	}
	return enr.ID, nil
}

// GetByID retrieves an enrollment by its ID.
func (r *mongoEnrollmentRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*domain.Enrollment, error) {
	var enr domain.Enrollment
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&enr); err != nil {
		return nil, translateError(err)
	}
	return &enr, nil
}

func (r *mongoEnrollmentRepository) GetByClientID(ctx context.Context, clientID primitive.ObjectID) ([]domain.Enrollment, error) {
	return r.find(ctx, bson.M{"clientId": clientID})
}

func (r *mongoEnrollmentRepository) GetByCoachID(ctx context.Context, coachID primitive.ObjectID) ([]domain.Enrollment, error) {
	return r.find(ctx, bson.M{"coachId": coachID})
}

// Update persists the mutable lifecycle fields. StartDate is not
// part of the update: it is fixed once period 1 exists.
func (r *mongoEnrollmentRepository) Update(ctx context.Context, enr *domain.Enrollment) error {
	enr.UpdatedAt = time.Now().UTC()
	set := bson.M{
		"status":        enr.Status,
		"progress":      enr.Progress,
		"currentPeriod": enr.CurrentPeriod,
		"updatedAt":     enr.UpdatedAt,
	}
	update := bson.M{"$set": set}

	// Leaving pending/active frees the (client, program) slot
	enr.OpenKey = openKey(enr)
	if enr.OpenKey != "" {
		set["openKey"] = enr.OpenKey
	} else {
		update["$unset"] = bson.M{"openKey": ""}
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": enr.ID}, update)
	if err != nil {
		return translateError(err)
	}
	if result.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListActiveEndingBefore feeds the expiry sweep.
func (r *mongoEnrollmentRepository) ListActiveEndingBefore(ctx context.Context, t time.Time) ([]domain.Enrollment, error) {
	return r.find(ctx, bson.M{"status": domain.EnrollmentActive, "endsAt": bson.M{"$lt": t}})
}

func (r *mongoEnrollmentRepository) ListByStatus(ctx context.Context, status domain.EnrollmentStatus) ([]domain.Enrollment, error) {
	return r.find(ctx, bson.M{"status": status})
}

func (r *mongoEnrollmentRepository) find(ctx context.Context, filter bson.M) ([]domain.Enrollment, error) {
	// Newest first
	findOptions := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cursor, err := r.collection.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, translateError(err)
	}
	defer cursor.Close(ctx)

	enrollments := []domain.Enrollment{}
	if err = cursor.All(ctx, &enrollments); err != nil {
		return nil, translateError(err)
	}
	return enrollments, nil
}

// openKey is the value guarded by the unique partial index: set while the
// enrollment is open, empty (and so unset) afterwards.
func openKey(enr *domain.Enrollment) string {
	if !enr.IsOpen() {
		return ""
	}
	return enr.ClientID.Hex() + ":" + enr.ProgramID.Hex()
}

var openKeyFilter = bson.M{"openKey": bson.M{"$exists": true}}

// EnsureEnrollmentIndexes creates necessary indexes for the enrollments collection.
func EnsureEnrollmentIndexes(ctx context.Context, collection *mongo.Collection) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "clientId", Value: 1}, {Key: "createdAt", Value: -1}},
			Options: options.Index(),
		},
		{
			Keys:    bson.D{{Key: "coachId", Value: 1}, {Key: "createdAt", Value: -1}},
			Options: options.Index(),
		},
		{
			// one open enrollment per client and program
			Keys:    bson.D{{Key: "openKey", Value: 1}},
			Options: options.Index().SetUnique(true).SetPartialFilterExpression(openKeyFilter),
		},
		{
			// expiry sweep
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "endsAt", Value: 1}},
			Options: options.Index(),
		},
	}
	_, err := collection.Indexes().CreateMany(ctx, indexes)
	return err
}
