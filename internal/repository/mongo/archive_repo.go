package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"alcyxob/coaching-engine/internal/domain"
	"alcyxob/coaching-engine/internal/repository"
)

const archiveCollectionName = "archive_snapshots"

type mongoArchiveRepository struct {
	collection *mongo.Collection
}

func NewMongoArchiveRepository(db *mongo.Database) repository.ArchiveRepository {
	return &mongoArchiveRepository{
		collection: db.Collection(archiveCollectionName,
			options.Collection().SetWriteConcern(writeconcern.Majority())),
	}
}

func (r *mongoArchiveRepository) GetByEnrollmentID(ctx context.Context, enrollmentID primitive.ObjectID) (*domain.ArchiveSnapshot, error) {
	var snap domain.ArchiveSnapshot
	if err := r.collection.FindOne(ctx, bson.M{"enrollmentId": enrollmentID}).Decode(&snap); err != nil {
		return nil, translateError(err)
	}
	return &snap, nil
}

// Upsert replaces the enrollment's snapshot (or creates it), keeping the
// original _id when one exists. It is acknowledged with majority write concern
// before returning, which is what allows raw rows to be purged afterwards.
func (r *mongoArchiveRepository) Upsert(ctx context.Context, snap *domain.ArchiveSnapshot) (*domain.ArchiveSnapshot, error) {
	snap.ID = primitive.NilObjectID
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	opts := options.FindOneAndReplace().SetUpsert(true).SetReturnDocument(options.After)

	var saved domain.ArchiveSnapshot
	err := r.collection.FindOneAndReplace(ctx, bson.M{"enrollmentId": snap.EnrollmentID}, snap, opts).Decode(&saved)
	if err != nil {
		return nil, translateError(err)
	}
	return &saved, nil
}

func (r *mongoArchiveRepository) SetExportKey(ctx context.Context, enrollmentID primitive.ObjectID, key string) error {
	return r.set(ctx, enrollmentID, bson.M{"exportKey": key})
}

func (r *mongoArchiveRepository) MarkPurged(ctx context.Context, enrollmentID primitive.ObjectID) error {
	return r.set(ctx, enrollmentID, bson.M{"purged": true})
}

func (r *mongoArchiveRepository) ListUnpurged(ctx context.Context) ([]domain.ArchiveSnapshot, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"purged": false})
	if err != nil {
		return nil, translateError(err)
	}
	defer cursor.Close(ctx)

	snaps := []domain.ArchiveSnapshot{}
	if err = cursor.All(ctx, &snaps); err != nil {
		return nil, translateError(err)
	}
	return snaps, nil
}

func (r *mongoArchiveRepository) set(ctx context.Context, enrollmentID primitive.ObjectID, fields bson.M) error {
	result, err := r.collection.UpdateOne(ctx, bson.M{"enrollmentId": enrollmentID}, bson.M{"$set": fields})
	if err != nil {
		return translateError(err)
	}
	if result.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// EnsureArchiveIndexes creates the one-snapshot-per-enrollment index.
func EnsureArchiveIndexes(ctx context.Context, collection *mongo.Collection) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "enrollmentId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "purged", Value: 1}},
			Options: options.Index(),
		},
	}
	_, err := collection.Indexes().CreateMany(ctx, indexes)
	return err
}
