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

const creditCollectionName = "credits"

// mongoCreditRepository implements repository.CreditRepository
type mongoCreditRepository struct {
	collection *mongo.Collection
}

// NewMongoCreditRepository creates a new Credit repository backed by MongoDB.
func NewMongoCreditRepository(db *mongo.Database) repository.CreditRepository {
	return &mongoCreditRepository{
		collection: db.Collection(creditCollectionName),
	}
}

// Create inserts a credit; the natural key index rejects a second one.
func (r *mongoCreditRepository) Create(ctx context.Context, c *domain.ConsultationCredit) (primitive.ObjectID, error) {
	c.ID = primitive.NewObjectID()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if _, err := r.collection.InsertOne(ctx, c); err != nil {
		return primitive.NilObjectID, translateError(err)
	}
	return c.ID, nil
}

// GetByID retrieves a credit by its ID.
func (r *mongoCreditRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*domain.ConsultationCredit, error) {
	var c domain.ConsultationCredit
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&c); err != nil {
		return nil, translateError(err)
	}
	return &c, nil
}

func (r *mongoCreditRepository) GetByClientID(ctx context.Context, clientID primitive.ObjectID) ([]domain.ConsultationCredit, error) {
	// Soonest to expire first
	findOptions := options.Find().SetSort(bson.D{{Key: "expiresAt", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{"clientId": clientID}, findOptions)
	if err != nil {
		return nil, translateError(err)
	}
	defer cursor.Close(ctx)

	credits := []domain.ConsultationCredit{}
	if err = cursor.All(ctx, &credits); err != nil {
		return nil, translateError(err)
	}
	return credits, nil
}

// Grant tops up the credit in place so a re-purchase never collides with the
// (clientId, programId, type) key. usedSessions only starts at 0 on insert.
func (r *mongoCreditRepository) Grant(ctx context.Context, c *domain.ConsultationCredit) (*domain.ConsultationCredit, error) {
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	filter := bson.M{"clientId": c.ClientID, "programId": c.ProgramID, "type": c.Type}
	update := bson.M{
		"$inc": bson.M{"totalSessions": c.TotalSessions},
		"$set": bson.M{
			"coachId":      c.CoachID,
			"enrollmentId": c.EnrollmentID,
			"expiresAt":    c.ExpiresAt,
		},
		"$setOnInsert": bson.M{"usedSessions": 0, "createdAt": createdAt},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var stored domain.ConsultationCredit
	if err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&stored); err != nil {
		return nil, translateError(err)
	}
	return &stored, nil
}

// Debit is a guarded $inc: the filter only matches while a session is left
// and the credit has not expired, so usedSessions can never pass totalSessions.
func (r *mongoCreditRepository) Debit(ctx context.Context, id primitive.ObjectID, now time.Time) error {
	filter := bson.M{
		"_id":   id,
		"$expr": bson.M{"$lt": bson.A{"$usedSessions", "$totalSessions"}},
		"$or": bson.A{
			bson.M{"expiresAt": bson.M{"$gt": now}},
			bson.M{"expiresAt": time.Time{}},
		},
	}
	result, err := r.collection.UpdateOne(ctx, filter, bson.M{"$inc": bson.M{"usedSessions": 1}})
	if err != nil {
		return translateError(err)
	}
	if result.MatchedCount == 0 {
		return repository.ErrConditionFailed
	}
	return nil
}

// Restore is the mirror of Debit, guarded so usedSessions never goes negative.
func (r *mongoCreditRepository) Restore(ctx context.Context, id primitive.ObjectID) error {
	filter := bson.M{"_id": id, "usedSessions": bson.M{"$gt": 0}}
	result, err := r.collection.UpdateOne(ctx, filter, bson.M{"$inc": bson.M{"usedSessions": -1}})
	if err != nil {
		return translateError(err)
	}
	if result.MatchedCount == 0 {
		return repository.ErrConditionFailed
	}
	return nil
}

// EnsureCreditIndexes creates the (clientId, programId, type) natural key.
func EnsureCreditIndexes(ctx context.Context, collection *mongo.Collection) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "clientId", Value: 1}, {Key: "programId", Value: 1}, {Key: "type", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	_, err := collection.Indexes().CreateMany(ctx, indexes)
	return err
}
