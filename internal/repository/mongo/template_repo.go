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

const templateCollectionName = "templates"

type mongoTemplateRepository struct {
	collection *mongo.Collection
}

// NewMongoTemplateRepository creates the weekly template repository.
func NewMongoTemplateRepository(db *mongo.Database) repository.TemplateRepository {
	return &mongoTemplateRepository{
		collection: db.Collection(templateCollectionName),
	}
}

func (r *mongoTemplateRepository) GetByProgramID(ctx context.Context, programID primitive.ObjectID) (*domain.WeeklyTemplate, error) {
	var tpl domain.WeeklyTemplate
	if err := r.collection.FindOne(ctx, bson.M{"programId": programID}).Decode(&tpl); err != nil {
		return nil, translateError(err)
	}
	return &tpl, nil
}

// Save upserts by programId and bumps version atomically, so two concurrent
// edits never end up with the same version number.
func (r *mongoTemplateRepository) Save(ctx context.Context, tpl *domain.WeeklyTemplate) (*domain.WeeklyTemplate, error) {
	now := time.Now().UTC()
	filter := bson.M{"programId": tpl.ProgramID}
	update := bson.M{
		"$set": bson.M{
			"coachId":       tpl.CoachID,
			"name":          tpl.Name,
			"weekCount":     tpl.WeekCount,
			"periodCount":   tpl.PeriodCount,
			"weeks":         tpl.Weeks,
			"consultations": tpl.Consultations,
			"updatedAt":     now,
		},
		"$inc":         bson.M{"version": 1},
		"$setOnInsert": bson.M{"createdAt": now},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var saved domain.WeeklyTemplate
	if err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&saved); err != nil {
		return nil, translateError(err)
	}
	return &saved, nil
}

// EnsureTemplateIndexes creates necessary indexes for the templates collection.
func EnsureTemplateIndexes(ctx context.Context, collection *mongo.Collection) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "programId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "coachId", Value: 1}},
			Options: options.Index(),
		},
	}
	_, err := collection.Indexes().CreateMany(ctx, indexes)
	return err
}
