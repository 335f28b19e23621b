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

const itemCollectionName = "items"

// mongoItemRepository implements repository.ItemRepository
type mongoItemRepository struct {
	collection *mongo.Collection
}

// NewMongoItemRepository creates a new catalog repository backed by MongoDB.
func NewMongoItemRepository(db *mongo.Database) repository.ItemRepository {
	return &mongoItemRepository{
		collection: db.Collection(itemCollectionName),
	}
}

// Create inserts a new exercise or meal into the coach's catalog.
func (r *mongoItemRepository) Create(ctx context.Context, item *domain.Item) (primitive.ObjectID, error) {
	if item.CoachID == primitive.NilObjectID {
		return primitive.NilObjectID, errors.New("item requires a coachId")
	}
	item.ID = primitive.NewObjectID()
	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now

	if _, err := r.collection.InsertOne(ctx, item); err != nil {
		return primitive.NilObjectID, translateError(err)
	}
	return item.ID, nil
}

// GetByID retrieves a single catalog item by its ID.
func (r *mongoItemRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*domain.Item, error) {
	var item domain.Item
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&item); err != nil {
		return nil, translateError(err)
	}
	return &item, nil
}

// GetByCoachID retrieves the coach's catalog, sorted by kind then name.
func (r *mongoItemRepository) GetByCoachID(ctx context.Context, coachID primitive.ObjectID) ([]domain.Item, error) {
	findOptions := options.Find().SetSort(bson.D{{Key: "kind", Value: 1}, {Key: "name", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{"coachId": coachID}, findOptions)
	if err != nil {
		return nil, translateError(err)
	}
	defer cursor.Close(ctx)

	items := []domain.Item{}
	if err = cursor.All(ctx, &items); err != nil {
		return nil, translateError(err)
	}
	return items, nil
}

// Update modifies an item; the filter includes coachId so a coach can only
// touch their own catalog.
func (r *mongoItemRepository) Update(ctx context.Context, item *domain.Item) error {
	filter := bson.M{"_id": item.ID, "coachId": item.CoachID}
	update := bson.M{
		"$set": bson.M{
			"kind":        item.Kind,
			"name":        item.Name,
			"description": item.Description,
			"muscleGroup": item.MuscleGroup,
			"difficulty":  item.Difficulty,
			"calories":    item.Calories,
			"updatedAt":   time.Now().UTC(),
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return translateError(err)
	}
	if result.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Delete removes an item owned by coachID.
func (r *mongoItemRepository) Delete(ctx context.Context, id primitive.ObjectID, coachID primitive.ObjectID) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id, "coachId": coachID})
	if err != nil {
		return translateError(err)
	}
	if result.DeletedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// EnsureItemIndexes creates necessary indexes for the items collection.
func EnsureItemIndexes(ctx context.Context, collection *mongo.Collection) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "coachId", Value: 1}, {Key: "kind", Value: 1}},
			Options: options.Index(),
		},
		{
			Keys:    bson.D{{Key: "name", Value: "text"}, {Key: "description", Value: "text"}},
			Options: options.Index().SetName("item_text_search"),
		},
	}
	_, err := collection.Indexes().CreateMany(ctx, indexes)
	return err
}
