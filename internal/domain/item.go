package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ItemKind tells exercises and meals apart; both can appear in a weekly template.
type ItemKind string

const (
	ItemExercise ItemKind = "exercise"
	ItemMeal     ItemKind = "meal"
)

func (k ItemKind) Valid() bool {
	return k == ItemExercise || k == ItemMeal
}

// Item is an entry of a coach's catalog. Templates reference items by ID (hex)
// or, for legacy templates, by a free-form slug.
type Item struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	CoachID     primitive.ObjectID `bson:"coachId" json:"coachId"`
	Kind        ItemKind           `bson:"kind" json:"kind"`
	Name        string             `bson:"name" json:"name"`
	Description string             `bson:"description,omitempty" json:"description,omitempty"`

	// exercise-only
	MuscleGroup string `bson:"muscleGroup,omitempty" json:"muscleGroup,omitempty"` // e.g. "Chest", "Legs"
	Difficulty  string `bson:"difficulty,omitempty" json:"difficulty,omitempty"`   // "Novice", "Medium", "Advanced"

	// meal-only
	Calories int `bson:"calories,omitempty" json:"calories,omitempty"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}
