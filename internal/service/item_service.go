package service

import (
	"context"
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"alcyxob/coaching-engine/internal/domain"
	"alcyxob/coaching-engine/internal/repository"
)

// --- Error Definitions ---
var (
	ErrItemNotFound     = errors.New("item not found")
	ErrItemAccessDenied = errors.New("access denied to modify or delete this item")
)

var difficulties = map[string]bool{"": true, "Novice": true, "Medium": true, "Advanced": true}

// ItemInput carries the editable fields of a catalog item.
type ItemInput struct {
	Kind        domain.ItemKind
	Name        string
	Description string
	MuscleGroup string
	Difficulty  string
	Calories    int
}

func (in *ItemInput) validate() error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return domain.NewValidationError("name", "is required")
	}
	if in.Kind == "" {
		in.Kind = domain.ItemExercise
	}
	if !in.Kind.Valid() {
		return domain.NewValidationError("kind", "must be exercise or meal")
	}
	if !difficulties[in.Difficulty] {
		return domain.NewValidationError("difficulty", "must be Novice, Medium or Advanced")
	}
	if in.Calories < 0 {
		return domain.NewValidationError("calories", "must not be negative")
	}
	return nil
}

func (in *ItemInput) applyTo(item *domain.Item) {
	item.Kind = in.Kind
	item.Name = in.Name
	item.Description = in.Description
	item.MuscleGroup = in.MuscleGroup
	item.Difficulty = in.Difficulty
	item.Calories = in.Calories
}

// ItemService manages the coach's catalog of exercises and meals.
type ItemService interface {
	CreateItem(ctx context.Context, coachID primitive.ObjectID, in ItemInput) (*domain.Item, error)
	GetItemsByCoach(ctx context.Context, coachID primitive.ObjectID) ([]domain.Item, error)
	UpdateItem(ctx context.Context, coachID, itemID primitive.ObjectID, in ItemInput) (*domain.Item, error)
	DeleteItem(ctx context.Context, coachID, itemID primitive.ObjectID) error
}

type itemService struct {
	itemRepo repository.ItemRepository
}

func NewItemService(itemRepo repository.ItemRepository) ItemService {
	return &itemService{itemRepo: itemRepo}
}

func (s *itemService) CreateItem(ctx context.Context, coachID primitive.ObjectID, in ItemInput) (*domain.Item, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	item := &domain.Item{CoachID: coachID}
	in.applyTo(item)

	id, err := s.itemRepo.Create(ctx, item)
	if err != nil {
		return nil, err
	}
	item.ID = id
	return item, nil
}

func (s *itemService) GetItemsByCoach(ctx context.Context, coachID primitive.ObjectID) ([]domain.Item, error) {
	return s.itemRepo.GetByCoachID(ctx, coachID)
}

// UpdateItem checks ownership first so the caller can tell a missing item from
// someone else's.
func (s *itemService) UpdateItem(ctx context.Context, coachID, itemID primitive.ObjectID, in ItemInput) (*domain.Item, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	existing, err := s.itemRepo.GetByID(ctx, itemID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, err
	}
	if existing.CoachID != coachID {
		return nil, ErrItemAccessDenied
	}

	in.applyTo(existing)
	if err := s.itemRepo.Update(ctx, existing); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, err
	}
	return existing, nil
}

// DeleteItem relies on the repository filter (id and coachId) for ownership.
// Templates that still reference the item keep the ref; expansion does not
// need the catalog row.
func (s *itemService) DeleteItem(ctx context.Context, coachID, itemID primitive.ObjectID) error {
	err := s.itemRepo.Delete(ctx, itemID, coachID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrItemNotFound
	}
	return err
}
