package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"alcyxob/coaching-engine/internal/domain"
	"alcyxob/coaching-engine/internal/service"
)

// ItemHandler serves the coach's catalog of exercises and meals.
type ItemHandler struct {
	itemService service.ItemService
}

func NewItemHandler(itemService service.ItemService) *ItemHandler {
	return &ItemHandler{itemService: itemService}
}

// --- DTOs ---

// ItemRequest is the body for creating or replacing a catalog item.
type ItemRequest struct {
	Kind        domain.ItemKind `json:"kind" binding:"omitempty,oneof=exercise meal"`
	Name        string          `json:"name" binding:"required"`
	Description string          `json:"description"`
	MuscleGroup string          `json:"muscleGroup"` // e.g., "Chest", "Legs"
	Difficulty  string          `json:"difficulty"`  // "Novice", "Medium", "Advanced"
	Calories    int             `json:"calories" binding:"gte=0"`
}

func (r ItemRequest) toInput() service.ItemInput {
	return service.ItemInput{
		Kind:        r.Kind,
		Name:        r.Name,
		Description: r.Description,
		MuscleGroup: r.MuscleGroup,
		Difficulty:  r.Difficulty,
		Calories:    r.Calories,
	}
}

type ItemResponse struct {
	ID          string          `json:"id"`
	CoachID     string          `json:"coachId"`
	Kind        domain.ItemKind `json:"kind"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	MuscleGroup string          `json:"muscleGroup,omitempty"`
	Difficulty  string          `json:"difficulty,omitempty"`
	Calories    int             `json:"calories,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

func MapItemToResponse(it *domain.Item) ItemResponse {
	if it == nil {
		return ItemResponse{}
	}
	return ItemResponse{
		ID:          it.ID.Hex(),
		CoachID:     it.CoachID.Hex(),
		Kind:        it.Kind,
		Name:        it.Name,
		Description: it.Description,
		MuscleGroup: it.MuscleGroup,
		Difficulty:  it.Difficulty,
		Calories:    it.Calories,
		CreatedAt:   it.CreatedAt,
		UpdatedAt:   it.UpdatedAt,
	}
}

func MapItemsToResponse(items []domain.Item) []ItemResponse {
	responses := make([]ItemResponse, len(items))
	for i := range items {
		responses[i] = MapItemToResponse(&items[i])
	}
	return responses
}

// --- Handler Methods ---

// CreateItem godoc
// @Summary Create a catalog item
// @Description Creates an exercise or meal owned by the authenticated coach.
// @Tags Items
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param item body ItemRequest true "Item details"
// @Success 201 {object} ItemResponse
// @Failure 400 {object} gin.H "Invalid input (validation error)"
// @Failure 401 {object} gin.H "Unauthorized"
// @Failure 403 {object} gin.H "Forbidden (not a coach)"
// @Router /coach/items [post]
func (h *ItemHandler) CreateItem(c *gin.Context) {
	var req ItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}

	item, err := h.itemService.CreateItem(c.Request.Context(), principal.UserID, req.toInput())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, MapItemToResponse(item))
}

// GetCoachItems godoc
// @Summary List the coach's catalog
// @Tags Items
// @Produce json
// @Security BearerAuth
// @Success 200 {array} ItemResponse
// @Router /coach/items [get]
func (h *ItemHandler) GetCoachItems(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	items, err := h.itemService.GetItemsByCoach(c.Request.Context(), principal.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, MapItemsToResponse(items))
}

// UpdateItem godoc
// @Summary Replace a catalog item
// @Tags Items
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Item ID"
// @Param item body ItemRequest true "Item details"
// @Success 200 {object} ItemResponse
// @Failure 403 {object} gin.H "Item belongs to another coach"
// @Failure 404 {object} gin.H "Item not found"
// @Router /coach/items/{id} [put]
func (h *ItemHandler) UpdateItem(c *gin.Context) {
	itemID, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	var req ItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}

	item, err := h.itemService.UpdateItem(c.Request.Context(), principal.UserID, itemID, req.toInput())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, MapItemToResponse(item))
}

// DeleteItem godoc
// @Summary Delete a catalog item
// @Tags Items
// @Security BearerAuth
// @Param id path string true "Item ID"
// @Success 204
// @Failure 404 {object} gin.H "Item not found"
// @Router /coach/items/{id} [delete]
func (h *ItemHandler) DeleteItem(c *gin.Context) {
	itemID, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	if err := h.itemService.DeleteItem(c.Request.Context(), principal.UserID, itemID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
