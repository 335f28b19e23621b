package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"alcyxob/coaching-engine/internal/domain"
	"alcyxob/coaching-engine/internal/service"
)

// CoachHandler serves the coach-side workflow: program templates, availability,
// enrollments and their archives.
type CoachHandler struct {
	templateService   service.TemplateService
	bookingService    service.BookingService
	enrollmentService service.EnrollmentService
	archiveService    service.ArchiveService
}

func NewCoachHandler(
	templateService service.TemplateService,
	bookingService service.BookingService,
	enrollmentService service.EnrollmentService,
	archiveService service.ArchiveService,
) *CoachHandler {
	return &CoachHandler{
		templateService:   templateService,
		bookingService:    bookingService,
		enrollmentService: enrollmentService,
		archiveService:    archiveService,
	}
}

// --- DTOs ---

type AvailabilityRequest struct {
	DayOfWeek        *domain.Weekday         `json:"dayOfWeek"`    // "monday" or 0-6
	SpecificDate     string                  `json:"specificDate"` // YYYY-MM-DD
	Start            domain.ClockTime        `json:"start"`
	End              domain.ClockTime        `json:"end"`
	ConsultationType domain.ConsultationType `json:"consultationType"`
	Capacity         int                     `json:"capacity" binding:"gte=0"`
	Blocked          bool                    `json:"blocked"`
}

func (r AvailabilityRequest) toSlot() (*domain.AvailabilitySlot, error) {
	slot := &domain.AvailabilitySlot{
		DayOfWeek:        r.DayOfWeek,
		Start:            r.Start,
		End:              r.End,
		ConsultationType: r.ConsultationType,
		Capacity:         r.Capacity,
		Blocked:          r.Blocked,
	}
	if r.SpecificDate != "" {
		d, err := domain.ParseDate(r.SpecificDate)
		if err != nil {
			return nil, err
		}
		slot.SpecificDate = &d
	}
	return slot, nil
}

type ExportURLResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// --- Templates ---

// SaveTemplate godoc
// @Summary Create or replace a program's weekly template
// @Description Validates the weeks, checks every item ref against the coach's catalog and bumps the version. Periods already materialized keep their executions.
// @Tags Coach
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param programId path string true "Program ID"
// @Param template body service.TemplateInput true "Template"
// @Success 200 {object} service.TemplateView
// @Failure 400 {object} gin.H "Invalid template"
// @Failure 403 {object} gin.H "Program belongs to another coach"
// @Router /coach/programs/{programId}/template [put]
func (h *CoachHandler) SaveTemplate(c *gin.Context) {
	programID, ok := objectIDParam(c, "programId")
	if !ok {
		return
	}
	var req service.TemplateInput
	// Weeks may arrive as arrays or legacy JSON strings; both bind here
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}

	// Item refs are checked against the coach's own catalog
	view, err := h.templateService.SaveTemplate(c.Request.Context(), principal.UserID, programID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// GetTemplate godoc
// @Summary Get a program's template with its normalized days
// @Tags Coach
// @Produce json
// @Security BearerAuth
// @Param programId path string true "Program ID"
// @Success 200 {object} service.TemplateView
// @Failure 404 {object} gin.H "Template not found"
// @Router /coach/programs/{programId}/template [get]
func (h *CoachHandler) GetTemplate(c *gin.Context) {
	programID, ok := objectIDParam(c, "programId")
	if !ok {
		return
	}
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	view, err := h.templateService.GetTemplate(c.Request.Context(), principal.UserID, programID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// --- Availability ---

// AddAvailability godoc
// @Summary Add a recurring slot, a date override or a blackout
// @Tags Coach
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param slot body AvailabilityRequest true "Availability"
// @Success 201 {object} domain.AvailabilitySlot
// @Failure 400 {object} gin.H "Invalid slot"
// @Router /coach/availability [post]
func (h *CoachHandler) AddAvailability(c *gin.Context) {
	var req AvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	// Exactly one of dayOfWeek / specificDate is validated by the service
	slot, err := req.toSlot()
	if err != nil {
		respondError(c, err)
		return
	}

	created, err := h.bookingService.AddAvailability(c.Request.Context(), principal.UserID, slot)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// ListAvailability godoc
// @Summary List the coach's availability rows
// @Tags Coach
// @Produce json
// @Security BearerAuth
// @Success 200 {array} domain.AvailabilitySlot
// @Router /coach/availability [get]
func (h *CoachHandler) ListAvailability(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	slots, err := h.bookingService.ListAvailability(c.Request.Context(), principal.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	if slots == nil {
		slots = []domain.AvailabilitySlot{} // Return [] instead of null
	}
	c.JSON(http.StatusOK, slots)
}

// RemoveAvailability godoc
// @Summary Remove an availability row
// @Tags Coach
// @Security BearerAuth
// @Param id path string true "Availability ID"
// @Success 204
// @Failure 404 {object} gin.H "Not found"
// @Router /coach/availability/{id} [delete]
func (h *CoachHandler) RemoveAvailability(c *gin.Context) {
	slotID, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	// Existing bookings are kept; only future listings change
	if err := h.bookingService.RemoveAvailability(c.Request.Context(), principal.UserID, slotID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Enrollments & archives ---

// ListEnrollments godoc
// @Summary List enrollments in the coach's programs
// @Tags Coach
// @Produce json
// @Security BearerAuth
// @Success 200 {array} domain.Enrollment
// @Router /coach/enrollments [get]
func (h *CoachHandler) ListEnrollments(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	list, err := h.enrollmentService.ListEnrollments(c.Request.Context(), principal)
	if err != nil {
		respondError(c, err)
		return
	}
	if list == nil {
		list = []domain.Enrollment{}
	}
	c.JSON(http.StatusOK, list)
}

// ArchiveEnrollment godoc
// @Summary Snapshot and purge a finished enrollment
// @Description Only expired or completed enrollments can be archived. Without force an existing snapshot is returned.
// @Tags Coach
// @Produce json
// @Security BearerAuth
// @Param id path string true "Enrollment ID"
// @Param force query bool false "Recompute an unpurged snapshot"
// @Success 200 {object} domain.ArchiveSnapshot
// @Failure 409 {object} gin.H "Enrollment is not finished"
// @Router /coach/enrollments/{id}/archive [post]
func (h *CoachHandler) ArchiveEnrollment(c *gin.Context) {
	enrollmentID, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	// ?force=true recomputes an unpurged snapshot
	force, err := strconv.ParseBool(c.DefaultQuery("force", "false"))
	if err != nil {
		respondError(c, domain.NewValidationError("force", "must be true or false"))
		return
	}
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	// Verify the enrollment is in one of this coach's programs
	if _, err := h.enrollmentService.GetEnrollment(c.Request.Context(), principal, enrollmentID); err != nil {
		respondError(c, err)
		return
	}

	// Snapshot first, purge second
	snap, err := h.archiveService.ArchiveEnrollment(c.Request.Context(), enrollmentID, force)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// GetArchive godoc
// @Summary Get the archive snapshot of an enrollment
// @Tags Coach
// @Produce json
// @Security BearerAuth
// @Param id path string true "Enrollment ID"
// @Success 200 {object} domain.ArchiveSnapshot
// @Failure 404 {object} gin.H "No snapshot"
// @Router /coach/enrollments/{id}/archive [get]
func (h *CoachHandler) GetArchive(c *gin.Context) {
	snap, ok := h.ownedSnapshot(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, snap)
}

// GetArchiveExport godoc
// @Summary Presigned download URL of the exported snapshot
// @Tags Coach
// @Produce json
// @Security BearerAuth
// @Param id path string true "Enrollment ID"
// @Success 200 {object} ExportURLResponse
// @Failure 404 {object} gin.H "No export"
// @Router /coach/enrollments/{id}/archive/export [get]
func (h *CoachHandler) GetArchiveExport(c *gin.Context) {
	snap, ok := h.ownedSnapshot(c)
	if !ok {
		return
	}
	// 404 when export is disabled or the upload never happened
	url, err := h.archiveService.ExportURL(c.Request.Context(), snap.EnrollmentID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ExportURLResponse{URL: url, ExpiresAt: time.Now().Add(service.ExportURLExpiry).UTC()})
}

// ownedSnapshot loads the snapshot of the :id enrollment if the caller coaches it.
// Snapshots outlive the raw enrollment data, so ownership is read from the snapshot.
func (h *CoachHandler) ownedSnapshot(c *gin.Context) (*domain.ArchiveSnapshot, bool) {
	enrollmentID, ok := objectIDParam(c, "id")
	if !ok {
		return nil, false
	}
	principal, ok := mustPrincipal(c)
	if !ok {
		return nil, false
	}
	snap, err := h.archiveService.GetSnapshot(c.Request.Context(), enrollmentID)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	if snap.CoachID != principal.UserID {
		respondError(c, service.ErrEnrollmentNotOwned)
		return nil, false
	}
	return snap, true
}
