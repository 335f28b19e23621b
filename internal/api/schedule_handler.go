package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"alcyxob/coaching-engine/internal/domain"
	"alcyxob/coaching-engine/internal/service"
)

// ScheduleHandler serves routes open to both roles.
type ScheduleHandler struct {
	bookingService    service.BookingService
	enrollmentService service.EnrollmentService
	periods           service.PeriodManager
}

func NewScheduleHandler(bookingService service.BookingService, enrollmentService service.EnrollmentService, periods service.PeriodManager) *ScheduleHandler {
	return &ScheduleHandler{
		bookingService:    bookingService,
		enrollmentService: enrollmentService,
		periods:           periods,
	}
}

type EnsurePeriodResponse struct {
	Period  *domain.Period `json:"period"`
	Created bool           `json:"created"`
}

// ListSlots godoc
// @Summary Bookable slots of a coach
// @Description Expands recurring availability, overrides and blackouts into dated occurrences with remaining capacity.
// @Tags Schedule
// @Produce json
// @Security BearerAuth
// @Param coachId path string true "Coach ID"
// @Param from query string true "YYYY-MM-DD"
// @Param to query string true "YYYY-MM-DD"
// @Param type query string false "videocall, message or either"
// @Success 200 {array} domain.SlotOccurrence
// @Failure 400 {object} gin.H "Invalid range"
// @Router /coaches/{coachId}/slots [get]
func (h *ScheduleHandler) ListSlots(c *gin.Context) {
	coachID, ok := objectIDParam(c, "coachId")
	if !ok {
		return
	}
	from, to, ok := dateRange(c)
	if !ok {
		return
	}
	// Slot listing always needs a bounded window
	if from.IsZero() || to.IsZero() {
		respondError(c, domain.NewValidationError("from", "from and to are required"))
		return
	}

	// ?type= narrows to videocall or message; empty lists both
	slots, err := h.bookingService.ListAvailableSlots(c.Request.Context(), coachID, from, to, domain.ConsultationType(c.Query("type")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, slots)
}

// CancelBooking godoc
// @Summary Cancel a booking
// @Description The client gets the session back when cancelling with enough notice; a coach cancelling always restores it.
// @Tags Schedule
// @Produce json
// @Security BearerAuth
// @Param id path string true "Booking ID"
// @Success 200 {object} domain.Booking
// @Failure 409 {object} gin.H "Already cancelled"
// @Router /bookings/{id} [delete]
func (h *ScheduleHandler) CancelBooking(c *gin.Context) {
	bookingID, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	// Either party may cancel; the service decides whether the credit comes back
	b, err := h.bookingService.CancelBooking(c.Request.Context(), bookingID, principal)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// EnsurePeriod godoc
// @Summary Materialize a period explicitly
// @Description Idempotent: an existing period is returned with created=false.
// @Tags Schedule
// @Produce json
// @Security BearerAuth
// @Param id path string true "Enrollment ID"
// @Param index path int true "1-based period index"
// @Success 200 {object} EnsurePeriodResponse
// @Failure 409 {object} gin.H "Previous period missing or enrollment closed"
// @Router /enrollments/{id}/periods/{index} [post]
func (h *ScheduleHandler) EnsurePeriod(c *gin.Context) {
	enrollmentID, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		respondError(c, domain.NewValidationError("index", "must be an integer"))
		return
	}
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	// Ownership check before anything is written
	if _, err := h.enrollmentService.GetEnrollment(c.Request.Context(), principal, enrollmentID); err != nil {
		respondError(c, err)
		return
	}

	// Idempotent: an existing period comes back with 200
	p, created, err := h.periods.EnsurePeriod(c.Request.Context(), enrollmentID, index)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, EnsurePeriodResponse{Period: p, Created: created})
}
