package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"alcyxob/coaching-engine/internal/domain"
	"alcyxob/coaching-engine/internal/service"
)

// ClientHandler serves the client-side workflow: enrolling, tracking executions,
// and booking consultations.
type ClientHandler struct {
	enrollmentService service.EnrollmentService
	tracker           service.ExecutionTracker
	bookingService    service.BookingService
}

func NewClientHandler(
	enrollmentService service.EnrollmentService,
	tracker service.ExecutionTracker,
	bookingService service.BookingService,
) *ClientHandler {
	return &ClientHandler{
		enrollmentService: enrollmentService,
		tracker:           tracker,
		bookingService:    bookingService,
	}
}

// --- DTOs ---

type EnrollRequest struct {
	ProgramID string `json:"programId" binding:"required"`
	StartDate string `json:"startDate" binding:"required"` // YYYY-MM-DD
}

// MarkExecutionRequest carries the client's report. Omitted fields are left unchanged.
type MarkExecutionRequest struct {
	Completed *bool   `json:"completed"`
	Intensity *int    `json:"intensity" binding:"omitempty,min=1,max=10"`
	Notes     *string `json:"notes" binding:"omitempty,max=2000"`
}

type BookRequest struct {
	CoachID          string                  `json:"coachId" binding:"required"`
	Date             string                  `json:"date" binding:"required"` // YYYY-MM-DD
	Start            domain.ClockTime        `json:"start"`
	End              domain.ClockTime        `json:"end"`
	ConsultationType domain.ConsultationType `json:"consultationType" binding:"required,oneof=videocall message"`
	CreditID         string                  `json:"creditId"`
}

// --- Enrollments ---

// Enroll godoc
// @Summary Enroll in a program
// @Description Creates the enrollment, materializes its first period and grants the program's consultation credits.
// @Tags Client
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param enrollment body EnrollRequest true "Program and start date"
// @Success 201 {object} domain.Enrollment
// @Failure 404 {object} gin.H "Program has no template"
// @Failure 409 {object} gin.H "Already enrolled"
// @Router /client/enrollments [post]
func (h *ClientHandler) Enroll(c *gin.Context) {
	var req EnrollRequest
	// Bind and validate the request body
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}
	programID, err := primitive.ObjectIDFromHex(req.ProgramID)
	if err != nil {
		respondError(c, domain.NewValidationError("programId", "invalid format"))
		return
	}
	start, err := domain.ParseDate(req.StartDate)
	if err != nil {
		respondError(c, err)
		return
	}
	// Client ID comes from the token, never from the body
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}

	// Enrollment, period 1 and credits are created together or not at all
	enr, err := h.enrollmentService.Enroll(c.Request.Context(), principal.UserID, programID, start)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, enr)
}

// ListEnrollments godoc
// @Summary List the client's enrollments
// @Tags Client
// @Produce json
// @Security BearerAuth
// @Success 200 {array} domain.Enrollment
// @Router /client/enrollments [get]
func (h *ClientHandler) ListEnrollments(c *gin.Context) {
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
		list = []domain.Enrollment{} // Return [] instead of null
	}
	c.JSON(http.StatusOK, list)
}

// GetEnrollment godoc
// @Summary Get one enrollment with its progress
// @Tags Client
// @Produce json
// @Security BearerAuth
// @Param id path string true "Enrollment ID"
// @Success 200 {object} service.ProgressReport
// @Failure 403 {object} gin.H "Not yours"
// @Failure 404 {object} gin.H "Not found"
// @Router /client/enrollments/{id} [get]
func (h *ClientHandler) GetEnrollment(c *gin.Context) {
	enrollmentID, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	// Ownership is checked by the tracker
	report, err := h.tracker.GetProgress(c.Request.Context(), enrollmentID, principal)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// CancelEnrollment godoc
// @Summary Cancel an enrollment
// @Tags Client
// @Produce json
// @Security BearerAuth
// @Param id path string true "Enrollment ID"
// @Success 200 {object} domain.Enrollment
// @Failure 409 {object} gin.H "Enrollment already finished"
// @Router /client/enrollments/{id} [delete]
func (h *ClientHandler) CancelEnrollment(c *gin.Context) {
	enrollmentID, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	enr, err := h.enrollmentService.Cancel(c.Request.Context(), principal, enrollmentID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, enr)
}

// --- Executions ---

// ListExecutions godoc
// @Summary List scheduled executions of an enrollment
// @Description Periods that have come due are materialized first.
// @Tags Client
// @Produce json
// @Security BearerAuth
// @Param id path string true "Enrollment ID"
// @Param from query string false "YYYY-MM-DD"
// @Param to query string false "YYYY-MM-DD"
// @Success 200 {array} domain.Execution
// @Router /client/enrollments/{id}/executions [get]
func (h *ClientHandler) ListExecutions(c *gin.Context) {
	enrollmentID, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	// Optional ?from=&to= window
	from, to, ok := dateRange(c)
	if !ok {
		return
	}
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}

	// Due periods are materialized before the read
	list, err := h.tracker.ListExecutions(c.Request.Context(), enrollmentID, principal, from, to)
	if err != nil {
		respondError(c, err)
		return
	}
	if list == nil {
		list = []domain.Execution{}
	}
	c.JSON(http.StatusOK, list)
}

// MarkExecution godoc
// @Summary Report completion, intensity or notes for an execution
// @Tags Client
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Execution ID"
// @Param report body MarkExecutionRequest true "Report"
// @Success 200 {object} domain.Execution
// @Failure 400 {object} gin.H "Invalid report"
// @Failure 409 {object} gin.H "Enrollment is not active"
// @Router /client/executions/{id} [patch]
func (h *ClientHandler) MarkExecution(c *gin.Context) {
	executionID, ok := objectIDParam(c, "id")
	if !ok {
		return
	}
	var req MarkExecutionRequest
	// Intensity and notes bounds come from the binding tags
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}

	ex, err := h.tracker.MarkExecution(c.Request.Context(), executionID, principal.UserID, service.ExecutionUpdate{
		Completed: req.Completed,
		Intensity: req.Intensity,
		Notes:     req.Notes,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ex)
}

// --- Credits & bookings ---

// ListCredits godoc
// @Summary List the client's consultation credits
// @Tags Client
// @Produce json
// @Security BearerAuth
// @Success 200 {array} domain.ConsultationCredit
// @Router /client/credits [get]
func (h *ClientHandler) ListCredits(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	credits, err := h.bookingService.ListCredits(c.Request.Context(), principal.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	if credits == nil {
		credits = []domain.ConsultationCredit{}
	}
	c.JSON(http.StatusOK, credits)
}

// Book godoc
// @Summary Book a consultation
// @Tags Client
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param booking body BookRequest true "Slot and optional credit"
// @Success 201 {object} domain.Booking
// @Failure 409 {object} gin.H "Slot unavailable or credit rejected"
// @Router /client/bookings [post]
func (h *ClientHandler) Book(c *gin.Context) {
	var req BookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}
	coachID, err := primitive.ObjectIDFromHex(req.CoachID)
	if err != nil {
		respondError(c, domain.NewValidationError("coachId", "invalid format"))
		return
	}
	date, err := domain.ParseDate(req.Date)
	if err != nil {
		respondError(c, err)
		return
	}
	// Credit is optional unless the deployment requires one
	var creditID *primitive.ObjectID
	if req.CreditID != "" {
		id, err := primitive.ObjectIDFromHex(req.CreditID)
		if err != nil {
			respondError(c, domain.NewValidationError("creditId", "invalid format"))
			return
		}
		creditID = &id
	}
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}

	// Capacity check, credit debit and insert happen in one transaction
	booking, err := h.bookingService.Book(c.Request.Context(), service.BookRequest{
		CoachID:          coachID,
		ClientID:         principal.UserID,
		Date:             date,
		Start:            req.Start,
		End:              req.End,
		ConsultationType: req.ConsultationType,
		CreditID:         creditID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, booking)
}

// ListBookings godoc
// @Summary List the caller's bookings
// @Tags Client
// @Produce json
// @Security BearerAuth
// @Param from query string false "YYYY-MM-DD"
// @Param to query string false "YYYY-MM-DD"
// @Success 200 {array} domain.Booking
// @Router /client/bookings [get]
func (h *ClientHandler) ListBookings(c *gin.Context) {
	from, to, ok := dateRange(c)
	if !ok {
		return
	}
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	// Coaches see bookings made with them, clients their own
	list, err := h.bookingService.ListBookings(c.Request.Context(), principal, from, to)
	if err != nil {
		respondError(c, err)
		return
	}
	if list == nil {
		list = []domain.Booking{}
	}
	c.JSON(http.StatusOK, list)
}
