package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"alcyxob/coaching-engine/internal/domain"
	"alcyxob/coaching-engine/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ── Mock Services ──
// Each mock embeds its interface; calling a method the test did not stub panics.

type mockAuth struct {
	service.AuthService
	principals map[string]domain.Principal
}

func (m *mockAuth) ParseToken(token string) (domain.Principal, error) {
	p, ok := m.principals[token]
	if !ok {
		return domain.Principal{}, service.ErrInvalidToken
	}
	return p, nil
}

type mockBookings struct {
	service.BookingService
	bookReq     service.BookRequest
	bookResult  *domain.Booking
	bookErr     error
	slotsType   domain.ConsultationType
	slotsResult []domain.SlotOccurrence
	slotsErr    error
	credits     []domain.ConsultationCredit
}

func (m *mockBookings) Book(_ context.Context, req service.BookRequest) (*domain.Booking, error) {
	m.bookReq = req
	return m.bookResult, m.bookErr
}

func (m *mockBookings) ListAvailableSlots(_ context.Context, _ primitive.ObjectID, _, _ time.Time, t domain.ConsultationType) ([]domain.SlotOccurrence, error) {
	m.slotsType = t
	return m.slotsResult, m.slotsErr
}

func (m *mockBookings) ListCredits(_ context.Context, _ primitive.ObjectID) ([]domain.ConsultationCredit, error) {
	return m.credits, nil
}

type mockEnrollments struct {
	service.EnrollmentService
	getErr error
}

func (m *mockEnrollments) GetEnrollment(_ context.Context, p domain.Principal, id primitive.ObjectID) (*domain.Enrollment, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return &domain.Enrollment{ID: id, ClientID: p.UserID}, nil
}

type mockPeriods struct {
	service.PeriodManager
	calls   int
	created bool
	err     error
}

func (m *mockPeriods) EnsurePeriod(_ context.Context, enrollmentID primitive.ObjectID, idx int) (*domain.Period, bool, error) {
	m.calls++
	if m.err != nil {
		return nil, false, m.err
	}
	return &domain.Period{EnrollmentID: enrollmentID, PeriodIndex: idx}, m.created, nil
}

type mockTracker struct {
	service.ExecutionTracker
	upd service.ExecutionUpdate
}

func (m *mockTracker) MarkExecution(_ context.Context, id, _ primitive.ObjectID, upd service.ExecutionUpdate) (*domain.Execution, error) {
	m.upd = upd
	return &domain.Execution{ID: id, Completed: upd.Completed != nil && *upd.Completed}, nil
}

type mockArchive struct {
	service.ArchiveService
	snap *domain.ArchiveSnapshot
}

func (m *mockArchive) GetSnapshot(_ context.Context, _ primitive.ObjectID) (*domain.ArchiveSnapshot, error) {
	if m.snap == nil {
		return nil, service.ErrSnapshotNotFound
	}
	return m.snap, nil
}

func (m *mockArchive) ExportURL(_ context.Context, _ primitive.ObjectID) (string, error) {
	return "https://files.test/export.json", nil
}

// ── Test Helpers ──

var (
	coachID  = primitive.NewObjectID()
	clientID = primitive.NewObjectID()
)

type fixture struct {
	auth        *mockAuth
	bookings    *mockBookings
	enrollments *mockEnrollments
	periods     *mockPeriods
	tracker     *mockTracker
	archive     *mockArchive
	router      *gin.Engine
}

func newFixture() *fixture {
	f := &fixture{
		auth: &mockAuth{principals: map[string]domain.Principal{
			"coach-token":  {UserID: coachID, Role: domain.RoleCoach},
			"client-token": {UserID: clientID, Role: domain.RoleClient},
		}},
		bookings:    &mockBookings{},
		enrollments: &mockEnrollments{},
		periods:     &mockPeriods{},
		tracker:     &mockTracker{},
		archive:     &mockArchive{},
	}
	f.router = gin.New()
	SetupRoutes(f.router, zap.NewNop(), Services{
		Auth:        f.auth,
		Enrollments: f.enrollments,
		Periods:     f.periods,
		Tracker:     f.tracker,
		Bookings:    f.bookings,
		Archive:     f.archive,
	})
	return f
}

func (f *fixture) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["error"]
}

// ── Middleware ──

func TestPing_CarriesRequestID(t *testing.T) {
	f := newFixture()

	w := f.do(http.MethodGet, "/ping", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
}

func TestAuthMiddleware(t *testing.T) {
	f := newFixture()

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic client-token", http.StatusUnauthorized},
		{"unknown token", "Bearer nope", http.StatusUnauthorized},
		{"valid token", "Bearer client-token", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/client/credits", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			f.router.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestRoleMiddleware(t *testing.T) {
	f := newFixture()

	w := f.do(http.MethodGet, "/api/v1/client/credits", "coach-token", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(http.MethodPost, "/api/v1/coach/enrollments/"+primitive.NewObjectID().Hex()+"/archive", "client-token", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRespondError_StatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.NewValidationError("end", "end must be after start"), http.StatusBadRequest},
		{domain.ErrSlotUnavailable, http.StatusConflict},
		{domain.ErrPeriodOutOfOrder, http.StatusConflict},
		{service.ErrAlreadyEnrolled, http.StatusConflict},
		{service.ErrCreditTypeMismatch, http.StatusConflict},
		{service.ErrEnrollmentNotFound, http.StatusNotFound},
		{service.ErrExportUnavailable, http.StatusNotFound},
		{service.ErrEnrollmentNotOwned, http.StatusForbidden},
		{service.ErrInvalidToken, http.StatusUnauthorized},
		{errors.New("socket closed"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			respondError(c, tt.err)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestRespondError_HidesInternalCause(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	respondError(c, errors.New("mongo: connection reset by peer"))

	assert.Equal(t, "An unexpected error occurred", errorMessage(t, w))
	require.Len(t, c.Errors, 1)
}

// ── Client handlers ──

func TestBook_Created(t *testing.T) {
	f := newFixture()
	creditID := primitive.NewObjectID()
	f.bookings.bookResult = &domain.Booking{ID: primitive.NewObjectID(), Status: domain.BookingConfirmed}

	w := f.do(http.MethodPost, "/api/v1/client/bookings", "client-token", gin.H{
		"coachId":          coachID.Hex(),
		"date":             "2030-01-07",
		"start":            "09:00",
		"end":              "09:30",
		"consultationType": "videocall",
		"creditId":         creditID.Hex(),
	})

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	req := f.bookings.bookReq
	assert.Equal(t, coachID, req.CoachID)
	assert.Equal(t, clientID, req.ClientID)
	assert.Equal(t, "2030-01-07", domain.FormatDate(req.Date))
	assert.Equal(t, domain.ClockTime(9*60), req.Start)
	assert.Equal(t, domain.ClockTime(9*60+30), req.End)
	require.NotNil(t, req.CreditID)
	assert.Equal(t, creditID, *req.CreditID)
}

func TestBook_Rejections(t *testing.T) {
	f := newFixture()

	w := f.do(http.MethodPost, "/api/v1/client/bookings", "client-token", gin.H{
		"coachId": "not-hex", "date": "2030-01-07", "start": "09:00", "end": "09:30", "consultationType": "videocall",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/api/v1/client/bookings", "client-token", gin.H{
		"coachId": coachID.Hex(), "date": "2030-01-07", "start": "09:00", "end": "09:30", "consultationType": "either",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.bookings.bookErr = domain.ErrSlotUnavailable
	w = f.do(http.MethodPost, "/api/v1/client/bookings", "client-token", gin.H{
		"coachId": coachID.Hex(), "date": "2030-01-07", "start": "09:00", "end": "09:30", "consultationType": "videocall",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, domain.ErrSlotUnavailable.Error(), errorMessage(t, w))
}

func TestListCredits_EmptyIsArray(t *testing.T) {
	f := newFixture()

	w := f.do(http.MethodGet, "/api/v1/client/credits", "client-token", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestMarkExecution(t *testing.T) {
	f := newFixture()
	path := "/api/v1/client/executions/" + primitive.NewObjectID().Hex()

	w := f.do(http.MethodPatch, path, "client-token", gin.H{"intensity": 11})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPatch, path, "client-token", gin.H{"completed": true, "notes": "felt strong"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NotNil(t, f.tracker.upd.Completed)
	assert.True(t, *f.tracker.upd.Completed)
	assert.Nil(t, f.tracker.upd.Intensity)
	require.NotNil(t, f.tracker.upd.Notes)
	assert.Equal(t, "felt strong", *f.tracker.upd.Notes)
}

// ── Shared handlers ──

func TestListSlots(t *testing.T) {
	f := newFixture()
	base := "/api/v1/coaches/" + coachID.Hex() + "/slots"

	w := f.do(http.MethodGet, base+"?from=2030-01-01", "client-token", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodGet, base+"?from=2030-01-01&to=01/07/2030", "client-token", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.bookings.slotsResult = []domain.SlotOccurrence{{CoachID: coachID, Capacity: 2, Booked: 1}}
	w = f.do(http.MethodGet, base+"?from=2030-01-01&to=2030-01-07&type=message", "client-token", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, domain.ConsultationType("message"), f.bookings.slotsType)
}

func TestEnsurePeriod(t *testing.T) {
	f := newFixture()
	path := "/api/v1/enrollments/" + primitive.NewObjectID().Hex() + "/periods/2"

	f.periods.created = true
	w := f.do(http.MethodPost, path, "client-token", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Period  domain.Period `json:"period"`
		Created bool          `json:"created"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Created)
	assert.Equal(t, 2, resp.Period.PeriodIndex)

	f.periods.created = false
	w = f.do(http.MethodPost, path, "client-token", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	f.periods.err = domain.ErrPeriodOutOfOrder
	w = f.do(http.MethodPost, path, "client-token", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestEnsurePeriod_ChecksOwnershipFirst(t *testing.T) {
	f := newFixture()
	f.enrollments.getErr = service.ErrEnrollmentNotOwned

	w := f.do(http.MethodPost, "/api/v1/enrollments/"+primitive.NewObjectID().Hex()+"/periods/1", "client-token", nil)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Zero(t, f.periods.calls)

	w = f.do(http.MethodPost, "/api/v1/enrollments/"+primitive.NewObjectID().Hex()+"/periods/two", "client-token", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ── Coach handlers ──

func TestGetArchive_Ownership(t *testing.T) {
	f := newFixture()
	path := "/api/v1/coach/enrollments/" + primitive.NewObjectID().Hex() + "/archive"

	w := f.do(http.MethodGet, path, "coach-token", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	f.archive.snap = &domain.ArchiveSnapshot{CoachID: primitive.NewObjectID()}
	w = f.do(http.MethodGet, path, "coach-token", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	f.archive.snap.CoachID = coachID
	w = f.do(http.MethodGet, path, "coach-token", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, path+"/export", "coach-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp ExportURLResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "https://files.test/export.json", resp.URL)
	assert.True(t, resp.ExpiresAt.After(time.Now()))
}
