package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"alcyxob/coaching-engine/internal/domain"
	"alcyxob/coaching-engine/internal/events"
	"alcyxob/coaching-engine/internal/repository"
)

func TestEnroll_CreatesFirstPeriodAndCredits(t *testing.T) {
	env := newTestEnv(t)
	programID := env.seedExampleTemplate()
	env.setTemplate(programID, func(tpl *domain.WeeklyTemplate) {
		tpl.Consultations = []domain.ConsultationAllotment{
			{Type: domain.ConsultationVideoCall, Sessions: 2},
			{Type: domain.ConsultationMessage, Sessions: 5, ValidDays: 7},
			{Type: domain.ConsultationEither, Sessions: 1}, // not a concrete type
		}
	})

	enr, err := env.enrollments.Enroll(context.Background(), env.clientID, programID, time.Date(2024, 1, 1, 15, 30, 0, 0, time.UTC))
	require.NoError(t, err)

	require.Equal(t, domain.EnrollmentActive, enr.Status)
	require.Equal(t, env.coachID, enr.CoachID)
	require.Equal(t, day("2024-01-01"), enr.StartDate)
	require.Equal(t, day("2024-01-15"), enr.EndsAt)
	require.Equal(t, 1, enr.CurrentPeriod)
	require.Equal(t, 2, enr.PeriodCount)
	require.Len(t, env.executions(enr.ID), 2)
	require.Equal(t, 1, env.pub.count(events.SubjectPeriodMaterialized))

	credits, err := env.bookings.ListCredits(context.Background(), env.clientID)
	require.NoError(t, err)
	require.Len(t, credits, 2)
	byType := map[domain.ConsultationType]domain.ConsultationCredit{}
	for _, c := range credits {
		byType[c.Type] = c
	}
	require.Equal(t, 2, byType[domain.ConsultationVideoCall].TotalSessions)
	require.Equal(t, day("2024-01-15"), byType[domain.ConsultationVideoCall].ExpiresAt)
	require.Equal(t, day("2024-01-08"), byType[domain.ConsultationMessage].ExpiresAt)
	require.Equal(t, enr.ID, byType[domain.ConsultationMessage].EnrollmentID)
}

func TestEnroll_OneOpenEnrollmentPerProgram(t *testing.T) {
	env := newTestEnv(t)
	programID := env.seedExampleTemplate()
	ctx := context.Background()

	first, err := env.enrollments.Enroll(ctx, env.clientID, programID, day("2024-01-01"))
	require.NoError(t, err)

	_, err = env.enrollments.Enroll(ctx, env.clientID, programID, day("2024-02-05"))
	require.ErrorIs(t, err, ErrAlreadyEnrolled)

	_, err = env.enrollments.Cancel(ctx, env.client(), first.ID)
	require.NoError(t, err)
	second, err := env.enrollments.Enroll(ctx, env.clientID, programID, day("2024-02-05"))
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)
}

func TestEnroll_RepurchaseTopsUpCredit(t *testing.T) {
	env := newTestEnv(t)
	programID := env.seedExampleTemplate()
	env.setTemplate(programID, func(tpl *domain.WeeklyTemplate) {
		tpl.Consultations = []domain.ConsultationAllotment{{Type: domain.ConsultationVideoCall, Sessions: 2}}
	})
	env.addWeekly(t, domain.Monday, "10:00", "11:00", domain.ConsultationVideoCall, 1)
	ctx := context.Background()

	first, err := env.enrollments.Enroll(ctx, env.clientID, programID, day("2024-01-01"))
	require.NoError(t, err)
	_, err = env.enrollments.Cancel(ctx, env.client(), first.ID)
	require.NoError(t, err)

	env.clock.Set("2024-02-04T09:00:00Z")
	second, err := env.enrollments.Enroll(ctx, env.clientID, programID, day("2024-02-05"))
	require.NoError(t, err)

	credits, err := env.bookings.ListCredits(ctx, env.clientID)
	require.NoError(t, err)
	require.Len(t, credits, 1)
	credit := credits[0]
	require.Equal(t, second.ID, credit.EnrollmentID)
	require.Equal(t, 4, credit.TotalSessions)
	require.Zero(t, credit.UsedSessions)
	require.Equal(t, day("2024-02-19"), credit.ExpiresAt)

	// the re-purchased sessions are bookable
	req := env.request("2024-02-05", "10:00", "11:00")
	req.CreditID = &credit.ID
	_, err = env.bookings.Book(ctx, req)
	require.NoError(t, err)
	require.Equal(t, 1, env.credit(t, credit.ID).UsedSessions)
}

// staleEnrollmentRepo answers client lookups from a snapshot taken before a
// concurrent enrollment committed.
type staleEnrollmentRepo struct {
	repository.EnrollmentRepository
}

func (staleEnrollmentRepo) GetByClientID(context.Context, primitive.ObjectID) ([]domain.Enrollment, error) {
	return []domain.Enrollment{}, nil
}

func TestEnroll_ConcurrentEnrollmentRejectedByStore(t *testing.T) {
	env := newTestEnv(t)
	programID := env.seedExampleTemplate()
	env.setTemplate(programID, func(tpl *domain.WeeklyTemplate) {
		tpl.Consultations = []domain.ConsultationAllotment{{Type: domain.ConsultationVideoCall, Sessions: 2}}
	})
	ctx := context.Background()

	_, err := env.enrollments.Enroll(ctx, env.clientID, programID, day("2024-01-01"))
	require.NoError(t, err)

	repo := env.store.repository()
	repo.Enrollment = staleEnrollmentRepo{repo.Enrollment}
	racing := NewEnrollmentService(repo, env.periods, testConfig().Retry, zap.NewNop())

	_, err = racing.Enroll(ctx, env.clientID, programID, day("2024-01-01"))
	require.ErrorIs(t, err, ErrAlreadyEnrolled)

	list, err := env.enrollments.ListEnrollments(ctx, env.client())
	require.NoError(t, err)
	require.Len(t, list, 1)
	credits, err := env.bookings.ListCredits(ctx, env.clientID)
	require.NoError(t, err)
	require.Len(t, credits, 1)
	require.Equal(t, 2, credits[0].TotalSessions)
}

func TestEnroll_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.enrollments.Enroll(ctx, env.clientID, primitive.NilObjectID, day("2024-01-01"))
	require.True(t, domain.IsValidation(err))

	_, err = env.enrollments.Enroll(ctx, env.clientID, primitive.NewObjectID(), time.Time{})
	require.True(t, domain.IsValidation(err))

	_, err = env.enrollments.Enroll(ctx, env.clientID, primitive.NewObjectID(), day("2024-01-01"))
	require.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestEnroll_AtomicOnFailure(t *testing.T) {
	env := newTestEnv(t)
	programID := env.seedExampleTemplate()
	env.setTemplate(programID, func(tpl *domain.WeeklyTemplate) {
		tpl.Consultations = []domain.ConsultationAllotment{{Type: domain.ConsultationVideoCall, Sessions: 2}}
	})

	env.store.transient("Execution.UpsertMany", 3)
	_, err := env.enrollments.Enroll(context.Background(), env.clientID, programID, day("2024-01-01"))
	require.Error(t, err)

	list, err := env.enrollments.ListEnrollments(context.Background(), env.client())
	require.NoError(t, err)
	require.Empty(t, list)
	credits, err := env.bookings.ListCredits(context.Background(), env.clientID)
	require.NoError(t, err)
	require.Empty(t, credits)
	require.Zero(t, env.pub.count(events.SubjectPeriodMaterialized))
}

func TestEnroll_RetriesTransient(t *testing.T) {
	env := newTestEnv(t)
	programID := env.seedExampleTemplate()

	env.store.transient("Enrollment.Create", 1)
	enr, err := env.enrollments.Enroll(context.Background(), env.clientID, programID, day("2024-01-01"))
	require.NoError(t, err)

	list, err := env.enrollments.ListEnrollments(context.Background(), env.client())
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, enr.ID, list[0].ID)
}

func TestGetEnrollment_Ownership(t *testing.T) {
	env := newTestEnv(t)
	enr := enrollExample(t, env)
	ctx := context.Background()

	got, err := env.enrollments.GetEnrollment(ctx, env.coach(), enr.ID)
	require.NoError(t, err)
	require.Equal(t, enr.ID, got.ID)

	_, err = env.enrollments.GetEnrollment(ctx, domain.Principal{UserID: primitive.NewObjectID(), Role: domain.RoleClient}, enr.ID)
	require.ErrorIs(t, err, ErrEnrollmentNotOwned)

	_, err = env.enrollments.GetEnrollment(ctx, env.client(), primitive.NewObjectID())
	require.ErrorIs(t, err, ErrEnrollmentNotFound)

	list, err := env.enrollments.ListEnrollments(ctx, env.coach())
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestCancelEnrollment(t *testing.T) {
	env := newTestEnv(t)
	enr := enrollExample(t, env)
	ctx := context.Background()

	cancelled, err := env.enrollments.Cancel(ctx, env.client(), enr.ID)
	require.NoError(t, err)
	require.Equal(t, domain.EnrollmentCancelled, cancelled.Status)

	_, err = env.enrollments.Cancel(ctx, env.client(), enr.ID)
	require.NoError(t, err)

	// cancelled is terminal
	e := env.enrollment(t, enr.ID)
	require.ErrorIs(t, e.Transition(domain.EnrollmentActive), domain.ErrInvalidTransition)
}
