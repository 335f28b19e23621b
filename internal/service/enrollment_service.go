package service

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"alcyxob/coaching-engine/internal/config"
	"alcyxob/coaching-engine/internal/domain"
	"alcyxob/coaching-engine/internal/repository"
)

// --- Error Definitions ---
var (
	ErrAlreadyEnrolled = errors.New("client already has an open enrollment in this program")
)

type EnrollmentService interface {
	// Enroll creates the enrollment, its first period and its consultation
	// credits in one transaction.
	Enroll(ctx context.Context, clientID, programID primitive.ObjectID, startDate time.Time) (*domain.Enrollment, error)
	GetEnrollment(ctx context.Context, principal domain.Principal, enrollmentID primitive.ObjectID) (*domain.Enrollment, error)
	ListEnrollments(ctx context.Context, principal domain.Principal) ([]domain.Enrollment, error)
	Cancel(ctx context.Context, principal domain.Principal, enrollmentID primitive.ObjectID) (*domain.Enrollment, error)
}

type enrollmentService struct {
	repo    *repository.Repository
	periods PeriodManager
	retry   retrier
	log     *zap.Logger
	now     func() time.Time
}

func NewEnrollmentService(repo *repository.Repository, periods PeriodManager, retryCfg config.RetryConfig, log *zap.Logger) EnrollmentService {
	return &enrollmentService{
		repo:    repo,
		periods: periods,
		retry:   newRetrier(retryCfg, log),
		log:     log.Named("enrollments"),
		now:     time.Now,
	}
}

func (s *enrollmentService) Enroll(ctx context.Context, clientID, programID primitive.ObjectID, startDate time.Time) (*domain.Enrollment, error) {
	if programID.IsZero() {
		return nil, domain.NewValidationError("programId", "is required")
	}
	if startDate.IsZero() {
		return nil, domain.NewValidationError("startDate", "is required")
	}
	startDate = domain.DateOnly(startDate)

	var (
		enr     *domain.Enrollment
		first   *domain.Period
		credits int
	)
	err := s.retry.run(ctx, "enroll", func() error {
		enr, first, credits = nil, nil, 0
		return s.repo.Tx.WithinTransaction(ctx, func(ctx context.Context) error {
			// 1. Template snapshot
			tpl, err := s.repo.Template.GetByProgramID(ctx, programID)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return ErrTemplateNotFound
				}
				return err
			}

			// 2. One open enrollment per client and program
			mine, err := s.repo.Enrollment.GetByClientID(ctx, clientID)
			if err != nil {
				return err
			}
			for _, e := range mine {
				if e.ProgramID == programID && (e.Status == domain.EnrollmentPending || e.Status == domain.EnrollmentActive) {
					return ErrAlreadyEnrolled
				}
			}

			// 3. Enrollment row
			now := s.now().UTC()
			periods := tpl.PeriodCount
			if periods < 1 {
				periods = 1
			}
			e := &domain.Enrollment{
				ClientID:    clientID,
				CoachID:     tpl.CoachID,
				ProgramID:   programID,
				StartDate:   startDate,
				Status:      domain.EnrollmentPending,
				PeriodCount: periods,
				WeekCount:   tpl.WeekCount,
				EndsAt:      startDate.AddDate(0, 0, periods*tpl.SpanDays()),
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			id, err := s.repo.Enrollment.Create(ctx, e)
			if err != nil {
				// a concurrent enrollment committed after our read
				if errors.Is(err, repository.ErrDuplicate) {
					return ErrAlreadyEnrolled
				}
				return err
			}
			e.ID = id

			// 4. Period 1 from the same snapshot
			first, _, err = s.periods.MaterializeInTx(ctx, e, tpl, 1)
			if err != nil {
				return err
			}

			// 5. Consultation credits; buying the program again tops up the
			// credit already held for the same type
			for _, a := range tpl.Consultations {
				if a.Sessions <= 0 || !a.Type.Concrete() {
					continue
				}
				expires := e.EndsAt
				if a.ValidDays > 0 {
					expires = startDate.AddDate(0, 0, a.ValidDays)
				}
				granted, err := s.repo.Credit.Grant(ctx, &domain.ConsultationCredit{
					ClientID:      clientID,
					CoachID:       tpl.CoachID,
					ProgramID:     programID,
					EnrollmentID:  e.ID,
					Type:          a.Type,
					TotalSessions: a.Sessions,
					ExpiresAt:     expires,
					CreatedAt:     now,
				})
				if err != nil {
					return err
				}
				if granted.TotalSessions > a.Sessions {
					s.log.Info("consultation credit topped up",
						zap.String("creditId", granted.ID.Hex()),
						zap.String("type", string(a.Type)),
						zap.Int("totalSessions", granted.TotalSessions))
				}
				credits++
			}
			enr = e
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("client enrolled",
		zap.String("enrollmentId", enr.ID.Hex()),
		zap.String("clientId", clientID.Hex()),
		zap.String("programId", programID.Hex()),
		zap.Int("credits", credits))
	s.periods.Announce(first, enr)
	return enr, nil
}

func (s *enrollmentService) GetEnrollment(ctx context.Context, principal domain.Principal, enrollmentID primitive.ObjectID) (*domain.Enrollment, error) {
	return loadOwned(ctx, s.repo, enrollmentID, principal)
}

func (s *enrollmentService) ListEnrollments(ctx context.Context, principal domain.Principal) ([]domain.Enrollment, error) {
	if principal.IsCoach() {
		return s.repo.Enrollment.GetByCoachID(ctx, principal.UserID)
	}
	return s.repo.Enrollment.GetByClientID(ctx, principal.UserID)
}

func (s *enrollmentService) Cancel(ctx context.Context, principal domain.Principal, enrollmentID primitive.ObjectID) (*domain.Enrollment, error) {
	var enr *domain.Enrollment
	err := s.retry.run(ctx, "cancel_enrollment", func() error {
		enr = nil
		return s.repo.Tx.WithinTransaction(ctx, func(ctx context.Context) error {
			e, err := loadOwned(ctx, s.repo, enrollmentID, principal)
			if err != nil {
				return err
			}
			if err := e.Transition(domain.EnrollmentCancelled); err != nil {
				return err
			}
			e.UpdatedAt = s.now().UTC()
			if err := s.repo.Enrollment.Update(ctx, e); err != nil {
				return err
			}
			enr = e
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("enrollment cancelled", zap.String("enrollmentId", enr.ID.Hex()))
	return enr, nil
}
