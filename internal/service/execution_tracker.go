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
	ErrExecutionNotFound  = errors.New("execution not found")
	ErrExecutionNotOwned  = errors.New("execution does not belong to this client")
	ErrEnrollmentNotOwned = errors.New("enrollment does not belong to the caller")
)

// ExecutionUpdate is a client's report on one execution. Nil fields are left as they are.
type ExecutionUpdate struct {
	Completed *bool
	Intensity *int
	Notes     *string
}

// ProgressReport summarizes an enrollment's tracking state.
type ProgressReport struct {
	EnrollmentID  primitive.ObjectID      `json:"enrollmentId"`
	Status        domain.EnrollmentStatus `json:"status"`
	Progress      int                     `json:"progress"`
	Total         int64                   `json:"total"`
	Completed     int64                   `json:"completed"`
	CurrentPeriod int                     `json:"currentPeriod"`
	PeriodCount   int                     `json:"periodCount"`
}

type ExecutionTracker interface {
	MarkExecution(ctx context.Context, executionID, clientID primitive.ObjectID, upd ExecutionUpdate) (*domain.Execution, error)
	// ListExecutions returns executions scheduled in [from, to] (zero bounds are
	// open). Due periods are materialized first when the caller is the client.
	ListExecutions(ctx context.Context, enrollmentID primitive.ObjectID, principal domain.Principal, from, to time.Time) ([]domain.Execution, error)
	GetProgress(ctx context.Context, enrollmentID primitive.ObjectID, principal domain.Principal) (*ProgressReport, error)
}

type executionTracker struct {
	repo    *repository.Repository
	periods PeriodManager
	retry   retrier
	log     *zap.Logger
	now     func() time.Time
}

func NewExecutionTracker(repo *repository.Repository, periods PeriodManager, retryCfg config.RetryConfig, log *zap.Logger) ExecutionTracker {
	return &executionTracker{
		repo:    repo,
		periods: periods,
		retry:   newRetrier(retryCfg, log),
		log:     log.Named("executions"),
		now:     time.Now,
	}
}

func (s *executionTracker) MarkExecution(ctx context.Context, executionID, clientID primitive.ObjectID, upd ExecutionUpdate) (*domain.Execution, error) {
	// 1. Validate input before touching storage
	if upd.Intensity != nil && (*upd.Intensity < 1 || *upd.Intensity > 10) {
		return nil, domain.NewValidationError("intensity", "must be between 1 and 10")
	}
	if upd.Notes != nil && len(*upd.Notes) > 2000 {
		return nil, domain.NewValidationError("notes", "must be at most 2000 characters")
	}

	var (
		exec      *domain.Execution
		newlyDone bool
	)
	err := s.retry.run(ctx, "mark_execution", func() error {
		exec, newlyDone = nil, false
		return s.repo.Tx.WithinTransaction(ctx, func(ctx context.Context) error {
			// 2. Load and check ownership
			e, err := s.repo.Execution.GetByID(ctx, executionID)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return ErrExecutionNotFound
				}
				return err
			}
			if e.ClientID != clientID {
				return ErrExecutionNotOwned
			}
			enr, err := s.repo.Enrollment.GetByID(ctx, e.EnrollmentID)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return ErrEnrollmentNotFound
				}
				return err
			}
			if enr.Status != domain.EnrollmentActive {
				return ErrEnrollmentClosed
			}

			// 3. Apply the update; CompletedAt is stamped once per completion
			now := s.now().UTC()
			if upd.Completed != nil {
				switch {
				case *upd.Completed && !e.Completed:
					e.Completed = true
					if e.CompletedAt == nil {
						e.CompletedAt = &now
					}
					newlyDone = true
				case !*upd.Completed && e.Completed:
					e.Completed = false
					e.CompletedAt = nil
				}
			}
			if upd.Intensity != nil {
				v := *upd.Intensity
				e.AppliedIntensity = &v
			}
			if upd.Notes != nil {
				e.Notes = *upd.Notes
			}
			e.UpdatedAt = now
			if err := s.repo.Execution.Update(ctx, e); err != nil {
				return err
			}

			// 4. Progress follows in the same transaction
			total, completed, err := s.repo.Execution.Count(ctx, enr.ID)
			if err != nil {
				return err
			}
			enr.Progress = domain.ComputeProgress(completed, total)
			if err := s.repo.Enrollment.Update(ctx, enr); err != nil {
				return err
			}
			exec = e
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	// 5. Growth and completion are follow-ups; the mark itself is already durable.
	if newlyDone {
		if err := s.periods.OnExecutionCompleted(ctx, exec); err != nil {
			s.log.Error("post-completion handling failed",
				zap.String("executionId", exec.ID.Hex()),
				zap.String("enrollmentId", exec.EnrollmentID.Hex()),
				zap.Error(err))
		}
	}
	return exec, nil
}

// loadOwned returns the enrollment if principal is its client or coach.
func loadOwned(ctx context.Context, repo *repository.Repository, enrollmentID primitive.ObjectID, principal domain.Principal) (*domain.Enrollment, error) {
	enr, err := repo.Enrollment.GetByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrEnrollmentNotFound
		}
		return nil, err
	}
	switch {
	case principal.IsClient() && enr.ClientID == principal.UserID:
	case principal.IsCoach() && enr.CoachID == principal.UserID:
	default:
		return nil, ErrEnrollmentNotOwned
	}
	return enr, nil
}

func (s *executionTracker) ListExecutions(ctx context.Context, enrollmentID primitive.ObjectID, principal domain.Principal, from, to time.Time) ([]domain.Execution, error) {
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return nil, domain.NewValidationError("to", "must not be before from")
	}
	enr, err := loadOwned(ctx, s.repo, enrollmentID, principal)
	if err != nil {
		return nil, err
	}

	if principal.IsClient() {
		if _, err := s.periods.AdvanceIfDue(ctx, enr, s.now()); err != nil {
			// the read still answers with what is materialized
			s.log.Warn("advancing due periods failed",
				zap.String("enrollmentId", enr.ID.Hex()),
				zap.Error(err))
		}
	}
	return s.repo.Execution.GetByEnrollmentID(ctx, enr.ID, from, to)
}

func (s *executionTracker) GetProgress(ctx context.Context, enrollmentID primitive.ObjectID, principal domain.Principal) (*ProgressReport, error) {
	enr, err := loadOwned(ctx, s.repo, enrollmentID, principal)
	if err != nil {
		return nil, err
	}
	total, completed, err := s.repo.Execution.Count(ctx, enr.ID)
	if err != nil {
		return nil, err
	}
	progress := enr.Progress
	// archived enrollments have no raw rows left; the stored figure stands
	if total > 0 {
		progress = domain.ComputeProgress(completed, total)
	}
	return &ProgressReport{
		EnrollmentID:  enr.ID,
		Status:        enr.Status,
		Progress:      progress,
		Total:         total,
		Completed:     completed,
		CurrentPeriod: enr.CurrentPeriod,
		PeriodCount:   enr.PeriodCount,
	}, nil
}
