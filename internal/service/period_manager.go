package service

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"alcyxob/coaching-engine/internal/config"
	"alcyxob/coaching-engine/internal/domain"
	"alcyxob/coaching-engine/internal/events"
	"alcyxob/coaching-engine/internal/metrics"
	"alcyxob/coaching-engine/internal/repository"
	"alcyxob/coaching-engine/internal/schedule"
)

// --- Error Definitions ---
var (
	ErrEnrollmentNotFound = errors.New("enrollment not found")
	ErrTemplateNotFound   = errors.New("program template not found")
	// ErrEnrollmentClosed is returned when an enrollment that is no longer
	// pending or active is asked to grow or be tracked.
	ErrEnrollmentClosed = errors.New("enrollment is no longer active")
)

// --- Service Interface ---

// PeriodManager owns the exactly-once materialization of periods.
type PeriodManager interface {
	// EnsurePeriod materializes periodIndex for the enrollment if it is not
	// there yet. created is false when the period already existed.
	EnsurePeriod(ctx context.Context, enrollmentID primitive.ObjectID, periodIndex int) (period *domain.Period, created bool, err error)
	// MaterializeInTx is EnsurePeriod for callers that already hold a
	// transaction and a template snapshot. It does not retry.
	MaterializeInTx(ctx context.Context, enr *domain.Enrollment, tpl *domain.WeeklyTemplate, periodIndex int) (*domain.Period, bool, error)
	// Announce counts and publishes a period created by MaterializeInTx once
	// the caller's transaction has committed.
	Announce(p *domain.Period, enr *domain.Enrollment)
	// AdvanceIfDue ensures every period whose start date has been reached
	// (allowing the configured lead days). It returns the periods it created.
	AdvanceIfDue(ctx context.Context, enr *domain.Enrollment, now time.Time) ([]domain.Period, error)
	// OnExecutionCompleted grows or completes the enrollment after exec was
	// marked done.
	OnExecutionCompleted(ctx context.Context, exec *domain.Execution) error
	ListPeriods(ctx context.Context, enrollmentID primitive.ObjectID) ([]domain.Period, error)
}

// --- Service Implementation ---

type periodManager struct {
	repo      *repository.Repository
	publisher events.EventPublisher
	retry     retrier
	cfg       config.ScheduleConfig
	log       *zap.Logger
	now       func() time.Time
}

// NewPeriodManager creates a new PeriodManager.
func NewPeriodManager(repo *repository.Repository, publisher events.EventPublisher, cfg config.ScheduleConfig, retryCfg config.RetryConfig, log *zap.Logger) PeriodManager {
	return &periodManager{
		repo:      repo,
		publisher: publisher,
		retry:     newRetrier(retryCfg, log),
		cfg:       cfg,
		log:       log.Named("periods"),
		now:       time.Now,
	}
}

func (s *periodManager) EnsurePeriod(ctx context.Context, enrollmentID primitive.ObjectID, periodIndex int) (*domain.Period, bool, error) {
	var (
		period  *domain.Period
		created bool
		enr     *domain.Enrollment
	)

	err := s.retry.run(ctx, "ensure_period", func() error {
		period, created, enr = nil, false, nil
		return s.repo.Tx.WithinTransaction(ctx, func(ctx context.Context) error {
			var err error
			enr, err = s.repo.Enrollment.GetByID(ctx, enrollmentID)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return ErrEnrollmentNotFound
				}
				return err
			}
			// One template read per attempt: the whole period is expanded from it.
			tpl, err := s.repo.Template.GetByProgramID(ctx, enr.ProgramID)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return ErrTemplateNotFound
				}
				return err
			}
			period, created, err = s.MaterializeInTx(ctx, enr, tpl, periodIndex)
			return err
		})
	})

	// Lost a race against a concurrent materialization: the committed row wins.
	if errors.Is(err, domain.ErrPeriodAlreadyMaterialized) {
		existing, getErr := s.repo.Period.Get(ctx, enrollmentID, periodIndex)
		if getErr != nil {
			return nil, false, getErr
		}
		metrics.PeriodsMaterialized.WithLabelValues("existing").Inc()
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if created {
		s.Announce(period, enr)
	} else {
		metrics.PeriodsMaterialized.WithLabelValues("existing").Inc()
	}
	return period, created, nil
}

func (s *periodManager) Announce(p *domain.Period, enr *domain.Enrollment) {
	metrics.PeriodsMaterialized.WithLabelValues("created").Inc()
	metrics.ExecutionsMaterialized.Add(float64(p.ExecutionCount))
	s.log.Info("period materialized",
		zap.String("enrollmentId", enr.ID.Hex()),
		zap.Int("periodIndex", p.PeriodIndex),
		zap.Int("executions", p.ExecutionCount),
		zap.Int("templateVersion", p.TemplateVersion))
	if err := s.publisher.PublishPeriodMaterialized(p, enr); err != nil {
		s.log.Warn("failed to publish period.materialized", zap.Error(err))
	}
}

func (s *periodManager) MaterializeInTx(ctx context.Context, enr *domain.Enrollment, tpl *domain.WeeklyTemplate, periodIndex int) (*domain.Period, bool, error) {
	plan := schedule.NormalizeTemplate(tpl, s.log)
	// The period count captured at enrollment is the contract with the client.
	if enr.PeriodCount > 0 {
		plan.PeriodCount = enr.PeriodCount
	}
	if periodIndex < 1 || periodIndex > plan.PeriodCount {
		return nil, false, domain.NewValidationError("periodIndex", "period index outside the program")
	}

	// 1. Already materialized: nothing to write.
	existing, err := s.repo.Period.Get(ctx, enr.ID, periodIndex)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, err
	}

	if enr.Status != domain.EnrollmentPending && enr.Status != domain.EnrollmentActive {
		return nil, false, ErrEnrollmentClosed
	}

	// 2. Periods are strictly ordered.
	if periodIndex > 1 {
		if _, err := s.repo.Period.Get(ctx, enr.ID, periodIndex-1); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, false, domain.ErrPeriodOutOfOrder
			}
			return nil, false, err
		}
	}

	// 3. Expand from the snapshot.
	drafts, err := schedule.Expand(plan, enr, periodIndex)
	if err != nil {
		return nil, false, err
	}
	startsOn, endsOn := schedule.PeriodWindow(plan, enr, periodIndex)
	period := &domain.Period{
		EnrollmentID:    enr.ID,
		PeriodIndex:     periodIndex,
		WeekSpan:        schedule.WeekSpan(plan, enr),
		TemplateVersion: tpl.Version,
		StartsOn:        startsOn,
		EndsOn:          endsOn,
		ExecutionCount:  len(drafts),
		MaterializedAt:  s.now().UTC(),
	}

	// 4. Period row first: its unique key decides who materializes.
	if err := s.repo.Period.Create(ctx, period); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, false, domain.ErrPeriodAlreadyMaterialized
		}
		return nil, false, err
	}

	execs := make([]domain.Execution, 0, len(drafts))
	for _, d := range drafts {
		execs = append(execs, domain.NewExecution(enr, d))
	}
	if _, err := s.repo.Execution.UpsertMany(ctx, execs); err != nil {
		return nil, false, err
	}

	// 5. Enrollment follows: active, current period, progress over the new total.
	if err := enr.Transition(domain.EnrollmentActive); err != nil {
		return nil, false, err
	}
	if periodIndex > enr.CurrentPeriod {
		enr.CurrentPeriod = periodIndex
	}
	total, completed, err := s.repo.Execution.Count(ctx, enr.ID)
	if err != nil {
		return nil, false, err
	}
	enr.Progress = domain.ComputeProgress(completed, total)
	if err := s.repo.Enrollment.Update(ctx, enr); err != nil {
		return nil, false, err
	}

	return period, true, nil
}

func (s *periodManager) AdvanceIfDue(ctx context.Context, enr *domain.Enrollment, now time.Time) ([]domain.Period, error) {
	if enr.Status != domain.EnrollmentActive && enr.Status != domain.EnrollmentPending {
		return nil, nil
	}
	horizon := domain.DateOnly(now).AddDate(0, 0, s.cfg.LeadDays)

	var created []domain.Period
	first := enr.CurrentPeriod + 1
	if first < 1 {
		first = 1
	}
	for idx := first; idx <= enr.PeriodCount; idx++ {
		if enr.PeriodStart(idx).After(horizon) {
			break
		}
		p, ok, err := s.EnsurePeriod(ctx, enr.ID, idx)
		if err != nil {
			return created, err
		}
		if ok {
			created = append(created, *p)
		}
		enr.CurrentPeriod = idx
	}
	return created, nil
}

func (s *periodManager) OnExecutionCompleted(ctx context.Context, exec *domain.Execution) error {
	enr, err := s.repo.Enrollment.GetByID(ctx, exec.EnrollmentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrEnrollmentNotFound
		}
		return err
	}
	if enr.Status != domain.EnrollmentActive {
		return nil
	}

	periodExecs, err := s.repo.Execution.GetByPeriod(ctx, enr.ID, exec.PeriodIndex)
	if err != nil {
		return err
	}

	drafts := make([]domain.ExecutionDraft, 0, len(periodExecs))
	for _, e := range periodExecs {
		drafts = append(drafts, domain.ExecutionDraft{ScheduledDate: e.ScheduledDate})
	}
	isLast := !exec.ScheduledDate.Before(schedule.LastScheduledDate(drafts))

	if isLast && exec.PeriodIndex == enr.CurrentPeriod && exec.PeriodIndex < enr.PeriodCount {
		if _, _, err := s.EnsurePeriod(ctx, enr.ID, exec.PeriodIndex+1); err != nil {
			return err
		}
	}

	if exec.PeriodIndex == enr.PeriodCount {
		return s.completeIfSettled(ctx, enr.ID)
	}
	return nil
}

// completeIfSettled moves an active enrollment to completed once every
// execution of its final period is done or past the grace window.
func (s *periodManager) completeIfSettled(ctx context.Context, enrollmentID primitive.ObjectID) error {
	now := s.now()
	var completed bool
	err := s.retry.run(ctx, "complete_enrollment", func() error {
		completed = false
		return s.repo.Tx.WithinTransaction(ctx, func(ctx context.Context) error {
			enr, err := s.repo.Enrollment.GetByID(ctx, enrollmentID)
			if err != nil {
				return err
			}
			if enr.Status != domain.EnrollmentActive {
				return nil
			}
			settled, err := finalPeriodSettled(ctx, s.repo, enr, now, s.cfg.GraceDays)
			if err != nil || !settled {
				return err
			}
			if err := enr.Transition(domain.EnrollmentCompleted); err != nil {
				return err
			}
			completed = true
			return s.repo.Enrollment.Update(ctx, enr)
		})
	})
	if err == nil && completed {
		s.log.Info("enrollment completed", zap.String("enrollmentId", enrollmentID.Hex()))
	}
	return err
}

// finalPeriodSettled reports whether the final period exists and each of its
// executions is done or past the grace window at now.
func finalPeriodSettled(ctx context.Context, repo *repository.Repository, enr *domain.Enrollment, now time.Time, graceDays int) (bool, error) {
	if _, err := repo.Period.Get(ctx, enr.ID, enr.PeriodCount); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	finals, err := repo.Execution.GetByPeriod(ctx, enr.ID, enr.PeriodCount)
	if err != nil {
		return false, err
	}
	for i := range finals {
		if !finals[i].SettledBy(now, graceDays) {
			return false, nil
		}
	}
	return true, nil
}

func (s *periodManager) ListPeriods(ctx context.Context, enrollmentID primitive.ObjectID) ([]domain.Period, error) {
	return s.repo.Period.GetByEnrollmentID(ctx, enrollmentID)
}
