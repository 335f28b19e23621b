package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"alcyxob/coaching-engine/internal/config"
	"alcyxob/coaching-engine/internal/domain"
	"alcyxob/coaching-engine/internal/events"
	"alcyxob/coaching-engine/internal/metrics"
	"alcyxob/coaching-engine/internal/repository"
	"alcyxob/coaching-engine/internal/storage"
)

// --- Error Definitions ---
var (
	ErrEnrollmentNotArchivable = errors.New("enrollment must be expired or completed to be archived")
	ErrSnapshotNotFound        = errors.New("archive snapshot not found")
	ErrExportUnavailable       = errors.New("archive export is not available")
)

const ExportURLExpiry = 15 * time.Minute

// SweepReport summarizes one sweeper run.
type SweepReport struct {
	Expired  int
	Archived int
	Purged   int
	Failed   int
}

type ArchiveService interface {
	// ArchiveEnrollment snapshots a finished enrollment and purges its raw
	// executions. Without force an existing snapshot is returned unchanged.
	ArchiveEnrollment(ctx context.Context, enrollmentID primitive.ObjectID, force bool) (*domain.ArchiveSnapshot, error)
	// ExpireDue closes active enrollments whose validity ended before now (minus
	// the grace window): completed when the final period is settled, expired
	// otherwise. It returns how many expired.
	ExpireDue(ctx context.Context, now time.Time) (int, error)
	// ArchivePending archives every expired or completed enrollment.
	ArchivePending(ctx context.Context) (archived int, failed int, err error)
	// SweepOrphans purges raw rows left behind by snapshots whose purge failed.
	SweepOrphans(ctx context.Context) (int, error)
	// Sweep runs ExpireDue, ArchivePending and SweepOrphans in that order.
	Sweep(ctx context.Context, now time.Time) (SweepReport, error)
	GetSnapshot(ctx context.Context, enrollmentID primitive.ObjectID) (*domain.ArchiveSnapshot, error)
	ExportURL(ctx context.Context, enrollmentID primitive.ObjectID) (string, error)
}

type archiveService struct {
	repo      *repository.Repository
	files     storage.FileStorage // nil disables export
	publisher events.EventPublisher
	retry     retrier
	schedule  config.ScheduleConfig
	prefix    string
	export    bool
	log       *zap.Logger
	now       func() time.Time
}

func NewArchiveService(repo *repository.Repository, files storage.FileStorage, publisher events.EventPublisher, cfg config.Config, log *zap.Logger) ArchiveService {
	return &archiveService{
		repo:      repo,
		files:     files,
		publisher: publisher,
		retry:     newRetrier(cfg.Retry, log),
		schedule:  cfg.Schedule,
		prefix:    cfg.S3.ArchivePrefix,
		export:    cfg.Archive.Export && files != nil,
		log:       log.Named("archive"),
		now:       time.Now,
	}
}

func (s *archiveService) ArchiveEnrollment(ctx context.Context, enrollmentID primitive.ObjectID, force bool) (*domain.ArchiveSnapshot, error) {
	// 1. Preconditions
	enr, err := s.repo.Enrollment.GetByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrEnrollmentNotFound
		}
		return nil, err
	}
	if !enr.Archivable() {
		return nil, ErrEnrollmentNotArchivable
	}

	existing, err := s.repo.Archive.GetByEnrollmentID(ctx, enrollmentID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		// raw rows are gone once purged; recomputing would overwrite real figures with zeros
		if !force || existing.Purged {
			if !existing.Purged {
				s.purge(ctx, existing)
			}
			if err := s.markArchived(ctx, enr); err != nil {
				return nil, err
			}
			metrics.Archives.WithLabelValues("existing").Inc()
			return existing, nil
		}
	}

	// 2. Analytics over the raw rows
	snap, err := s.buildSnapshot(ctx, enr)
	if err != nil {
		metrics.Archives.WithLabelValues("error").Inc()
		return nil, err
	}
	if existing != nil {
		snap.ExportKey = existing.ExportKey
	}

	// 3. Durable commit before anything is removed
	err = s.retry.run(ctx, "archive_snapshot", func() error {
		stored, err := s.repo.Archive.Upsert(ctx, snap)
		if err != nil {
			return err
		}
		snap = stored
		return nil
	})
	if err != nil {
		metrics.Archives.WithLabelValues("error").Inc()
		return nil, err
	}

	// 4. Export (best effort)
	if s.export {
		s.exportSnapshot(ctx, snap)
	}

	// 5. Purge and status
	s.purge(ctx, snap)
	if err := s.markArchived(ctx, enr); err != nil {
		return nil, err
	}

	metrics.Archives.WithLabelValues("archived").Inc()
	s.log.Info("enrollment archived",
		zap.String("enrollmentId", enr.ID.Hex()),
		zap.Int("totalExecutions", snap.TotalExecutions),
		zap.Float64("completionRate", snap.CompletionRate),
		zap.Bool("purged", snap.Purged))
	if err := s.publisher.PublishEnrollmentArchived(snap); err != nil {
		s.log.Warn("failed to publish enrollment.archived", zap.Error(err))
	}
	return snap, nil
}

func (s *archiveService) buildSnapshot(ctx context.Context, enr *domain.Enrollment) (*domain.ArchiveSnapshot, error) {
	execs, err := s.repo.Execution.GetByEnrollmentID(ctx, enr.ID, time.Time{}, time.Time{})
	if err != nil {
		return nil, err
	}
	periods, err := s.repo.Period.GetByEnrollmentID(ctx, enr.ID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	rangeStart := domain.DateOnly(enr.StartDate)
	rangeEnd := enr.EndsAt
	if rangeEnd.IsZero() || rangeEnd.After(now) {
		rangeEnd = now
	}
	dueBy := domain.DateOnly(rangeEnd)

	snap := &domain.ArchiveSnapshot{
		EnrollmentID:        enr.ID,
		ClientID:            enr.ClientID,
		CoachID:             enr.CoachID,
		ProgramID:           enr.ProgramID,
		FinalStatus:         enr.Status,
		TotalExecutions:     len(execs),
		PeriodsMaterialized: len(periods),
		RangeStart:          rangeStart,
		RangeEnd:            rangeEnd,
		CreatedAt:           now,
	}
	if enr.Status == domain.EnrollmentArchived {
		snap.FinalStatus = domain.EnrollmentCompleted
		if enr.Progress < 100 {
			snap.FinalStatus = domain.EnrollmentExpired
		}
	}

	var due, doneWhenDue int
	for i := range execs {
		e := &execs[i]
		if e.Completed {
			snap.CompletedExecutions++
			if at := e.CompletedAt; at != nil {
				if snap.FirstActivity == nil || at.Before(*snap.FirstActivity) {
					t := *at
					snap.FirstActivity = &t
				}
				if snap.LastActivity == nil || at.After(*snap.LastActivity) {
					t := *at
					snap.LastActivity = &t
				}
			}
		}
		if e.ScheduledDate.Before(dueBy) {
			due++
			if e.Completed {
				doneWhenDue++
			}
		}
	}
	snap.CompletionRate = percent(snap.CompletedExecutions, snap.TotalExecutions)
	snap.AdherenceRate = percent(doneWhenDue, due)
	return snap, nil
}

// percent rounds to two decimals.
func percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return math.Round(float64(part)*10000/float64(whole)) / 100
}

func (s *archiveService) exportSnapshot(ctx context.Context, snap *domain.ArchiveSnapshot) {
	body, err := json.Marshal(snap)
	if err != nil {
		s.log.Error("failed to encode snapshot for export", zap.Error(err))
		return
	}
	key := path.Join(s.prefix, snap.EnrollmentID.Hex(), uuid.NewString()+".json")
	if err := s.files.PutObject(ctx, key, "application/json", body); err != nil {
		s.log.Warn("snapshot export failed", zap.String("key", key), zap.Error(err))
		return
	}
	old := snap.ExportKey
	if err := s.repo.Archive.SetExportKey(ctx, snap.EnrollmentID, key); err != nil {
		s.log.Warn("failed to record export key", zap.String("key", key), zap.Error(err))
		return
	}
	snap.ExportKey = key
	if old != "" && old != key {
		if err := s.files.DeleteObject(ctx, old); err != nil {
			s.log.Warn("failed to delete superseded export", zap.String("key", old), zap.Error(err))
		}
	}
}

// purge removes the raw executions of a committed snapshot. Failures leave the
// snapshot unpurged for SweepOrphans.
func (s *archiveService) purge(ctx context.Context, snap *domain.ArchiveSnapshot) {
	err := s.retry.run(ctx, "purge_executions", func() error {
		if _, err := s.repo.Execution.DeleteByEnrollmentID(ctx, snap.EnrollmentID); err != nil {
			return err
		}
		return s.repo.Archive.MarkPurged(ctx, snap.EnrollmentID)
	})
	if err != nil {
		metrics.Archives.WithLabelValues("purge_failed").Inc()
		s.log.Error("purge of archived executions failed; left for sweeper",
			zap.String("enrollmentId", snap.EnrollmentID.Hex()),
			zap.Error(err))
		return
	}
	snap.Purged = true
}

func (s *archiveService) markArchived(ctx context.Context, enr *domain.Enrollment) error {
	if enr.Status == domain.EnrollmentArchived {
		return nil
	}
	if err := enr.Transition(domain.EnrollmentArchived); err != nil {
		return err
	}
	return s.retry.run(ctx, "mark_archived", func() error {
		return s.repo.Enrollment.Update(ctx, enr)
	})
}

func (s *archiveService) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.UTC().AddDate(0, 0, -s.schedule.GraceDays)
	due, err := s.repo.Enrollment.ListActiveEndingBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	expired := 0
	for i := range due {
		enr := &due[i]
		var next domain.EnrollmentStatus
		err := s.retry.run(ctx, "expire_enrollment", func() error {
			next = ""
			return s.repo.Tx.WithinTransaction(ctx, func(ctx context.Context) error {
				fresh, err := s.repo.Enrollment.GetByID(ctx, enr.ID)
				if err != nil {
					return err
				}
				if fresh.Status != domain.EnrollmentActive {
					return nil
				}
				// A final period that has run its course completes the program
				settled, err := finalPeriodSettled(ctx, s.repo, fresh, now, s.schedule.GraceDays)
				if err != nil {
					return err
				}
				status := domain.EnrollmentExpired
				if settled {
					status = domain.EnrollmentCompleted
				}
				if err := fresh.Transition(status); err != nil {
					return err
				}
				if err := s.repo.Enrollment.Update(ctx, fresh); err != nil {
					return err
				}
				next = status
				return nil
			})
		})
		if err != nil {
			s.log.Error("failed to expire enrollment", zap.String("enrollmentId", enr.ID.Hex()), zap.Error(err))
			continue
		}
		switch next {
		case domain.EnrollmentExpired:
			expired++
		case domain.EnrollmentCompleted:
			s.log.Info("enrollment completed at end of validity", zap.String("enrollmentId", enr.ID.Hex()))
		}
	}
	return expired, nil
}

func (s *archiveService) ArchivePending(ctx context.Context) (int, int, error) {
	var candidates []domain.Enrollment
	for _, st := range []domain.EnrollmentStatus{domain.EnrollmentExpired, domain.EnrollmentCompleted} {
		list, err := s.repo.Enrollment.ListByStatus(ctx, st)
		if err != nil {
			return 0, 0, err
		}
		candidates = append(candidates, list...)
	}

	archived, failed := 0, 0
	for i := range candidates {
		if _, err := s.ArchiveEnrollment(ctx, candidates[i].ID, false); err != nil {
			failed++
			s.log.Error("failed to archive enrollment",
				zap.String("enrollmentId", candidates[i].ID.Hex()),
				zap.Error(err))
			continue
		}
		archived++
	}
	return archived, failed, nil
}

func (s *archiveService) SweepOrphans(ctx context.Context) (int, error) {
	pending, err := s.repo.Archive.ListUnpurged(ctx)
	if err != nil {
		return 0, err
	}
	purged := 0
	for i := range pending {
		s.purge(ctx, &pending[i])
		if pending[i].Purged {
			purged++
		}
	}
	if purged > 0 {
		s.log.Info("orphaned executions purged", zap.Int("snapshots", purged))
	}
	return purged, nil
}

func (s *archiveService) Sweep(ctx context.Context, now time.Time) (SweepReport, error) {
	var report SweepReport
	var err error
	if report.Expired, err = s.ExpireDue(ctx, now); err != nil {
		return report, fmt.Errorf("expire due enrollments: %w", err)
	}
	if report.Archived, report.Failed, err = s.ArchivePending(ctx); err != nil {
		return report, fmt.Errorf("archive pending enrollments: %w", err)
	}
	if report.Purged, err = s.SweepOrphans(ctx); err != nil {
		return report, fmt.Errorf("sweep orphans: %w", err)
	}
	return report, nil
}

func (s *archiveService) GetSnapshot(ctx context.Context, enrollmentID primitive.ObjectID) (*domain.ArchiveSnapshot, error) {
	snap, err := s.repo.Archive.GetByEnrollmentID(ctx, enrollmentID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrSnapshotNotFound
	}
	return snap, err
}

func (s *archiveService) ExportURL(ctx context.Context, enrollmentID primitive.ObjectID) (string, error) {
	snap, err := s.GetSnapshot(ctx, enrollmentID)
	if err != nil {
		return "", err
	}
	if s.files == nil || snap.ExportKey == "" {
		return "", ErrExportUnavailable
	}
	url, err := s.files.GeneratePresignedDownloadURL(ctx, snap.ExportKey, ExportURLExpiry)
	if err != nil {
		return "", fmt.Errorf("presign export: %w", err)
	}
	return url, nil
}
