package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"alcyxob/coaching-engine/internal/domain"
)

// Error constants for repository layer
var (
	ErrNotFound     = RepositoryError("not found")
	ErrUpdateFailed = RepositoryError("update failed")
	ErrDeleteFailed = RepositoryError("delete failed")
	// ErrDuplicate is returned when a write collides with a unique natural key.
	ErrDuplicate = RepositoryError("duplicate key")
	// ErrConditionFailed is returned by conditional updates whose guard did not match.
	ErrConditionFailed = RepositoryError("update condition not met")
)

// RepositoryError helps distinguish repository errors
type RepositoryError string

func (e RepositoryError) Error() string {
	return string(e)
}

// TransientError wraps a storage failure that may succeed if the whole unit of
// work is attempted again (write conflicts, lost connections, timeouts).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient storage error: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err (or anything it wraps) is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Transactor runs fn as one atomic unit. Repositories called with the ctx passed
// to fn take part in the same transaction. Calls nested inside an open
// transaction reuse it.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// UserRepository defines the interface for interacting with user data.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) (primitive.ObjectID, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (*domain.User, error)
}

// ItemRepository stores the coach's exercise and meal catalog.
type ItemRepository interface {
	Create(ctx context.Context, item *domain.Item) (primitive.ObjectID, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (*domain.Item, error)
	GetByCoachID(ctx context.Context, coachID primitive.ObjectID) ([]domain.Item, error)
	Update(ctx context.Context, item *domain.Item) error
	Delete(ctx context.Context, id primitive.ObjectID, coachID primitive.ObjectID) error // coach must own the item
}

// TemplateRepository stores one weekly template per program.
type TemplateRepository interface {
	GetByProgramID(ctx context.Context, programID primitive.ObjectID) (*domain.WeeklyTemplate, error)
	// Save upserts the template by program and increments its version; it
	// returns the stored document.
	Save(ctx context.Context, tpl *domain.WeeklyTemplate) (*domain.WeeklyTemplate, error)
}

type EnrollmentRepository interface {
	// Create fails with ErrDuplicate when the client already holds a pending
	// or active enrollment in the same program.
	Create(ctx context.Context, enr *domain.Enrollment) (primitive.ObjectID, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (*domain.Enrollment, error)
	GetByClientID(ctx context.Context, clientID primitive.ObjectID) ([]domain.Enrollment, error)
	GetByCoachID(ctx context.Context, coachID primitive.ObjectID) ([]domain.Enrollment, error)
	// Update persists status, progress and current period.
	Update(ctx context.Context, enr *domain.Enrollment) error
	// ListActiveEndingBefore returns active enrollments whose EndsAt is before t.
	ListActiveEndingBefore(ctx context.Context, t time.Time) ([]domain.Enrollment, error)
	ListByStatus(ctx context.Context, status domain.EnrollmentStatus) ([]domain.Enrollment, error)
}

type PeriodRepository interface {
	// Create fails with ErrDuplicate when the (enrollment, index) row exists.
	Create(ctx context.Context, p *domain.Period) error
	Get(ctx context.Context, enrollmentID primitive.ObjectID, periodIndex int) (*domain.Period, error)
	GetByEnrollmentID(ctx context.Context, enrollmentID primitive.ObjectID) ([]domain.Period, error)
}

type ExecutionRepository interface {
	// UpsertMany inserts executions missing by natural key and leaves existing
	// ones untouched. It returns how many were inserted.
	UpsertMany(ctx context.Context, execs []domain.Execution) (int, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (*domain.Execution, error)
	// Update persists the tracking fields (completed, completedAt, intensity, notes).
	Update(ctx context.Context, exec *domain.Execution) error
	// GetByEnrollmentID lists executions scheduled in [from, to]; zero bounds are open.
	GetByEnrollmentID(ctx context.Context, enrollmentID primitive.ObjectID, from, to time.Time) ([]domain.Execution, error)
	GetByPeriod(ctx context.Context, enrollmentID primitive.ObjectID, periodIndex int) ([]domain.Execution, error)
	Count(ctx context.Context, enrollmentID primitive.ObjectID) (total int64, completed int64, err error)
	DeleteByEnrollmentID(ctx context.Context, enrollmentID primitive.ObjectID) (int64, error)
}

type AvailabilityRepository interface {
	Create(ctx context.Context, slot *domain.AvailabilitySlot) (primitive.ObjectID, error)
	GetByCoachID(ctx context.Context, coachID primitive.ObjectID) ([]domain.AvailabilitySlot, error)
	Delete(ctx context.Context, id primitive.ObjectID, coachID primitive.ObjectID) error
}

type BookingRepository interface {
	// Lock touches the (coach, date) guard document so that concurrent
	// transactions booking the same coach day conflict with each other.
	Lock(ctx context.Context, coachID primitive.ObjectID, date time.Time) error
	Create(ctx context.Context, b *domain.Booking) (primitive.ObjectID, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (*domain.Booking, error)
	// GetConfirmedByCoach lists confirmed bookings with a date in [from, to].
	GetConfirmedByCoach(ctx context.Context, coachID primitive.ObjectID, from, to time.Time) ([]domain.Booking, error)
	GetByClientID(ctx context.Context, clientID primitive.ObjectID, from, to time.Time) ([]domain.Booking, error)
	GetByCoachID(ctx context.Context, coachID primitive.ObjectID, from, to time.Time) ([]domain.Booking, error)
	// Cancel moves a confirmed booking to cancelled; ErrConditionFailed if it was not confirmed.
	Cancel(ctx context.Context, id primitive.ObjectID, at time.Time, creditRestored bool) error
}

type CreditRepository interface {
	// Create fails with ErrDuplicate when (client, program, type) exists.
	Create(ctx context.Context, c *domain.ConsultationCredit) (primitive.ObjectID, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (*domain.ConsultationCredit, error)
	GetByClientID(ctx context.Context, clientID primitive.ObjectID) ([]domain.ConsultationCredit, error)
	// Grant adds c.TotalSessions to the (client, program, type) credit, creating
	// it when missing. Expiry, coach and enrollment move to c's values.
	Grant(ctx context.Context, c *domain.ConsultationCredit) (*domain.ConsultationCredit, error)
	// Debit spends one session if the credit still has one and has not expired
	// at now. ErrConditionFailed otherwise.
	Debit(ctx context.Context, id primitive.ObjectID, now time.Time) error
	// Restore gives one spent session back. ErrConditionFailed when none is spent.
	Restore(ctx context.Context, id primitive.ObjectID) error
}

type ArchiveRepository interface {
	GetByEnrollmentID(ctx context.Context, enrollmentID primitive.ObjectID) (*domain.ArchiveSnapshot, error)
	// Upsert writes the snapshot keyed by enrollment and returns the stored copy.
	Upsert(ctx context.Context, snap *domain.ArchiveSnapshot) (*domain.ArchiveSnapshot, error)
	SetExportKey(ctx context.Context, enrollmentID primitive.ObjectID, key string) error
	MarkPurged(ctx context.Context, enrollmentID primitive.ObjectID) error
	ListUnpurged(ctx context.Context) ([]domain.ArchiveSnapshot, error)
}

// Repository bundles every store together with the transactor that spans them.
type Repository struct {
	Tx           Transactor
	User         UserRepository
	Item         ItemRepository
	Template     TemplateRepository
	Enrollment   EnrollmentRepository
	Period       PeriodRepository
	Execution    ExecutionRepository
	Availability AvailabilityRepository
	Booking      BookingRepository
	Credit       CreditRepository
	Archive      ArchiveRepository
}
