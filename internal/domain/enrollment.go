package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// EnrollmentStatus tracks the lifecycle of a client's subscription to a program.
type EnrollmentStatus string

const (
	EnrollmentPending   EnrollmentStatus = "pending"
	EnrollmentActive    EnrollmentStatus = "active"    // at least period 1 materialized
	EnrollmentCompleted EnrollmentStatus = "completed" // every period done
	EnrollmentExpired   EnrollmentStatus = "expired"   // validity window closed
	EnrollmentCancelled EnrollmentStatus = "cancelled"
	EnrollmentArchived  EnrollmentStatus = "archived" // snapshot taken
)

// transitions is monotonic: there is no path backward.
var transitions = map[EnrollmentStatus][]EnrollmentStatus{
	EnrollmentPending:   {EnrollmentActive, EnrollmentCancelled},
	EnrollmentActive:    {EnrollmentCompleted, EnrollmentExpired, EnrollmentCancelled},
	EnrollmentCompleted: {EnrollmentArchived},
	EnrollmentExpired:   {EnrollmentArchived},
}

// Enrollment is one client's subscription to one program.
type Enrollment struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ClientID      primitive.ObjectID `bson:"clientId" json:"clientId"`
	CoachID       primitive.ObjectID `bson:"coachId" json:"coachId"`
	ProgramID     primitive.ObjectID `bson:"programId" json:"programId"`
	StartDate     time.Time          `bson:"startDate" json:"startDate"` // immutable once period 1 exists
	Status        EnrollmentStatus   `bson:"status" json:"status"`
	Progress      int                `bson:"progress" json:"progress"` // 0-100
	CurrentPeriod int                `bson:"currentPeriod" json:"currentPeriod"`
	PeriodCount   int                `bson:"periodCount" json:"periodCount"`
	WeekCount     int                `bson:"weekCount" json:"weekCount"`
	EndsAt        time.Time          `bson:"endsAt" json:"endsAt"` // exclusive
	OpenKey       string             `bson:"openKey,omitempty" json:"-"`
	CreatedAt     time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// CanTransition reports whether the state machine allows e to move to next.
func (e *Enrollment) CanTransition(next EnrollmentStatus) bool {
	for _, s := range transitions[e.Status] {
		if s == next {
			return true
		}
	}
	return false
}

// Transition moves e to next or returns ErrInvalidTransition.
func (e *Enrollment) Transition(next EnrollmentStatus) error {
	if e.Status == next {
		return nil
	}
	if !e.CanTransition(next) {
		return ErrInvalidTransition
	}
	e.Status = next
	return nil
}

// IsOpen reports whether e still blocks another enrollment in its program.
func (e *Enrollment) IsOpen() bool {
	return e.Status == EnrollmentPending || e.Status == EnrollmentActive
}

// Archivable reports whether the archival preconditions hold.
func (e *Enrollment) Archivable() bool {
	return e.Status == EnrollmentExpired || e.Status == EnrollmentCompleted || e.Status == EnrollmentArchived
}

// PeriodStart is the first calendar day of the given 1-based period.
func (e *Enrollment) PeriodStart(periodIndex int) time.Time {
	weeks := e.WeekCount
	if weeks < 1 {
		weeks = 1
	}
	return DateOnly(e.StartDate).AddDate(0, 0, (periodIndex-1)*weeks*7)
}

// ComputeProgress returns round(100 * completed / total), 0 when total is 0.
func ComputeProgress(completed, total int64) int {
	if total <= 0 {
		return 0
	}
	return int((completed*200 + total) / (total * 2))
}
