package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ExecutionDraft is the expander's output: a dated template item not yet persisted.
type ExecutionDraft struct {
	PeriodIndex   int
	Week          int
	Weekday       Weekday
	ItemRef       string
	Kind          ItemKind
	OrderInBlock  int
	ScheduledDate time.Time
}

// Execution is one dated, client-specific instance of a template item.
// Natural key: (enrollmentId, periodIndex, week, weekday, itemRef).
type Execution struct {
	ID               primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	EnrollmentID     primitive.ObjectID `bson:"enrollmentId" json:"enrollmentId"`
	ClientID         primitive.ObjectID `bson:"clientId" json:"clientId"`
	CoachID          primitive.ObjectID `bson:"coachId" json:"coachId"`
	PeriodIndex      int                `bson:"periodIndex" json:"periodIndex"`
	Week             int                `bson:"week" json:"week"`
	Weekday          Weekday            `bson:"weekday" json:"weekday"`
	ItemRef          string             `bson:"itemRef" json:"itemRef"`
	Kind             ItemKind           `bson:"kind" json:"kind"`
	OrderInBlock     int                `bson:"orderInBlock" json:"orderInBlock"`
	ScheduledDate    time.Time          `bson:"scheduledDate" json:"scheduledDate"`
	Completed        bool               `bson:"completed" json:"completed"`
	CompletedAt      *time.Time         `bson:"completedAt,omitempty" json:"completedAt,omitempty"`
	AppliedIntensity *int               `bson:"appliedIntensity,omitempty" json:"appliedIntensity,omitempty"` // 1-10
	Notes            string             `bson:"notes,omitempty" json:"notes,omitempty"`
	CreatedAt        time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt        time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// NewExecution binds a draft to an enrollment.
func NewExecution(enr *Enrollment, d ExecutionDraft) Execution {
	return Execution{
		EnrollmentID:  enr.ID,
		ClientID:      enr.ClientID,
		CoachID:       enr.CoachID,
		PeriodIndex:   d.PeriodIndex,
		Week:          d.Week,
		Weekday:       d.Weekday,
		ItemRef:       d.ItemRef,
		Kind:          d.Kind,
		OrderInBlock:  d.OrderInBlock,
		ScheduledDate: d.ScheduledDate,
	}
}

// SettledBy reports whether the execution no longer blocks period completion:
// done, or its date plus the grace window has passed.
func (e *Execution) SettledBy(now time.Time, graceDays int) bool {
	if e.Completed {
		return true
	}
	return DateOnly(now).After(e.ScheduledDate.AddDate(0, 0, graceDays))
}
