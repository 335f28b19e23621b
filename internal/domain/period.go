package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Period is one materialized repetition of the template for one enrollment.
// At most one per (enrollmentId, periodIndex).
type Period struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	EnrollmentID    primitive.ObjectID `bson:"enrollmentId" json:"enrollmentId"`
	PeriodIndex     int                `bson:"periodIndex" json:"periodIndex"` // 1-based
	WeekSpan        int                `bson:"weekSpan" json:"weekSpan"`
	TemplateVersion int                `bson:"templateVersion" json:"templateVersion"`
	StartsOn        time.Time          `bson:"startsOn" json:"startsOn"`
	EndsOn          time.Time          `bson:"endsOn" json:"endsOn"` // inclusive last day
	ExecutionCount  int                `bson:"executionCount" json:"executionCount"`
	MaterializedAt  time.Time          `bson:"materializedAt" json:"materializedAt"`
}
