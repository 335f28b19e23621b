package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ArchiveSnapshot is the terminal analytics record of a finished enrollment.
// One per enrollment; raw executions may be purged once it is committed.
type ArchiveSnapshot struct {
	ID                  primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	EnrollmentID        primitive.ObjectID `bson:"enrollmentId" json:"enrollmentId"`
	ClientID            primitive.ObjectID `bson:"clientId" json:"clientId"`
	CoachID             primitive.ObjectID `bson:"coachId" json:"coachId"`
	ProgramID           primitive.ObjectID `bson:"programId" json:"programId"`
	FinalStatus         EnrollmentStatus   `bson:"finalStatus" json:"finalStatus"`
	TotalExecutions     int                `bson:"totalExecutions" json:"totalExecutions"`
	CompletedExecutions int                `bson:"completedExecutions" json:"completedExecutions"`
	CompletionRate      float64            `bson:"completionRate" json:"completionRate"` // percent of all executions
	AdherenceRate       float64            `bson:"adherenceRate" json:"adherenceRate"`   // percent of executions due by the end date
	PeriodsMaterialized int                `bson:"periodsMaterialized" json:"periodsMaterialized"`
	FirstActivity       *time.Time         `bson:"firstActivity,omitempty" json:"firstActivity,omitempty"`
	LastActivity        *time.Time         `bson:"lastActivity,omitempty" json:"lastActivity,omitempty"`
	RangeStart          time.Time          `bson:"rangeStart" json:"rangeStart"`
	RangeEnd            time.Time          `bson:"rangeEnd" json:"rangeEnd"`
	ExportKey           string             `bson:"exportKey,omitempty" json:"exportKey,omitempty"`
	Purged              bool               `bson:"purged" json:"purged"`
	CreatedAt           time.Time          `bson:"createdAt" json:"createdAt"`
}
