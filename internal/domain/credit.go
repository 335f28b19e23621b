package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ConsultationCredit is a prepaid balance of consultation sessions.
// Invariant: UsedSessions <= TotalSessions.
type ConsultationCredit struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ClientID      primitive.ObjectID `bson:"clientId" json:"clientId"`
	CoachID       primitive.ObjectID `bson:"coachId" json:"coachId"`
	ProgramID     primitive.ObjectID `bson:"programId" json:"programId"`
	EnrollmentID  primitive.ObjectID `bson:"enrollmentId" json:"enrollmentId"`
	Type          ConsultationType   `bson:"type" json:"type"`
	TotalSessions int                `bson:"totalSessions" json:"totalSessions"`
	UsedSessions  int                `bson:"usedSessions" json:"usedSessions"`
	ExpiresAt     time.Time          `bson:"expiresAt" json:"expiresAt"`
	CreatedAt     time.Time          `bson:"createdAt" json:"createdAt"`
}

func (c *ConsultationCredit) Remaining() int {
	return c.TotalSessions - c.UsedSessions
}

// Usable returns the conflict that prevents spending one session, if any.
func (c *ConsultationCredit) Usable(now time.Time) error {
	if !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt) {
		return ErrCreditExpired
	}
	if c.Remaining() <= 0 {
		return ErrCreditExhausted
	}
	return nil
}
