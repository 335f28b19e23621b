package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type BookingStatus string

const (
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
)

// Booking is a client's claim on a slot occurrence.
type Booking struct {
	ID               primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	CoachID          primitive.ObjectID  `bson:"coachId" json:"coachId"`
	ClientID         primitive.ObjectID  `bson:"clientId" json:"clientId"`
	Date             time.Time           `bson:"date" json:"date"`
	Start            ClockTime           `bson:"start" json:"start"`
	End              ClockTime           `bson:"end" json:"end"`
	ConsultationType ConsultationType    `bson:"consultationType" json:"consultationType"`
	CreditID         *primitive.ObjectID `bson:"creditId,omitempty" json:"creditId,omitempty"`
	Status           BookingStatus       `bson:"status" json:"status"`
	CreditRestored   bool                `bson:"creditRestored" json:"creditRestored"`
	CreatedAt        time.Time           `bson:"createdAt" json:"createdAt"`
	CancelledAt      *time.Time          `bson:"cancelledAt,omitempty" json:"cancelledAt,omitempty"`
}

// StartsAt is the absolute start instant (UTC).
func (b *Booking) StartsAt() time.Time {
	return b.Start.On(b.Date)
}
