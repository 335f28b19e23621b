package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AvailabilitySlot is a coach's bookable interval: recurring on DayOfWeek, or an
// exception on SpecificDate. A date-specific row either overrides the recurring
// rows of that date, or, when Blocked, blacks the interval out.
type AvailabilitySlot struct {
	ID               primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	CoachID          primitive.ObjectID `bson:"coachId" json:"coachId"`
	DayOfWeek        *Weekday           `bson:"dayOfWeek,omitempty" json:"dayOfWeek,omitempty"`
	SpecificDate     *time.Time         `bson:"specificDate,omitempty" json:"specificDate,omitempty"`
	Start            ClockTime          `bson:"start" json:"start"`
	End              ClockTime          `bson:"end" json:"end"`
	ConsultationType ConsultationType   `bson:"consultationType" json:"consultationType"`
	Capacity         int                `bson:"capacity" json:"capacity"`
	Blocked          bool               `bson:"blocked" json:"blocked"`
	CreatedAt        time.Time          `bson:"createdAt" json:"createdAt"`
}

// Validate checks shape and fills the default capacity.
func (s *AvailabilitySlot) Validate() error {
	if (s.DayOfWeek == nil) == (s.SpecificDate == nil) {
		return NewValidationError("dayOfWeek", "exactly one of dayOfWeek or specificDate is required")
	}
	if s.DayOfWeek != nil && !s.DayOfWeek.Valid() {
		return NewValidationError("dayOfWeek", "invalid weekday")
	}
	if s.Blocked && s.DayOfWeek != nil {
		return NewValidationError("blocked", "only date-specific rows can block time")
	}
	if !s.Start.Valid() || !s.End.Valid() || s.Start >= s.End {
		return NewValidationError("end", "end must be after start")
	}
	if s.ConsultationType == "" {
		s.ConsultationType = ConsultationEither
	}
	if !s.ConsultationType.Valid() {
		return NewValidationError("consultationType", "must be videocall, message or either")
	}
	if s.Capacity == 0 {
		s.Capacity = 1
	}
	if s.Capacity < 0 {
		return NewValidationError("capacity", "must be positive")
	}
	if s.SpecificDate != nil {
		d := DateOnly(*s.SpecificDate)
		s.SpecificDate = &d
	}
	return nil
}

// SlotOccurrence is an availability row projected onto a concrete date.
type SlotOccurrence struct {
	CoachID          primitive.ObjectID `json:"coachId"`
	Date             time.Time          `json:"date"`
	Start            ClockTime          `json:"start"`
	End              ClockTime          `json:"end"`
	ConsultationType ConsultationType   `json:"consultationType"`
	Capacity         int                `json:"capacity"`
	Booked           int                `json:"booked"`
}

func (o SlotOccurrence) Remaining() int {
	return o.Capacity - o.Booked
}

// Covers reports whether the occurrence fully contains [start, end).
func (o SlotOccurrence) Covers(start, end ClockTime) bool {
	return o.Start <= start && end <= o.End
}
