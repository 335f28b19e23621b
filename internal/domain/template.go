package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ConsultationType of a slot, booking or credit. Slots may accept either.
type ConsultationType string

const (
	ConsultationVideoCall ConsultationType = "videocall"
	ConsultationMessage   ConsultationType = "message"
	ConsultationEither    ConsultationType = "either"
)

func (t ConsultationType) Valid() bool {
	return t == ConsultationVideoCall || t == ConsultationMessage || t == ConsultationEither
}

// Concrete reports whether t names a single kind of session (bookings and credits must).
func (t ConsultationType) Concrete() bool {
	return t == ConsultationVideoCall || t == ConsultationMessage
}

// Accepts reports whether a slot of type t can serve a request of type req.
func (t ConsultationType) Accepts(req ConsultationType) bool {
	return t == ConsultationEither || req == ConsultationEither || t == req
}

// TemplateItem is one exercise or meal in a weekday cell.
type TemplateItem struct {
	Ref   string   `bson:"ref" json:"ref"`
	Kind  ItemKind `bson:"kind" json:"kind"`
	Order int      `bson:"order" json:"order"`
}

// TemplateDay is the normalized content of one (week, weekday) cell.
type TemplateDay struct {
	Week    int            `json:"week"` // zero-based week inside the template span
	Weekday Weekday        `json:"weekday"`
	Items   []TemplateItem `json:"items"`
}

// ConsultationAllotment is the bundle of consultations sold with a program.
type ConsultationAllotment struct {
	Type      ConsultationType `bson:"type" json:"type"`
	Sessions  int              `bson:"sessions" json:"sessions"`
	ValidDays int              `bson:"validDays" json:"validDays"` // 0 = until the enrollment ends
}

// WeekCells is the stored form of one template week: free-form day key to cell.
// Legacy rows carry Spanish keys, stringified arrays and nulls; see schedule.NormalizeTemplate.
type WeekCells map[string]interface{}

// WeeklyTemplate is a coach's plan for one program.
type WeeklyTemplate struct {
	ID            primitive.ObjectID      `bson:"_id,omitempty" json:"id"`
	ProgramID     primitive.ObjectID      `bson:"programId" json:"programId"`
	CoachID       primitive.ObjectID      `bson:"coachId" json:"coachId"`
	Name          string                  `bson:"name" json:"name"`
	WeekCount     int                     `bson:"weekCount" json:"weekCount"`
	PeriodCount   int                     `bson:"periodCount" json:"periodCount"`
	Version       int                     `bson:"version" json:"version"`
	Weeks         []WeekCells             `bson:"weeks" json:"weeks"`
	Consultations []ConsultationAllotment `bson:"consultations,omitempty" json:"consultations,omitempty"`
	CreatedAt     time.Time               `bson:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time               `bson:"updatedAt" json:"updatedAt"`
}

// SpanDays is the number of calendar days one period covers.
func (t *WeeklyTemplate) SpanDays() int {
	weeks := t.WeekCount
	if weeks < 1 {
		weeks = 1
	}
	return weeks * 7
}
