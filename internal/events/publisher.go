package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"alcyxob/coaching-engine/internal/domain"
)

const (
	SubjectPeriodMaterialized = "period.materialized"
	SubjectBookingConfirmed   = "booking.confirmed"
	SubjectBookingCancelled   = "booking.cancelled"
	SubjectEnrollmentArchived = "enrollment.archived"
)

// EventPublisher announces committed state changes. Publishing happens after
// the commit and is best effort: a failed publish never undoes the change.
type EventPublisher interface {
	PublishPeriodMaterialized(p *domain.Period, enr *domain.Enrollment) error
	PublishBookingConfirmed(b *domain.Booking) error
	PublishBookingCancelled(b *domain.Booking) error
	PublishEnrollmentArchived(snap *domain.ArchiveSnapshot) error
	Close()
}

// conn is the part of *nats.Conn the publisher uses.
type conn interface {
	Publish(subj string, data []byte) error
	Drain() error
}

type NatsPublisher struct {
	conn conn
	log  *zap.Logger
}

func NewNatsPublisher(natsURL string, log *zap.Logger) (EventPublisher, error) {
	nc, err := nats.Connect(natsURL, nats.Name("coaching-engine"))
	if err != nil {
		return nil, err
	}
	return &NatsPublisher{conn: nc, log: log}, nil
}

type PeriodMaterializedEvent struct {
	EventID         string    `json:"event_id"`
	EventType       string    `json:"event_type"`
	EnrollmentID    string    `json:"enrollment_id"`
	ClientID        string    `json:"client_id"`
	PeriodIndex     int       `json:"period_index"`
	StartsOn        string    `json:"starts_on"`
	EndsOn          string    `json:"ends_on"`
	ExecutionCount  int       `json:"execution_count"`
	TemplateVersion int       `json:"template_version"`
	OccurredAt      time.Time `json:"occurred_at"`
}

type BookingEvent struct {
	EventID          string    `json:"event_id"`
	EventType        string    `json:"event_type"`
	BookingID        string    `json:"booking_id"`
	CoachID          string    `json:"coach_id"`
	ClientID         string    `json:"client_id"`
	Date             string    `json:"date"`
	Start            string    `json:"start"`
	End              string    `json:"end"`
	ConsultationType string    `json:"consultation_type"`
	CreditRestored   bool      `json:"credit_restored,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}

type EnrollmentArchivedEvent struct {
	EventID        string    `json:"event_id"`
	EventType      string    `json:"event_type"`
	EnrollmentID   string    `json:"enrollment_id"`
	ClientID       string    `json:"client_id"`
	CoachID        string    `json:"coach_id"`
	FinalStatus    string    `json:"final_status"`
	CompletionRate float64   `json:"completion_rate"`
	AdherenceRate  float64   `json:"adherence_rate"`
	ExportKey      string    `json:"export_key,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func NewPeriodMaterializedEvent(p *domain.Period, enr *domain.Enrollment) PeriodMaterializedEvent {
	return PeriodMaterializedEvent{
		EventID:         uuid.NewString(),
		EventType:       SubjectPeriodMaterialized,
		EnrollmentID:    enr.ID.Hex(),
		ClientID:        enr.ClientID.Hex(),
		PeriodIndex:     p.PeriodIndex,
		StartsOn:        domain.FormatDate(p.StartsOn),
		EndsOn:          domain.FormatDate(p.EndsOn),
		ExecutionCount:  p.ExecutionCount,
		TemplateVersion: p.TemplateVersion,
		OccurredAt:      time.Now().UTC(),
	}
}

func NewBookingEvent(eventType string, b *domain.Booking) BookingEvent {
	return BookingEvent{
		EventID:          uuid.NewString(),
		EventType:        eventType,
		BookingID:        b.ID.Hex(),
		CoachID:          b.CoachID.Hex(),
		ClientID:         b.ClientID.Hex(),
		Date:             domain.FormatDate(b.Date),
		Start:            b.Start.String(),
		End:              b.End.String(),
		ConsultationType: string(b.ConsultationType),
		CreditRestored:   b.CreditRestored,
		OccurredAt:       time.Now().UTC(),
	}
}

func NewEnrollmentArchivedEvent(snap *domain.ArchiveSnapshot) EnrollmentArchivedEvent {
	return EnrollmentArchivedEvent{
		EventID:        uuid.NewString(),
		EventType:      SubjectEnrollmentArchived,
		EnrollmentID:   snap.EnrollmentID.Hex(),
		ClientID:       snap.ClientID.Hex(),
		CoachID:        snap.CoachID.Hex(),
		FinalStatus:    string(snap.FinalStatus),
		CompletionRate: snap.CompletionRate,
		AdherenceRate:  snap.AdherenceRate,
		ExportKey:      snap.ExportKey,
		OccurredAt:     time.Now().UTC(),
	}
}

func (p *NatsPublisher) PublishPeriodMaterialized(period *domain.Period, enr *domain.Enrollment) error {
	return p.publish(SubjectPeriodMaterialized, NewPeriodMaterializedEvent(period, enr))
}

func (p *NatsPublisher) PublishBookingConfirmed(b *domain.Booking) error {
	return p.publish(SubjectBookingConfirmed, NewBookingEvent(SubjectBookingConfirmed, b))
}

func (p *NatsPublisher) PublishBookingCancelled(b *domain.Booking) error {
	return p.publish(SubjectBookingCancelled, NewBookingEvent(SubjectBookingCancelled, b))
}

func (p *NatsPublisher) PublishEnrollmentArchived(snap *domain.ArchiveSnapshot) error {
	return p.publish(SubjectEnrollmentArchived, NewEnrollmentArchivedEvent(snap))
}

// Close flushes pending messages and closes the connection.
func (p *NatsPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.log.Warn("failed to drain NATS connection", zap.Error(err))
	}
}

func (p *NatsPublisher) publish(subject string, event interface{}) error {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		p.log.Error("failed to marshal event", zap.String("subject", subject), zap.Error(err))
		return err
	}

	if err = p.conn.Publish(subject, eventJSON); err != nil {
		p.log.Error("failed to publish to NATS", zap.String("subject", subject), zap.Error(err))
		return err
	}

	p.log.Debug("published event", zap.String("subject", subject))
	return nil
}

// NoopPublisher is used when no NATS URL is configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishPeriodMaterialized(*domain.Period, *domain.Enrollment) error { return nil }
func (NoopPublisher) PublishBookingConfirmed(*domain.Booking) error                      { return nil }
func (NoopPublisher) PublishBookingCancelled(*domain.Booking) error                      { return nil }
func (NoopPublisher) PublishEnrollmentArchived(*domain.ArchiveSnapshot) error            { return nil }
func (NoopPublisher) Close()                                                             {}
