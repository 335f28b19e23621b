package service

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"alcyxob/coaching-engine/internal/config"
	"alcyxob/coaching-engine/internal/domain"
	"alcyxob/coaching-engine/internal/events"
	"alcyxob/coaching-engine/internal/metrics"
	"alcyxob/coaching-engine/internal/repository"
	"alcyxob/coaching-engine/internal/schedule"
)

// --- Error Definitions ---
var (
	ErrAvailabilityNotFound    = errors.New("availability slot not found or not owned by coach")
	ErrBookingNotFound         = errors.New("booking not found")
	ErrBookingNotOwned         = errors.New("booking does not belong to the caller")
	ErrBookingAlreadyCancelled = errors.New("booking is already cancelled")
	ErrCreditNotFound          = errors.New("consultation credit not found")
	ErrCreditNotOwned          = errors.New("consultation credit does not belong to this client and coach")
	ErrCreditTypeMismatch      = errors.New("consultation credit is for a different consultation type")
)

// BookRequest is a client's request for one consultation.
type BookRequest struct {
	CoachID          primitive.ObjectID
	ClientID         primitive.ObjectID
	Date             time.Time
	Start            domain.ClockTime
	End              domain.ClockTime
	ConsultationType domain.ConsultationType
	CreditID         *primitive.ObjectID
}

func (r *BookRequest) validate(now time.Time) error {
	if r.CoachID.IsZero() {
		return domain.NewValidationError("coachId", "is required")
	}
	if r.Date.IsZero() {
		return domain.NewValidationError("date", "is required")
	}
	if !r.Start.Valid() || !r.End.Valid() || r.Start >= r.End {
		return domain.NewValidationError("end", "end must be after start")
	}
	if !r.ConsultationType.Concrete() {
		return domain.NewValidationError("consultationType", "must be videocall or message")
	}
	if !r.Start.On(r.Date).After(now) {
		return domain.NewValidationError("start", "must be in the future")
	}
	return nil
}

type BookingService interface {
	AddAvailability(ctx context.Context, coachID primitive.ObjectID, slot *domain.AvailabilitySlot) (*domain.AvailabilitySlot, error)
	ListAvailability(ctx context.Context, coachID primitive.ObjectID) ([]domain.AvailabilitySlot, error)
	RemoveAvailability(ctx context.Context, coachID, slotID primitive.ObjectID) error
	// ListAvailableSlots lists bookable occurrences between from and to
	// (inclusive dates) that accept consultationType. Past dates are skipped.
	ListAvailableSlots(ctx context.Context, coachID primitive.ObjectID, from, to time.Time, consultationType domain.ConsultationType) ([]domain.SlotOccurrence, error)
	Book(ctx context.Context, req BookRequest) (*domain.Booking, error)
	CancelBooking(ctx context.Context, bookingID primitive.ObjectID, principal domain.Principal) (*domain.Booking, error)
	ListCredits(ctx context.Context, clientID primitive.ObjectID) ([]domain.ConsultationCredit, error)
	ListBookings(ctx context.Context, principal domain.Principal, from, to time.Time) ([]domain.Booking, error)
}

type bookingService struct {
	repo      *repository.Repository
	publisher events.EventPublisher
	retry     retrier
	cfg       config.BookingConfig
	log       *zap.Logger
	now       func() time.Time
}

func NewBookingService(repo *repository.Repository, publisher events.EventPublisher, cfg config.BookingConfig, retryCfg config.RetryConfig, log *zap.Logger) BookingService {
	if cfg.MaxRangeDays <= 0 {
		cfg.MaxRangeDays = 62
	}
	return &bookingService{
		repo:      repo,
		publisher: publisher,
		retry:     newRetrier(retryCfg, log),
		cfg:       cfg,
		log:       log.Named("bookings"),
		now:       time.Now,
	}
}

// --- Availability ---

func (s *bookingService) AddAvailability(ctx context.Context, coachID primitive.ObjectID, slot *domain.AvailabilitySlot) (*domain.AvailabilitySlot, error) {
	slot.CoachID = coachID
	if err := slot.Validate(); err != nil {
		return nil, err
	}
	id, err := s.repo.Availability.Create(ctx, slot)
	if err != nil {
		return nil, err
	}
	slot.ID = id
	return slot, nil
}

func (s *bookingService) ListAvailability(ctx context.Context, coachID primitive.ObjectID) ([]domain.AvailabilitySlot, error) {
	return s.repo.Availability.GetByCoachID(ctx, coachID)
}

func (s *bookingService) RemoveAvailability(ctx context.Context, coachID, slotID primitive.ObjectID) error {
	err := s.repo.Availability.Delete(ctx, slotID, coachID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrAvailabilityNotFound
	}
	return err
}

func (s *bookingService) ListAvailableSlots(ctx context.Context, coachID primitive.ObjectID, from, to time.Time, consultationType domain.ConsultationType) ([]domain.SlotOccurrence, error) {
	from, to = domain.DateOnly(from), domain.DateOnly(to)
	if to.Before(from) {
		return nil, domain.NewValidationError("to", "must not be before from")
	}
	if days := int(to.Sub(from).Hours()/24) + 1; days > s.cfg.MaxRangeDays {
		return nil, domain.NewValidationError("to", "range is too long")
	}
	if consultationType == "" {
		consultationType = domain.ConsultationEither
	}
	if !consultationType.Valid() {
		return nil, domain.NewValidationError("type", "must be videocall, message or either")
	}

	now := s.now().UTC()
	if today := domain.DateOnly(now); from.Before(today) {
		from = today
	}
	if to.Before(from) {
		return []domain.SlotOccurrence{}, nil
	}

	slots, err := s.repo.Availability.GetByCoachID(ctx, coachID)
	if err != nil {
		return nil, err
	}
	bookings, err := s.repo.Booking.GetConfirmedByCoach(ctx, coachID, from, to)
	if err != nil {
		return nil, err
	}

	occs := schedule.ExpandAvailability(slots, bookings, from, to, consultationType)
	out := make([]domain.SlotOccurrence, 0, len(occs))
	for _, o := range occs {
		// today's occurrences that already ended are not bookable
		if !o.End.On(o.Date).After(now) {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

// --- Booking ---

func (s *bookingService) Book(ctx context.Context, req BookRequest) (*domain.Booking, error) {
	now := s.now().UTC()
	req.Date = domain.DateOnly(req.Date)

	// 1. Input
	if err := req.validate(now); err != nil {
		metrics.Bookings.WithLabelValues("invalid").Inc()
		return nil, err
	}
	if s.cfg.RequireCredit && req.CreditID == nil {
		metrics.Bookings.WithLabelValues("rejected").Inc()
		return nil, domain.ErrCreditRequired
	}

	var booking *domain.Booking
	err := s.retry.run(ctx, "book", func() error {
		booking = nil
		return s.repo.Tx.WithinTransaction(ctx, func(ctx context.Context) error {
			// 2. Serialize with every other booking of this coach day
			if err := s.repo.Booking.Lock(ctx, req.CoachID, req.Date); err != nil {
				return err
			}

			// 3. Capacity, read inside the lock
			slots, err := s.repo.Availability.GetByCoachID(ctx, req.CoachID)
			if err != nil {
				return err
			}
			window, ok := schedule.FindWindow(slots, req.Date, req.Start, req.End, req.ConsultationType)
			if !ok {
				return domain.ErrSlotUnavailable
			}
			confirmed, err := s.repo.Booking.GetConfirmedByCoach(ctx, req.CoachID, req.Date, req.Date)
			if err != nil {
				return err
			}
			if schedule.MaxConcurrent(confirmed, req.Date, req.Start, req.End) >= window.Capacity {
				return domain.ErrSlotUnavailable
			}

			// 4. Credit
			if req.CreditID != nil {
				if err := s.debitCredit(ctx, *req.CreditID, req, now); err != nil {
					return err
				}
			}

			// 5. Booking row
			b := &domain.Booking{
				CoachID:          req.CoachID,
				ClientID:         req.ClientID,
				Date:             req.Date,
				Start:            req.Start,
				End:              req.End,
				ConsultationType: req.ConsultationType,
				CreditID:         req.CreditID,
				Status:           domain.BookingConfirmed,
				CreatedAt:        now,
			}
			id, err := s.repo.Booking.Create(ctx, b)
			if err != nil {
				return err
			}
			b.ID = id
			booking = b
			return nil
		})
	})
	if err != nil {
		metrics.Bookings.WithLabelValues(bookingOutcome(err)).Inc()
		return nil, err
	}

	metrics.Bookings.WithLabelValues("confirmed").Inc()
	s.log.Info("booking confirmed",
		zap.String("bookingId", booking.ID.Hex()),
		zap.String("coachId", booking.CoachID.Hex()),
		zap.String("date", domain.FormatDate(booking.Date)),
		zap.Stringer("start", booking.Start))
	if err := s.publisher.PublishBookingConfirmed(booking); err != nil {
		s.log.Warn("failed to publish booking.confirmed", zap.Error(err))
	}
	return booking, nil
}

func (s *bookingService) debitCredit(ctx context.Context, creditID primitive.ObjectID, req BookRequest, now time.Time) error {
	credit, err := s.repo.Credit.GetByID(ctx, creditID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrCreditNotFound
		}
		return err
	}
	if credit.ClientID != req.ClientID || credit.CoachID != req.CoachID {
		return ErrCreditNotOwned
	}
	if !credit.Type.Accepts(req.ConsultationType) {
		return ErrCreditTypeMismatch
	}
	if err := credit.Usable(now); err != nil {
		return err
	}

	// the guarded $inc is the authority; the read above only names the failure
	err = s.repo.Credit.Debit(ctx, creditID, now)
	if errors.Is(err, repository.ErrConditionFailed) {
		fresh, getErr := s.repo.Credit.GetByID(ctx, creditID)
		if getErr == nil {
			if usable := fresh.Usable(now); usable != nil {
				return usable
			}
		}
		return domain.ErrCreditExhausted
	}
	return err
}

func bookingOutcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrSlotUnavailable):
		return "slot_unavailable"
	case errors.Is(err, domain.ErrCreditExhausted), errors.Is(err, domain.ErrCreditExpired):
		return "credit_rejected"
	case domain.IsTerminal(err):
		return "rejected"
	case repository.IsTransient(err):
		return "transient"
	default:
		return "error"
	}
}

func (s *bookingService) CancelBooking(ctx context.Context, bookingID primitive.ObjectID, principal domain.Principal) (*domain.Booking, error) {
	var booking *domain.Booking
	err := s.retry.run(ctx, "cancel_booking", func() error {
		booking = nil
		return s.repo.Tx.WithinTransaction(ctx, func(ctx context.Context) error {
			b, err := s.repo.Booking.GetByID(ctx, bookingID)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return ErrBookingNotFound
				}
				return err
			}
			byCoach := principal.IsCoach() && b.CoachID == principal.UserID
			byClient := principal.IsClient() && b.ClientID == principal.UserID
			if !byCoach && !byClient {
				return ErrBookingNotOwned
			}
			if b.Status == domain.BookingCancelled {
				return ErrBookingAlreadyCancelled
			}

			now := s.now().UTC()
			// a coach cancelling always gives the session back
			restore := b.CreditID != nil &&
				(byCoach || !now.After(b.StartsAt().Add(-s.cfg.CancellationNotice)))

			// Give the session back first so the booking records what happened
			if restore {
				err := s.repo.Credit.Restore(ctx, *b.CreditID)
				switch {
				case errors.Is(err, repository.ErrConditionFailed), errors.Is(err, repository.ErrNotFound):
					s.log.Warn("no spent session to restore on credit",
						zap.String("bookingId", b.ID.Hex()),
						zap.String("creditId", b.CreditID.Hex()))
					restore = false
				case err != nil:
					return err
				}
			}

			if err := s.repo.Booking.Cancel(ctx, b.ID, now, restore); err != nil {
				if errors.Is(err, repository.ErrConditionFailed) {
					return ErrBookingAlreadyCancelled
				}
				return err
			}
			b.Status = domain.BookingCancelled
			b.CancelledAt = &now
			b.CreditRestored = restore
			booking = b
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("booking cancelled",
		zap.String("bookingId", booking.ID.Hex()),
		zap.Bool("creditRestored", booking.CreditRestored))
	if err := s.publisher.PublishBookingCancelled(booking); err != nil {
		s.log.Warn("failed to publish booking.cancelled", zap.Error(err))
	}
	return booking, nil
}

func (s *bookingService) ListCredits(ctx context.Context, clientID primitive.ObjectID) ([]domain.ConsultationCredit, error) {
	return s.repo.Credit.GetByClientID(ctx, clientID)
}

func (s *bookingService) ListBookings(ctx context.Context, principal domain.Principal, from, to time.Time) ([]domain.Booking, error) {
	if principal.IsCoach() {
		return s.repo.Booking.GetByCoachID(ctx, principal.UserID, from, to)
	}
	return s.repo.Booking.GetByClientID(ctx, principal.UserID, from, to)
}
