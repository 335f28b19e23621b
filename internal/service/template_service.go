package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"alcyxob/coaching-engine/internal/domain"
	"alcyxob/coaching-engine/internal/repository"
	"alcyxob/coaching-engine/internal/schedule"
)

// --- Error Definitions ---
var (
	ErrTemplateNotOwned = errors.New("program template belongs to another coach")
)

const (
	maxWeekCount   = 52
	maxPeriodCount = 104
)

// TemplateInput is a coach's edit of a program's weekly template. Weeks use the
// free-form stored layout (day key to list of item refs or item objects).
type TemplateInput struct {
	Name          string                         `json:"name"`
	WeekCount     int                            `json:"weekCount"`
	PeriodCount   int                            `json:"periodCount"`
	Weeks         []domain.WeekCells             `json:"weeks"`
	Consultations []domain.ConsultationAllotment `json:"consultations"`
}

// TemplateView is a stored template together with its normalized days.
type TemplateView struct {
	Template *domain.WeeklyTemplate `json:"template"`
	Days     []domain.TemplateDay   `json:"days"`
}

type TemplateService interface {
	// SaveTemplate validates and stores the template, bumping its version.
	// Periods already materialized keep the executions they were built with.
	SaveTemplate(ctx context.Context, coachID, programID primitive.ObjectID, in TemplateInput) (*TemplateView, error)
	GetTemplate(ctx context.Context, coachID, programID primitive.ObjectID) (*TemplateView, error)
}

type templateService struct {
	repo *repository.Repository
	log  *zap.Logger
}

func NewTemplateService(repo *repository.Repository, log *zap.Logger) TemplateService {
	return &templateService{repo: repo, log: log.Named("templates")}
}

func (s *templateService) SaveTemplate(ctx context.Context, coachID, programID primitive.ObjectID, in TemplateInput) (*TemplateView, error) {
	// 1. Shape
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, domain.NewValidationError("name", "is required")
	}
	if in.WeekCount < 1 || in.WeekCount > maxWeekCount {
		return nil, domain.NewValidationError("weekCount", fmt.Sprintf("must be between 1 and %d", maxWeekCount))
	}
	if in.PeriodCount < 1 || in.PeriodCount > maxPeriodCount {
		return nil, domain.NewValidationError("periodCount", fmt.Sprintf("must be between 1 and %d", maxPeriodCount))
	}
	if len(in.Weeks) > in.WeekCount {
		return nil, domain.NewValidationError("weeks", "more weeks than weekCount")
	}
	seenTypes := map[domain.ConsultationType]bool{}
	for i, a := range in.Consultations {
		field := fmt.Sprintf("consultations[%d]", i)
		if !a.Type.Concrete() {
			return nil, domain.NewValidationError(field+".type", "must be videocall or message")
		}
		if seenTypes[a.Type] {
			return nil, domain.NewValidationError(field+".type", "listed twice")
		}
		seenTypes[a.Type] = true
		if a.Sessions < 1 {
			return nil, domain.NewValidationError(field+".sessions", "must be positive")
		}
		if a.ValidDays < 0 {
			return nil, domain.NewValidationError(field+".validDays", "must not be negative")
		}
	}

	// 2. Cells: coach edits are strict, nothing is silently dropped
	days, issues := schedule.ParseWeeks(in.Weeks, in.WeekCount)
	if len(issues) > 0 {
		return nil, domain.NewValidationError("weeks", issues[0].String())
	}

	// 3. Every ref must be one of the coach's catalog items
	catalog, err := s.repo.Item.GetByCoachID(ctx, coachID)
	if err != nil {
		return nil, err
	}
	kinds := make(map[string]domain.ItemKind, len(catalog))
	for _, it := range catalog {
		kinds[it.ID.Hex()] = it.Kind
	}
	for d := range days {
		for i := range days[d].Items {
			item := &days[d].Items[i]
			kind, ok := kinds[item.Ref]
			if !ok {
				return nil, domain.NewValidationError("weeks",
					fmt.Sprintf("week %d %s: unknown item %q", days[d].Week+1, days[d].Weekday, item.Ref))
			}
			item.Kind = kind
		}
	}

	// 4. Ownership of the program
	existing, err := s.repo.Template.GetByProgramID(ctx, programID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if existing != nil && existing.CoachID != coachID {
		return nil, ErrTemplateNotOwned
	}

	// 5. Store the canonical layout
	saved, err := s.repo.Template.Save(ctx, &domain.WeeklyTemplate{
		ProgramID:     programID,
		CoachID:       coachID,
		Name:          in.Name,
		WeekCount:     in.WeekCount,
		PeriodCount:   in.PeriodCount,
		Weeks:         schedule.CanonicalWeeks(days, in.WeekCount),
		Consultations: in.Consultations,
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("template saved",
		zap.String("programId", programID.Hex()),
		zap.Int("version", saved.Version),
		zap.Int("days", len(days)))
	return &TemplateView{Template: saved, Days: days}, nil
}

func (s *templateService) GetTemplate(ctx context.Context, coachID, programID primitive.ObjectID) (*TemplateView, error) {
	tpl, err := s.repo.Template.GetByProgramID(ctx, programID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, err
	}
	if tpl.CoachID != coachID {
		return nil, ErrTemplateNotOwned
	}
	plan := schedule.NormalizeTemplate(tpl, s.log)
	return &TemplateView{Template: tpl, Days: plan.Days}, nil
}
