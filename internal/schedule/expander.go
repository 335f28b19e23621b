package schedule

import (
	"fmt"
	"sort"
	"time"

	"alcyxob/coaching-engine/internal/domain"
)

// WeekSpan prefers the span captured on the enrollment, which is fixed once
// period 1 exists; the plan's span only applies to enrollments that never stored one.
func WeekSpan(plan Plan, enr *domain.Enrollment) int {
	if enr.WeekCount > 0 {
		return enr.WeekCount
	}
	if plan.WeekCount > 0 {
		return plan.WeekCount
	}
	return 1
}

// PeriodWindow returns the first and last (inclusive) calendar day of a period.
func PeriodWindow(plan Plan, enr *domain.Enrollment, periodIndex int) (time.Time, time.Time) {
	span := WeekSpan(plan, enr)
	start := domain.DateOnly(enr.StartDate).AddDate(0, 0, (periodIndex-1)*span*7)
	return start, start.AddDate(0, 0, span*7-1)
}

// Expand materializes one period of plan for enr as dated drafts, one per
// (cell, item), ordered by date then position in the cell. The result depends
// only on its inputs, so re-expanding a period yields the same draft set.
func Expand(plan Plan, enr *domain.Enrollment, periodIndex int) ([]domain.ExecutionDraft, error) {
	if plan.PeriodCount < 1 {
		return nil, domain.NewValidationError("periodCount", "template must have at least one period")
	}
	if periodIndex < 1 || periodIndex > plan.PeriodCount {
		return nil, domain.NewValidationError("periodIndex",
			fmt.Sprintf("period %d outside 1..%d", periodIndex, plan.PeriodCount))
	}
	if enr.StartDate.IsZero() {
		return nil, domain.NewValidationError("startDate", "enrollment has no start date")
	}

	span := WeekSpan(plan, enr)
	base, _ := PeriodWindow(plan, enr, periodIndex)

	var drafts []domain.ExecutionDraft
	for _, day := range plan.Days {
		if day.Week < 0 || day.Week >= span {
			continue
		}
		date := base.AddDate(0, 0, day.Week*7+day.Weekday.Offset())
		for i, item := range day.Items {
			drafts = append(drafts, domain.ExecutionDraft{
				PeriodIndex:   periodIndex,
				Week:          day.Week,
				Weekday:       day.Weekday,
				ItemRef:       item.Ref,
				Kind:          item.Kind,
				OrderInBlock:  i,
				ScheduledDate: date,
			})
		}
	}

	sort.SliceStable(drafts, func(i, j int) bool {
		a, b := drafts[i], drafts[j]
		if !a.ScheduledDate.Equal(b.ScheduledDate) {
			return a.ScheduledDate.Before(b.ScheduledDate)
		}
		if a.OrderInBlock != b.OrderInBlock {
			return a.OrderInBlock < b.OrderInBlock
		}
		return a.ItemRef < b.ItemRef
	})
	return drafts, nil
}

// LastScheduledDate is the latest date among drafts, zero when empty.
func LastScheduledDate(drafts []domain.ExecutionDraft) time.Time {
	var last time.Time
	for _, d := range drafts {
		if d.ScheduledDate.After(last) {
			last = d.ScheduledDate
		}
	}
	return last
}
