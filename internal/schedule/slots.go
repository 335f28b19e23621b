package schedule

import (
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"alcyxob/coaching-engine/internal/domain"
)

// Window is bookable coach time on one date, after overrides and blackouts.
type Window struct {
	CoachID          primitive.ObjectID
	Date             time.Time
	Start            domain.ClockTime
	End              domain.ClockTime
	ConsultationType domain.ConsultationType
	Capacity         int
}

type interval struct{ start, end domain.ClockTime }

// Windows projects a coach's availability rows onto date. Date-specific
// non-blocking rows replace the recurring rows of that date; blocking rows are
// subtracted from whatever remains. Only rows accepting want are returned.
func Windows(slots []domain.AvailabilitySlot, date time.Time, want domain.ConsultationType) []Window {
	date = domain.DateOnly(date)
	var overrides, recurring []domain.AvailabilitySlot
	var blackouts []interval

	for _, s := range slots {
		switch {
		case s.SpecificDate != nil:
			if !domain.DateOnly(*s.SpecificDate).Equal(date) {
				continue
			}
			if s.Blocked {
				blackouts = append(blackouts, interval{s.Start, s.End})
			} else {
				overrides = append(overrides, s)
			}
		case s.DayOfWeek != nil && *s.DayOfWeek == domain.WeekdayOf(date):
			recurring = append(recurring, s)
		}
	}

	base := recurring
	if len(overrides) > 0 {
		base = overrides
	}

	var out []Window
	for _, s := range base {
		if !s.ConsultationType.Accepts(want) {
			continue
		}
		capacity := s.Capacity
		if capacity < 1 {
			capacity = 1
		}
		for _, iv := range subtract(interval{s.Start, s.End}, blackouts) {
			out = append(out, Window{
				CoachID:          s.CoachID,
				Date:             date,
				Start:            iv.start,
				End:              iv.end,
				ConsultationType: s.ConsultationType,
				Capacity:         capacity,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// FindWindow returns the window on date that fully covers [start, end) and
// accepts want, preferring the largest capacity.
func FindWindow(slots []domain.AvailabilitySlot, date time.Time, start, end domain.ClockTime, want domain.ConsultationType) (Window, bool) {
	var best Window
	found := false
	for _, w := range Windows(slots, date, want) {
		if w.Start <= start && end <= w.End && (!found || w.Capacity > best.Capacity) {
			best, found = w, true
		}
	}
	return best, found
}

// MaxConcurrent is the highest number of confirmed bookings on date that run
// at the same time anywhere inside [start, end).
func MaxConcurrent(bookings []domain.Booking, date time.Time, start, end domain.ClockTime) int {
	date = domain.DateOnly(date)
	type edge struct {
		at    domain.ClockTime
		delta int
	}
	var edges []edge
	for _, b := range bookings {
		if b.Status != domain.BookingConfirmed || !domain.DateOnly(b.Date).Equal(date) {
			continue
		}
		if !domain.Overlaps(b.Start, b.End, start, end) {
			continue
		}
		s, e := b.Start, b.End
		if s < start {
			s = start
		}
		if e > end {
			e = end
		}
		edges = append(edges, edge{s, +1}, edge{e, -1})
	}
	// ends sort before starts at the same instant: intervals are half-open
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].at != edges[j].at {
			return edges[i].at < edges[j].at
		}
		return edges[i].delta < edges[j].delta
	})
	cur, peak := 0, 0
	for _, e := range edges {
		cur += e.delta
		if cur > peak {
			peak = cur
		}
	}
	return peak
}

// ExpandAvailability lists the bookable occurrences of a coach's availability
// between from and to (inclusive dates). Each window is split at booking
// boundaries; segments already filled to capacity are dropped.
func ExpandAvailability(slots []domain.AvailabilitySlot, bookings []domain.Booking, from, to time.Time, want domain.ConsultationType) []domain.SlotOccurrence {
	var out []domain.SlotOccurrence
	for d := domain.DateOnly(from); !d.After(domain.DateOnly(to)); d = d.AddDate(0, 0, 1) {
		for _, w := range Windows(slots, d, want) {
			out = append(out, segment(w, bookings)...)
		}
	}
	return out
}

func segment(w Window, bookings []domain.Booking) []domain.SlotOccurrence {
	cuts := []domain.ClockTime{w.Start, w.End}
	for _, b := range bookings {
		if b.Status != domain.BookingConfirmed || !domain.DateOnly(b.Date).Equal(w.Date) {
			continue
		}
		if b.Start > w.Start && b.Start < w.End {
			cuts = append(cuts, b.Start)
		}
		if b.End > w.Start && b.End < w.End {
			cuts = append(cuts, b.End)
		}
	}
	sort.Slice(cuts, func(i, j int) bool { return cuts[i] < cuts[j] })

	var out []domain.SlotOccurrence
	for i := 0; i+1 < len(cuts); i++ {
		s, e := cuts[i], cuts[i+1]
		if s == e {
			continue
		}
		booked := MaxConcurrent(bookings, w.Date, s, e)
		if booked >= w.Capacity {
			continue
		}
		// merge with the previous segment when nothing changed between them
		if n := len(out); n > 0 && out[n-1].End == s && out[n-1].Booked == booked {
			out[n-1].End = e
			continue
		}
		out = append(out, domain.SlotOccurrence{
			CoachID:          w.CoachID,
			Date:             w.Date,
			Start:            s,
			End:              e,
			ConsultationType: w.ConsultationType,
			Capacity:         w.Capacity,
			Booked:           booked,
		})
	}
	return out
}

func subtract(iv interval, cuts []interval) []interval {
	pieces := []interval{iv}
	for _, c := range cuts {
		var next []interval
		for _, p := range pieces {
			if !domain.Overlaps(p.start, p.end, c.start, c.end) {
				next = append(next, p)
				continue
			}
			if p.start < c.start {
				next = append(next, interval{p.start, c.start})
			}
			if c.end < p.end {
				next = append(next, interval{c.end, p.end})
			}
		}
		pieces = next
	}
	return pieces
}
