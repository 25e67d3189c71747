// Package recurrence computes when a completed repeating task
// re-materializes and when its recurrence expires.
//
// All kinds use the same anchoring policy: the next occurrence is computed
// from the completed occurrence's date but never lands in the past relative
// to "now". Interval recurrence additionally stays phase-aligned to its
// anchor date, so a long-unused app catches up in one jump instead of
// drifting to whenever the user happened to complete the last instance.
package recurrence

import (
	"time"

	"github.com/google/uuid"

	"github.com/n2ilva/agendafamiliar-sub000/internal/model"
)

func parseDate(s string) (time.Time, bool) {
	t, err := time.Parse(model.DateLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Expired reports whether the recurrence cap has been reached: a positive
// DurationMonths stops the recurrence once now is at or past
// anchor + DurationMonths calendar months. An unparsable anchor never
// expires here; Next substitutes the completed occurrence's date first.
func Expired(rec model.Recurrence, now time.Time) bool {
	if rec.DurationMonths <= 0 {
		return false
	}
	anchor, ok := parseDate(rec.Anchor)
	if !ok {
		return false
	}
	end := anchor.AddDate(0, rec.DurationMonths, 0)
	return !dateOf(now).Before(end)
}

// Next returns the due date of the occurrence after one completed on
// lastDue ("2006-01-02"). The second return is false when no occurrence
// follows: the recurrence is none, expired, or under-specified.
func Next(lastDue string, rec model.Recurrence, now time.Time) (string, bool) {
	if rec.IsNone() {
		return "", false
	}
	if rec.Anchor == "" {
		// Descriptors written before anchoring (or by other clients) still
		// honor their duration cap, measured from the last occurrence.
		rec.Anchor = lastDue
	}
	if Expired(rec, now) {
		return "", false
	}

	today := dateOf(now)
	last, ok := parseDate(lastDue)
	if !ok {
		last = today
	}

	var next time.Time
	switch rec.Type {
	case model.RecurrenceDaily:
		next = last.AddDate(0, 0, 1)
		if next.Before(today) {
			next = today
		}
	case model.RecurrenceWeekly:
		next, ok = nextWeekly(last, today, rec.Weekdays)
		if !ok {
			return "", false
		}
	case model.RecurrenceMonthly:
		next = nextMonthly(last, today)
	case model.RecurrenceInterval:
		next, ok = nextInterval(last, today, rec)
		if !ok {
			return "", false
		}
	default:
		return "", false
	}

	return next.Format(model.DateLayout), true
}

// nextWeekly finds the soonest weekday in the set strictly after the
// completed occurrence, wrapping to the following week if none remain.
func nextWeekly(last, today time.Time, weekdays []int) (time.Time, bool) {
	if len(weekdays) == 0 {
		return time.Time{}, false
	}
	in := make(map[int]bool, len(weekdays))
	for _, d := range weekdays {
		in[d] = true
	}
	start := last.AddDate(0, 0, 1)
	if start.Before(today) {
		start = today
	}
	for i := 0; i < 7; i++ {
		d := start.AddDate(0, 0, i)
		if in[int(d.Weekday())] {
			return d, true
		}
	}
	return time.Time{}, false
}

// nextMonthly advances by whole calendar months keeping the original
// day-of-month, clamping to the last valid day of shorter months.
func nextMonthly(last, today time.Time) time.Time {
	day := last.Day()
	year, month := last.Year(), last.Month()
	for {
		month++
		if month > time.December {
			month = time.January
			year++
		}
		d := day
		if max := daysIn(year, month); d > max {
			d = max
		}
		next := time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
		if !next.Before(today) {
			return next
		}
	}
}

// nextInterval computes the smallest anchor + k*N that is >= today. The
// catch-up division avoids walking day by day after a long absence and
// keeps occurrences phase-aligned to the anchor.
func nextInterval(last, today time.Time, rec model.Recurrence) (time.Time, bool) {
	n := rec.IntervalDays
	if n <= 0 {
		return time.Time{}, false
	}
	anchor, ok := parseDate(rec.Anchor)
	if !ok {
		anchor = last
	}
	if !anchor.Before(today) {
		return anchor.AddDate(0, 0, n), true
	}
	elapsed := int(today.Sub(anchor).Hours() / 24)
	cycles := (elapsed + n - 1) / n
	return anchor.AddDate(0, 0, cycles*n), true
}

// Spawn builds the next occurrence of a completed recurring task: a fresh
// id, pending status, subtasks reset, same time of day, content and
// recurrence descriptor (anchor included) carried over. It returns false
// when the task does not recur or the recurrence has expired.
func Spawn(t model.Task, now time.Time) (model.Task, bool) {
	if t.Recurrence.IsNone() {
		return model.Task{}, false
	}
	last := now.Format(model.DateLayout)
	if t.DueDate != nil {
		last = *t.DueDate
	}
	nextDate, ok := Next(last, t.Recurrence, now)
	if !ok {
		return model.Task{}, false
	}

	next := t
	next.ID = model.TaskID(uuid.New().String())
	next.Completed = false
	next.Status = model.StatusPending
	next.ApprovalID = nil
	next.DueDate = &nextDate
	next.CreatedAt = now
	next.EditedBy = nil
	next.EditedByName = nil
	next.EditedAt = nil
	next.Subtasks = resetSubtasks(t.Subtasks)
	next.Categories = nil
	for _, c := range t.Categories {
		next.Categories = append(next.Categories, model.SubtaskCategory{
			ID:       c.ID,
			Name:     c.Name,
			Subtasks: resetSubtasks(c.Subtasks),
		})
	}
	return next, true
}

func resetSubtasks(subs []model.Subtask) []model.Subtask {
	if subs == nil {
		return nil
	}
	out := make([]model.Subtask, 0, len(subs))
	for _, s := range subs {
		s.Done = false
		s.CompletedBy = nil
		s.CompletedAt = nil
		out = append(out, s)
	}
	return out
}
