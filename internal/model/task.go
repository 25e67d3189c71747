package model

import (
	"time"
)

type TaskID string

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

type Status string

const (
	StatusPending         Status = "pending"
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
)

type RecurrenceType string

const (
	RecurrenceNone     RecurrenceType = "none"
	RecurrenceDaily    RecurrenceType = "daily"
	RecurrenceWeekly   RecurrenceType = "weekly"
	RecurrenceMonthly  RecurrenceType = "monthly"
	RecurrenceInterval RecurrenceType = "interval"
)

// Recurrence describes how a task repeats.
// Anchor fixes the phase of interval recurrence: every future occurrence
// is Anchor + k*IntervalDays regardless of when instances get completed.
type Recurrence struct {
	Type RecurrenceType `json:"type"`

	// Weekdays for RecurrenceWeekly, sorted, 0=Sunday .. 6=Saturday.
	Weekdays []int `json:"weekdays,omitempty"`

	// IntervalDays for RecurrenceInterval (every N days).
	IntervalDays int `json:"intervalDays,omitempty"`

	// DurationMonths caps the recurrence: no new occurrence is spawned
	// once Anchor + DurationMonths calendar months has passed. 0 = no cap.
	DurationMonths int `json:"durationMonths,omitempty"`

	// Anchor is the start date ("2006-01-02") the phase is aligned to.
	Anchor string `json:"anchor,omitempty"`
}

func (r Recurrence) IsNone() bool {
	return r.Type == "" || r.Type == RecurrenceNone
}

type Subtask struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Done        bool       `json:"done"`
	CompletedBy *string    `json:"completedBy,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	DueDate     *string    `json:"dueDate,omitempty"`
	DueTime     *string    `json:"dueTime,omitempty"`
}

type SubtaskCategory struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Subtasks []Subtask `json:"subtasks,omitempty"`
}

type Task struct {
	ID          TaskID   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	CategoryID  string   `json:"categoryId,omitempty"`
	Priority    Priority `json:"priority,omitempty"`

	DueDate    *string    `json:"dueDate,omitempty"` // "2006-01-02"
	DueTime    *string    `json:"dueTime,omitempty"` // "15:04"
	Recurrence Recurrence `json:"recurrence"`

	Completed  bool    `json:"completed"`
	Status     Status  `json:"status"`
	ApprovalID *string `json:"approvalId,omitempty"`

	CreatedBy   string  `json:"createdBy"`
	OwnerUserID string  `json:"ownerUserId"`
	FamilyID    *string `json:"familyId,omitempty"`
	Private     bool    `json:"private"`

	CreatedAt    time.Time  `json:"createdAt"`
	EditedBy     *string    `json:"editedBy,omitempty"`
	EditedByName *string    `json:"editedByName,omitempty"`
	EditedAt     *time.Time `json:"editedAt,omitempty"`

	Subtasks   []Subtask         `json:"subtasks,omitempty"`
	Categories []SubtaskCategory `json:"categories,omitempty"`
}

// LastTouched is the timestamp used for last-write-wins comparison:
// max(EditedAt, CreatedAt).
func (t Task) LastTouched() time.Time {
	if t.EditedAt != nil && t.EditedAt.After(t.CreatedAt) {
		return *t.EditedAt
	}
	return t.CreatedAt
}

// AllSubtasks returns direct subtasks followed by category subtasks.
func (t Task) AllSubtasks() []Subtask {
	out := make([]Subtask, 0, len(t.Subtasks))
	out = append(out, t.Subtasks...)
	for _, c := range t.Categories {
		out = append(out, c.Subtasks...)
	}
	return out
}

// IsOverdue reports whether the task is incomplete and its due instant has
// passed. A task with a due time is overdue once that instant is behind now;
// a date-only task is overdue once its date is before today.
func (t Task) IsOverdue(now time.Time) bool {
	if t.Completed || t.DueDate == nil {
		return false
	}
	if t.DueTime != nil {
		due, err := time.ParseInLocation(DateLayout+" "+TimeLayout, *t.DueDate+" "+*t.DueTime, now.Location())
		if err == nil {
			return due.Before(now)
		}
	}
	return *t.DueDate < now.Format(DateLayout)
}

// EligibleForCompletion reports whether the task may be completed now.
// Recurring tasks are only completable once their due date has arrived,
// so tomorrow's occurrence cannot be completed today. Non-recurring tasks
// are always eligible.
func (t Task) EligibleForCompletion(now time.Time) bool {
	if t.Recurrence.IsNone() || t.DueDate == nil {
		return true
	}
	return now.Format(DateLayout) >= *t.DueDate
}

// EffectiveDueDate returns the date used for display and notifications.
// The earliest pending subtask with its own date overrides the task's
// schedule, but an explicitly set task-level date always wins.
func (t Task) EffectiveDueDate() *string {
	if t.DueDate != nil {
		return t.DueDate
	}
	s := earliestPendingSubtask(t.AllSubtasks())
	if s == nil {
		return nil
	}
	return s.DueDate
}

// EffectiveDueTime returns the time paired with EffectiveDueDate.
func (t Task) EffectiveDueTime() *string {
	if t.DueDate != nil {
		return t.DueTime
	}
	s := earliestPendingSubtask(t.AllSubtasks())
	if s == nil {
		return nil
	}
	return s.DueTime
}

func earliestPendingSubtask(subs []Subtask) *Subtask {
	var best *Subtask
	for i := range subs {
		if subs[i].Done || subs[i].DueDate == nil {
			continue
		}
		if best == nil || subtaskBefore(subs[i], *best) {
			best = &subs[i]
		}
	}
	return best
}

func subtaskBefore(a, b Subtask) bool {
	if *a.DueDate != *b.DueDate {
		return *a.DueDate < *b.DueDate
	}
	at, bt := "", ""
	if a.DueTime != nil {
		at = *a.DueTime
	}
	if b.DueTime != nil {
		bt = *b.DueTime
	}
	return at < bt
}

// VisibleTo reports whether the task belongs in userID's view of familyID.
// Family tasks from other families and other creators' private tasks are
// filtered out; exactly one of family-visible or private holds per task.
func (t Task) VisibleTo(userID, familyID string) bool {
	if t.Private {
		return t.CreatedBy == userID
	}
	if t.FamilyID == nil {
		// Not private and not family-scoped: only the owner sees it.
		return t.OwnerUserID == userID || t.CreatedBy == userID
	}
	return *t.FamilyID == familyID
}
