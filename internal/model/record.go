package model

import "time"

// TaskRecord is the wire/persistence shape of a Task: flattened recurrence,
// RFC3339 timestamp strings and "" for unset optionals. The cache and the
// remote store only ever see records; conversion is total in both
// directions (unparsable timestamps become zero times rather than errors).
type TaskRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	CategoryID  string `json:"categoryId,omitempty"`
	Priority    string `json:"priority,omitempty"`

	DueDate string `json:"dueDate,omitempty"`
	DueTime string `json:"dueTime,omitempty"`

	RecurrenceType string `json:"recurrenceType,omitempty"`
	Weekdays       []int  `json:"weekdays,omitempty"`
	IntervalDays   int    `json:"intervalDays,omitempty"`
	DurationMonths int    `json:"durationMonths,omitempty"`
	Anchor         string `json:"anchor,omitempty"`

	Completed  bool   `json:"completed"`
	Status     string `json:"status"`
	ApprovalID string `json:"approvalId,omitempty"`

	CreatedBy   string `json:"createdBy"`
	OwnerUserID string `json:"ownerUserId"`
	FamilyID    string `json:"familyId,omitempty"`
	Private     bool   `json:"private"`

	CreatedAt    string `json:"createdAt"`
	EditedBy     string `json:"editedBy,omitempty"`
	EditedByName string `json:"editedByName,omitempty"`
	EditedAt     string `json:"editedAt,omitempty"`

	Subtasks   []SubtaskRecord         `json:"subtasks,omitempty"`
	Categories []SubtaskCategoryRecord `json:"categories,omitempty"`
}

type SubtaskRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Done        bool   `json:"done"`
	CompletedBy string `json:"completedBy,omitempty"`
	CompletedAt string `json:"completedAt,omitempty"`
	DueDate     string `json:"dueDate,omitempty"`
	DueTime     string `json:"dueTime,omitempty"`
}

type SubtaskCategoryRecord struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Subtasks []SubtaskRecord `json:"subtasks,omitempty"`
}

// ApprovalRecord is the wire/persistence shape of a TaskApproval.
type ApprovalRecord struct {
	ID            string `json:"id"`
	TaskID        string `json:"taskId"`
	RequesterID   string `json:"requesterId"`
	RequesterName string `json:"requesterName"`
	Status        string `json:"status"`
	RequestedAt   string `json:"requestedAt"`
	ResolverID    string `json:"resolverId,omitempty"`
	ResolvedAt    string `json:"resolvedAt,omitempty"`
	Comment       string `json:"comment,omitempty"`
	FamilyID      string `json:"familyId,omitempty"`
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func fromPtr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func timeString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func timePtrString(t *time.Time) string {
	if t == nil {
		return ""
	}
	return timeString(*t)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseTimePtr(s string) *time.Time {
	if s == "" {
		return nil
	}
	t := parseTime(s)
	if t.IsZero() {
		return nil
	}
	return &t
}

func (t Task) ToRecord() TaskRecord {
	rec := TaskRecord{
		ID:          string(t.ID),
		Title:       t.Title,
		Description: t.Description,
		CategoryID:  t.CategoryID,
		Priority:    string(t.Priority),

		DueDate: fromPtr(t.DueDate),
		DueTime: fromPtr(t.DueTime),

		RecurrenceType: string(t.Recurrence.Type),
		Weekdays:       append([]int(nil), t.Recurrence.Weekdays...),
		IntervalDays:   t.Recurrence.IntervalDays,
		DurationMonths: t.Recurrence.DurationMonths,
		Anchor:         t.Recurrence.Anchor,

		Completed:  t.Completed,
		Status:     string(t.Status),
		ApprovalID: fromPtr(t.ApprovalID),

		CreatedBy:   t.CreatedBy,
		OwnerUserID: t.OwnerUserID,
		FamilyID:    fromPtr(t.FamilyID),
		Private:     t.Private,

		CreatedAt:    timeString(t.CreatedAt),
		EditedBy:     fromPtr(t.EditedBy),
		EditedByName: fromPtr(t.EditedByName),
		EditedAt:     timePtrString(t.EditedAt),
	}
	for _, s := range t.Subtasks {
		rec.Subtasks = append(rec.Subtasks, s.toRecord())
	}
	for _, c := range t.Categories {
		cr := SubtaskCategoryRecord{ID: c.ID, Name: c.Name}
		for _, s := range c.Subtasks {
			cr.Subtasks = append(cr.Subtasks, s.toRecord())
		}
		rec.Categories = append(rec.Categories, cr)
	}
	return rec
}

func (s Subtask) toRecord() SubtaskRecord {
	return SubtaskRecord{
		ID:          s.ID,
		Title:       s.Title,
		Done:        s.Done,
		CompletedBy: fromPtr(s.CompletedBy),
		CompletedAt: timePtrString(s.CompletedAt),
		DueDate:     fromPtr(s.DueDate),
		DueTime:     fromPtr(s.DueTime),
	}
}

func (r TaskRecord) ToTask() Task {
	status := Status(r.Status)
	if status == "" {
		status = StatusPending
	}
	recType := RecurrenceType(r.RecurrenceType)
	if recType == "" {
		recType = RecurrenceNone
	}
	t := Task{
		ID:          TaskID(r.ID),
		Title:       r.Title,
		Description: r.Description,
		CategoryID:  r.CategoryID,
		Priority:    Priority(r.Priority),

		DueDate: strPtr(r.DueDate),
		DueTime: strPtr(r.DueTime),
		Recurrence: Recurrence{
			Type:           recType,
			Weekdays:       append([]int(nil), r.Weekdays...),
			IntervalDays:   r.IntervalDays,
			DurationMonths: r.DurationMonths,
			Anchor:         r.Anchor,
		},

		Completed:  r.Completed,
		Status:     status,
		ApprovalID: strPtr(r.ApprovalID),

		CreatedBy:   r.CreatedBy,
		OwnerUserID: r.OwnerUserID,
		FamilyID:    strPtr(r.FamilyID),
		Private:     r.Private,

		CreatedAt:    parseTime(r.CreatedAt),
		EditedBy:     strPtr(r.EditedBy),
		EditedByName: strPtr(r.EditedByName),
		EditedAt:     parseTimePtr(r.EditedAt),
	}
	for _, s := range r.Subtasks {
		t.Subtasks = append(t.Subtasks, s.toSubtask())
	}
	for _, c := range r.Categories {
		sc := SubtaskCategory{ID: c.ID, Name: c.Name}
		for _, s := range c.Subtasks {
			sc.Subtasks = append(sc.Subtasks, s.toSubtask())
		}
		t.Categories = append(t.Categories, sc)
	}
	return t
}

func (r SubtaskRecord) toSubtask() Subtask {
	return Subtask{
		ID:          r.ID,
		Title:       r.Title,
		Done:        r.Done,
		CompletedBy: strPtr(r.CompletedBy),
		CompletedAt: parseTimePtr(r.CompletedAt),
		DueDate:     strPtr(r.DueDate),
		DueTime:     strPtr(r.DueTime),
	}
}

func (a TaskApproval) ToRecord() ApprovalRecord {
	return ApprovalRecord{
		ID:            a.ID,
		TaskID:        string(a.TaskID),
		RequesterID:   a.RequesterID,
		RequesterName: a.RequesterName,
		Status:        string(a.Status),
		RequestedAt:   timeString(a.RequestedAt),
		ResolverID:    fromPtr(a.ResolverID),
		ResolvedAt:    timePtrString(a.ResolvedAt),
		Comment:       fromPtr(a.Comment),
		FamilyID:      fromPtr(a.FamilyID),
	}
}

func (r ApprovalRecord) ToApproval() TaskApproval {
	status := ApprovalStatus(r.Status)
	if status == "" {
		status = ApprovalPending
	}
	return TaskApproval{
		ID:            r.ID,
		TaskID:        TaskID(r.TaskID),
		RequesterID:   r.RequesterID,
		RequesterName: r.RequesterName,
		Status:        status,
		RequestedAt:   parseTime(r.RequestedAt),
		ResolverID:    strPtr(r.ResolverID),
		ResolvedAt:    parseTimePtr(r.ResolvedAt),
		Comment:       strPtr(r.Comment),
		FamilyID:      strPtr(r.FamilyID),
	}
}
