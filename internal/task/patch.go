package task

import (
	"github.com/n2ilva/agendafamiliar-sub000/internal/model"
)

// Patch represents a partial update.
// nil pointer => "no change"
// empty string for pointer fields (DueDate/DueTime/CategoryID) => clear
type Patch struct {
	Title       *string         `json:"title,omitempty"`
	Description *string         `json:"description,omitempty"`
	CategoryID  *string         `json:"categoryId,omitempty"`
	Priority    *model.Priority `json:"priority,omitempty"`

	DueDate *string           `json:"dueDate,omitempty"`
	DueTime *string           `json:"dueTime,omitempty"`
	Recur   *model.Recurrence `json:"recurrence,omitempty"`

	Private *bool `json:"private,omitempty"`

	Subtasks   *[]model.Subtask         `json:"subtasks,omitempty"`
	Categories *[]model.SubtaskCategory `json:"categories,omitempty"`
}

func applyPatch(t *model.Task, p Patch) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.CategoryID != nil {
		t.CategoryID = *p.CategoryID
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}

	// pointer string fields with "empty clears" semantics
	if p.DueDate != nil {
		if *p.DueDate == "" {
			t.DueDate = nil
		} else {
			t.DueDate = p.DueDate
		}
	}
	if p.DueTime != nil {
		if *p.DueTime == "" {
			t.DueTime = nil
		} else {
			t.DueTime = p.DueTime
		}
	}

	if p.Recur != nil {
		t.Recurrence = *p.Recur
	}
	if p.Private != nil {
		t.Private = *p.Private
	}

	if p.Subtasks != nil {
		if *p.Subtasks == nil {
			t.Subtasks = nil
		} else {
			t.Subtasks = *p.Subtasks
		}
	}
	if p.Categories != nil {
		if *p.Categories == nil {
			t.Categories = nil
		} else {
			t.Categories = *p.Categories
		}
	}
}
