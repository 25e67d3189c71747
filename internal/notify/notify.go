// Package notify defines the reminder-scheduling collaborator. Reminders
// are side effects of task mutations and are never awaited for
// correctness; callers ignore scheduling failures.
package notify

import (
	"log"

	"github.com/n2ilva/agendafamiliar-sub000/internal/model"
)

type Scheduler interface {
	ScheduleTaskReminder(t model.Task) error
	CancelTaskReminder(id model.TaskID) error
	ScheduleSubtaskReminders(taskID model.TaskID, title string, subs []model.Subtask) error
	CancelAllSubtaskReminders(taskID model.TaskID) error
}

// LogScheduler logs reminder activity without scheduling anything.
type LogScheduler struct {
	Logger *log.Logger
}

func NewLogScheduler(logger *log.Logger) *LogScheduler {
	if logger == nil {
		logger = log.Default()
	}
	return &LogScheduler{Logger: logger}
}

func (s *LogScheduler) ScheduleTaskReminder(t model.Task) error {
	if due := t.EffectiveDueDate(); due != nil {
		s.Logger.Printf("reminder: task %s due %s", t.ID, *due)
	}
	return nil
}

func (s *LogScheduler) CancelTaskReminder(id model.TaskID) error {
	s.Logger.Printf("reminder: cancel task %s", id)
	return nil
}

func (s *LogScheduler) ScheduleSubtaskReminders(taskID model.TaskID, title string, subs []model.Subtask) error {
	for _, sub := range subs {
		if !sub.Done && sub.DueDate != nil {
			s.Logger.Printf("reminder: subtask %s of %s (%s) due %s", sub.ID, taskID, title, *sub.DueDate)
		}
	}
	return nil
}

func (s *LogScheduler) CancelAllSubtaskReminders(taskID model.TaskID) error {
	s.Logger.Printf("reminder: cancel subtasks of %s", taskID)
	return nil
}
