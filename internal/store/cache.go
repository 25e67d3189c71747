package store

import (
	"time"

	"github.com/n2ilva/agendafamiliar-sub000/internal/model"
)

// HistoryEntry is one line of the bounded local activity log.
type HistoryEntry struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"` // e.g. "task_created", "approval_rejected"
	TaskID    string    `json:"taskId,omitempty"`
	ActorID   string    `json:"actorId,omitempty"`
	ActorName string    `json:"actorName,omitempty"`
	Message   string    `json:"message,omitempty"`
	At        time.Time `json:"at"`
}

// Cache is the persistent local store: one record per task and approval
// plus a bounded history log. Mutations are written here first so they
// survive restarts while queued for remote delivery.
type Cache interface {
	GetTasks() ([]model.TaskRecord, error)
	SaveTask(rec model.TaskRecord) error
	RemoveTask(id string) error

	GetApprovals() ([]model.ApprovalRecord, error)
	SaveApproval(rec model.ApprovalRecord) error
	RemoveApproval(id string) error

	GetHistory(limit int) ([]HistoryEntry, error)
	AppendHistory(e HistoryEntry) error
}
