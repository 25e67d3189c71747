package sync

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/n2ilva/agendafamiliar-sub000/internal/model"
)

type OpType string

const (
	OpCreate OpType = "create"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

const (
	CollectionTasks     = "tasks"
	CollectionApprovals = "approvals"
)

// Operation is one queued local mutation. The dispatcher owns it
// exclusively from enqueue until confirmed delivery; the merge engine
// never touches it.
type Operation struct {
	ID         string    `json:"id"`
	Type       OpType    `json:"type"`
	Collection string    `json:"collection"`
	TargetID   string    `json:"targetId"`
	EnqueuedAt time.Time `json:"enqueuedAt"`

	Task     *model.TaskRecord     `json:"task,omitempty"`
	Approval *model.ApprovalRecord `json:"approval,omitempty"`
}

// TaskID returns the task id an operation protects, or "" for operations
// that do not target the task collection.
func (op Operation) TaskID() model.TaskID {
	if op.Collection != CollectionTasks {
		return ""
	}
	return model.TaskID(op.TargetID)
}

// Queue is the durable FIFO of pending operations. It persists to a JSON
// file with an atomic temp-file rename so queued mutations survive
// restarts.
type Queue struct {
	mu   sync.Mutex
	path string
	ops  []Operation
}

func NewQueue(dataDir string) (*Queue, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	q := &Queue{path: filepath.Join(dataDir, "queue.json")}
	if err := q.load(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) load() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	b, err := os.ReadFile(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			q.ops = nil
			return nil
		}
		return err
	}
	return json.Unmarshal(b, &q.ops)
}

func (q *Queue) saveLocked() error {
	b, err := json.MarshalIndent(q.ops, "", "  ")
	if err != nil {
		return err
	}
	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, q.path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func (q *Queue) Append(op Operation) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.ops = append(q.ops, op)
	return q.saveLocked()
}

// Head returns the oldest queued operation.
func (q *Queue) Head() (Operation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ops) == 0 {
		return Operation{}, false
	}
	return q.ops[0], true
}

// Remove deletes the operation with the given id.
func (q *Queue) Remove(opID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.ops[:0]
	for _, op := range q.ops {
		if op.ID != opID {
			kept = append(kept, op)
		}
	}
	q.ops = kept
	return q.saveLocked()
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// HasTask reports whether any queued operation still targets the task.
func (q *Queue) HasTask(id model.TaskID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, op := range q.ops {
		if op.TaskID() == id {
			return true
		}
	}
	return false
}

// HasApproval reports whether any queued operation still targets the
// approval.
func (q *Queue) HasApproval(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, op := range q.ops {
		if op.Collection == CollectionApprovals && op.TargetID == id {
			return true
		}
	}
	return false
}

func (q *Queue) Snapshot() []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Operation(nil), q.ops...)
}
